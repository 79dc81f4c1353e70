package stack

import "encoding/binary"

// Header sizes (bytes), bit-exact with IEEE 802.3 / RFC 791 / RFC 792 /
// RFC 793 / RFC 768 (spec. §4.2, §6).
const (
	ethernetHeaderLen = 14
	arpPacketLen      = 28 // Ethernet+IPv4 ARP body, no padding
	ipv4HeaderLen     = 20 // no options emitted
	icmpHeaderLen     = 8
	udpHeaderLen      = 8
	tcpHeaderLen      = 20
	tcpMSSOptionLen   = 4 // kind(1) + length(1) + mss(2)
)

// EtherType values.
const (
	etherTypeIPv4 uint16 = 0x0800
	etherTypeARP  uint16 = 0x0806
)

// IPv4 protocol numbers.
const (
	protoICMP uint8 = 1
	protoTCP  uint8 = 6
	protoUDP  uint8 = 17
)

// ARP constants.
const (
	arpHTypeEthernet uint16 = 1
	arpPTypeIPv4     uint16 = 0x0800
	arpOpRequest     uint16 = 1
	arpOpReply       uint16 = 2
)

var broadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func isBroadcastMAC(mac [6]byte) bool { return mac == broadcastMAC }

// frameKind selects the Ethernet payload eth_build_frame produces
// (spec. §4.2).
type frameKind int

const (
	frameEthernet frameKind = iota
	frameArpRequest
	frameArpReply
)

// ethBuildFrame writes the 14-byte Ethernet header into out[0:14] and, for
// ARP kinds, the full 28-byte ARP body into out[14:42]. It returns the
// total length written.
func ethBuildFrame(out []byte, dstMAC, srcMAC [6]byte, dstIP, srcIP uint32, kind frameKind) int {
	copy(out[0:6], dstMAC[:])
	copy(out[6:12], srcMAC[:])

	switch kind {
	case frameArpRequest, frameArpReply:
		binary.BigEndian.PutUint16(out[12:14], etherTypeARP)
		body := out[ethernetHeaderLen : ethernetHeaderLen+arpPacketLen]
		binary.BigEndian.PutUint16(body[0:2], arpHTypeEthernet)
		binary.BigEndian.PutUint16(body[2:4], arpPTypeIPv4)
		body[4] = 6
		body[5] = 4
		if kind == frameArpRequest {
			binary.BigEndian.PutUint16(body[6:8], arpOpRequest)
			copy(body[8:14], srcMAC[:])
			binary.BigEndian.PutUint32(body[14:18], srcIP)
			copy(body[18:24], broadcastMAC[:]) // target MAC unknown on request
			binary.BigEndian.PutUint32(body[24:28], dstIP)
		} else {
			binary.BigEndian.PutUint16(body[6:8], arpOpReply)
			copy(body[8:14], srcMAC[:])
			binary.BigEndian.PutUint32(body[14:18], srcIP)
			copy(body[18:24], dstMAC[:])
			binary.BigEndian.PutUint32(body[24:28], dstIP)
		}
		return ethernetHeaderLen + arpPacketLen
	default:
		binary.BigEndian.PutUint16(out[12:14], etherTypeIPv4)
		return ethernetHeaderLen
	}
}

// ipSetConstantFields writes the immutable IPv4 prefix (version/IHL, TOS,
// id=0, flags=Don't-Fragment, TTL=255, protocol, addresses) once, so that
// subsequent sends on the same connection can reuse the frame and skip
// these fields (spec. §4.2).
func ipSetConstantFields(out []byte, srcIP, dstIP uint32, proto uint8) {
	hdr := out[:ipv4HeaderLen]
	hdr[0] = (4 << 4) | (ipv4HeaderLen / 4) // version=4, IHL=5
	hdr[1] = 0                             // TOS
	binary.BigEndian.PutUint16(hdr[4:6], 0) // identification
	binary.BigEndian.PutUint16(hdr[6:8], 0x4000) // flags=DF, fragment offset=0
	hdr[8] = 255                           // TTL
	hdr[9] = proto
	binary.BigEndian.PutUint32(hdr[12:16], srcIP)
	binary.BigEndian.PutUint32(hdr[16:20], dstIP)
}

// ethBuildIPRequest updates the IPv4 total length and checksum fields for
// an outgoing packet. When reuse is false it also writes the immutable
// prefix via ipSetConstantFields (spec. §4.2).
func ethBuildIPRequest(out []byte, srcIP, dstIP uint32, transportLen int, proto uint8, reuse bool) {
	hdr := out[:ipv4HeaderLen]
	if !reuse {
		ipSetConstantFields(out, srcIP, dstIP, proto)
	}
	binary.BigEndian.PutUint16(hdr[2:4], uint16(ipv4HeaderLen+transportLen))
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	sum := completeChecksum(ipChecksum(hdr))
	binary.BigEndian.PutUint16(hdr[10:12], sum)
}

// ipv4View is a thin, non-owning view over a parsed IPv4 header plus its
// payload slice. It never copies.
type ipv4View struct {
	version    uint8
	ihl        uint8
	totalLen   uint16
	protocol   uint8
	checksum   uint16
	srcIP      uint32
	dstIP      uint32
	headerLen  int
	payload    []byte // bytes after the (possibly-optioned) IP header
	headerByte []byte // the header bytes actually on the wire (for checksum/ICMP rebuild)
}

// parseIPv4 validates version/length and extracts the fields the core
// needs. IP options, if present, are included in headerByte but not
// otherwise interpreted (spec. §4.4 "ip_parse").
func parseIPv4(data []byte) (ipv4View, bool) {
	if len(data) < ipv4HeaderLen {
		return ipv4View{}, false
	}
	verIHL := data[0]
	version := verIHL >> 4
	ihl := verIHL & 0x0f
	headerLen := int(ihl) * 4
	if version != 4 || headerLen < ipv4HeaderLen || len(data) < headerLen {
		return ipv4View{}, false
	}
	totalLen := binary.BigEndian.Uint16(data[2:4])
	if int(totalLen) > len(data) {
		return ipv4View{}, false
	}
	v := ipv4View{
		version:    version,
		ihl:        ihl,
		totalLen:   totalLen,
		protocol:   data[9],
		checksum:   binary.BigEndian.Uint16(data[10:12]),
		srcIP:      binary.BigEndian.Uint32(data[12:16]),
		dstIP:      binary.BigEndian.Uint32(data[16:20]),
		headerLen:  headerLen,
		headerByte: data[:headerLen],
		payload:    data[headerLen:int(totalLen)],
	}
	return v, true
}

func ipv4ChecksumValid(data []byte, headerLen int) bool {
	return ipChecksum(data[:headerLen]) == 0xFFFF
}

// udpHeaderView is a non-owning view over a parsed UDP datagram.
type udpHeaderView struct {
	srcPort  uint16
	dstPort  uint16
	length   uint16
	checksum uint16
	payload  []byte
}

func parseUDP(data []byte) (udpHeaderView, bool) {
	if len(data) < udpHeaderLen {
		return udpHeaderView{}, false
	}
	length := binary.BigEndian.Uint16(data[4:6])
	if int(length) < udpHeaderLen || int(length) > len(data) {
		return udpHeaderView{}, false
	}
	return udpHeaderView{
		srcPort:  binary.BigEndian.Uint16(data[0:2]),
		dstPort:  binary.BigEndian.Uint16(data[2:4]),
		length:   length,
		checksum: binary.BigEndian.Uint16(data[6:8]),
		payload:  data[udpHeaderLen:length],
	}, true
}

// TCP flag bits (spec. §4.7.2).
const (
	tcpFlagFIN uint8 = 0x01
	tcpFlagSYN uint8 = 0x02
	tcpFlagRST uint8 = 0x04
	tcpFlagPSH uint8 = 0x08
	tcpFlagACK uint8 = 0x10
)

// tcpHeaderView is a non-owning view over a parsed TCP segment.
type tcpHeaderView struct {
	srcPort  uint16
	dstPort  uint16
	seq      uint32
	ack      uint32
	dataOff  uint8
	flags    uint8
	window   uint16
	checksum uint16
	options  []byte
	payload  []byte
}

func parseTCP(data []byte) (tcpHeaderView, bool) {
	if len(data) < tcpHeaderLen {
		return tcpHeaderView{}, false
	}
	hdrLen := int(data[12]>>4) * 4
	if hdrLen < tcpHeaderLen || len(data) < hdrLen {
		return tcpHeaderView{}, false
	}
	v := tcpHeaderView{
		srcPort:  binary.BigEndian.Uint16(data[0:2]),
		dstPort:  binary.BigEndian.Uint16(data[2:4]),
		seq:      binary.BigEndian.Uint32(data[4:8]),
		ack:      binary.BigEndian.Uint32(data[8:12]),
		dataOff:  data[12] >> 4,
		flags:    data[13],
		window:   binary.BigEndian.Uint16(data[14:16]),
		checksum: binary.BigEndian.Uint16(data[16:18]),
		payload:  data[hdrLen:],
	}
	if hdrLen > tcpHeaderLen {
		v.options = data[tcpHeaderLen:hdrLen]
	}
	return v, true
}

// parseTCPMSSOption scans a TCP options area for the MSS option (kind 2),
// ignoring NOP padding and any other option kind, and returns it capped at
// mtuCap (spec. §4.7.2 "parse remote MSS option (cap at MTU-based limit)").
func parseTCPMSSOption(options []byte, mtuCap uint16) (uint16, bool) {
	i := 0
	for i < len(options) {
		switch options[i] {
		case 0: // end of option list
			return 0, false
		case 1: // NOP
			i++
		case 2: // MSS
			if i+4 > len(options) || options[i+1] != 4 {
				return 0, false
			}
			mss := binary.BigEndian.Uint16(options[i+2 : i+4])
			if mss > mtuCap {
				mss = mtuCap
			}
			return mss, true
		default:
			if i+1 >= len(options) || options[i+1] < 2 {
				return 0, false
			}
			i += int(options[i+1])
		}
	}
	return 0, false
}

// buildMSSOption writes a 4-byte MSS option, the only option this stack
// emits (spec. §6).
func buildMSSOption(out []byte, mss uint16) {
	out[0] = 2
	out[1] = tcpMSSOptionLen
	binary.BigEndian.PutUint16(out[2:4], mss)
}
