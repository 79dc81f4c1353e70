package stack

import (
	"encoding/binary"
	"log/slog"
)

// IngressMode selects the ISR handler installed at construction time
// (spec. §4.4).
type IngressMode int

const (
	// IngressStandard enqueues every accepted frame onto the ring and lets
	// Dispatch parse it on the main loop.
	IngressStandard IngressMode = iota
	// IngressOptimizedUDP parses IPv4/UDP frames directly in ISR context
	// and delivers them to the owning UDP controller immediately,
	// falling back to IngressStandard for everything else.
	IngressOptimizedUDP
)

// Adapter owns the ingress ring, ARP cache, and TCP/UDP controller pools
// for one network interface (spec. §3 "AdapterIdentity", §4.4). Only one
// goroutine may call into an Adapter at a time (spec. §5); there is no
// internal locking.
type Adapter struct {
	cfg AdapterConfig

	log    *slog.Logger
	driver Driver
	mode   IngressMode

	ring    IngressRing
	scratch [NetworkMTU]byte // single-slot scratch for outgoing control frames

	arp ArpCache

	udp [MaxUDP]UdpController
	tcp [MaxTCP]TcpController

	tcpActive  []*TcpController // compacted list: Listen excluded
	tcpServer  []*TcpController // compacted list: Listen only

	lastErr error

	onPingReply PingReplyFunc

	pcap func(frame []byte) // optional trace sink, see PacketTrace

	nextTCPPort uint16
	nextUDPPort uint16

	randState uint32 // xorshift seed for ISNs, seeded from config
}

// New constructs an Adapter. The driver must be supplied before any frame
// can be sent or dispatched (spec. §6 "Driver interface").
func New(cfg AdapterConfig, driver Driver, mode IngressMode, log *slog.Logger) (*Adapter, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		cfg:         cfg,
		log:         log,
		driver:      driver,
		mode:        mode,
		nextTCPPort: TCPEphemeralLow,
		nextUDPPort: UDPEphemeralLow,
		randState:   cfg.IP ^ 0x9E3779B9,
	}
	return a, nil
}

// PacketTrace installs an optional sink that receives a copy of every
// frame sent or received, e.g. to drive a pcap writer. This is the Go
// equivalent of the trace/debug façade spec. §1 treats as an external
// collaborator: the core only ever calls an injected func, never owns how
// frames are displayed.
func (a *Adapter) PacketTrace(sink func(frame []byte)) { a.pcap = sink }

func (a *Adapter) trace(frame []byte) {
	if a.pcap != nil {
		a.pcap(frame)
	}
}

// LastError returns the most recent error recorded by the dispatch path,
// the Go analog of get_last_stack_error (spec. §6).
func (a *Adapter) LastError() error { return a.lastErr }

func (a *Adapter) setLastError(err error) {
	if err != nil {
		a.lastErr = err
	}
}

func (a *Adapter) send(frame []byte) error {
	a.trace(frame)
	err := a.driver.Send(frame)
	if err != nil {
		a.setLastError(newStackErrorf(CodeDeviceDriver, a.cfg.Name, "", "send", "%v", err))
	}
	return err
}

// nextRandom advances a small xorshift PRNG used for initial sequence
// numbers; the original seeds from a hardware timer, this port seeds from
// adapter identity and mixes on every call.
func (a *Adapter) nextRandom() uint32 {
	x := a.randState
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	a.randState = x
	return x
}

// ISRReceive is called by the host's receive-interrupt handler with a
// freshly-received Ethernet frame. It must not block (spec. §5, §6).
func (a *Adapter) ISRReceive(frame []byte) {
	if len(frame) < ethernetHeaderLen {
		return
	}
	etherType := binary.BigEndian.Uint16(frame[12:14])

	if a.mode == IngressOptimizedUDP && etherType == etherTypeIPv4 {
		if ip, ok := parseIPv4(frame[ethernetHeaderLen:]); ok && ip.protocol == protoUDP {
			a.trace(frame)
			var srcMAC [6]byte
			copy(srcMAC[:], frame[6:12])
			a.handleUDP(ip, srcMAC)
			return
		}
	}

	if !a.passesIngressFilter(frame, etherType) {
		return
	}
	a.ring.push(frame, etherType, func(dropped uint64) {
		if Debug {
			a.log.Debug("ingress: ring full, frame dropped", "adapter", a.cfg.Name, "dropped", dropped)
		}
	})
}

// passesIngressFilter implements the coarse ISR-time filter: accept IPv4
// UDP/TCP/ICMP addressed to this adapter's IP or to any address whose host
// part (under this adapter's netmask) is all ones, plus ARP targeting this
// adapter. Unicast to other hosts in the subnet is rejected (spec. §4.4
// "Standard").
func (a *Adapter) passesIngressFilter(frame []byte, etherType uint16) bool {
	switch etherType {
	case etherTypeARP:
		if len(frame) < ethernetHeaderLen+arpPacketLen {
			return false
		}
		return beUint32(frame[ethernetHeaderLen+24:ethernetHeaderLen+28]) == a.cfg.IP
	case etherTypeIPv4:
		ip, ok := parseIPv4(frame[ethernetHeaderLen:])
		if !ok {
			return false
		}
		switch ip.protocol {
		case protoTCP, protoUDP, protoICMP:
			return ip.dstIP == a.cfg.IP || ip.dstIP&^a.cfg.Netmask == 0xFFFFFFFF&^a.cfg.Netmask
		default:
			return false
		}
	default:
		return false
	}
}

// Dispatch processes at most one queued frame per call, routing Ethernet
// payloads to the ARP or IP parser (spec. §4.4 "Dispatch loop").
func (a *Adapter) Dispatch() {
	data, etherType, ok := a.ring.pop()
	if !ok {
		return
	}
	a.trace(data)
	var srcMAC [6]byte
	copy(srcMAC[:], data[6:12])
	switch etherType {
	case etherTypeARP:
		a.handleARP(data[ethernetHeaderLen:])
	case etherTypeIPv4:
		a.ipParse(data[ethernetHeaderLen:], srcMAC)
	}
}

// ipParse validates the IPv4 header and dispatches to the matching
// transport handler (spec. §4.4 "ip_parse"). srcMAC is the sender's
// Ethernet address, needed by ICMP echo replies and UDP server-mode
// re-targeting, neither of which can afford a fresh ARP round trip to
// answer a peer that literally just spoke to us.
func (a *Adapter) ipParse(data []byte, srcMAC [6]byte) {
	ip, ok := parseIPv4(data)
	if !ok {
		return
	}
	if ip.version != 4 {
		return
	}
	if !ipv4ChecksumValid(ip.headerByte, ip.headerLen) {
		a.setLastError(newStackErrorf(CodeChecksum, a.cfg.Name, "", "ip_parse", "bad IPv4 header checksum"))
		return
	}
	switch ip.protocol {
	case protoUDP:
		a.handleUDP(ip, srcMAC)
	case protoTCP:
		a.handleTCP(ip, srcMAC)
	case protoICMP:
		a.handleICMP(ip, srcMAC)
	default:
		if Debug {
			a.log.Debug("ip_parse: drop unsupported protocol", "proto", ip.protocol)
		}
	}
}
