package stack

import "encoding/binary"

// ICMP types this stack understands (spec. §4.5, RFC 792).
const (
	icmpTypeEchoReply   uint8 = 0
	icmpTypeEchoRequest uint8 = 8
)

const icmpMinPayload = 32 // ping() pads short payloads up to this

// PingReplyFunc is invoked for every echo reply addressed to this adapter's
// IP; replies are not matched against the requests Ping sent. Installed
// once per adapter via OnPingReply.
type PingReplyFunc func(remoteIP uint32, payload []byte)

// OnPingReply installs the optional echo-reply hook named in spec. §4.5.
func (a *Adapter) OnPingReply(fn PingReplyFunc) { a.onPingReply = fn }

// handleICMP answers echo requests addressed to us and forwards echo
// replies to the optional hook (spec. §4.5).
func (a *Adapter) handleICMP(ip ipv4View, srcMAC [6]byte) {
	if ip.dstIP != a.cfg.IP {
		return
	}
	if len(ip.payload) < icmpHeaderLen {
		return
	}
	icmpType := ip.payload[0]
	switch icmpType {
	case icmpTypeEchoRequest:
		a.sendEchoReply(ip, srcMAC)
	case icmpTypeEchoReply:
		if a.onPingReply != nil {
			a.onPingReply(ip.srcIP, ip.payload[icmpHeaderLen:])
		}
	}
}

// sendEchoReply swaps source/destination, rewrites the type byte,
// recomputes the ICMP checksum, and writes a fresh 20-byte IP header (with
// its own checksum) in place of the original one, so any IP options are
// compacted out (spec. §4.5).
func (a *Adapter) sendEchoReply(ip ipv4View, dstMAC [6]byte) {
	frame := a.scratch[:]
	n := ethBuildFrame(frame, dstMAC, a.cfg.MAC, ip.srcIP, a.cfg.IP, frameEthernet)
	ipStart := n
	bodyStart := n + ipv4HeaderLen

	icmpLen := len(ip.payload)
	body := frame[bodyStart : bodyStart+icmpLen]
	copy(body, ip.payload)
	body[0] = icmpTypeEchoReply
	body[1] = 0
	binary.BigEndian.PutUint16(body[2:4], 0)
	sum := completeChecksum(ipChecksum(body))
	binary.BigEndian.PutUint16(body[2:4], sum)

	ethBuildIPRequest(frame[ipStart:bodyStart], a.cfg.IP, ip.srcIP, icmpLen, protoICMP, false)

	total := bodyStart + icmpLen
	if err := a.send(frame[:total]); err != nil && Debug {
		a.log.Warn("icmp: echo reply send failed", "err", err, "dst", ipString(ip.srcIP))
	}
}

// Ping composes and sends an ICMP echo request to remoteIP, resolving the
// destination MAC from the ARP cache and padding payload to the minimum
// length spec. §4.5 requires. The echo identifier is always
// icmpEchoIdentifier. Returns CodeMacAddrUnknown (after emitting an ARP
// request) if the MAC isn't cached yet.
func (a *Adapter) Ping(remoteIP uint32, sequence uint16, payload []byte) error {
	mac, err := a.resolve(remoteIP)
	if err != nil {
		a.sendARPRequest(route(remoteIP, a.cfg.Gateway, a.cfg.Netmask))
		return err
	}

	plen := len(payload)
	if plen < icmpMinPayload {
		plen = icmpMinPayload
	}

	frame := a.scratch[:]
	n := ethBuildFrame(frame, mac, a.cfg.MAC, remoteIP, a.cfg.IP, frameEthernet)
	ipStart := n
	bodyStart := n + ipv4HeaderLen
	bodyLen := icmpHeaderLen + plen

	body := frame[bodyStart : bodyStart+bodyLen]
	body[0] = icmpTypeEchoRequest
	body[1] = 0
	binary.BigEndian.PutUint16(body[2:4], 0)
	binary.BigEndian.PutUint16(body[4:6], icmpEchoIdentifier)
	binary.BigEndian.PutUint16(body[6:8], sequence)
	copy(body[icmpHeaderLen:], payload)
	sum := completeChecksum(ipChecksum(body))
	binary.BigEndian.PutUint16(body[2:4], sum)

	ethBuildIPRequest(frame[ipStart:bodyStart], a.cfg.IP, remoteIP, bodyLen, protoICMP, false)

	return a.send(frame[:bodyStart+bodyLen])
}
