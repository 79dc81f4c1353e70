package stack

import "encoding/binary"

// udpState mirrors the AnyTarget/KnownTarget distinction in spec. §4.6:
// a controller with no connected remote accepts (and re-targets to) any
// sender, while one that has connect()ed only talks to that remote.
type udpState int

const (
	udpUnused udpState = iota
	udpAnyTarget
	udpKnownTarget
)

// UdpRecvFunc is invoked once per accepted datagram (spec. §4.6 "parse").
type UdpRecvFunc func(payload []byte, remoteIP uint32, remotePort uint16)

// UdpController is a fixed pool slot bound to one local UDP port
// (spec. §3 "UdpController").
type UdpController struct {
	state udpState

	localPort  uint16
	remoteIP   uint32
	remotePort uint16
	remoteMAC  [6]byte

	pointToPoint bool

	frameInitialized bool
	frame            [NetworkMTU]byte
	frameLen         int

	onRecv UdpRecvFunc
}

func (a *Adapter) udpAllocPort() uint16 {
	for {
		p := a.nextUDPPort
		a.nextUDPPort++
		if a.nextUDPPort > UDPEphemeralHigh {
			a.nextUDPPort = UDPEphemeralLow
		}
		if a.udpFindByPort(p) == nil {
			return p
		}
	}
}

func (a *Adapter) udpFindByPort(port uint16) *UdpController {
	for i := range a.udp {
		if a.udp[i].state != udpUnused && a.udp[i].localPort == port {
			return &a.udp[i]
		}
	}
	return nil
}

// NewUDP allocates a controller from the adapter's UDP pool. If port is 0,
// a free port is assigned from the UDP ephemeral range (spec. §4.6 "new").
func (a *Adapter) NewUDP(port uint16, pointToPoint bool) (*UdpController, error) {
	var slot *UdpController
	for i := range a.udp {
		if a.udp[i].state == udpUnused {
			slot = &a.udp[i]
			break
		}
	}
	if slot == nil {
		return nil, newStackErrorf(CodeUdpMem, a.cfg.Name, "", "NewUDP", "no free UDP controllers (MAX_UDP=%d)", MaxUDP)
	}
	if port == 0 {
		port = a.udpAllocPort()
	} else if a.udpFindByPort(port) != nil {
		return nil, newStackErrorf(CodeVal, a.cfg.Name, "", "NewUDP", "port %d already bound", port)
	}
	*slot = UdpController{
		state:        udpAnyTarget,
		localPort:    port,
		pointToPoint: pointToPoint,
	}
	return slot, nil
}

// Recv installs the datagram callback.
func (u *UdpController) Recv(fn UdpRecvFunc) { u.onRecv = fn }

// UDPConnect resolves the peer MAC and records the remote endpoint, moving the
// controller to KnownTarget. It is idempotent after the first success: a
// repeated call to the same (ip, port) with a cached MAC is a no-op
// (spec. §4.6 "connect").
func (a *Adapter) UDPConnect(u *UdpController, ip uint32, port uint16) error {
	if u.state == udpKnownTarget && u.remoteIP == ip && u.remotePort == port {
		return nil
	}
	hop := route(ip, a.cfg.Gateway, a.cfg.Netmask)
	mac, found := a.arp.lookup(hop, a.cfg.Netmask)
	if !found {
		a.sendARPRequest(hop)
		return newStackErrorf(CodeMacAddrUnknown, a.cfg.Name, "", "UDPConnect", "no ARP entry for %s", ipString(hop))
	}
	u.remoteIP = ip
	u.remotePort = port
	u.remoteMAC = mac
	u.state = udpKnownTarget
	u.frameInitialized = false
	return nil
}

// UDPSend transmits payload to the controller's recorded remote. When reuse
// is true and the frame template was already initialized (destination
// unchanged since the last send), only the length fields, the payload and
// the checksums are rewritten; otherwise the full Ethernet/IP/UDP prefix is
// rebuilt
// (spec. §4.6 "send").
func (a *Adapter) UDPSend(u *UdpController, payload []byte, reuse bool) error {
	if u.state == udpUnused {
		return newStackErrorf(CodeAppError, a.cfg.Name, "", "UDPSend", "controller not allocated")
	}
	if u.state != udpKnownTarget {
		return newStackErrorf(CodeAppError, a.cfg.Name, "", "UDPSend", "not connected")
	}

	total := ethernetHeaderLen + ipv4HeaderLen + udpHeaderLen + len(payload)
	if total > NetworkMTU {
		return newStackErrorf(CodeAppError, a.cfg.Name, "", "UDPSend", "payload too large for MTU")
	}

	frame := u.frame[:total]
	udpStart := ethernetHeaderLen + ipv4HeaderLen

	rebuild := !reuse || !u.frameInitialized
	if rebuild {
		ethBuildFrame(frame, u.remoteMAC, a.cfg.MAC, u.remoteIP, a.cfg.IP, frameEthernet)
		binary.BigEndian.PutUint16(frame[udpStart:udpStart+2], u.localPort)
		binary.BigEndian.PutUint16(frame[udpStart+2:udpStart+4], u.remotePort)
		u.frameInitialized = true
	}

	udpLen := udpHeaderLen + len(payload)
	binary.BigEndian.PutUint16(frame[udpStart+4:udpStart+6], uint16(udpLen))
	copy(frame[udpStart+udpHeaderLen:], payload)

	if u.pointToPoint {
		binary.BigEndian.PutUint16(frame[udpStart+6:udpStart+8], 0)
	} else {
		pseudo := pseudoHeaderSum(a.cfg.IP, u.remoteIP, udpLen, protoUDP)
		binary.BigEndian.PutUint16(frame[udpStart+6:udpStart+8], 0)
		sum := completeChecksum(foldSum(partialSum(pseudo, frame[udpStart:udpStart+udpLen])))
		binary.BigEndian.PutUint16(frame[udpStart+6:udpStart+8], sum)
	}

	ethBuildIPRequest(frame[ethernetHeaderLen:udpStart], a.cfg.IP, u.remoteIP, udpLen, protoUDP, !rebuild)

	u.frameLen = total
	return a.send(frame)
}

// handleUDP matches an inbound datagram to a bound controller, verifies its
// checksum, applies server-mode re-targeting, and (subject to the
// same-remote security check) invokes the callback (spec. §4.6 "parse").
func (a *Adapter) handleUDP(ip ipv4View, srcMAC [6]byte) {
	udpView, ok := parseUDP(ip.payload)
	if !ok {
		return
	}
	u := a.udpFindByPort(udpView.dstPort)
	if u == nil {
		return
	}

	if udpView.checksum != 0 {
		pseudo := pseudoHeaderSum(ip.srcIP, ip.dstIP, int(udpView.length), protoUDP)
		if !verifyTransportChecksum(ip.payload[:udpView.length], 6, pseudo, true) {
			a.setLastError(newStackErrorf(CodeChecksum, a.cfg.Name, "", "handleUDP", "bad UDP checksum from %s:%d", ipString(ip.srcIP), udpView.srcPort))
			return
		}
	}

	if u.state == udpAnyTarget {
		if u.remoteIP != ip.srcIP || u.remotePort != udpView.srcPort {
			u.remoteIP = ip.srcIP
			u.remotePort = udpView.srcPort
			u.remoteMAC = srcMAC
			u.frameInitialized = false
		}
	} else if u.remoteIP != ip.srcIP || u.remotePort != udpView.srcPort {
		// KnownTarget: cross-talk from a different peer is dropped.
		return
	}

	if u.onRecv != nil {
		u.onRecv(udpView.payload, ip.srcIP, udpView.srcPort)
	}
}
