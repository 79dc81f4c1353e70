package stack

// tcpState is one of the ten RFC 793 states (spec. §4.7.2).
type tcpState int

const (
	tcpClosed tcpState = iota
	tcpListen
	tcpSynSent
	tcpSynRcvd
	tcpEstablished
	tcpFinWait1
	tcpFinWait2
	tcpCloseWait
	tcpClosing
	tcpLastAck
	tcpTimeWait
)

func (s tcpState) String() string {
	switch s {
	case tcpClosed:
		return "Closed"
	case tcpListen:
		return "Listen"
	case tcpSynSent:
		return "SynSent"
	case tcpSynRcvd:
		return "SynRcvd"
	case tcpEstablished:
		return "Established"
	case tcpFinWait1:
		return "FinWait1"
	case tcpFinWait2:
		return "FinWait2"
	case tcpCloseWait:
		return "CloseWait"
	case tcpClosing:
		return "Closing"
	case tcpLastAck:
		return "LastAck"
	case tcpTimeWait:
		return "TimeWait"
	default:
		return "?"
	}
}

// tcpSlotState tracks pool ownership, distinct from the protocol state
// above: Persistent controllers are returned to Closed and may be reused by
// the application; NonPersistent ones (server-accepted children) are
// reaped automatically once Closed (spec. glossary "Persistent /
// NonPersistent controller").
type tcpSlotState int

const (
	tcpSlotUnused tcpSlotState = iota
	tcpSlotPersistent
	tcpSlotNonPersistent
)

// TcpOption is the bitset spec. §4.7.1's `options(c, opts)` sets.
type TcpOption uint8

const (
	// TcpOptDelayAckReply withholds a standalone ACK for in-band data when
	// the application is expected to piggyback one via Write instead.
	TcpOptDelayAckReply TcpOption = 1 << iota
)

// Callback shapes (spec. §4.7.1, §9 "Callbacks as interfaces").
type (
	TcpRecvFunc          func(c *TcpController, data []byte)
	TcpConnectFunc       func(c *TcpController, err error)
	TcpAcceptFunc        func(parent, child *TcpController)
	TcpPeriodicCheckFunc func(c *TcpController) bool // true = close the connection
	TcpClosedFunc        func(c *TcpController, err error)
)

// TcpController is one pool slot: a connection control block plus its
// segment pool and stream accumulator (spec. §3 "TcpController").
type TcpController struct {
	slot  tcpSlotState
	state tcpState

	localPort  uint16
	remoteIP   uint32
	remotePort uint16
	remoteMAC  [6]byte

	localSeq    uint32
	remoteSeq   uint32
	localWindow uint16
	remoteWindow uint16
	localMSS    uint16
	remoteMSS   uint16

	segments  [MaxTCPSeg]tcpSegment
	lastAckNo uint32
	template  [tcpSegmentPrefixLen]byte

	stream streamAccumulator

	options TcpOption

	onRecv          TcpRecvFunc
	onConnect       TcpConnectFunc
	onAccept        TcpAcceptFunc
	onPeriodicCheck TcpPeriodicCheckFunc
	onClosed        TcpClosedFunc
	nbOf500ms       int
	counterOf500ms  int

	stateTicks int // generic tick counter for FinWait/SynRcvd/TimeWait/retransmission-adjacent timeouts

	callbackArg any
	lastErr     error

	parent *TcpController // set on NonPersistent children, for Accept notification bookkeeping
}

// CallbackArg returns the opaque value set by SetCallbackArg, porting the
// original's `tcp_arg`/`void *callback_arg` thread-through (spec. §6
// supplemented feature: tcp_arg).
func (c *TcpController) CallbackArg() any { return c.callbackArg }

// SetCallbackArg installs the opaque per-controller value handed back
// unchanged to every callback (spec. §6 supplemented feature: tcp_arg).
func (c *TcpController) SetCallbackArg(arg any) { c.callbackArg = arg }

// SetOptions sets the controller's option bitset (spec. §4.7.1 "options").
func (c *TcpController) SetOptions(opts TcpOption) { c.options = opts }

// Recv installs the in-band data callback (spec. §4.7.1 "recv").
func (c *TcpController) Recv(cb TcpRecvFunc) { c.onRecv = cb }

// Accept installs the per-connection acceptance callback, fired once per
// inherited child (spec. §4.7.1 "accept").
func (c *TcpController) Accept(cb TcpAcceptFunc) { c.onAccept = cb }

// CheckConnection installs the inactivity watchdog, firing every n ticks of
// TCPTimerPeriod while Established (spec. §4.7.1 "check_connection",
// §4.7.2 item 4).
func (c *TcpController) CheckConnection(cb TcpPeriodicCheckFunc, n int) {
	c.onPeriodicCheck = cb
	c.nbOf500ms = n
	c.counterOf500ms = 0
}

// OnClosed installs the termination notifier (spec. §4.7.1 "closed").
func (c *TcpController) OnClosed(cb TcpClosedFunc) { c.onClosed = cb }

// State exposes the current RFC 793 state for diagnostics and tests.
func (c *TcpController) State() string { return c.state.String() }

// LocalPort, RemoteIP, RemotePort expose the 4-tuple for diagnostics.
func (c *TcpController) LocalPort() uint16  { return c.localPort }
func (c *TcpController) RemoteIP() uint32   { return c.remoteIP }
func (c *TcpController) RemotePort() uint16 { return c.remotePort }

func (c *TcpController) buildTemplate(a *Adapter, dstMAC [6]byte) {
	ethBuildFrame(c.template[:], dstMAC, a.cfg.MAC, c.remoteIP, a.cfg.IP, frameEthernet)
	ipSetConstantFields(c.template[ethernetHeaderLen:ethernetHeaderLen+ipv4HeaderLen], a.cfg.IP, c.remoteIP, protoTCP)
	tcpStart := ethernetHeaderLen + ipv4HeaderLen
	beOut16(c.template[tcpStart:tcpStart+2], c.localPort)
	beOut16(c.template[tcpStart+2:tcpStart+4], c.remotePort)
}

func (a *Adapter) tcpAllocPort() uint16 {
	for {
		p := a.nextTCPPort
		a.nextTCPPort++
		if a.nextTCPPort > TCPEphemeralHigh {
			a.nextTCPPort = TCPEphemeralLow
		}
		if a.tcpFindByLocalPort(p) == nil {
			return p
		}
	}
}

func (a *Adapter) tcpFindByLocalPort(port uint16) *TcpController {
	for i := range a.tcp {
		if a.tcp[i].slot != tcpSlotUnused && a.tcp[i].localPort == port {
			return &a.tcp[i]
		}
	}
	return nil
}

func (a *Adapter) tcpFindFreeSlot() *TcpController {
	for i := range a.tcp {
		if a.tcp[i].slot == tcpSlotUnused {
			return &a.tcp[i]
		}
	}
	return nil
}

// NewTCP allocates a Persistent controller, assigning a port from the TCP
// ephemeral range if port is 0 (spec. §4.7.1 "new").
func (a *Adapter) NewTCP(port uint16) (*TcpController, error) {
	slot := a.tcpFindFreeSlot()
	if slot == nil {
		return nil, newStackErrorf(CodeTcpMem, a.cfg.Name, "", "NewTCP", "no free TCP controllers (MAX_TCP=%d)", MaxTCP)
	}
	if port == 0 {
		port = a.tcpAllocPort()
	} else if a.tcpFindByLocalPort(port) != nil {
		return nil, newStackErrorf(CodeVal, a.cfg.Name, "", "NewTCP", "port %d already bound", port)
	}
	*slot = TcpController{
		slot:        tcpSlotPersistent,
		state:       tcpClosed,
		localPort:   port,
		localWindow: TCPWnd,
		localMSS:    TCPMSS,
	}
	return slot, nil
}

// TCPListen moves a Closed controller to Listen and registers it in the
// listener list (spec. §4.7.1 "listen").
func (a *Adapter) TCPListen(c *TcpController) error {
	if c.state != tcpClosed {
		return newStackErrorf(CodeAppError, a.cfg.Name, "", "TCPListen", "controller not Closed")
	}
	c.state = tcpListen
	a.tcpRebuildLists()
	return nil
}

// TCPConnect resolves the peer MAC via ARP and sends a SYN carrying the MSS
// option (spec. §4.7.1 "connect"). If the MAC isn't cached yet, an ARP
// request is emitted and CodeMacAddrUnknown is returned; the caller is
// expected to retry.
func (a *Adapter) TCPConnect(c *TcpController, peerIP uint32, peerPort uint16, cb TcpConnectFunc) error {
	if c.state != tcpClosed {
		return newStackErrorf(CodeAppError, a.cfg.Name, "", "TCPConnect", "controller not Closed")
	}
	if peerIP == 0 {
		return newStackErrorf(CodeVal, a.cfg.Name, "", "TCPConnect", "peer IP must not be 0")
	}
	hop := route(peerIP, a.cfg.Gateway, a.cfg.Netmask)
	mac, found := a.arp.lookup(hop, a.cfg.Netmask)
	if !found {
		a.sendARPRequest(hop)
		return newStackErrorf(CodeMacAddrUnknown, a.cfg.Name, "", "TCPConnect", "no ARP entry for %s", ipString(hop))
	}

	c.remoteIP = peerIP
	c.remotePort = peerPort
	c.remoteMAC = mac
	c.onConnect = cb
	c.localSeq = a.nextRandom()
	c.buildTemplate(a, mac)

	var opts [tcpMSSOptionLen]byte
	buildMSSOption(opts[:], TCPMSS)
	seg := a.tcpQueueSegment(c, tcpFlagSYN, nil, opts[:], true)
	if seg == nil {
		return newStackErrorf(CodeSegMem, a.cfg.Name, "", "TCPConnect", "no free segments")
	}
	c.state = tcpSynSent
	a.tcpRebuildLists()
	return nil
}

// tcpQueueSegment allocates and builds a segment carrying flags/options/
// payload, advancing localSeq by the payload length plus one if SYN or FIN
// is set (spec. §4.7.3). When sendNow is true the segment is transmitted
// immediately and marked Unacked; otherwise it is left Unsent.
func (a *Adapter) tcpQueueSegment(c *TcpController, flags uint8, payload, options []byte, sendNow bool) *tcpSegment {
	seg := c.allocSegment()
	if seg == nil {
		return nil
	}
	seqLen := len(payload)
	if flags&(tcpFlagSYN|tcpFlagFIN) != 0 {
		seqLen++
	}
	seg.seq = c.localSeq
	seg.ackNoExpected = c.localSeq + uint32(seqLen)
	c.buildSegmentFrame(seg, payload, options, flags, a.cfg.IP)
	c.localSeq += uint32(seqLen)

	if sendNow {
		seg.state = segUnacked
		seg.skipNextAge = true
		seg.retransmitTicks = 0
		if err := a.send(seg.frame[:seg.frameLen]); err != nil && Debug {
			a.log.Warn("tcp: segment send failed", "err", err, "port", c.localPort)
		}
	} else {
		seg.state = segUnsent
	}
	return seg
}

// tcpTransmitNext promotes and sends the lowest-seq Unsent segment,
// resolving cumulative-ACK stalls (spec. §4.7.2 item 2).
func (a *Adapter) tcpTransmitNext(c *TcpController) {
	seg := c.firstUnsent()
	if seg == nil {
		return
	}
	seg.state = segUnacked
	seg.skipNextAge = true
	seg.retransmitTicks = 0
	if err := a.send(seg.frame[:seg.frameLen]); err != nil && Debug {
		a.log.Warn("tcp: retransmit-promotion send failed", "err", err, "port", c.localPort)
	}
}

// tcpSendControl sends a standalone, non-seq-consuming frame (pure ACK)
// using the adapter scratch buffer rather than a pool segment, matching
// the glossary's "Control segment ... no retransmission buffer share".
func (a *Adapter) tcpSendControl(c *TcpController, flags uint8) {
	frame := a.scratch[:]
	copy(frame[:tcpSegmentPrefixLen], c.template[:tcpSegmentPrefixLen])
	tcpStart := ethernetHeaderLen + ipv4HeaderLen
	hdr := frame[tcpStart : tcpStart+tcpHeaderLen]
	beOut32(hdr[4:8], c.localSeq)
	beOut32(hdr[8:12], c.remoteSeq)
	hdr[12] = (tcpHeaderLen / 4) << 4
	hdr[13] = flags
	beOut16(hdr[14:16], c.localWindow)
	beOut16(hdr[16:18], 0)

	pseudo := pseudoHeaderSum(a.cfg.IP, c.remoteIP, tcpHeaderLen, protoTCP)
	sum := completeChecksum(foldSum(partialSum(pseudo, frame[tcpStart:tcpStart+tcpHeaderLen])))
	beOut16(hdr[16:18], sum)

	ethBuildIPRequest(frame[ethernetHeaderLen:tcpStart], a.cfg.IP, c.remoteIP, tcpHeaderLen, protoTCP, true)

	if err := a.send(frame[:tcpStart+tcpHeaderLen]); err != nil && Debug {
		a.log.Warn("tcp: control send failed", "err", err, "port", c.localPort)
	}
}

func beOut16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
func beOut32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// TCPWrite splits data into remoteMSS-sized segments. The first is
// transmitted immediately (piggybacking any pending ACK); the rest are
// queued Unsent (spec. §4.7.1 "write").
func (a *Adapter) TCPWrite(c *TcpController, data []byte) error {
	if c.state != tcpEstablished {
		return newStackErrorf(CodeAppError, a.cfg.Name, "", "TCPWrite", "controller not Established")
	}
	if c.remoteMSS == 0 || c.remoteWindow < c.remoteMSS {
		return newStackErrorf(CodePeerWindow, a.cfg.Name, "", "TCPWrite", "peer window %d smaller than its MSS %d", c.remoteWindow, c.remoteMSS)
	}
	chunks := (len(data) + int(c.remoteMSS) - 1) / int(c.remoteMSS)
	if chunks == 0 {
		chunks = 1
	}
	unused, _, _ := c.segCounts()
	if chunks > unused {
		return newStackErrorf(CodeSegMem, a.cfg.Name, "", "TCPWrite", "need %d segments, %d free", chunks, unused)
	}

	off := 0
	for i := 0; i < chunks; i++ {
		end := off + int(c.remoteMSS)
		if end > len(data) {
			end = len(data)
		}
		flags := tcpFlagACK
		if i == chunks-1 {
			flags |= tcpFlagPSH
		}
		a.tcpQueueSegment(c, flags, data[off:end], nil, i == 0)
		off = end
	}
	return nil
}

// TCPClose sends FIN and advances the state machine toward termination
// (spec. §4.7.1 "close").
func (a *Adapter) TCPClose(c *TcpController) error {
	switch c.state {
	case tcpEstablished:
		seg := a.tcpQueueSegment(c, tcpFlagFIN|tcpFlagACK, nil, nil, true)
		if seg == nil {
			return newStackErrorf(CodeSegMem, a.cfg.Name, "", "TCPClose", "no free segments for FIN")
		}
		c.state = tcpFinWait1
	case tcpCloseWait:
		seg := a.tcpQueueSegment(c, tcpFlagFIN|tcpFlagACK, nil, nil, true)
		if seg == nil {
			return newStackErrorf(CodeSegMem, a.cfg.Name, "", "TCPClose", "no free segments for FIN")
		}
		c.state = tcpLastAck
	default:
		return newStackErrorf(CodeAppError, a.cfg.Name, "", "TCPClose", "no close transition from %s", c.state)
	}
	return nil
}

// TCPAbort sends RST using the control path and closes locally
// (spec. §4.7.1 "abort").
func (a *Adapter) TCPAbort(c *TcpController) error {
	if c.state == tcpClosed {
		return nil
	}
	a.tcpSendControl(c, tcpFlagRST|tcpFlagACK)
	a.tcpFinishClosed(c, Sentinel(CodeRst))
	return nil
}

// TCPDelete frees a Closed Persistent slot. NonPersistent children are
// reaped automatically and need not be deleted explicitly (spec. §4.7.1
// "delete").
func (a *Adapter) TCPDelete(c *TcpController) error {
	if c.state != tcpClosed {
		return newStackErrorf(CodeAppError, a.cfg.Name, "", "TCPDelete", "controller not Closed")
	}
	*c = TcpController{}
	a.tcpRebuildLists()
	return nil
}

// TCPAck sends a standalone ACK for the current remote sequence number
// whenever the delay_ack_reply option is set; it does not check whether any
// received data is still unacknowledged (spec. §4.7.1 "ack").
func (a *Adapter) TCPAck(c *TcpController) error {
	if c.options&TcpOptDelayAckReply == 0 {
		return nil
	}
	a.tcpSendControl(c, tcpFlagACK)
	return nil
}

func (a *Adapter) tcpRebuildLists() {
	active := a.tcpActive[:0]
	servers := a.tcpServer[:0]
	for i := range a.tcp {
		c := &a.tcp[i]
		if c.slot == tcpSlotUnused || c.state == tcpClosed {
			continue
		}
		if c.state == tcpListen {
			servers = append(servers, c)
		} else {
			active = append(active, c)
		}
	}
	a.tcpActive = active
	a.tcpServer = servers
}

// tcpFinishClosed transitions c to Closed, fires the closed callback
// exactly once, and compacts the lists (spec. §8 invariants 6/7).
func (a *Adapter) tcpFinishClosed(c *TcpController, err error) {
	c.state = tcpClosed
	c.lastErr = err
	if c.onClosed != nil {
		c.onClosed(c, err)
	}
	if c.slot == tcpSlotNonPersistent {
		*c = TcpController{}
	}
	a.tcpRebuildLists()
}

// handleTCP is the demultiplex entrypoint for every inbound TCP segment
// (spec. §4.7.5).
func (a *Adapter) handleTCP(ip ipv4View, srcMAC [6]byte) {
	seg, ok := parseTCP(ip.payload)
	if !ok {
		return
	}
	pseudo := pseudoHeaderSum(ip.srcIP, ip.dstIP, len(ip.payload), protoTCP)
	if !verifyTransportChecksum(ip.payload, 16, pseudo, true) {
		a.setLastError(newStackErrorf(CodeChecksum, a.cfg.Name, "", "handleTCP", "bad TCP checksum from %s:%d", ipString(ip.srcIP), seg.srcPort))
		return
	}

	for _, c := range a.tcpActive {
		if c.localPort == seg.dstPort && c.remoteIP == ip.srcIP && c.remotePort == seg.srcPort {
			a.tcpNetworkEvent(c, seg, srcMAC)
			return
		}
	}
	for _, c := range a.tcpServer {
		if c.localPort != seg.dstPort {
			continue
		}
		if seg.flags&tcpFlagRST != 0 {
			// spec. §9 open question "tcp_server_cs RST handling": the
			// listener itself is never notified.
			return
		}
		if seg.flags&tcpFlagSYN != 0 && seg.flags&tcpFlagACK == 0 {
			a.tcpCreateChild(c, seg, ip.srcIP, srcMAC)
		}
		return
	}
}

// tcpNetworkEvent applies one inbound segment to c's state machine
// (spec. §4.7.2 "Network events").
func (a *Adapter) tcpNetworkEvent(c *TcpController, seg tcpHeaderView, srcMAC [6]byte) {
	if seg.flags&tcpFlagRST != 0 {
		a.tcpFinishClosed(c, Sentinel(CodeRst))
		return
	}

	if seg.flags&tcpFlagACK != 0 {
		c.releaseAcked(seg.ack)
		c.remoteWindow = seg.window
	}

	switch c.state {
	case tcpEstablished:
		a.tcpEstablishedEvent(c, seg)
	case tcpSynSent:
		if seg.flags&tcpFlagSYN != 0 && seg.flags&tcpFlagACK != 0 {
			c.remoteSeq = seg.seq + 1
			c.remoteWindow = seg.window
			if mss, ok := parseTCPMSSOption(seg.options, TCPMSS); ok {
				c.remoteMSS = mss
			} else {
				c.remoteMSS = 536
			}
			a.tcpSendControl(c, tcpFlagACK)
			c.state = tcpEstablished
			if c.onConnect != nil {
				c.onConnect(c, nil)
			}
		} else if seg.flags&tcpFlagSYN != 0 {
			c.remoteSeq = seg.seq + 1
			a.tcpSendControl(c, tcpFlagACK)
			c.state = tcpSynRcvd
		}
	case tcpSynRcvd:
		if seg.flags&tcpFlagACK != 0 {
			c.state = tcpEstablished
		}
	case tcpFinWait1:
		if seg.flags&tcpFlagFIN != 0 {
			c.remoteSeq = seg.seq + 1
			a.tcpSendControl(c, tcpFlagACK)
			c.state = tcpClosing
		} else if seg.flags&tcpFlagACK != 0 {
			c.state = tcpFinWait2
		}
	case tcpFinWait2:
		if seg.flags&tcpFlagFIN != 0 {
			c.remoteSeq = seg.seq + 1
			a.tcpSendControl(c, tcpFlagACK)
			c.state = tcpTimeWait
			c.stateTicks = 0
		}
	case tcpClosing:
		if seg.flags&tcpFlagACK != 0 {
			c.state = tcpTimeWait
			c.stateTicks = 0
		}
	case tcpLastAck:
		if seg.flags&tcpFlagACK != 0 {
			a.tcpFinishClosed(c, nil)
		}
	case tcpCloseWait, tcpTimeWait, tcpListen:
		// no network-triggered transition beyond the RST handled above
	}
}

// tcpEstablishedEvent implements the Established row of the state table
// (spec. §4.7.2).
func (a *Adapter) tcpEstablishedEvent(c *TcpController, seg tcpHeaderView) {
	if seg.flags&tcpFlagFIN != 0 {
		c.remoteSeq = seg.seq + uint32(len(seg.payload)) + 1
		a.tcpSendControl(c, tcpFlagFIN|tcpFlagACK)
		c.state = tcpLastAck
		return
	}

	hasData := len(seg.payload) > 0
	switch {
	case seg.flags&tcpFlagPSH != 0 && hasData:
		if seg.seq != c.remoteSeq {
			return
		}
		var payload []byte
		if c.stream.active {
			full, ok := c.stream.finish(seg.seq, seg.payload, c.localMSS)
			if !ok {
				c.lastErr = Sentinel(CodeStreaming)
				c.stream.reset()
				return
			}
			payload = full
		} else {
			payload = seg.payload
		}
		c.remoteSeq = seg.seq + uint32(len(seg.payload))
		c.stream.reset()
		if c.onRecv != nil {
			c.onRecv(c, payload)
		}
	case hasData:
		if seg.seq != c.remoteSeq {
			return
		}
		if !c.stream.append(seg.seq, seg.payload) {
			c.lastErr = Sentinel(CodeBufferOverrun)
			c.stream.reset()
			return
		}
		c.remoteSeq = seg.seq + uint32(len(seg.payload))
		if c.stream.sequence >= MaxTCPSeg-1 {
			c.lastErr = Sentinel(CodeBufferOverrun)
			c.stream.reset()
		}
	}

	// Established | PSH and Established | ACK-with-data-no-PSH both
	// piggyback the ack via a pending write or, lacking one, a standalone
	// ACK unless delay_ack_reply is set (spec. §4.7.2). Established | ACK
	// (no data) only does the piggyback half: an ack needs no ack of its
	// own.
	if hasData {
		if c.firstUnsent() != nil {
			a.tcpTransmitNext(c)
		} else if c.options&TcpOptDelayAckReply == 0 {
			a.tcpSendControl(c, tcpFlagACK)
		}
	} else if seg.flags&tcpFlagACK != 0 && c.firstUnsent() != nil {
		a.tcpTransmitNext(c)
	}
}

// tcpCreateChild allocates a NonPersistent controller cloned from a
// listener on receipt of a bare SYN, sends SYN|ACK, and notifies Accept
// (spec. §4.7.2 "create_child").
func (a *Adapter) tcpCreateChild(listener *TcpController, seg tcpHeaderView, remoteIP uint32, remoteMAC [6]byte) {
	slot := a.tcpFindFreeSlot()
	if slot == nil {
		if Debug {
			a.log.Debug("tcp: no free controller for inbound SYN", "port", listener.localPort)
		}
		return
	}

	*slot = TcpController{
		slot:        tcpSlotNonPersistent,
		state:       tcpSynRcvd,
		localPort:   listener.localPort,
		remoteIP:    remoteIP,
		remotePort:  seg.srcPort,
		remoteMAC:   remoteMAC,
		localWindow: TCPWnd,
		localMSS:    TCPMSS,
		remoteWindow: seg.window,
		remoteSeq:   seg.seq + 1,
		localSeq:    a.nextRandom(),
		onRecv:      listener.onRecv,
		onAccept:    listener.onAccept,
		parent:      listener,
	}
	if mss, ok := parseTCPMSSOption(seg.options, TCPMSS); ok {
		slot.remoteMSS = mss
	} else {
		slot.remoteMSS = 536
	}
	slot.buildTemplate(a, remoteMAC)

	if listener.onAccept != nil {
		listener.onAccept(listener, slot)
	}

	var opts [tcpMSSOptionLen]byte
	buildMSSOption(opts[:], TCPMSS)
	a.tcpQueueSegment(slot, tcpFlagSYN|tcpFlagACK, nil, opts[:], true)

	a.tcpRebuildLists()
}
