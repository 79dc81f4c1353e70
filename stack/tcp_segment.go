package stack

import "encoding/binary"

// segState is the three-way lifecycle of one retransmission slot
// (spec. §3 "Segment (TCP)", glossary).
type segState int

const (
	segUnused segState = iota
	segUnsent
	segUnacked
)

// tcpSegment is one pre-built outgoing frame plus its sequence bookkeeping.
// The frame bytes are owned by the segment, never shared (spec. §9
// "Ownership of segments").
type tcpSegment struct {
	state segState

	seq             uint32 // first sequence number carried by this segment
	ackNoExpected   uint32 // seq + payload length (+1 for SYN/FIN): released once peer ACKs at least this
	retransmitTicks int    // ticks since this segment was last (re)transmitted
	skipNextAge     bool   // true right after (re)transmission: the timer tick that follows the send doesn't age it, spec. §4.7.2 item 1

	frame    [NetworkMTU]byte
	frameLen int
}

// segCounts reports how many segments are in each state, which must always
// sum to MaxTCPSeg for any in-use controller (spec. §8 invariant 1).
func (c *TcpController) segCounts() (unused, unsent, unacked int) {
	for i := range c.segments {
		switch c.segments[i].state {
		case segUnused:
			unused++
		case segUnsent:
			unsent++
		case segUnacked:
			unacked++
		}
	}
	return
}

// allocSegment picks the first Unused segment following the last Unacked
// one (to preserve send ordering), falling back to the first Unused
// segment overall when no Unacked segment exists or none follows it
// (spec. §4.7.3).
func (c *TcpController) allocSegment() *tcpSegment {
	lastUnacked := -1
	for i := range c.segments {
		if c.segments[i].state == segUnacked {
			lastUnacked = i
		}
	}
	if lastUnacked >= 0 {
		for i := lastUnacked + 1; i < len(c.segments); i++ {
			if c.segments[i].state == segUnused {
				return &c.segments[i]
			}
		}
	}
	for i := range c.segments {
		if c.segments[i].state == segUnused {
			return &c.segments[i]
		}
	}
	return nil
}

// headUnacked returns the oldest Unacked segment (lowest seq), or nil.
func (c *TcpController) headUnacked() *tcpSegment {
	var head *tcpSegment
	for i := range c.segments {
		s := &c.segments[i]
		if s.state != segUnacked {
			continue
		}
		if head == nil || seqLT(s.seq, head.seq) {
			head = s
		}
	}
	return head
}

// firstUnsent returns the lowest-seq Unsent segment, or nil.
func (c *TcpController) firstUnsent() *tcpSegment {
	var first *tcpSegment
	for i := range c.segments {
		s := &c.segments[i]
		if s.state != segUnsent {
			continue
		}
		if first == nil || seqLT(s.seq, first.seq) {
			first = s
		}
	}
	return first
}

// releaseAcked frees every Unacked segment whose ackNoExpected is covered
// by incomingAck, handling one 32-bit sequence wraparound exactly as
// described in spec. §4.7.3 "lookup_segment_by_acknowledge_no": when
// incomingAck < lastAckNo, segments at or above lastAckNo are also
// released (they were sent before the wrap and are now provably acked).
func (c *TcpController) releaseAcked(incomingAck uint32) {
	wrapped := incomingAck < c.lastAckNo
	for i := range c.segments {
		s := &c.segments[i]
		if s.state != segUnacked {
			continue
		}
		if seqLTE(s.ackNoExpected, incomingAck) {
			*s = tcpSegment{}
			continue
		}
		if wrapped && seqGTE(s.ackNoExpected, c.lastAckNo) {
			*s = tcpSegment{}
		}
	}
	c.lastAckNo = incomingAck
}

// seqLT/seqLTE/seqGT/seqGTE compare TCP sequence numbers modulo 2^32,
// treating the numbers as a circular space (spec. §9 "Endian policy" and
// §4.7.3's wraparound handling).
func seqLT(a, b uint32) bool  { return int32(a-b) < 0 }
func seqLTE(a, b uint32) bool { return int32(a-b) <= 0 }
func seqGT(a, b uint32) bool  { return int32(a-b) > 0 }
func seqGTE(a, b uint32) bool { return int32(a-b) >= 0 }

// buildSegmentFrame writes a TCP segment into seg's frame buffer: the
// constant Ethernet/IP/port prefix (copied from the controller's template,
// built once by buildTemplate), then the dynamic seq/ack/flags/window/
// options/checksum/IP-length fields (spec. §4.7.3 "Build frame"). options
// is non-empty only for SYN and SYN|ACK (the MSS option, spec. §6).
func (c *TcpController) buildSegmentFrame(seg *tcpSegment, payload, options []byte, flags uint8, localIP uint32) {
	copy(seg.frame[:tcpSegmentPrefixLen], c.template[:tcpSegmentPrefixLen])

	tcpStart := ethernetHeaderLen + ipv4HeaderLen
	hdrLen := tcpHeaderLen + len(options)
	hdr := seg.frame[tcpStart : tcpStart+tcpHeaderLen]
	binary.BigEndian.PutUint32(hdr[4:8], seg.seq)
	binary.BigEndian.PutUint32(hdr[8:12], c.remoteSeq)
	hdr[12] = uint8(hdrLen/4) << 4
	hdr[13] = flags
	binary.BigEndian.PutUint16(hdr[14:16], c.localWindow)
	binary.BigEndian.PutUint16(hdr[16:18], 0)

	optLen := copy(seg.frame[tcpStart+tcpHeaderLen:], options)
	dataStart := tcpStart + tcpHeaderLen + optLen
	dataLen := copy(seg.frame[dataStart:], payload)

	segLen := hdrLen + dataLen
	pseudo := pseudoHeaderSum(localIP, c.remoteIP, segLen, protoTCP)
	sum := completeChecksum(foldSum(partialSum(pseudo, seg.frame[tcpStart:tcpStart+segLen])))
	binary.BigEndian.PutUint16(hdr[16:18], sum)

	ethBuildIPRequest(seg.frame[ethernetHeaderLen:tcpStart], localIP, c.remoteIP, segLen, protoTCP, true)

	seg.frameLen = tcpStart + segLen
}

// tcpSegmentPrefixLen covers the part of a segment's frame that never
// changes across retransmissions: the Ethernet header, the constant IPv4
// fields, and the two TCP port fields. buildTemplate writes it once per
// controller; buildSegmentFrame copies it into every segment it builds.
const tcpSegmentPrefixLen = ethernetHeaderLen + ipv4HeaderLen + 4
