package stack

// streamAccumCap bounds the in-order reassembly area at MaxTCPSeg-1 worth
// of MSS-sized chunks, the same ceiling spec. §4.7.2 uses to fail a
// runaway accumulation with BufferOverrun ("already MAX_TCP_SEG-1 chunks
// accumulated").
const streamAccumCap = (MaxTCPSeg - 1) * TCPMSS

// streamAccumulator reassembles ACK-only-with-data segments into a single
// buffer, flushed when a PSH-terminated segment arrives (spec. §4.7.4).
type streamAccumulator struct {
	buf      [streamAccumCap]byte
	position int
	sequence int // count of chunks appended so far
	seqnoOri uint32
	active   bool
}

// reset clears the accumulator after a successful flush or a detected gap.
func (s *streamAccumulator) reset() {
	s.position = 0
	s.sequence = 0
	s.active = false
}

// append stores one non-terminal chunk. Returns false (BufferOverrun) if
// the chunk would not fit.
func (s *streamAccumulator) append(seqno uint32, data []byte) bool {
	if !s.active {
		s.active = true
		s.seqnoOri = seqno
	}
	if s.position+len(data) > len(s.buf) {
		return false
	}
	copy(s.buf[s.position:], data)
	s.position += len(data)
	s.sequence++
	return true
}

// finish validates the terminating PSH segment's sequence number against
// the accumulated chunk count and mss, appends its payload, and returns the
// full reassembled stream (spec. §4.7.4: `stream_sequence * local_mss ==
// incoming_seqno - seqno_ori`).
func (s *streamAccumulator) finish(seqno uint32, data []byte, localMSS uint16) ([]byte, bool) {
	if s.active {
		expected := s.seqnoOri + uint32(s.sequence)*uint32(localMSS)
		if expected != seqno {
			return nil, false
		}
	} else {
		s.seqnoOri = seqno
	}
	if s.position+len(data) > len(s.buf) {
		return nil, false
	}
	copy(s.buf[s.position:], data)
	s.position += len(data)
	return s.buf[:s.position], true
}
