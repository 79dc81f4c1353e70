package stack

// frameSlot is one entry of the ingress ring: a raw Ethernet frame buffer
// plus the length actually written into it. frameType doubles as the
// "slot in use" write barrier described in spec. §4.4: the dispatch loop
// clears it to 0 before advancing processedNb, and the ISR never writes a
// slot still carrying a nonzero frameType from a previous unconsumed
// frame (that case can't arise because fullness is checked first).
type frameSlot struct {
	data      [NetworkMTU]byte
	length    int
	frameType uint16 // EtherType of the stored frame, 0 once consumed
}

// IngressRing is the circular buffer described in spec. §3: two
// monotonically increasing counters play producer/consumer, with slot
// index = counter mod RecvBufSize. The ISR mutates only isrRcvNb and the
// slot it addresses; the consumer (Dispatch) mutates only processedNb and
// the slot it addresses. On a platform without atomic 32-bit word access
// this would need to hold the two counters in word-sized locations the
// compiler won't tear; in Go, a uint64 counter updated only by a
// single writer and read by a single reader is safe under the memory
// model as long as no other goroutine touches the Adapter concurrently
// (spec. §5 "single-threaded cooperative").
type IngressRing struct {
	slots      [RecvBufSize]frameSlot
	isrRcvNb   uint64
	processedNb uint64
	sinkBuf    [NetworkMTU]byte // scratch for dropped frames when full
	dropped    uint64
}

// full reports whether the ring has RecvBufSize frames awaiting dispatch
// (spec. §3 invariant "ISR_rcv_nb - processed_nb in [0, RECV_BUF_SIZE]").
func (r *IngressRing) full() bool {
	return r.isrRcvNb-r.processedNb == RecvBufSize
}

// pending reports how many frames are queued for dispatch.
func (r *IngressRing) pending() uint64 {
	return r.isrRcvNb - r.processedNb
}

// push is called from ISR context. If the ring is full, frame is copied
// into the sink buffer and dropped (traceable via the dropped counter and
// a Debug log line). Otherwise it is written into the producer slot and
// isrRcvNb is advanced only after the write completes (spec. §3, §4.4,
// §5).
func (r *IngressRing) push(frame []byte, etherType uint16, log func(dropped uint64)) {
	if r.full() {
		n := copy(r.sinkBuf[:], frame)
		_ = n
		r.dropped++
		if log != nil {
			log(r.dropped)
		}
		return
	}
	idx := r.isrRcvNb % RecvBufSize
	slot := &r.slots[idx]
	slot.length = copy(slot.data[:], frame)
	slot.frameType = etherType
	r.isrRcvNb++
}

// pop is called from the dispatch loop. It returns the oldest queued
// frame and clears the slot's frameType as a write barrier before
// advancing processedNb (spec. §4.4).
func (r *IngressRing) pop() (data []byte, etherType uint16, ok bool) {
	if r.processedNb >= r.isrRcvNb {
		return nil, 0, false
	}
	idx := r.processedNb % RecvBufSize
	slot := &r.slots[idx]
	data = slot.data[:slot.length]
	etherType = slot.frameType
	slot.frameType = 0
	r.processedNb++
	return data, etherType, true
}
