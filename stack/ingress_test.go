package stack

import (
	"log/slog"
	"testing"
)

// TestIngressRingOverflowDropsAndCounts exercises S6: with RecvBufSize=10,
// pushing more frames than the ring can hold must drop the excess and track
// how many were dropped, never growing the ring or corrupting existing
// queued frames (spec. §8 invariant "ISR_rcv_nb - processed_nb in
// [0, RECV_BUF_SIZE]").
func TestIngressRingOverflowDropsAndCounts(t *testing.T) {
	a, err := New(AdapterConfig{
		Name: "e0", MAC: [6]byte{2, 0, 0, 0, 0, 1},
		IP: ip4(10, 0, 0, 1), Netmask: ip4(255, 255, 255, 0),
	}, nil, IngressStandard, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	peerMAC := [6]byte{2, 0, 0, 0, 0, 2}
	peerIP := ip4(10, 0, 0, 2)

	const extra = 4
	for i := 0; i < RecvBufSize+extra; i++ {
		frame := buildUDPFrameRaw(peerMAC, a.cfg.MAC, peerIP, a.cfg.IP, 9000, 9001, []byte{byte(i)}, true)
		a.ISRReceive(frame)
	}

	if got := a.ring.pending(); got != RecvBufSize {
		t.Fatalf("ring.pending() = %d, want %d", got, RecvBufSize)
	}
	if a.ring.dropped != extra {
		t.Fatalf("ring.dropped = %d, want %d", a.ring.dropped, extra)
	}

	// The frames that did make it in must still be in FIFO order: the
	// first popped payload must be the first one ever pushed (byte 0x00).
	data, _, ok := a.ring.pop()
	if !ok {
		t.Fatalf("pop: expected a queued frame")
	}
	udpStart := ethernetHeaderLen + ipv4HeaderLen + udpHeaderLen
	if got := data[udpStart]; got != 0x00 {
		t.Fatalf("first popped frame payload = %#x, want 0x00 (oldest survives overflow)", got)
	}
}

func TestIngressFilterAcceptsInSubnetRejectsOthers(t *testing.T) {
	a, err := New(AdapterConfig{
		Name: "e0", MAC: [6]byte{2, 0, 0, 0, 0, 1},
		IP: ip4(10, 0, 0, 1), Netmask: ip4(255, 255, 255, 0),
	}, nil, IngressStandard, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	peerMAC := [6]byte{2, 0, 0, 0, 0, 2}
	inSubnet := buildUDPFrameRaw(peerMAC, a.cfg.MAC, ip4(10, 0, 0, 2), a.cfg.IP, 9000, 9001, []byte("x"), true)
	outSubnet := buildUDPFrameRaw(peerMAC, a.cfg.MAC, ip4(10, 0, 0, 2), ip4(192, 168, 1, 1), 9000, 9001, []byte("x"), true)

	a.ISRReceive(inSubnet)
	a.ISRReceive(outSubnet)

	if got := a.ring.pending(); got != 1 {
		t.Fatalf("ring.pending() = %d, want 1 (only the in-subnet frame accepted)", got)
	}
}
