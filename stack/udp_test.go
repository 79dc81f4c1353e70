package stack

import "testing"

// TestUDPAnyTargetRetargetsToFirstSender exercises the AnyTarget side of
// spec. §4.6: a freshly allocated controller accepts (and binds to) the
// first sender it hears from, and re-targets to any later sender.
func TestUDPAnyTargetRetargetsToFirstSender(t *testing.T) {
	a, b := newLoopbackPair(t)

	server, err := a.NewUDP(9001, false)
	if err != nil {
		t.Fatalf("NewUDP(a): %v", err)
	}
	var got []byte
	var gotFrom uint32
	server.Recv(func(payload []byte, remoteIP uint32, remotePort uint16) {
		got = append([]byte(nil), payload...)
		gotFrom = remoteIP
	})

	client, err := b.NewUDP(9002, false)
	if err != nil {
		t.Fatalf("NewUDP(b): %v", err)
	}
	if err := b.UDPConnect(client, a.cfg.IP, 9001); err != nil {
		t.Fatalf("UDPConnect: %v", err)
	}
	if err := b.UDPSend(client, []byte("hello"), false); err != nil {
		t.Fatalf("UDPSend: %v", err)
	}
	drain(t, a, b)

	if string(got) != "hello" {
		t.Fatalf("server received %q, want %q", got, "hello")
	}
	if gotFrom != b.cfg.IP {
		t.Fatalf("server saw remoteIP %s, want %s", ipString(gotFrom), ipString(b.cfg.IP))
	}

	// A different, unrelated peer's datagram to the same port must also be
	// accepted and re-target an AnyTarget controller.
	thirdMAC := [6]byte{2, 0, 0, 0, 0, 3}
	thirdIP := ip4(10, 2, 2, 200)
	frame := buildUDPFrameRaw(thirdMAC, a.cfg.MAC, thirdIP, a.cfg.IP, 9003, 9001, []byte("intruder"), true)
	a.ISRReceive(frame)
	drain(t, a)
	if string(got) != "intruder" || gotFrom != thirdIP {
		t.Fatalf("AnyTarget controller did not re-target to new sender: got %q from %s", got, ipString(gotFrom))
	}
}

// TestUDPKnownTargetRejectsCrossTalk exercises the KnownTarget side: once
// connected, only the connected remote's datagrams are delivered.
func TestUDPKnownTargetRejectsCrossTalk(t *testing.T) {
	a, b := newLoopbackPair(t)

	server, err := a.NewUDP(9010, false)
	if err != nil {
		t.Fatalf("NewUDP(a): %v", err)
	}
	if err := a.UDPConnect(server, b.cfg.IP, 9011); err != nil {
		t.Fatalf("UDPConnect(server): %v", err)
	}
	var calls int
	server.Recv(func(payload []byte, remoteIP uint32, remotePort uint16) { calls++ })

	intruderMAC := [6]byte{2, 0, 0, 0, 0, 9}
	intruderIP := ip4(10, 2, 2, 250)
	frame := buildUDPFrameRaw(intruderMAC, a.cfg.MAC, intruderIP, a.cfg.IP, 9011, 9010, []byte("nope"), true)
	a.ISRReceive(frame)
	drain(t, a)

	if calls != 0 {
		t.Fatalf("KnownTarget controller delivered a datagram from an unconnected peer")
	}
}

// TestUDPPointToPointElidesChecksum exercises S4: a point-to-point
// controller sends with a zero UDP checksum, and the receiver must accept
// it without treating zero as an error (spec. §4.6 "checksum elision").
func TestUDPPointToPointElidesChecksum(t *testing.T) {
	a, b := newLoopbackPair(t)

	server, err := a.NewUDP(9020, true)
	if err != nil {
		t.Fatalf("NewUDP(a): %v", err)
	}
	var got []byte
	server.Recv(func(payload []byte, remoteIP uint32, remotePort uint16) {
		got = append([]byte(nil), payload...)
	})

	client, err := b.NewUDP(9021, true)
	if err != nil {
		t.Fatalf("NewUDP(b): %v", err)
	}
	if err := b.UDPConnect(client, a.cfg.IP, 9020); err != nil {
		t.Fatalf("UDPConnect: %v", err)
	}
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	for i := 0; i < 3; i++ {
		if err := b.UDPSend(client, payload, true); err != nil {
			t.Fatalf("UDPSend[%d]: %v", i, err)
		}
	}
	drain(t, a, b)

	if len(got) != len(payload) {
		t.Fatalf("server received %d bytes, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("payload mismatch at byte %d: got %#x, want %#x", i, got[i], payload[i])
		}
	}
}
