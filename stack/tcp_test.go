package stack

import (
	"errors"
	"log/slog"
	"testing"
)

// establish drives a full three-way handshake over a loopback pair and
// returns the listener's accepted child alongside the client controller,
// both in the Established state (spec. §8 scenario S1).
func establish(t *testing.T, a, b *Adapter) (listener, child, client *TcpController) {
	t.Helper()

	var err error
	listener, err = a.NewTCP(0)
	if err != nil {
		t.Fatalf("NewTCP(listener): %v", err)
	}
	if err := a.TCPListen(listener); err != nil {
		t.Fatalf("TCPListen: %v", err)
	}
	listener.Accept(func(parent, c *TcpController) { child = c })

	client, err = b.NewTCP(0)
	if err != nil {
		t.Fatalf("NewTCP(client): %v", err)
	}
	var connectErr error
	connected := false
	if err := b.TCPConnect(client, a.cfg.IP, listener.LocalPort(), func(c *TcpController, err error) {
		connected = true
		connectErr = err
	}); err != nil {
		t.Fatalf("TCPConnect: %v", err)
	}

	drain(t, a, b)

	if child == nil {
		t.Fatalf("listener never accepted a child")
	}
	if !connected {
		t.Fatalf("client connect callback never fired")
	}
	if connectErr != nil {
		t.Fatalf("client connect callback fired with error: %v", connectErr)
	}
	if child.State() != "Established" {
		t.Fatalf("child.State() = %s, want Established", child.State())
	}
	if client.State() != "Established" {
		t.Fatalf("client.State() = %s, want Established", client.State())
	}
	return listener, child, client
}

func TestTCPHandshakeReachesEstablished(t *testing.T) {
	a, b := newLoopbackPair(t)
	_, child, client := establish(t, a, b)

	if child.RemoteIP() != b.cfg.IP || child.RemotePort() != client.LocalPort() {
		t.Fatalf("child 4-tuple wrong: remoteIP=%s remotePort=%d", ipString(child.RemoteIP()), child.RemotePort())
	}
	if client.RemoteIP() != a.cfg.IP || client.RemotePort() != child.LocalPort() {
		t.Fatalf("client 4-tuple wrong: remoteIP=%s remotePort=%d", ipString(client.RemoteIP()), client.RemotePort())
	}
}

// TestTCPEchoPayload exercises S2: data written by the client must reach the
// server's recv callback, and data the server echoes back must reach the
// client's, with every segment slot released once acked (spec. §8
// invariant 1's "Unused+Unsent+Unacked == MAX_TCP_SEG" holds throughout).
func TestTCPEchoPayload(t *testing.T) {
	a, b := newLoopbackPair(t)
	_, child, client := establish(t, a, b)

	var serverGot []byte
	child.Recv(func(c *TcpController, data []byte) {
		serverGot = append([]byte(nil), data...)
		if err := a.TCPWrite(c, data); err != nil {
			t.Errorf("server TCPWrite(echo): %v", err)
		}
	})
	var clientGot []byte
	client.Recv(func(c *TcpController, data []byte) {
		clientGot = append([]byte(nil), data...)
	})

	if err := b.TCPWrite(client, []byte("ping")); err != nil {
		t.Fatalf("TCPWrite: %v", err)
	}
	drain(t, a, b)

	if string(serverGot) != "ping" {
		t.Fatalf("server received %q, want %q", serverGot, "ping")
	}
	if string(clientGot) != "ping" {
		t.Fatalf("client echo received %q, want %q", clientGot, "ping")
	}

	for _, c := range []*TcpController{child, client} {
		unused, unsent, unacked := c.segCounts()
		if unused+unsent+unacked != MaxTCPSeg {
			t.Fatalf("segment accounting: %d+%d+%d != %d", unused, unsent, unacked, MaxTCPSeg)
		}
		if unacked != 0 {
			t.Fatalf("controller has %d unacked segments after a full round trip, want 0", unacked)
		}
	}
}

// TestTCPWriteSplitsAcrossMSS verifies a write larger than one remote MSS is
// split into exactly the right number of segments and each is delivered and
// acked in order (spec. §4.7.1 "write").
func TestTCPWriteSplitsAcrossMSS(t *testing.T) {
	a, b := newLoopbackPair(t)
	_, child, client := establish(t, a, b)

	var serverGot []byte
	child.Recv(func(c *TcpController, data []byte) {
		serverGot = append(serverGot, data...)
	})

	payload := make([]byte, 2*int(TCPMSS)+37) // > 2 MSS, forces 3 chunks
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := b.TCPWrite(client, payload); err != nil {
		t.Fatalf("TCPWrite: %v", err)
	}
	drain(t, a, b)

	if len(serverGot) != len(payload) {
		t.Fatalf("server reassembled %d bytes, want %d", len(serverGot), len(payload))
	}
	for i := range payload {
		if serverGot[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %#x want %#x", i, serverGot[i], payload[i])
		}
	}

	unused, _, unacked := client.segCounts()
	if unacked != 0 {
		t.Fatalf("client has %d unacked segments after full delivery, want 0", unacked)
	}
	if unused != MaxTCPSeg {
		t.Fatalf("client has %d unused segments after full delivery, want %d", unused, MaxTCPSeg)
	}
}

// TestTCPGracefulClose drives an active close from the client through to
// both sides reaching Closed, firing each onClosed callback exactly once
// (spec. §8 invariants 6/7).
func TestTCPGracefulClose(t *testing.T) {
	a, b := newLoopbackPair(t)
	_, child, client := establish(t, a, b)

	var serverClosedCount int
	var serverClosedErr error
	child.OnClosed(func(c *TcpController, err error) {
		serverClosedCount++
		serverClosedErr = err
	})
	var clientClosedCount int
	client.OnClosed(func(c *TcpController, err error) {
		clientClosedCount++
	})

	if err := b.TCPClose(client); err != nil {
		t.Fatalf("TCPClose: %v", err)
	}
	drain(t, a, b)

	if serverClosedCount != 1 {
		t.Fatalf("server onClosed fired %d times, want 1", serverClosedCount)
	}
	if serverClosedErr != nil {
		t.Fatalf("server onClosed err = %v, want nil (graceful close)", serverClosedErr)
	}
	if client.State() != "Closing" {
		t.Fatalf("client.State() after drain = %s, want Closing (awaiting timers)", client.State())
	}

	for i := 0; i < 2*tcpFinWaitTicks+1 && client.State() != "Closed"; i++ {
		b.TCPTick()
	}
	if client.State() != "Closed" {
		t.Fatalf("client.State() after timer ticks = %s, want Closed", client.State())
	}
	if clientClosedCount != 1 {
		t.Fatalf("client onClosed fired %d times, want 1", clientClosedCount)
	}
}

// TestTCPRetransmissionExhaustionClosesWithRst exercises S3: a SYN that
// never gets a reply stays Unacked, without being resent, until its age
// exceeds tcpRetransmissionTicks, at which point the controller sends RST,
// closes locally and reports CodeRst (spec. §4.7.2 item 1).
func TestTCPRetransmissionExhaustionClosesWithRst(t *testing.T) {
	driver := &blackholeDriver{}
	a, err := New(AdapterConfig{
		Name: "e0", MAC: [6]byte{2, 0, 0, 0, 0, 1},
		IP: ip4(10, 9, 9, 1), Netmask: ip4(255, 255, 255, 0),
	}, driver, IngressStandard, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	peerIP := ip4(10, 9, 9, 2)
	peerMAC := [6]byte{2, 0, 0, 0, 0, 2}
	a.arp.update(peerIP, peerMAC)

	c, err := a.NewTCP(0)
	if err != nil {
		t.Fatalf("NewTCP: %v", err)
	}
	var closedErr error
	closed := false
	c.OnClosed(func(c *TcpController, err error) {
		closed = true
		closedErr = err
	})
	if err := a.TCPConnect(c, peerIP, 7, nil); err != nil {
		t.Fatalf("TCPConnect: %v", err)
	}

	for i := 0; i < tcpRetransmissionTicks+3 && !closed; i++ {
		a.TCPTick()
	}

	if !closed {
		t.Fatalf("controller never closed after exhausting retransmissions")
	}
	if !errors.Is(closedErr, Sentinel(CodeRst)) {
		t.Fatalf("closed err = %v, want Sentinel(CodeRst)", closedErr)
	}
	if c.State() != "Closed" {
		t.Fatalf("c.State() = %s, want Closed", c.State())
	}
	if driver.sent != 2 {
		t.Fatalf("driver.sent = %d, want 2 (initial SYN, then the final RST)", driver.sent)
	}
}
