package stack

import (
	"encoding/binary"
	"log/slog"
	"testing"
)

// loopbackDriver hands every sent frame straight to a peer Adapter's
// ISRReceive, modeling the teacher's in-memory driver pattern used to test
// netstack without a real NIC.
type loopbackDriver struct {
	peer *Adapter
}

func (d *loopbackDriver) Send(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.peer.ISRReceive(cp)
	return nil
}

func ip4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func testLogger(tb testing.TB) *slog.Logger {
	tb.Helper()
	return slog.New(slog.NewTextHandler(testWriter{tb}, nil))
}

type testWriter struct{ tb testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Logf("%s", p)
	return len(p), nil
}

// newLoopbackPair builds two adapters wired to each other's ISRReceive via
// loopbackDriver, pre-seeding each other's ARP cache so tests that don't
// exercise ARP resolution directly don't need to.
func newLoopbackPair(tb testing.TB) (a, b *Adapter) {
	tb.Helper()

	cfgA := AdapterConfig{Name: "a", MAC: [6]byte{2, 0, 0, 0, 0, 1}, IP: ip4(10, 2, 222, 222), Netmask: ip4(255, 255, 255, 0)}
	cfgB := AdapterConfig{Name: "b", MAC: [6]byte{2, 0, 0, 0, 0, 2}, IP: ip4(10, 2, 2, 100), Netmask: ip4(255, 255, 255, 0)}

	var err error
	a, err = New(cfgA, nil, IngressStandard, testLogger(tb))
	if err != nil {
		tb.Fatalf("New(a): %v", err)
	}
	b, err = New(cfgB, nil, IngressStandard, testLogger(tb))
	if err != nil {
		tb.Fatalf("New(b): %v", err)
	}
	a.driver = &loopbackDriver{peer: b}
	b.driver = &loopbackDriver{peer: a}

	a.arp.update(cfgB.IP, cfgB.MAC)
	b.arp.update(cfgA.IP, cfgA.MAC)

	return a, b
}

// drain pumps Dispatch until the ring is empty on both adapters, bounding
// iterations so a stuck test fails instead of hanging.
func drain(tb testing.TB, adapters ...*Adapter) {
	tb.Helper()
	for i := 0; i < 64; i++ {
		any := false
		for _, a := range adapters {
			if a.ring.pending() > 0 {
				a.Dispatch()
				any = true
			}
		}
		if !any {
			return
		}
	}
	tb.Fatalf("drain: ring never emptied")
}

// buildUDPFrameRaw assembles a complete Ethernet+IPv4+UDP frame byte for
// byte, independent of any Adapter's own send path. Tests that need a frame
// from a peer that isn't itself a *Adapter (ingress overflow, checksum
// edge cases) use this instead of spinning up a second stack.
func buildUDPFrameRaw(srcMAC, dstMAC [6]byte, srcIP, dstIP uint32, srcPort, dstPort uint16, payload []byte, withChecksum bool) []byte {
	total := ethernetHeaderLen + ipv4HeaderLen + udpHeaderLen + len(payload)
	frame := make([]byte, total)
	ethBuildFrame(frame, dstMAC, srcMAC, dstIP, srcIP, frameEthernet)

	udpStart := ethernetHeaderLen + ipv4HeaderLen
	binary.BigEndian.PutUint16(frame[udpStart:udpStart+2], srcPort)
	binary.BigEndian.PutUint16(frame[udpStart+2:udpStart+4], dstPort)
	udpLen := udpHeaderLen + len(payload)
	binary.BigEndian.PutUint16(frame[udpStart+4:udpStart+6], uint16(udpLen))
	copy(frame[udpStart+udpHeaderLen:], payload)
	binary.BigEndian.PutUint16(frame[udpStart+6:udpStart+8], 0)
	if withChecksum {
		pseudo := pseudoHeaderSum(srcIP, dstIP, udpLen, protoUDP)
		sum := completeChecksum(foldSum(partialSum(pseudo, frame[udpStart:udpStart+udpLen])))
		binary.BigEndian.PutUint16(frame[udpStart+6:udpStart+8], sum)
	}
	ethBuildIPRequest(frame[ethernetHeaderLen:udpStart], srcIP, dstIP, udpLen, protoUDP, false)
	return frame
}

// blackholeDriver accepts every Send and delivers it nowhere, modeling an
// unreachable peer for retransmission-timeout tests.
type blackholeDriver struct{ sent int }

func (d *blackholeDriver) Send(frame []byte) error {
	d.sent++
	return nil
}
