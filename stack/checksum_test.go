package stack

import (
	"encoding/binary"
	"testing"
)

func TestFoldSumCarries(t *testing.T) {
	// Two words that overflow 16 bits once summed must fold back in.
	got := foldSum(0x1FFFF)
	if got != 0x0000+0x1 {
		t.Fatalf("foldSum(0x1FFFF) = %#x, want 0x1", got)
	}
}

func TestCompleteChecksumZeroSubstitution(t *testing.T) {
	// A folded sum of 0xFFFF complements to 0x0000, which the wire format
	// forbids: UDP/TCP checksums are never transmitted as zero.
	if got := completeChecksum(0xFFFF); got != 0xFFFF {
		t.Fatalf("completeChecksum(0xFFFF) = %#x, want 0xFFFF", got)
	}
	if got := completeChecksum(0x1234); got != ^uint16(0x1234) {
		t.Fatalf("completeChecksum(0x1234) = %#x, want %#x", got, ^uint16(0x1234))
	}
}

func TestIPv4ChecksumValid(t *testing.T) {
	srcIP, dstIP := ip4(10, 0, 0, 1), ip4(10, 0, 0, 2)
	var hdr [ipv4HeaderLen]byte
	ipSetConstantFields(hdr[:], srcIP, dstIP, protoUDP)
	binary.BigEndian.PutUint16(hdr[2:4], ipv4HeaderLen)
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	sum := completeChecksum(ipChecksum(hdr[:]))
	binary.BigEndian.PutUint16(hdr[10:12], sum)

	if !ipv4ChecksumValid(hdr[:], ipv4HeaderLen) {
		t.Fatalf("ipv4ChecksumValid: expected valid header to validate")
	}
	hdr[1] ^= 0xFF // corrupt TOS byte
	if ipv4ChecksumValid(hdr[:], ipv4HeaderLen) {
		t.Fatalf("ipv4ChecksumValid: expected corrupted header to fail")
	}
}

func TestVerifyTransportChecksumUDP(t *testing.T) {
	srcIP, dstIP := ip4(10, 0, 0, 1), ip4(10, 0, 0, 2)
	srcMAC := [6]byte{2, 0, 0, 0, 0, 1}
	dstMAC := [6]byte{2, 0, 0, 0, 0, 2}
	payload := []byte("ping")

	frame := buildUDPFrameRaw(srcMAC, dstMAC, srcIP, dstIP, 9000, 9001, payload, true)
	udpStart := ethernetHeaderLen + ipv4HeaderLen
	seg := frame[udpStart:]

	pseudo := pseudoHeaderSum(srcIP, dstIP, len(seg), protoUDP)
	if !verifyTransportChecksum(seg, 6, pseudo, true) {
		t.Fatalf("verifyTransportChecksum: expected valid checksum to pass")
	}

	seg[len(seg)-1] ^= 0xFF // corrupt last payload byte
	if verifyTransportChecksum(seg, 6, pseudo, true) {
		t.Fatalf("verifyTransportChecksum: expected corrupted payload to fail")
	}
}
