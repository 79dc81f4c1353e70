package stack

import "encoding/binary"

// htons/ntohs/htonl/ntohl are named for parity with the original C API;
// Go's encoding/binary already isolates host code from byte order, so
// these exist only at the codec boundary (spec. §4.1, "Endian policy").
func htons(v uint16) uint16 { return v }
func ntohs(v uint16) uint16 { return v }
func htonl(v uint32) uint32 { return v }
func ntohl(v uint32) uint32 { return v }

// ipChecksum computes the one's-complement 16-bit sum over network-order
// memory, folding carries, and returns the host-order sum WITHOUT
// complementing it. Callers complement and apply the zero->0xFFFF
// substitution themselves (spec. §4.1).
func ipChecksum(data []byte) uint16 {
	return foldSum(partialSum(0, data))
}

// partialSum accumulates 16-bit big-endian words from data into an
// existing 32-bit accumulator, without folding. This lets callers combine
// a pseudo-header sum with a payload sum before a single fold, matching
// the incremental usage in spec. §4.1/§4.6/§4.7.5.
func partialSum(acc uint32, data []byte) uint32 {
	n := len(data)
	i := 0
	for ; i+1 < n; i += 2 {
		acc += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if i < n {
		acc += uint32(data[i]) << 8
	}
	return acc
}

// foldSum folds carries out of a 32-bit accumulator until it fits in 16
// bits, returning the host-order sum (not yet complemented).
func foldSum(acc uint32) uint16 {
	for acc>>16 != 0 {
		acc = (acc & 0xffff) + (acc >> 16)
	}
	return uint16(acc)
}

// completeChecksum complements a folded sum and substitutes 0 with
// 0xFFFF, matching the wire requirement that a UDP/TCP checksum field is
// never emitted as zero (spec. §8 invariant 5).
func completeChecksum(sum uint16) uint16 {
	c := ^sum
	if c == 0 {
		return 0xFFFF
	}
	return c
}

// pseudoHeaderSum returns a network-order-compatible partial sum of the
// IPv4 pseudo-header (src, dst, zero, protocol, length) suitable for
// folding in with the transport segment sum (spec. §4.1, RFC 793/768).
func pseudoHeaderSum(srcIP, dstIP uint32, payloadLen int, proto uint8) uint32 {
	var acc uint32
	acc += srcIP >> 16
	acc += srcIP & 0xffff
	acc += dstIP >> 16
	acc += dstIP & 0xffff
	acc += uint32(proto)
	acc += uint32(payloadLen)
	return acc
}

// verifyTransportChecksum reports whether the checksum embedded in a
// UDP/TCP segment (at checksumOffset, already on the wire) is valid
// against the pseudo-header sum. When acceptOffloadSignature is true, a
// received checksum equal to the pseudo-header-only sum is also accepted,
// modeling NIC offload that computed the pseudo-header contribution but
// never finished folding in the payload (spec. §4.6, §4.7.5, §9 "Open
// question — checksum-offload acceptance").
func verifyTransportChecksum(segment []byte, checksumOffset int, pseudo uint32, acceptOffloadSignature bool) bool {
	received := binary.BigEndian.Uint16(segment[checksumOffset : checksumOffset+2])

	// Summing the segment as received (checksum field included) plus the
	// pseudo-header must fold to all-ones when the checksum is valid.
	full := foldSum(partialSum(pseudo, segment))
	if full == 0xFFFF {
		return true
	}

	if acceptOffloadSignature {
		// NIC offload sometimes leaves only the pseudo-header contribution
		// in the checksum field, having never folded in the payload.
		offloadOnly := completeChecksum(foldSum(pseudo))
		if received == offloadOnly {
			return true
		}
	}
	return false
}
