package stack

import "fmt"

// Driver is the link-layer collaborator injected into an Adapter. It is
// owned and implemented by the host application (spec. §1 "Deliberately
// out of scope ... the link-layer driver"; spec. §6 "Driver interface").
//
// Send may block briefly (e.g. on DMA). The interface has no receive
// method: the host pushes each received frame into the stack by calling
// Adapter.ISRReceive from its receive-interrupt handler.
type Driver interface {
	// Send transmits a fully-built Ethernet frame. It returns an error if
	// the underlying transmit failed; the core never rolls back state on
	// a Send failure (spec. §7 "Propagation policy").
	Send(frame []byte) error
}

// beUint16/beUint32 are tiny big-endian readers used outside frame.go's
// parse helpers (ARP body fields).
func beUint16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// ipString renders a host-order IPv4 address for log/error messages. This
// is display-only and not the dotted-address parser named out of scope by
// spec. §1 (that collaborator goes the other direction: string->uint32).
func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}
