package stack

import "fmt"

// Code enumerates the error taxonomy from spec. §7. Application codes are
// expected to start above CodeReservedCeiling so they never collide with
// the core's reserved range.
type Code int

const (
	CodeOK Code = iota
	CodeAppError
	CodeBufferOverrun
	CodeRst
	CodeVal
	CodeMacAddrUnknown
	CodeChecksum
	CodeStreaming
	CodePeerWindow
	CodeSegMem
	CodeCurSegMem
	CodeUdpMem
	CodeTcpMem
	CodeNetAdapterMem
	CodeDeviceDriver

	// CodeReservedCeiling marks the end of the core's reserved range.
	// Application-defined codes must use values greater than this.
	CodeReservedCeiling
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeAppError:
		return "AppError"
	case CodeBufferOverrun:
		return "BufferOverrun"
	case CodeRst:
		return "Rst"
	case CodeVal:
		return "Val"
	case CodeMacAddrUnknown:
		return "MacAddrUnknown"
	case CodeChecksum:
		return "Checksum"
	case CodeStreaming:
		return "Streaming"
	case CodePeerWindow:
		return "PeerWindow"
	case CodeSegMem:
		return "SegMem"
	case CodeCurSegMem:
		return "CurSegMem"
	case CodeUdpMem:
		return "UdpMem"
	case CodeTcpMem:
		return "TcpMem"
	case CodeNetAdapterMem:
		return "NetAdapterMem"
	case CodeDeviceDriver:
		return "DeviceDriver"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// StackError is the Go equivalent of get_last_stack_error: it renders a
// human string including adapter name, port pair when applicable, function
// name, and a description. It carries no source file or line.
type StackError struct {
	Code        Code
	Adapter     string
	Conn        string // e.g. "10.0.0.2:5009<->10.0.0.100:1025", empty if not applicable
	Func        string
	Description string
}

func (e *StackError) Error() string {
	if e.Conn != "" {
		return fmt.Sprintf("%s: %s[%s] %s: %s", e.Adapter, e.Func, e.Conn, e.Code, e.Description)
	}
	return fmt.Sprintf("%s: %s %s: %s", e.Adapter, e.Func, e.Code, e.Description)
}

// Is allows errors.Is(err, SomeCode) style comparisons against the bare
// Code sentinels defined in this file via codeSentinel.
func (e *StackError) Is(target error) bool {
	if s, ok := target.(codeSentinel); ok {
		return e.Code == Code(s)
	}
	return false
}

// codeSentinel lets callers write errors.Is(err, stack.Sentinel(CodeRst)).
type codeSentinel Code

func (codeSentinel) Error() string { return "" }

// Sentinel returns a comparison target for errors.Is against a StackError's
// Code, without needing a concrete *StackError value in hand.
func Sentinel(c Code) error { return codeSentinel(c) }

func newStackErrorf(code Code, adapter, conn, fn, format string, args ...any) *StackError {
	return &StackError{
		Code:        code,
		Adapter:     adapter,
		Conn:        conn,
		Func:        fn,
		Description: fmt.Sprintf(format, args...),
	}
}
