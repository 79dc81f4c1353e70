// Package pcaplog writes classic libpcap-formatted captures of the frames
// an Adapter sends and receives. It is an optional sink: nothing in
// package stack depends on it, since the core only ever calls the
// func(frame []byte) handed to Adapter.PacketTrace.
package pcaplog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// LinkTypeEthernet is the DLT value recorded in the global header for raw
// Ethernet captures, matching the tcpdump/libpcap definition.
const LinkTypeEthernet uint32 = 1

var (
	// ErrHeaderWritten is returned by the internal writeHeader if the
	// global header was already written. NewSink writes it exactly once.
	ErrHeaderWritten = errors.New("pcaplog: global header already written")
)

// Sink wraps an io.Writer with a classic libpcap global header plus one
// per-packet record header per captured frame. A Sink's Capture method has
// the func(frame []byte) shape Adapter.PacketTrace expects.
type Sink struct {
	w       io.Writer
	snapLen uint32
	opened  bool
	now     func() time.Time
}

// NewSink wraps out and immediately writes the 24-byte global header with
// the given snapshot length (0 means "no limit, don't truncate").
func NewSink(out io.Writer, snapLen uint32) (*Sink, error) {
	s := &Sink{w: out, snapLen: snapLen, now: time.Now}
	if err := s.writeHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) writeHeader() error {
	if s.opened {
		return ErrHeaderWritten
	}
	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 0xa1b2c3d4)
	binary.LittleEndian.PutUint16(hdr[4:6], 2)
	binary.LittleEndian.PutUint16(hdr[6:8], 4)
	binary.LittleEndian.PutUint32(hdr[16:20], s.snapLen)
	binary.LittleEndian.PutUint32(hdr[20:24], LinkTypeEthernet)
	if _, err := s.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("pcaplog: write global header: %w", err)
	}
	s.opened = true
	return nil
}

// Capture appends one packet record. It silently drops write errors,
// without logging them: a tracing sink must never be the reason a
// frame that otherwise sent fine looks like it failed, so Capture has no
// return value and Adapter.PacketTrace's func(frame []byte) signature
// can't propagate one anyway.
func (s *Sink) Capture(frame []byte) {
	capLen := len(frame)
	if s.snapLen != 0 && uint32(capLen) > s.snapLen {
		capLen = int(s.snapLen)
	}

	ts := s.now()
	var rec [16]byte
	binary.LittleEndian.PutUint32(rec[0:4], uint32(ts.Unix()))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(ts.Nanosecond()/1_000))
	binary.LittleEndian.PutUint32(rec[8:12], uint32(capLen))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(frame)))

	if _, err := s.w.Write(rec[:]); err != nil {
		return
	}
	if capLen > 0 {
		_, _ = s.w.Write(frame[:capLen])
	}
}
