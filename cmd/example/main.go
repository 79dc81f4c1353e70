// example demonstrates the stack package end to end: two in-process
// adapters exchange a TCP handshake and an echoed payload over an
// in-memory link, with an optional libpcap capture of every frame.
//
// This example shows how to:
//   - Construct an Adapter with a custom Driver
//   - Drive the dispatch loop (this short exchange never needs the
//     periodic TCP timer, so Adapter.TCPTick is not called)
//   - Capture the resulting traffic to a .pcap file
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tinyrange/cips/internal/pcaplog"
	"github.com/tinyrange/cips/stack"
)

// memLink hands every frame sent on one side straight to the other side's
// ISR entry point, modeling two NICs joined by a cable with no real
// hardware underneath.
type memLink struct {
	peer *stack.Adapter
}

func (l *memLink) Send(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	l.peer.ISRReceive(cp)
	return nil
}

func ip4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func main() {
	capturePath := flag.String("capture", "", "write a libpcap capture of all frames to this path")
	flag.Parse()

	if err := run(*capturePath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(capturePath string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	serverCfg := stack.AdapterConfig{
		Name: "e0", MAC: [6]byte{2, 0, 0, 0, 0, 1},
		IP: ip4(10, 0, 0, 1), Netmask: ip4(255, 255, 255, 0),
	}
	clientCfg := stack.AdapterConfig{
		Name: "e1", MAC: [6]byte{2, 0, 0, 0, 0, 2},
		IP: ip4(10, 0, 0, 2), Netmask: ip4(255, 255, 255, 0),
	}
	if err := stack.Validate(serverCfg); err != nil {
		return fmt.Errorf("validate server config: %w", err)
	}
	if err := stack.Validate(clientCfg); err != nil {
		return fmt.Errorf("validate client config: %w", err)
	}

	serverLink := &memLink{}
	clientLink := &memLink{}
	server, err := stack.New(serverCfg, serverLink, stack.IngressStandard, log.With("adapter", serverCfg.Name))
	if err != nil {
		return fmt.Errorf("new server adapter: %w", err)
	}
	client, err := stack.New(clientCfg, clientLink, stack.IngressStandard, log.With("adapter", clientCfg.Name))
	if err != nil {
		return fmt.Errorf("new client adapter: %w", err)
	}
	serverLink.peer = client
	clientLink.peer = server

	if capturePath != "" {
		f, err := os.Create(capturePath)
		if err != nil {
			return fmt.Errorf("create capture file: %w", err)
		}
		defer f.Close()
		sink, err := pcaplog.NewSink(f, 0)
		if err != nil {
			return fmt.Errorf("new pcap sink: %w", err)
		}
		server.PacketTrace(sink.Capture)
		client.PacketTrace(sink.Capture)
	}

	listener, err := server.NewTCP(0)
	if err != nil {
		return fmt.Errorf("new listening controller: %w", err)
	}
	if err := server.TCPListen(listener); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	listener.Accept(func(parent, child *stack.TcpController) {
		child.Recv(func(c *stack.TcpController, data []byte) {
			log.Info("server received, echoing", "bytes", len(data))
			if err := server.TCPWrite(c, data); err != nil {
				log.Error("echo write failed", "err", err)
			}
		})
	})

	conn, err := client.NewTCP(0)
	if err != nil {
		return fmt.Errorf("new client controller: %w", err)
	}
	connDone := make(chan error, 1)
	connectCB := func(c *stack.TcpController, err error) { connDone <- err }

	echoDone := make(chan []byte, 1)
	conn.Recv(func(c *stack.TcpController, data []byte) {
		echoDone <- append([]byte(nil), data...)
	})

	dialed := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !dialed {
			// The first connect attempt triggers ARP resolution and fails
			// with CodeMacAddrUnknown; retry once the reply has arrived.
			err := client.TCPConnect(conn, serverCfg.IP, listener.LocalPort(), connectCB)
			if err == nil {
				dialed = true
			} else if !errors.Is(err, stack.Sentinel(stack.CodeMacAddrUnknown)) {
				return fmt.Errorf("connect: %w", err)
			}
		}
		server.Dispatch()
		client.Dispatch()
		select {
		case err := <-connDone:
			if err != nil {
				return fmt.Errorf("connect callback: %w", err)
			}
			if err := client.TCPWrite(conn, []byte("hello from the example client")); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case payload := <-echoDone:
			log.Info("client received echo", "payload", string(payload))
			return nil
		default:
		}
	}
	return fmt.Errorf("timed out waiting for the echo round trip")
}
