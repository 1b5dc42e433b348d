// Package netcat provides the ad hoc TCP client and server pieces of the
// socket tool: a dump-to-output listener, a one-shot sender and an echo
// client for poking at line protocols by hand.
package netcat

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	defaultDialTimeout = 10 * time.Second

	// drainWindow bounds the wait for server-initiated bytes (greeting
	// banners and the like) before an echo client sends its payload.
	drainWindow = 200 * time.Millisecond
)

// Tool bundles the input and output streams the commands operate on, so
// tests can substitute buffers for the process streams.
type Tool struct {
	In  io.Reader
	Out io.Writer

	DialTimeout time.Duration
}

func New() *Tool {
	return &Tool{
		In:          os.Stdin,
		Out:         os.Stdout,
		DialTimeout: defaultDialTimeout,
	}
}

// Payload resolves the bytes to send: the escape-decoded literal text when
// one is given, otherwise everything readable from the tool's input.
func (t *Tool) Payload(text string, haveText bool) ([]byte, error) {
	if haveText {
		return Decode(text), nil
	}
	data, err := io.ReadAll(t.In)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

// Listen accepts connections on the given port forever, copying each
// connection's bytes to the tool's output until the remote side closes.
// Accept errors are logged and the loop continues; the loop only ends when
// the listener itself is closed.
func (t *Tool) Listen(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	defer ln.Close()
	return t.Serve(ln)
}

// Serve is the accept loop behind Listen, split out so callers can bind
// the listener themselves.
func (t *Tool) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[netcat] accept on %s: %v", ln.Addr(), err)
			continue
		}
		if _, err := io.Copy(t.Out, conn); err != nil {
			log.Printf("[netcat] read from %s: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
	}
}

// Send opens one connection, writes the payload and closes.
func (t *Tool) Send(host string, port int, payload []byte) error {
	conn, err := t.dial(host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write to %s: %w", conn.RemoteAddr(), err)
	}
	return nil
}

// Echo opens one connection, prints whatever the server volunteers first,
// sends the payload and then copies the response to output until the
// connection closes or the read fails.
func (t *Tool) Echo(host string, port int, payload []byte) error {
	conn, err := t.dial(host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	t.drain(conn)

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write to %s: %w", conn.RemoteAddr(), err)
	}

	if _, err := io.Copy(t.Out, conn); err != nil {
		log.Printf("[netcat] read from %s: %v", conn.RemoteAddr(), err)
	}
	return nil
}

// drain copies any bytes the server sends unprompted, giving up after a
// short quiet window.
func (t *Tool) drain(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(drainWindow))
		n, err := conn.Read(buf)
		if n > 0 {
			t.Out.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
}

func (t *Tool) dial(host string, port int) (net.Conn, error) {
	timeout := t.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return conn, nil
}
