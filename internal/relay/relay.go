// Package relay implements the socket tool's standing TCP-to-URI relays:
// each task listens on a port, buffers every accepted connection's payload
// in memory and forwards it once to a configured destination.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultReadTimeout = 10 * time.Second

var ErrPayloadTooLarge = errors.New("payload exceeds size limit")

func newID() string {
	return uuid.NewString()
}

// Task is one relay rule: listen on [Bind:]Port, forward to URI.
type Task struct {
	Bind string
	Port int
	URI  string
}

// ParseTask turns a "[bindAddress:]port" CLI argument and a destination
// URI into a Task.
func ParseTask(bindSpec, uri string) (Task, error) {
	task := Task{URI: uri}

	portPart := bindSpec
	if i := strings.LastIndex(bindSpec, ":"); i >= 0 {
		task.Bind = bindSpec[:i]
		portPart = bindSpec[i+1:]
	}

	port, err := strconv.Atoi(portPart)
	if err != nil || port < 1 || port > 65535 {
		return Task{}, fmt.Errorf("bad listen port in %q", bindSpec)
	}
	task.Port = port
	return task, nil
}

// Relay owns the listeners and the worker pool for a set of tasks. The
// pool is injected by the caller, which is also responsible for shutting
// it down.
type Relay struct {
	pool      *Pool
	forwarder Forwarder

	readTimeout time.Duration
	maxPayload  int64

	mu        sync.Mutex
	listeners []net.Listener
	wg        sync.WaitGroup
}

type RelayOption func(*Relay)

// WithReadTimeout sets the per-read deadline on accepted connections.
func WithReadTimeout(d time.Duration) RelayOption {
	return func(r *Relay) { r.readTimeout = d }
}

// WithMaxPayload caps the bytes buffered per connection; zero means no
// limit. Oversized payloads are dropped without forwarding.
func WithMaxPayload(n int64) RelayOption {
	return func(r *Relay) { r.maxPayload = n }
}

func New(pool *Pool, forwarder Forwarder, opts ...RelayOption) *Relay {
	r := &Relay{
		pool:        pool,
		forwarder:   forwarder,
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start binds a listener for each task and runs its accept loop on a
// separate goroutine. Binding failures abort startup and close any
// listeners already bound.
func (r *Relay) Start(tasks []Task) error {
	for _, task := range tasks {
		addr := net.JoinHostPort(task.Bind, strconv.Itoa(task.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			r.Stop()
			return fmt.Errorf("bind %s: %w", addr, err)
		}

		r.mu.Lock()
		r.listeners = append(r.listeners, ln)
		r.mu.Unlock()

		r.wg.Add(1)
		go r.acceptLoop(ln, task.URI)
		log.Printf("[relay] %s -> %s", ln.Addr(), task.URI)
	}
	return nil
}

// Addrs reports the bound listener addresses, useful when tasks request
// ephemeral ports.
func (r *Relay) Addrs() []net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := make([]net.Addr, 0, len(r.listeners))
	for _, ln := range r.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Stop closes all listeners and waits for the accept loops to exit.
// In-flight connection workers are owned by the pool and drained by the
// pool's own shutdown.
func (r *Relay) Stop() {
	r.mu.Lock()
	for _, ln := range r.listeners {
		ln.Close()
	}
	r.listeners = nil
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Relay) acceptLoop(ln net.Listener, uri string) {
	defer r.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[relay] accept on %s: %v", ln.Addr(), err)
			continue
		}

		c := conn
		if err := r.pool.Submit(func() { r.handle(c, uri) }); err != nil {
			log.Printf("[relay] drop connection from %s: %v", c.RemoteAddr(), err)
			c.Close()
		}
	}
}

// handle runs the receive-then-forward sequence for one connection. The
// client socket is closed before the forward begins; a receive error
// means nothing is forwarded, a forward error means the payload is logged
// and dropped.
func (r *Relay) handle(conn net.Conn, uri string) {
	id := newID()
	remote := conn.RemoteAddr()

	data, err := r.receive(conn)
	conn.Close()
	if err != nil {
		log.Printf("[relay] %s: receive from %s: %v", id, remote, err)
		return
	}

	if err := r.forwarder.Forward(context.Background(), uri, data); err != nil {
		log.Printf("[relay] %s: forward %d bytes from %s to %s: %v", id, len(data), remote, uri, err)
		return
	}
	log.Printf("[relay] %s: relayed %d bytes from %s to %s", id, len(data), remote, uri)
}

// receive buffers the whole incoming stream. Each read gets a fresh
// deadline, so the timeout bounds idle time rather than total transfer
// time.
func (r *Relay) receive(conn net.Conn) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			if r.maxPayload > 0 && int64(buf.Len())+int64(n) > r.maxPayload {
				return nil, ErrPayloadTooLarge
			}
			buf.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf.Bytes(), nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, fmt.Errorf("read timed out: %w", err)
			}
			return nil, err
		}
	}
}
