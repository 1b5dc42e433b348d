// Package lpd implements a client for the Line Printer Daemon protocol
// (RFC 1179): job submission, queue state queries and job removal over TCP.
package lpd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultPort is the TCP port assigned to LPD by RFC 1179.
	DefaultPort = 515

	cmdReceiveJob      = 0x02
	cmdQueueStateShort = 0x03
	cmdQueueStateLong  = 0x04
	cmdRemoveJobs      = 0x05

	subReceiveControlFile = 0x02
	subReceiveDataFile    = 0x03

	// DefaultJobNumber is fixed rather than cycled 001-999 as RFC 1179
	// suggests for concurrent submissions. Callers that need distinct
	// numbers can set one per client with WithJobNumber.
	DefaultJobNumber = "001"

	connectAttempts = 3
	connectPause    = 10 * time.Millisecond

	defaultReadTimeout = 30 * time.Second
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrInterrupted      = errors.New("interrupted while connecting")
)

// ProtocolError reports a non-zero acknowledgement byte from the server.
type ProtocolError struct {
	Server string
	Stage  string
	Code   byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("lpd server %s refused %s (ack 0x%02x)", e.Server, e.Stage, e.Code)
}

// Dialer establishes the transport connection. The concrete transport is
// chosen at construction time, never discovered at runtime.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client talks to one LPD queue on one server. All fields are fixed at
// construction; a Client is safe to discard after each operation.
type Client struct {
	host        string
	port        int
	queue       string
	user        string
	localHost   string
	jobNumber   string
	dialer      Dialer
	readTimeout time.Duration
}

type Option func(*Client)

// WithDialer replaces the transport used to reach the server.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithJobNumber overrides the fixed job number used in control and data
// file tags. Must be a three-digit decimal string per RFC 1179.
func WithJobNumber(n string) Option {
	return func(c *Client) { c.jobNumber = n }
}

// WithLocalHost overrides the client hostname written into the control file.
func WithLocalHost(h string) Option {
	return func(c *Client) { c.localHost = h }
}

// WithReadTimeout overrides the response read deadline for queue state and
// job removal requests.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// NewClient creates a client for the given queue. A zero port selects the
// RFC 1179 default.
func NewClient(host string, port int, queue, user string, opts ...Option) *Client {
	if port == 0 {
		port = DefaultPort
	}
	localHost, err := os.Hostname()
	if err != nil || localHost == "" {
		localHost = "localhost"
	}
	c := &Client{
		host:        host,
		port:        port,
		queue:       queue,
		user:        user,
		localHost:   localHost,
		jobNumber:   DefaultJobNumber,
		dialer:      &net.Dialer{},
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// connect dials the server, retrying transient failures a fixed number of
// times with a short pause. Context cancellation during the pause aborts
// the retry loop.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			case <-time.After(connectPause):
			}
		}
		conn, err := c.dialer.DialContext(ctx, "tcp", c.address())
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, c.address(), lastErr)
}

// QueueState asks the server for the state of the queue, short or long
// form, and returns the raw text reply. The server sends no ack byte for
// this command, only the report followed by connection close.
func (c *Client) QueueState(ctx context.Context, long bool) (string, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	cmd := byte(cmdQueueStateShort)
	if long {
		cmd = cmdQueueStateLong
	}
	if err := writeCommandLine(conn, cmd, c.queue); err != nil {
		return "", fmt.Errorf("lpd: send queue state request to %s: %w", c.address(), err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("lpd: read queue state from %s: %w", c.address(), err)
	}
	return string(reply), nil
}

// RemoveCurrentJob asks the server to remove this user's jobs from the
// queue. A non-zero acknowledgement is returned as a *ProtocolError.
func (c *Client) RemoveCurrentJob(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	if err := writeCommandLine(conn, cmdRemoveJobs, c.queue+" "+c.user); err != nil {
		return fmt.Errorf("lpd: send remove request to %s: %w", c.address(), err)
	}
	return c.readAck(conn, "job removal")
}

// Print submits one document to the queue. The handshake is strictly
// sequential: receive-job, control file announcement, control file bytes,
// data file announcement, data file bytes, each gated on a zero ack byte.
// Raw mode passes the document to the printer unfiltered.
func (c *Client) Print(ctx context.Context, docName string, data []byte, raw bool) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeCommandLine(conn, cmdReceiveJob, c.queue); err != nil {
		return fmt.Errorf("lpd: open job on %s: %w", c.address(), err)
	}
	if err := c.readAck(conn, "queue name"); err != nil {
		return err
	}

	control := buildControlFile(c.localHost, c.user, c.jobNumber, docName, raw)
	controlName := "cfA" + c.jobNumber + c.localHost
	if err := c.sendFile(conn, subReceiveControlFile, controlName, control, "control file"); err != nil {
		return err
	}

	dataName := "dfA" + c.jobNumber + c.localHost
	if err := c.sendFile(conn, subReceiveDataFile, dataName, data, "data file"); err != nil {
		return err
	}
	return nil
}

// sendFile performs one length-announced transfer: announcement line, ack,
// payload, 0x00 terminator, ack.
func (c *Client) sendFile(conn net.Conn, sub byte, name string, payload []byte, stage string) error {
	announce := strconv.Itoa(len(payload)) + " " + name
	if err := writeCommandLine(conn, sub, announce); err != nil {
		return fmt.Errorf("lpd: announce %s to %s: %w", stage, c.address(), err)
	}
	if err := c.readAck(conn, stage); err != nil {
		return err
	}

	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, 0x00)
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("lpd: send %s to %s: %w", stage, c.address(), err)
	}
	return c.readAck(conn, stage+" transfer")
}

func (c *Client) readAck(conn net.Conn, stage string) error {
	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return fmt.Errorf("lpd: read %s ack from %s: %w", stage, c.address(), err)
	}
	if ack[0] != 0 {
		return &ProtocolError{Server: c.address(), Stage: stage, Code: ack[0]}
	}
	return nil
}

// writeCommandLine writes <command byte><US-ASCII text>\n in one write.
func writeCommandLine(w io.Writer, cmd byte, text string) error {
	var buf bytes.Buffer
	buf.WriteByte(cmd)
	buf.WriteString(text)
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
