package lpd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer speaks just enough RFC 1179 to exercise the client: it records
// every byte received and answers each gated step with the next scripted
// ack byte.
type mockServer struct {
	ln         net.Listener
	acks       []byte
	stateReply string

	received bytes.Buffer
	done     chan struct{}
}

func newMockServer(t *testing.T, acks []byte, stateReply string) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &mockServer{ln: ln, acks: acks, stateReply: stateReply, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *mockServer) addr() (string, int) {
	tcp := s.ln.Addr().(*net.TCPAddr)
	return tcp.IP.String(), tcp.Port
}

func (s *mockServer) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("mock lpd server did not finish")
	}
}

func (s *mockServer) serve() {
	defer close(s.done)

	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(io.TeeReader(conn, &s.received))
	nextAck := func() bool {
		if len(s.acks) == 0 {
			return false
		}
		ack := s.acks[0]
		s.acks = s.acks[1:]
		conn.Write([]byte{ack})
		return ack == 0
	}

	cmd, err := r.ReadByte()
	if err != nil {
		return
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return
	}

	switch cmd {
	case cmdQueueStateShort, cmdQueueStateLong:
		conn.Write([]byte(s.stateReply))
	case cmdRemoveJobs:
		nextAck()
	case cmdReceiveJob:
		if !nextAck() {
			return
		}
		// Control file then data file, each announced, acked, transferred
		// with a trailing NUL and acked again.
		for i := 0; i < 2; i++ {
			_, err := r.ReadByte()
			if err != nil {
				return
			}
			line, err = r.ReadString('\n')
			if err != nil {
				return
			}
			if !nextAck() {
				return
			}
			size, err := strconv.Atoi(strings.Fields(strings.TrimSuffix(line, "\n"))[0])
			if err != nil {
				return
			}
			if _, err := io.ReadFull(r, make([]byte, size+1)); err != nil {
				return
			}
			if !nextAck() {
				return
			}
		}
	}
}

func testClient(s *mockServer, opts ...Option) *Client {
	host, port := s.addr()
	opts = append([]Option{WithLocalHost("testhost")}, opts...)
	return NewClient(host, port, "officeq", "fletcher", opts...)
}

func TestPrintWireSequence(t *testing.T) {
	s := newMockServer(t, []byte{0, 0, 0, 0, 0}, "")
	c := testClient(s)

	err := c.Print(context.Background(), "job.txt", []byte("hello"), false)
	require.NoError(t, err)
	s.wait(t)

	control := "Htesthost\nPfletcher\npdfA001testhost\nUdfA001testhost\nNjob.txt\n"
	var want bytes.Buffer
	want.WriteString("\x02officeq\n")
	want.WriteString("\x02" + strconv.Itoa(len(control)) + " cfA001testhost\n")
	want.WriteString(control)
	want.WriteByte(0)
	want.WriteString("\x03" + "5 dfA001testhost\n")
	want.WriteString("hello")
	want.WriteByte(0)
	assert.Equal(t, want.Bytes(), s.received.Bytes())
}

func TestPrintControlFileLineOrder(t *testing.T) {
	s := newMockServer(t, []byte{0, 0, 0, 0, 0}, "")
	c := testClient(s)

	require.NoError(t, c.Print(context.Background(), "job.txt", []byte("hello"), false))
	s.wait(t)

	payload := s.received.String()
	start := strings.Index(payload, "Htesthost")
	require.GreaterOrEqual(t, start, 0)
	lines := strings.Split(payload[start:], "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Equal(t, "Htesthost", lines[0])
	assert.Equal(t, "Pfletcher", lines[1])
	assert.Equal(t, "pdfA001testhost", lines[2])
	assert.Equal(t, "UdfA001testhost", lines[3])
	assert.Equal(t, "Njob.txt", lines[4])
}

func TestPrintRawModeDirective(t *testing.T) {
	s := newMockServer(t, []byte{0, 0, 0, 0, 0}, "")
	c := testClient(s)

	require.NoError(t, c.Print(context.Background(), "dump.bin", []byte{0xff, 0x00, 0x07}, true))
	s.wait(t)
	assert.Contains(t, s.received.String(), "\nodfA001testhost\n")
	assert.NotContains(t, s.received.String(), "\npdfA001testhost\n")
}

func TestPrintQueueRefusedBeforeControlFile(t *testing.T) {
	s := newMockServer(t, []byte{1}, "")
	c := testClient(s)

	err := c.Print(context.Background(), "job.txt", []byte("hello"), false)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "queue name", perr.Stage)
	assert.Equal(t, byte(1), perr.Code)

	s.wait(t)
	assert.Equal(t, "\x02officeq\n", s.received.String())
}

func TestPrintControlRefusedStopsDataFile(t *testing.T) {
	s := newMockServer(t, []byte{0, 2}, "")
	c := testClient(s)

	err := c.Print(context.Background(), "job.txt", []byte("hello"), false)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "control file", perr.Stage)

	s.wait(t)
	assert.NotContains(t, s.received.String(), "dfA")
	assert.NotContains(t, s.received.String(), "hello")
}

func TestRemoveCurrentJob(t *testing.T) {
	s := newMockServer(t, []byte{0}, "")
	c := testClient(s)

	require.NoError(t, c.RemoveCurrentJob(context.Background()))
	s.wait(t)
	assert.Equal(t, "\x05officeq fletcher\n", s.received.String())
}

func TestRemoveCurrentJobRefused(t *testing.T) {
	s := newMockServer(t, []byte{0xff}, "")
	c := testClient(s)

	err := c.RemoveCurrentJob(context.Background())
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "job removal", perr.Stage)
	assert.Equal(t, byte(0xff), perr.Code)
}

func TestQueueState(t *testing.T) {
	reply := "officeq is ready\nno entries\n"
	s := newMockServer(t, nil, reply)
	c := testClient(s)

	out, err := c.QueueState(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, reply, out)

	s.wait(t)
	assert.Equal(t, "\x03officeq\n", s.received.String())
}

func TestQueueStateLongForm(t *testing.T) {
	s := newMockServer(t, nil, "long report\n")
	c := testClient(s)

	out, err := c.QueueState(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "long report\n", out)

	s.wait(t)
	assert.Equal(t, "\x04officeq\n", s.received.String())
}

type failingDialer struct {
	attempts int
}

func (d *failingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.attempts++
	return nil, errors.New("no route")
}

func TestConnectRetriesThenFails(t *testing.T) {
	d := &failingDialer{}
	c := NewClient("192.0.2.1", 515, "q", "u", WithDialer(d))

	err := c.RemoveCurrentJob(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, connectAttempts, d.attempts)
}

func TestConnectAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &failingDialer{}
	c := NewClient("192.0.2.1", 515, "q", "u", WithDialer(d))

	_, err := c.QueueState(ctx, false)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 1, d.attempts)
}

func TestWithJobNumber(t *testing.T) {
	s := newMockServer(t, []byte{0, 0, 0, 0, 0}, "")
	c := testClient(s, WithJobNumber("042"))

	require.NoError(t, c.Print(context.Background(), "job.txt", []byte("x"), false))
	s.wait(t)
	assert.Contains(t, s.received.String(), "cfA042testhost")
	assert.Contains(t, s.received.String(), "dfA042testhost")
	assert.NotContains(t, s.received.String(), "001")
}
