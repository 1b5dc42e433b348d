package netcat

import (
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture accepts one connection and records everything it receives.
func capture(t *testing.T) (host string, port int, got *bytes.Buffer, done chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got = &bytes.Buffer{}
	done = make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(got, conn)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, got, done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("test server did not finish")
	}
}

func TestSendLiteralText(t *testing.T) {
	host, port, got, done := capture(t)

	tool := New()
	payload, err := tool.Payload(`a\nb`, true)
	require.NoError(t, err)
	require.NoError(t, tool.Send(host, port, payload))

	waitDone(t, done)
	assert.Equal(t, []byte{'a', 0x0a, 'b'}, got.Bytes())
}

func TestSendFromInput(t *testing.T) {
	host, port, got, done := capture(t)

	tool := New()
	tool.In = strings.NewReader("piped body")
	payload, err := tool.Payload("", false)
	require.NoError(t, err)
	require.NoError(t, tool.Send(host, port, payload))

	waitDone(t, done)
	assert.Equal(t, "piped body", got.String())
}

func TestEchoPrintsGreetingAndResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var serverGot bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("220 ready\r\n"))
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		serverGot.Write(buf[:n])
		conn.Write([]byte("250 ok\r\n"))
	}()

	var out bytes.Buffer
	tool := New()
	tool.Out = &out

	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, tool.Echo(addr.IP.String(), addr.Port, []byte("HELO\r\n")))

	waitDone(t, done)
	assert.Equal(t, "HELO\r\n", serverGot.String())
	assert.Equal(t, "220 ready\r\n250 ok\r\n", out.String())
}

func TestServeCopiesConnectionsInSequence(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var out bytes.Buffer
	tool := New()
	tool.Out = &out

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tool.Serve(ln)
	}()

	for _, msg := range []string{"first|", "second|"} {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write([]byte(msg))
		require.NoError(t, err)
		conn.Close()
		// The listener handles one connection at a time; give it a
		// moment to finish copying before the next connect.
		time.Sleep(50 * time.Millisecond)
	}

	ln.Close()
	wg.Wait()
	assert.Equal(t, "first|second|", out.String())
}

func TestDialFailure(t *testing.T) {
	tool := New()
	tool.DialTimeout = 500 * time.Millisecond

	err := tool.Send("127.0.0.1", 1, []byte("x"))
	assert.Error(t, err)
}
