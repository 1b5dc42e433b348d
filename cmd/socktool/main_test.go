package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePort(t *testing.T) {
	port, err := parsePort("515")
	require.NoError(t, err)
	assert.Equal(t, 515, port)

	for _, bad := range []string{"", "abc", "0", "-1", "70000", "515x"} {
		_, err := parsePort(bad)
		assert.Error(t, err, "port %q", bad)
	}
}

func TestRunClientPositionalArguments(t *testing.T) {
	var gotHost string
	var gotPort int
	var gotPayload []byte
	op := func(host string, port int, payload []byte) error {
		gotHost, gotPort, gotPayload = host, port, payload
		return nil
	}

	err := runClient([]string{"printhost", "9100", `hello\n`}, "send", op)
	require.NoError(t, err)
	assert.Equal(t, "printhost", gotHost)
	assert.Equal(t, 9100, gotPort)
	assert.Equal(t, []byte("hello\n"), gotPayload)
}

func TestRunClientArgumentErrors(t *testing.T) {
	op := func(string, int, []byte) error { return nil }

	assert.Error(t, runClient([]string{"onlyhost"}, "send", op))
	assert.Error(t, runClient([]string{"h", "notaport"}, "send", op))
	assert.Error(t, runClient([]string{"h", "9100", "text", "extra"}, "echo", op))
}

func TestRunListenRejectsBadArguments(t *testing.T) {
	assert.Error(t, runListen(nil))
	assert.Error(t, runListen([]string{"515", "extra"}))
	assert.Error(t, runListen([]string{"nope"}))
}
