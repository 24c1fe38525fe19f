package mail

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMailTimesOutOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept the connection but never send the SMTP greeting.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	t.Setenv("SMTP_HOST", host)
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_SENDER", "no-reply@vendico.test")

	restore := sendTimeout
	sendTimeout = 200 * time.Millisecond
	defer func() { sendTimeout = restore }()

	start := time.Now()
	err = SendMail("user@vendico.test", "Order ready", "<p>ready</p>")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSendMailFailsFastWhenNothingListens(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	t.Setenv("SMTP_HOST", host)
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_SENDER", "no-reply@vendico.test")

	restore := sendTimeout
	sendTimeout = 200 * time.Millisecond
	defer func() { sendTimeout = restore }()

	assert.Error(t, SendMail("user@vendico.test", "Order ready", "<p>ready</p>"))
}
