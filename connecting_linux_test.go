//go:build linux

package reactor

import (
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// closedPort returns a loopback address nothing is listening on.
func closedPort(t *testing.T) netip.AddrPort {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	return addr
}

func TestConnectStatus_String(t *testing.T) {
	assert.Equal(t, "none", ConnectNone.String())
	assert.Equal(t, "pending", ConnectPending.String())
	assert.Equal(t, "success", ConnectSuccess.String())
	assert.Equal(t, "unknown", ConnectStatus(9).String())
}

func TestPool_attemptRefused(t *testing.T) {
	rec := newRecorder()
	p := newTestPool(t, 4, WithHandler(rec))
	ci, err := p.RegisterConnect(closedPort(t))
	require.NoError(t, err)
	free := p.Stats().Free

	// loopback may refuse synchronously, within connect(2)
	if err := p.Attempt(ci); err != nil {
		assert.ErrorIs(t, err, unix.ECONNREFUSED)
		assert.Empty(t, rec.failed)
	} else {
		assert.Equal(t, ConnectPending, ci.Status())
		assert.False(t, ci.Conn().IsZero())
		assert.ErrorIs(t, p.Attempt(ci), ErrAlreadyInFlight)

		dispatchUntil(t, p, func() bool { return ci.Status() == ConnectNone })
		require.Len(t, rec.failed, 1)
		assert.ErrorIs(t, rec.failed[0], unix.ECONNREFUSED)
	}

	assert.Equal(t, ConnectNone, ci.Status())
	assert.ErrorIs(t, ci.Err(), unix.ECONNREFUSED)
	assert.Empty(t, rec.opened)
	assert.Empty(t, rec.closed, "failed attempts never observe OnClose")
	assert.True(t, ci.Conn().IsZero())
	assert.Equal(t, free, p.Stats().Free, "the slot must be returned")
	requireSlotsConsistent(t, p)
}

func TestPool_attemptSuccessRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	rec := newRecorder()
	p := newTestPool(t, 4, WithHandler(rec))
	ci, err := p.RegisterConnect(netip.MustParseAddrPort(ln.Addr().String()))
	require.NoError(t, err)

	require.NoError(t, p.Attempt(ci))
	// buffered while pending, flushed once connected
	_, err = p.Write(ci.Conn(), []byte("hello"))
	require.NoError(t, err)

	dispatchUntil(t, p, func() bool { return ci.Status() == ConnectSuccess })
	require.Len(t, rec.opened, 1)
	h := rec.opened[0]
	assert.Equal(t, ci.Conn(), h)
	c, ok := p.Conn(h)
	require.True(t, ok)
	assert.True(t, c.Stream())
	assert.Equal(t, ci.Addr(), c.RemoteAddr())
	owner, ok := c.Connecting()
	require.True(t, ok)
	assert.Same(t, ci, owner)
	assert.Equal(t, uint64(1), p.Stats().Connected)

	var server net.Conn
	select {
	case server = <-accepted:
		require.NotNil(t, server)
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted")
	}
	defer server.Close()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
	got := make([]byte, 5)
	_, err = io.ReadFull(server, got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = server.Write([]byte("world"))
	require.NoError(t, err)
	dispatchUntil(t, p, func() bool { return string(rec.data[h]) == "world" })

	// the target returns to NONE once the connection closes
	require.NoError(t, server.Close())
	dispatchUntil(t, p, func() bool { return ci.Status() == ConnectNone })
	require.Len(t, rec.causes, 1)
	assert.ErrorIs(t, rec.causes[0], ErrPeerClosed)
	assert.True(t, ci.Conn().IsZero())
	requireSlotsConsistent(t, p)
}

func TestPool_attemptExhausted(t *testing.T) {
	// never accepts, but the kernel completes the handshake
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	p := newTestPool(t, 1)
	a, err := p.RegisterConnect(netip.MustParseAddrPort(ln.Addr().String()))
	require.NoError(t, err)
	b, err := p.RegisterConnect(closedPort(t))
	require.NoError(t, err)

	require.NoError(t, p.Attempt(a))
	assert.ErrorIs(t, p.Attempt(b), ErrExhausted)
	assert.Equal(t, ConnectNone, b.Status())
	assert.ErrorIs(t, b.Err(), ErrExhausted)
	assert.Equal(t, 0, p.Stats().Free)
}

func TestPool_attemptRateLimited(t *testing.T) {
	p := newTestPool(t, 4, WithConnectRateLimits(map[time.Duration]int{time.Hour: 1}))
	ci, err := p.RegisterConnect(closedPort(t))
	require.NoError(t, err)

	if err := p.Attempt(ci); err == nil {
		dispatchUntil(t, p, func() bool { return ci.Status() == ConnectNone })
	}

	err = p.Attempt(ci)
	var le *LimitedError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, ErrAttemptLimited)
	assert.True(t, le.Next.After(time.Now()))
	assert.Equal(t, ConnectNone, ci.Status())

	// limits are per target
	other, err := p.RegisterConnect(closedPort(t))
	require.NoError(t, err)
	assert.NotErrorIs(t, p.Attempt(other), ErrAttemptLimited)
}

func TestPool_writeNotStream(t *testing.T) {
	p := newTestPool(t, 4)
	l := openListener(t, p)
	_, err := p.Write(l.Conn(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotStream)
	_, err = p.Write(Handle{}, []byte("x"))
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestConnection_setPayloadDetachesTarget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	rec := newRecorder()
	var payload any
	rec.onOpen = func(_ *Pool, c *Connection) {
		c.SetPayload("mine")
		payload, _ = c.Payload()
	}
	p := newTestPool(t, 4, WithHandler(rec))
	ci, err := p.RegisterConnect(netip.MustParseAddrPort(ln.Addr().String()))
	require.NoError(t, err)
	require.NoError(t, p.Attempt(ci))

	dispatchUntil(t, p, func() bool { return len(rec.opened) == 1 })
	assert.Equal(t, "mine", payload)
	assert.Equal(t, ConnectNone, ci.Status(), "the target no longer tracks the connection")
	assert.True(t, ci.Conn().IsZero())

	dispatchUntil(t, p, func() bool { return len(rec.closed) == 1 })
	assert.Equal(t, ConnectNone, ci.Status())
}
