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
)

func TestPool_listenAcceptsOnEveryEntry(t *testing.T) {
	const n = 3
	rec := newRecorder()
	p := newTestPool(t, 16, WithHandler(rec))

	var entries []*Listening
	for range n {
		l, err := p.RegisterListen(loopback)
		require.NoError(t, err)
		assert.False(t, l.Open(), "registration is bookkeeping only")
		entries = append(entries, l)
	}
	assert.Equal(t, 0, p.Stats().Active)

	require.NoError(t, p.OpenAll())
	assert.Equal(t, n, p.Stats().Active)

	for _, l := range entries {
		require.True(t, l.Open())
		require.NotZero(t, l.BoundAddr().Port())
		dial(t, l)
	}
	dispatchUntil(t, p, func() bool { return len(rec.opened) == n })

	owners := make(map[*Listening]int)
	for _, h := range rec.opened {
		c, ok := p.Conn(h)
		require.True(t, ok)
		assert.True(t, c.Stream())
		l, ok := c.Listening()
		require.True(t, ok)
		assert.NotEqual(t, l.Conn(), h, "accepted peers are not the listener's slot")
		owners[l]++
	}
	for _, l := range entries {
		assert.Equal(t, 1, owners[l])
	}
	assert.Equal(t, uint64(n), p.Stats().Accepted)
	requireSlotsConsistent(t, p)
}

func TestPool_openAllBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	p := newTestPool(t, 4)
	ok, err := p.RegisterListen(loopback)
	require.NoError(t, err)
	bad, err := p.RegisterListen(netip.MustParseAddrPort(taken.Addr().String()))
	require.NoError(t, err)

	var se *SyscallError
	require.ErrorAs(t, p.OpenAll(), &se)
	assert.Equal(t, "bind", se.Op)

	assert.True(t, ok.Open(), "earlier entries stay open")
	assert.False(t, bad.Open())
	assert.Equal(t, 1, p.Stats().Active, "the failed entry holds no slot")
}

func TestPool_openAllExhausted(t *testing.T) {
	p := newTestPool(t, 1)
	for range 2 {
		_, err := p.RegisterListen(loopback)
		require.NoError(t, err)
	}
	assert.ErrorIs(t, p.OpenAll(), ErrExhausted)
	assert.Equal(t, 0, p.Stats().Free)
}

func TestPool_registerInvalidAddr(t *testing.T) {
	p := newTestPool(t, 1)
	_, err := p.RegisterListen(netip.AddrPort{})
	assert.ErrorIs(t, err, ErrInvalidAddr)
	_, err = p.RegisterConnect(netip.AddrPort{})
	assert.ErrorIs(t, err, ErrInvalidAddr)
}

func TestPool_closeAllReopen(t *testing.T) {
	rec := newRecorder()
	p := newTestPool(t, 8, WithHandler(rec))
	l := openListener(t, p)
	dial(t, l)
	dispatchUntil(t, p, func() bool { return len(rec.opened) == 1 })

	p.CloseAll()
	assert.False(t, l.Open())
	assert.Equal(t, -1, l.FD())
	assert.True(t, l.Conn().IsZero())
	_, ok := p.Conn(rec.opened[0])
	assert.True(t, ok, "accepted connections survive CloseAll")
	assert.Empty(t, rec.closed)
	requireSlotsConsistent(t, p)

	require.NoError(t, p.OpenAll())
	assert.True(t, l.Open())
	dial(t, l)
	dispatchUntil(t, p, func() bool { return len(rec.opened) == 2 })
}

func TestPool_acceptBackPressure(t *testing.T) {
	rec := newRecorder()
	// the listener plus one peer
	p := newTestPool(t, 2, WithHandler(rec))
	l := openListener(t, p)

	first := dial(t, l)
	dispatchUntil(t, p, func() bool { return len(rec.opened) == 1 })

	second := dial(t, l)
	dispatchUntil(t, p, func() bool { return p.Stats().AcceptRejected == 1 })

	// the rejected peer is closed, the accepted one is untouched
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := second.Read(make([]byte, 1))
	assert.Error(t, err)

	_, err = first.Write([]byte("still here"))
	require.NoError(t, err)
	dispatchUntil(t, p, func() bool { return len(rec.data[rec.opened[0]]) == 10 })
	assert.Len(t, rec.opened, 1)
}

func TestPool_acceptBatchDefersRemaining(t *testing.T) {
	const n = 5
	rec := newRecorder()
	p := newTestPool(t, 16, WithHandler(rec), WithAcceptBatch(2))
	l := openListener(t, p)

	for range n {
		dial(t, l)
	}
	// give the kernel time to complete every handshake, so a single
	// readiness edge covers all of them
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, p.Dispatch(time.Second))
	assert.Len(t, rec.opened, 2)
	assert.Equal(t, 1, p.deferred.Length())

	// serviced without a new edge
	require.NoError(t, p.Dispatch(-1))
	assert.Len(t, rec.opened, 4)
	require.NoError(t, p.Dispatch(-1))
	assert.Len(t, rec.opened, n)
}

func TestPool_acceptResumesAfterDescriptorExhaustion(t *testing.T) {
	const n = 2
	rec := newRecorder()
	p := newTestPool(t, 8, WithHandler(rec), WithAcceptBackoff(20*time.Millisecond))
	l := openListener(t, p)

	for range n {
		dial(t, l)
	}
	time.Sleep(50 * time.Millisecond)

	release := exhaustDescriptors(t)
	require.NoError(t, p.Dispatch(time.Second))
	assert.Empty(t, rec.opened, "accept cannot succeed without descriptors")
	assert.NotZero(t, l.retry)
	assert.Equal(t, 1, p.Stats().Timers)
	release()

	// no new peer connects, so there is no new edge on the listener
	dispatchUntil(t, p, func() bool { return len(rec.opened) == n })
	assert.Zero(t, l.retry)
	requireSlotsConsistent(t, p)
}

func TestPool_closeAllCancelsAcceptBackoff(t *testing.T) {
	rec := newRecorder()
	p := newTestPool(t, 8, WithHandler(rec), WithAcceptBackoff(time.Hour))
	l := openListener(t, p)
	dial(t, l)
	time.Sleep(50 * time.Millisecond)

	release := exhaustDescriptors(t)
	require.NoError(t, p.Dispatch(time.Second))
	release()
	require.NotZero(t, l.retry)

	p.CloseAll()
	assert.Zero(t, l.retry)
	assert.Equal(t, 0, p.Stats().Timers)
	requireSlotsConsistent(t, p)
}

func TestPool_echo(t *testing.T) {
	rec := newRecorder()
	rec.echo = true
	p := newTestPool(t, 4, WithHandler(rec), WithReadChunk(16))
	l := openListener(t, p)
	conn := dial(t, l)

	msg := make([]byte, 1000)
	for i := range msg {
		msg[i] = byte(i)
	}
	_, err := conn.Write(msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	done := make(chan error, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err := io.ReadFull(conn, got)
		done <- err
	}()
	var readErr error
	dispatchUntil(t, p, func() bool {
		select {
		case readErr = <-done:
			return true
		default:
			return false
		}
	})
	require.NoError(t, readErr)
	assert.Equal(t, msg, got)
}

func TestPool_peerCloseDeliversDataThenCloses(t *testing.T) {
	rec := newRecorder()
	p := newTestPool(t, 4, WithHandler(rec))
	l := openListener(t, p)
	conn := dial(t, l)
	dispatchUntil(t, p, func() bool { return len(rec.opened) == 1 })

	_, err := conn.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	dispatchUntil(t, p, func() bool { return len(rec.closed) == 1 })
	assert.Equal(t, "bye", string(rec.data[rec.opened[0]]))
	assert.ErrorIs(t, rec.causes[0], ErrPeerClosed)
	assert.Equal(t, 1, p.Stats().Active)
	requireSlotsConsistent(t, p)
}

func TestPool_receiveOverflow(t *testing.T) {
	rec := newRecorder()
	var seen int
	p := newTestPool(t, 4, WithMaxBuffered(8), WithReadChunk(4), WithHandler(HandlerFuncs{
		Open: rec.OnOpen,
		// never consumes
		Data:  func(_ *Pool, c *Connection) { seen = c.Recv().Len() },
		Close: rec.OnClose,
	}))
	l := openListener(t, p)
	conn := dial(t, l)
	dispatchUntil(t, p, func() bool { return len(rec.opened) == 1 })

	_, err := conn.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	dispatchUntil(t, p, func() bool { return len(rec.closed) == 1 })

	assert.Equal(t, 8, seen)
	assert.ErrorIs(t, rec.causes[0], ErrPeerError)
}
