//go:build linux

package reactor

import (
	"bytes"
	"io"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var loopback = netip.MustParseAddrPort("127.0.0.1:0")

// recorder is a Handler that records every callback, optionally echoing
// received data back to the peer.
type recorder struct {
	opened  []Handle
	closed  []Handle
	causes  []error
	failed  []error
	data    map[Handle][]byte
	echo    bool
	onOpen  func(p *Pool, c *Connection)
	onData  func(p *Pool, c *Connection)
	onClose func(p *Pool, c *Connection, cause error)
}

func newRecorder() *recorder {
	return &recorder{data: make(map[Handle][]byte)}
}

func (r *recorder) OnOpen(p *Pool, c *Connection) {
	r.opened = append(r.opened, c.Handle())
	if r.onOpen != nil {
		r.onOpen(p, c)
	}
}

func (r *recorder) OnData(p *Pool, c *Connection) {
	b, _ := io.ReadAll(c.Recv())
	r.data[c.Handle()] = append(r.data[c.Handle()], b...)
	if r.echo {
		_, _ = p.Write(c.Handle(), b)
	}
	if r.onData != nil {
		r.onData(p, c)
	}
}

func (r *recorder) OnClose(p *Pool, c *Connection, cause error) {
	r.closed = append(r.closed, c.Handle())
	r.causes = append(r.causes, cause)
	if r.onClose != nil {
		r.onClose(p, c, cause)
	}
}

func (r *recorder) OnConnectFailed(_ *Pool, _ *Connecting, cause error) {
	r.failed = append(r.failed, cause)
}

func newTestPool(t *testing.T, capacity int, opts ...PoolOption) *Pool {
	t.Helper()
	p, err := New(capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// dispatchUntil dispatches until cond holds, failing the test if it
// doesn't within a few seconds.
func dispatchUntil(t *testing.T, p *Pool, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		require.NoError(t, p.Dispatch(10*time.Millisecond))
	}
}

func openListener(t *testing.T, p *Pool) *Listening {
	t.Helper()
	l, err := p.RegisterListen(loopback)
	require.NoError(t, err)
	require.NoError(t, p.OpenAll())
	require.True(t, l.Open())
	return l
}

func dial(t *testing.T, l *Listening) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", l.BoundAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newTestLogger(buf *bytes.Buffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(buf)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()
}

// requireSlotsConsistent asserts the descriptor of every slot is -1 exactly
// when that slot is on the free list.
func requireSlotsConsistent(t *testing.T, p *Pool) {
	t.Helper()
	require.NoError(t, p.conns.Check())
	s := p.Stats()
	for _, i := range s.FreeSlots {
		_, active := p.conns.Handle(i)
		assert.False(t, active, "free slot %d", i)
		assert.Equal(t, -1, p.conns.At(i).fd, "free slot %d", i)
	}
	for _, i := range s.ActiveSlots {
		h, active := p.conns.Handle(i)
		assert.True(t, active, "active slot %d", i)
		c := p.conns.At(i)
		assert.NotEqual(t, -1, c.fd, "active slot %d", i)
		assert.Equal(t, h, c.handle, "active slot %d", i)
	}
}

// exhaustDescriptors fills the process descriptor table, lowering the soft
// limit first so that it fills quickly. The returned func frees the
// descriptors and restores the limit, and is also registered for cleanup.
func exhaustDescriptors(t *testing.T) func() {
	t.Helper()

	var orig unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &orig))
	lim := orig
	if lim.Cur > 1024 {
		lim.Cur = 1024
	}
	require.NoError(t, unix.Setrlimit(unix.RLIMIT_NOFILE, &lim))

	var (
		f    *os.File
		fds  []int
		done bool
	)
	release := func() {
		if done {
			return
		}
		done = true
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
		if f != nil {
			_ = f.Close()
		}
		_ = unix.Setrlimit(unix.RLIMIT_NOFILE, &orig)
	}
	t.Cleanup(release)

	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	for {
		fd, err := unix.Dup(int(f.Fd()))
		if err != nil {
			require.ErrorIs(t, err, unix.EMFILE)
			break
		}
		fds = append(fds, fd)
	}
	return release
}
