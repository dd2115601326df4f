// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-reactor/internal/arena"
	"github.com/joeycumines/go-reactor/internal/timerq"
	"github.com/joeycumines/logiface"
)

// Pool is a fixed-capacity table of connections driven by a single
// readiness wait, see [Pool.Dispatch].
//
// A Pool is not safe for concurrent use, with the exception of
// [Pool.Wake]. Every callback runs on the goroutine calling Dispatch.
type Pool struct {
	logger     *logiface.Logger[logiface.Event]
	handler    Handler
	cfg        *poolOptions
	poller     *poller
	conns      *arena.Arena[Connection]
	timers     *timerq.Queue[TimerFunc]
	limiter    *catrate.Limiter
	deferred   *queue.Queue // of Handle, listeners to service without waiting
	armed      time.Time    // shared timer deadline, zero if disarmed
	listening  []*Listening
	connecting []*Connecting
	due        []timerq.Entry[TimerFunc]
	counters   counters
	wakeMu     sync.Mutex
	closed     bool
}

// New creates a pool with room for capacity connections. Listening
// sockets, pending connects, and established streams all occupy a slot.
//
// Resources are acquired in order (readiness set, shared timer, wake
// descriptor, connection table), and released in reverse should any step
// fail.
func New(capacity int, opts ...PoolOption) (*Pool, error) {
	if capacity <= 0 || capacity > arena.MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if !platformSupported {
		return nil, ErrUnsupportedPlatform
	}

	cfg, err := resolvePoolOptions(opts)
	if err != nil {
		return nil, err
	}

	limiter, err := newLimiter(cfg.connectRates)
	if err != nil {
		return nil, err
	}

	poller, err := newPoller(cfg.initialEvents, cfg.maxEvents)
	if err != nil {
		return nil, err
	}

	conns, err := arena.New(capacity, connHooks(cfg))
	if err != nil {
		_ = poller.close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidCapacity, err)
	}

	p := &Pool{
		logger:   cfg.logger,
		handler:  cfg.handler,
		cfg:      cfg,
		poller:   poller,
		conns:    conns,
		timers:   timerq.New[TimerFunc](),
		limiter:  limiter,
		deferred: queue.New(),
	}

	if err := p.rearm(); err != nil {
		_ = poller.close()
		return nil, err
	}

	p.logger.Debug().
		Int("capacity", capacity).
		Int("events", poller.capacity()).
		Log("reactor: pool created")

	return p, nil
}

// Close tears down every connection (reporting [ErrPoolClosed] to
// [Handler.OnClose] for established ones), drops pending timers, and
// releases the readiness set. Registered listening and connecting entries
// remain, but are closed. Subsequent calls return [ErrPoolClosed].
func (p *Pool) Close() error {
	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true

	var handles []Handle
	p.conns.Range(func(h Handle, _ *Connection) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		// hooks may close other connections
		if c, ok := p.conns.Get(h); ok {
			p.teardown(c, ErrPoolClosed)
		}
	}

	p.timers.Destroy()
	for p.deferred.Length() != 0 {
		p.deferred.Remove()
	}

	p.wakeMu.Lock()
	err := p.poller.close()
	p.wakeMu.Unlock()

	p.logger.Debug().
		Int("connections", len(handles)).
		Log("reactor: pool closed")

	return err
}

// Cap returns the capacity of the pool.
func (p *Pool) Cap() int { return p.conns.Cap() }

// Conn resolves a handle, returning false if it is stale.
func (p *Pool) Conn(h Handle) (*Connection, bool) {
	c, ok := p.conns.Get(h)
	if !ok || c.fd == -1 {
		return nil, false
	}
	return c, true
}

// CloseConn tears down a connection. Established connections observe
// [Handler.OnClose] with a nil cause.
func (p *Pool) CloseConn(h Handle) error {
	c, ok := p.Conn(h)
	if !ok {
		return ErrStaleHandle
	}
	p.teardown(c, nil)
	return nil
}

// allocate takes a free slot, for a descriptor that is not yet registered.
func (p *Pool) allocate(fd int, owner Owner) (*Connection, error) {
	h, c, err := p.conns.Allocate()
	if err != nil {
		return nil, ErrExhausted
	}
	c.handle = h
	c.fd = fd
	c.owner = owner
	return c, nil
}

// release returns a slot that was never registered, without touching its
// descriptor.
func (p *Pool) release(c *Connection) {
	c.fd = -1
	_ = p.conns.Release(c.handle)
}

// teardown removes c from the readiness set, reports the closure, closes
// the descriptor, clears any entry referencing it, and releases the slot.
// It is a no-op for an already released slot.
func (p *Pool) teardown(c *Connection, cause error) {
	h, fd := c.handle, c.fd
	if fd == -1 {
		return
	}
	// marks the slot as closing, for re-entrant calls from hooks
	c.fd = -1
	p.counters.teardowns++

	if err := p.poller.del(fd); err != nil {
		p.logger.Debug().
			Int("fd", fd).
			Stringer("slot", h).
			Err(err).
			Log("reactor: deregister failed")
	}

	if c.stream {
		p.callClose(c, cause)
	}

	switch o := c.owner.(type) {
	case *Listening:
		if o.conn == h {
			if o.retry != 0 {
				p.timers.Cancel(o.retry)
				o.retry = 0
			}
			o.fd = -1
			o.conn = Handle{}
		}
	case *Connecting:
		if o.conn == h {
			o.status = ConnectNone
			o.conn = Handle{}
		}
	}

	if err := closeFD(fd); err != nil {
		p.logger.Err().
			Int("fd", fd).
			Stringer("slot", h).
			Err(err).
			Log("reactor: close failed")
	}

	p.logger.Debug().
		Int("fd", fd).
		Stringer("slot", h).
		Str("owner", ownerKind(c.owner)).
		Err(cause).
		Log("reactor: connection closed")

	if err := p.conns.Release(h); err != nil {
		// unreachable unless the slot was released by a hook
		p.logger.Err().
			Stringer("slot", h).
			Err(err).
			Log("reactor: release failed")
	}
}
