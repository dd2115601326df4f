// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import "net/netip"

// ConnectStatus is the state of a [Connecting] target.
type ConnectStatus uint8

const (
	// ConnectNone indicates no attempt is in flight, and none is
	// established. This is the initial state.
	ConnectNone ConnectStatus = iota
	// ConnectPending indicates a non-blocking connect is in progress.
	ConnectPending
	// ConnectSuccess indicates the attempt succeeded, and the connection
	// is established.
	ConnectSuccess
)

func (s ConnectStatus) String() string {
	switch s {
	case ConnectNone:
		return "none"
	case ConnectPending:
		return "pending"
	case ConnectSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Connecting is a registered remote address, for outbound connections.
// At most one attempt (or established connection) exists per target.
type Connecting struct {
	addr    netip.AddrPort
	lastErr error
	conn    Handle
	status  ConnectStatus
}

func (*Connecting) isOwner() {}

// Addr returns the remote address.
func (ci *Connecting) Addr() netip.AddrPort { return ci.addr }

// Status returns the current state.
func (ci *Connecting) Status() ConnectStatus { return ci.status }

// Conn returns the handle of the pending or established connection, or the
// zero Handle in the [ConnectNone] state.
func (ci *Connecting) Conn() Handle { return ci.conn }

// Err returns the cause of the most recent failed attempt, if any.
func (ci *Connecting) Err() error { return ci.lastErr }

// RegisterConnect records a remote address to connect to. Registration is
// bookkeeping only, see [Pool.Attempt].
func (p *Pool) RegisterConnect(addr netip.AddrPort) (*Connecting, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	if !addr.IsValid() {
		return nil, ErrInvalidAddr
	}
	ci := &Connecting{addr: addr}
	p.connecting = append(p.connecting, ci)
	return ci, nil
}

// Connecting returns the registered connecting entries, in registration
// order.
func (p *Pool) Connecting() []*Connecting {
	return append([]*Connecting(nil), p.connecting...)
}

// Attempt starts a non-blocking connect to the target, which must be in
// the [ConnectNone] state. On success the target is [ConnectPending], and
// the outcome is resolved by a later [Pool.Dispatch]: [Handler.OnOpen] on
// success, otherwise [ConnectHandler.OnConnectFailed], after which the
// target is back to ConnectNone.
//
// A failed Attempt holds no resources, and leaves the target in
// ConnectNone.
func (p *Pool) Attempt(ci *Connecting) error {
	if p.closed {
		return ErrPoolClosed
	}
	if ci.status != ConnectNone {
		return ErrAlreadyInFlight
	}
	if next, ok := p.limiter.Allow(ci); !ok {
		p.logger.Warning().
			Str("addr", ci.addr.String()).
			Time("next", next).
			Log("reactor: connect attempt limited")
		return &LimitedError{Next: next}
	}

	if err := p.attempt(ci); err != nil {
		ci.lastErr = err
		p.logger.Debug().
			Str("addr", ci.addr.String()).
			Err(err).
			Log("reactor: connect attempt failed")
		return err
	}
	return nil
}

func (p *Pool) attempt(ci *Connecting) error {
	fd, err := newStreamSocket(socketFamily(ci.addr))
	if err != nil {
		return err
	}
	c, err := p.allocate(fd, ci)
	if err != nil {
		_ = closeFD(fd)
		return err
	}
	if _, err := connectSocket(fd, ci.addr); err != nil {
		p.release(c)
		_ = closeFD(fd)
		return err
	}
	if err := p.poller.add(fd, c.handle.Pack()); err != nil {
		p.release(c)
		_ = closeFD(fd)
		return err
	}
	// writability resolves the attempt, even if the connect completed
	// immediately
	c.onWrite = connectReady
	ci.status = ConnectPending
	ci.conn = c.handle
	ci.lastErr = nil

	p.logger.Debug().
		Int("fd", fd).
		Stringer("slot", c.handle).
		Str("addr", ci.addr.String()).
		Log("reactor: connect pending")

	return nil
}

// connectReady resolves a pending connect, once the socket is writable.
func connectReady(p *Pool, c *Connection) {
	ci, ok := c.owner.(*Connecting)
	if !ok {
		return
	}
	if err := socketError(c.fd); err != nil {
		ci.lastErr = err
		// teardown returns the target to ConnectNone
		p.teardown(c, err)
		p.callConnectFailed(ci, err)
		return
	}

	h := c.handle
	ci.status = ConnectSuccess
	c.peer = ci.addr
	c.onRead = streamRead
	c.onWrite = streamWrite
	c.stream = true
	p.counters.connected++

	p.logger.Debug().
		Int("fd", c.fd).
		Stringer("slot", h).
		Str("addr", ci.addr.String()).
		Log("reactor: connected")

	p.callOpen(c)

	// the edge that resolved the connect may also have signalled data, or
	// left room for data written while pending
	if c.alive(h) {
		streamWrite(p, c)
	}
	if c.alive(h) {
		streamRead(p, c)
	}
}
