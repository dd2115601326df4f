// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"net/netip"

	"github.com/joeycumines/go-reactor/buffer"
	"github.com/joeycumines/go-reactor/internal/arena"
)

type (
	// Handle identifies a connection slot, and the occupancy of that slot
	// it was issued for. Handles of released connections are stale, and
	// never match a later occupant of the same slot.
	Handle = arena.Handle

	// Owner tags the purpose of a connection. It is one of [*Listening],
	// [*Connecting], or [Payload].
	Owner interface {
		isOwner()
	}

	// Payload is the application-payload variant of [Owner], see
	// [Connection.SetPayload].
	Payload struct {
		Value any
	}

	// Connection is one slot of the pool's fixed-capacity connection table.
	//
	// Pointers to a Connection are only valid until the connection is torn
	// down, after which the slot may be reused. Hold a [Handle] instead, and
	// resolve it via [Pool.Conn].
	Connection struct {
		owner   Owner
		recv    *buffer.Buffer
		send    *buffer.Buffer
		onRead  ioHandler
		onWrite ioHandler
		readFn  buffer.IOFunc
		writeFn buffer.IOFunc
		peer    netip.AddrPort
		handle  Handle
		fd      int
		stream  bool
	}

	// ioHandler services a readiness notification for a connection.
	ioHandler func(p *Pool, c *Connection)
)

var (
	_ Owner = (*Listening)(nil)
	_ Owner = (*Connecting)(nil)
	_ Owner = Payload{}
)

func (Payload) isOwner() {}

// Handle returns the handle of the current occupancy of the slot.
func (c *Connection) Handle() Handle { return c.handle }

// FD returns the socket descriptor, or -1 if the slot is free.
func (c *Connection) FD() int { return c.fd }

// Owner returns the owner tag, which is nil only for a free slot.
func (c *Connection) Owner() Owner { return c.owner }

// Listening returns the listening entry that owns the connection, which is
// either the listening socket itself, or a peer it accepted.
func (c *Connection) Listening() (*Listening, bool) {
	v, ok := c.owner.(*Listening)
	return v, ok
}

// Connecting returns the outbound target that owns the connection.
func (c *Connection) Connecting() (*Connecting, bool) {
	v, ok := c.owner.(*Connecting)
	return v, ok
}

// Payload returns the application value set by [Connection.SetPayload].
func (c *Connection) Payload() (any, bool) {
	v, ok := c.owner.(Payload)
	return v.Value, ok
}

// SetPayload replaces the owner tag of an established stream with an
// application payload. This drops the link to the listening or connecting
// entry, and a [Connecting] target returns to [ConnectNone] immediately.
// It is a no-op for other connections.
func (c *Connection) SetPayload(v any) {
	if c.fd == -1 || !c.stream {
		return
	}
	if ci, ok := c.owner.(*Connecting); ok && ci.conn == c.handle {
		ci.status = ConnectNone
		ci.conn = Handle{}
	}
	c.owner = Payload{Value: v}
}

// Recv returns the receive buffer. Handlers consume it, e.g. via Read.
func (c *Connection) Recv() *buffer.Buffer { return c.recv }

// Send returns the send buffer. Prefer [Pool.Write], which also flushes.
func (c *Connection) Send() *buffer.Buffer { return c.send }

// RemoteAddr returns the peer address of a stream connection.
func (c *Connection) RemoteAddr() netip.AddrPort { return c.peer }

// Stream reports whether the connection is an established byte stream, as
// opposed to a listening socket or a pending outbound connect.
func (c *Connection) Stream() bool { return c.stream }

// alive reports whether c is still the occupancy h was issued for.
func (c *Connection) alive(h Handle) bool {
	return c.fd != -1 && c.handle == h
}

// ownerKind names the owner variant, for logging.
func ownerKind(o Owner) string {
	switch o.(type) {
	case *Listening:
		return "listening"
	case *Connecting:
		return "connecting"
	case Payload:
		return "payload"
	case nil:
		return "none"
	default:
		panic("reactor: unexpected owner type")
	}
}

// connHooks wires a slot's buffers and I/O closures once, at construction,
// and resets the slot whenever it is released.
func connHooks(cfg *poolOptions) arena.Hooks[Connection] {
	return arena.Hooks[Connection]{
		Init: func(_ int, c *Connection) {
			c.fd = -1
			c.recv = buffer.New(cfg.readChunk, cfg.maxBuffered)
			c.send = buffer.New(cfg.readChunk, cfg.maxBuffered)
			c.readFn = func(b []byte) (int, error) { return readFD(c.fd, b) }
			c.writeFn = func(b []byte) (int, error) { return writeFD(c.fd, b) }
		},
		Reset: func(c *Connection) {
			c.recv.ReleaseAll()
			c.send.ReleaseAll()
			c.owner = nil
			c.onRead = nil
			c.onWrite = nil
			c.peer = netip.AddrPort{}
			c.handle = Handle{}
			c.fd = -1
			c.stream = false
		},
	}
}
