// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

type (
	// Handler receives connection lifecycle notifications. All methods are
	// called on the dispatching goroutine, and may call back into the pool.
	Handler interface {
		// OnOpen is called once a connection reaches steady state, either
		// accepted by a listening socket, or an outbound connect that
		// succeeded.
		OnOpen(p *Pool, c *Connection)

		// OnData is called after a read pass appended bytes to
		// [Connection.Recv]. Data left in the buffer is kept, and reported
		// again alongside the next read.
		OnData(p *Pool, c *Connection)

		// OnClose is called for an established connection, before its
		// descriptor is closed and its slot released. The connection is
		// already unreachable: FD returns -1 and [Pool.Conn] no longer
		// resolves its handle. The handle, owner, peer address, and any
		// unread data in Recv are still available.
		OnClose(p *Pool, c *Connection, cause error)
	}

	// ConnectHandler may be implemented by a [Handler] to observe failed
	// outbound attempts.
	ConnectHandler interface {
		OnConnectFailed(p *Pool, target *Connecting, cause error)
	}

	// HandlerFuncs implements [Handler] and [ConnectHandler] using optional
	// functions.
	HandlerFuncs struct {
		Open          func(p *Pool, c *Connection)
		Data          func(p *Pool, c *Connection)
		Close         func(p *Pool, c *Connection, cause error)
		ConnectFailed func(p *Pool, target *Connecting, cause error)
	}
)

var (
	_ Handler        = HandlerFuncs{}
	_ ConnectHandler = HandlerFuncs{}
)

func (x HandlerFuncs) OnOpen(p *Pool, c *Connection) {
	if x.Open != nil {
		x.Open(p, c)
	}
}

func (x HandlerFuncs) OnData(p *Pool, c *Connection) {
	if x.Data != nil {
		x.Data(p, c)
	}
}

func (x HandlerFuncs) OnClose(p *Pool, c *Connection, cause error) {
	if x.Close != nil {
		x.Close(p, c, cause)
	}
}

func (x HandlerFuncs) OnConnectFailed(p *Pool, target *Connecting, cause error) {
	if x.ConnectFailed != nil {
		x.ConnectFailed(p, target, cause)
	}
}

// callOpen and callData tear the connection down if the hook panics.
func (p *Pool) callOpen(c *Connection) {
	if p.handler == nil {
		return
	}
	defer p.recoverHook(c, c.handle, "open")
	p.handler.OnOpen(p, c)
}

func (p *Pool) callData(c *Connection) {
	if p.handler == nil {
		return
	}
	defer p.recoverHook(c, c.handle, "data")
	p.handler.OnData(p, c)
}

func (p *Pool) callClose(c *Connection, cause error) {
	if p.handler == nil {
		return
	}
	defer p.recoverHook(nil, Handle{}, "close")
	p.handler.OnClose(p, c, cause)
}

func (p *Pool) callConnectFailed(target *Connecting, cause error) {
	h, ok := p.handler.(ConnectHandler)
	if !ok {
		return
	}
	defer p.recoverHook(nil, Handle{}, "connect_failed")
	h.OnConnectFailed(p, target, cause)
}

func (p *Pool) callTimer(fn TimerFunc, data any) {
	defer p.recoverHook(nil, Handle{}, "timer")
	fn(p, data)
}

// recoverHook must be deferred directly. If c is non-nil and still the
// occupancy h, it is torn down, with the panic as the cause.
func (p *Pool) recoverHook(c *Connection, h Handle, hook string) {
	r := recover()
	if r == nil {
		return
	}
	err := PanicError{Value: r}
	p.logger.Err().
		Str("hook", hook).
		Err(err).
		Log("reactor: recovered callback panic")
	if c != nil && c.alive(h) {
		p.teardown(c, err)
	}
}
