// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import "net/netip"

// Listening is a registered local address. Registration is bookkeeping
// only, the socket is created by [Pool.OpenAll].
//
// Accepted peers carry the listening entry as their [Owner].
type Listening struct {
	addr    netip.AddrPort
	bound   netip.AddrPort
	conn    Handle
	retry   TimerID // pending accept backoff, zero if none
	fd      int
	backlog int
}

func (*Listening) isOwner() {}

// Addr returns the registered address.
func (l *Listening) Addr() netip.AddrPort { return l.addr }

// BoundAddr returns the address the socket is bound to, which reflects the
// port chosen by the kernel when the registered port is zero. It is only
// valid while open.
func (l *Listening) BoundAddr() netip.AddrPort { return l.bound }

// FD returns the listening descriptor, or -1 if it is not open.
func (l *Listening) FD() int { return l.fd }

// Conn returns the handle of the listening socket's own slot, which is the
// zero Handle if it is not open.
func (l *Listening) Conn() Handle { return l.conn }

// Open reports whether the listening socket is open.
func (l *Listening) Open() bool { return l.fd != -1 }

// RegisterListen records a local address to listen on, with the pool's
// configured backlog.
func (p *Pool) RegisterListen(addr netip.AddrPort) (*Listening, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	if !addr.IsValid() {
		return nil, ErrInvalidAddr
	}
	l := &Listening{
		addr:    addr,
		fd:      -1,
		backlog: p.cfg.backlog,
	}
	p.listening = append(p.listening, l)
	return l, nil
}

// Listening returns the registered listening entries, in registration
// order.
func (p *Pool) Listening() []*Listening {
	return append([]*Listening(nil), p.listening...)
}

// OpenAll opens every registered entry that is not already open, in
// registration order, stopping at the first failure. A failing entry holds
// no resources, while entries opened before it stay open.
func (p *Pool) OpenAll() error {
	if p.closed {
		return ErrPoolClosed
	}
	for _, l := range p.listening {
		if l.fd != -1 {
			continue
		}
		if err := p.openListening(l); err != nil {
			p.logger.Err().
				Str("addr", l.addr.String()).
				Err(err).
				Log("reactor: listen failed")
			return err
		}
		p.logger.Info().
			Str("addr", l.bound.String()).
			Int("fd", l.fd).
			Stringer("slot", l.conn).
			Log("reactor: listening")
	}
	return nil
}

func (p *Pool) openListening(l *Listening) error {
	fd, bound, err := listenSocket(l.addr, l.backlog)
	if err != nil {
		return err
	}
	c, err := p.allocate(fd, l)
	if err != nil {
		_ = closeFD(fd)
		return err
	}
	if err := p.poller.add(fd, c.handle.Pack()); err != nil {
		p.release(c)
		_ = closeFD(fd)
		return err
	}
	c.onRead = acceptReady
	l.fd = fd
	l.bound = bound
	l.conn = c.handle
	return nil
}

// CloseAll closes every open listening socket. Accepted connections are
// unaffected, and the entries may be opened again.
func (p *Pool) CloseAll() {
	for _, l := range p.listening {
		if l.fd == -1 {
			continue
		}
		if c, ok := p.Conn(l.conn); ok {
			p.logger.Info().
				Str("addr", l.bound.String()).
				Int("fd", l.fd).
				Log("reactor: listener closed")
			p.teardown(c, nil)
		}
		l.bound = netip.AddrPort{}
	}
}

// acceptReady accepts pending peers, up to the accept batch cap, after
// which the listener is queued to be serviced again by the next dispatch.
func acceptReady(p *Pool, c *Connection) {
	l, ok := c.owner.(*Listening)
	if !ok {
		return
	}
	h := c.handle
	for range p.cfg.acceptBatch {
		fd, peer, err := acceptSocket(c.fd)
		if err != nil {
			switch classifyAcceptError(err) {
			case acceptDrained:
				return
			case acceptRetry:
				continue
			case acceptNoDescriptors:
				// the peers stay in the backlog, and no new edge is due
				p.logger.Warning().
					Str("addr", l.bound.String()).
					Err(err).
					Limit().
					Log("reactor: accept failed")
				p.backoffAccept(l, h)
				return
			default:
				p.logger.Err().
					Str("addr", l.bound.String()).
					Err(newSyscallError("accept4", err)).
					Limit().
					Log("reactor: accept failed")
				p.backoffAccept(l, h)
				return
			}
		}
		p.accepted(l, fd, peer)
		if !c.alive(h) {
			// closed by a hook
			return
		}
	}
	p.deferred.Add(h)
}

// backoffAccept services the listener again after the accept backoff,
// since an edge-triggered listener is not notified of peers already
// pending.
func (p *Pool) backoffAccept(l *Listening, h Handle) {
	if l.retry != 0 {
		return
	}
	l.retry = p.AddTimer(p.cfg.acceptBackoff, retryAccept, h)
}

func retryAccept(p *Pool, data any) {
	c, ok := p.Conn(data.(Handle))
	if !ok {
		return
	}
	l, ok := c.owner.(*Listening)
	if !ok {
		return
	}
	l.retry = 0
	acceptReady(p, c)
}

// accepted takes ownership of a peer descriptor, registering it before any
// handler is wired. If the pool is exhausted the peer is closed.
func (p *Pool) accepted(l *Listening, fd int, peer netip.AddrPort) {
	nc, err := p.allocate(fd, l)
	if err != nil {
		_ = closeFD(fd)
		p.counters.acceptRejected++
		p.logger.Warning().
			Str("addr", l.bound.String()).
			Str("peer", peer.String()).
			Err(err).
			Limit().
			Log("reactor: rejected peer")
		return
	}
	if err := p.poller.add(fd, nc.handle.Pack()); err != nil {
		p.release(nc)
		_ = closeFD(fd)
		p.logger.Err().
			Str("peer", peer.String()).
			Err(err).
			Limit().
			Log("reactor: register peer failed")
		return
	}
	nc.peer = peer
	nc.onRead = streamRead
	nc.onWrite = streamWrite
	nc.stream = true
	p.counters.accepted++

	p.logger.Debug().
		Int("fd", fd).
		Stringer("slot", nc.handle).
		Str("peer", peer.String()).
		Log("reactor: accepted")

	p.callOpen(nc)
}
