// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"context"
	"time"

	"github.com/joeycumines/go-reactor/internal/arena"
)

// Dispatch performs one readiness wait, of at most timeout (negative
// meaning indefinitely, though the shared timer bounds it, see
// [WithDefaultTimerWait]), then services what became ready:
//
//  1. due timers, in deadline order
//  2. listeners left with pending peers by the previous dispatch
//  3. connection events, in the order the kernel reported them
//
// Events for slots released earlier in the same pass are skipped. The
// shared timer is re-armed for the earliest pending deadline before
// returning.
//
// Only a failed wait is returned as an error. Failures of individual
// connections tear that connection down instead.
func (p *Pool) Dispatch(timeout time.Duration) error {
	if p.closed {
		return ErrPoolClosed
	}
	if p.deferred.Length() != 0 {
		timeout = 0
	}

	n, err := p.poller.wait(timeout)
	if err != nil {
		p.logger.Err().
			Err(err).
			Log("reactor: readiness wait failed")
		return err
	}
	p.counters.dispatches++

	var timerFired bool
	for i := 0; i < n; i++ {
		switch tag, _ := p.poller.event(i); tag {
		case timerTag:
			timerFired = true
		case wakeTag:
			p.poller.drainWake()
		}
	}
	if timerFired {
		p.poller.drainTimer()
		p.armed = time.Time{}
	}
	p.runTimers()

	p.runDeferred()

	for i := 0; i < n; i++ {
		tag, events := p.poller.event(i)
		if tag == timerTag || tag == wakeTag {
			continue
		}
		p.dispatchConn(arena.Unpack(tag), events)
	}

	if n == p.poller.capacity() && p.poller.grow() {
		p.logger.Debug().
			Int("events", p.poller.capacity()).
			Log("reactor: event buffer grown")
	}

	if !p.closed {
		if err := p.rearm(); err != nil {
			p.logger.Err().
				Err(err).
				Log("reactor: shared timer re-arm failed")
		}
	}

	return nil
}

func (p *Pool) dispatchConn(h Handle, events IOEvents) {
	c, ok := p.Conn(h)
	if !ok {
		p.counters.staleEvents++
		return
	}
	events = events.normalize()
	if events&EventRead != 0 && c.onRead != nil {
		c.onRead(p, c)
		if !c.alive(h) {
			return
		}
	}
	if events&EventWrite != 0 && c.onWrite != nil {
		c.onWrite(p, c)
	}
}

// runDeferred services listeners that hit their accept batch cap. Only
// entries queued before this call are serviced, since they may queue
// themselves again.
func (p *Pool) runDeferred() {
	for k := p.deferred.Length(); k > 0; k-- {
		h := p.deferred.Remove().(Handle)
		c, ok := p.Conn(h)
		if !ok || c.onRead == nil {
			continue
		}
		c.onRead(p, c)
	}
}

func (p *Pool) runTimers() {
	if p.timers.Len() == 0 {
		return
	}
	p.due = p.timers.PopDue(time.Now(), p.due[:0])
	for i := range p.due {
		e := &p.due[i]
		p.callTimer(e.Func, e.Data)
		*e = timerEntry{}
		if p.closed {
			break
		}
	}
}

// rearm arms the shared timer for the earliest pending deadline, or the
// default wait if there are none.
func (p *Pool) rearm() error {
	now := time.Now()
	d, ok := p.timers.PeekMin(now)
	if !ok {
		if p.cfg.timerWait <= 0 {
			p.armed = time.Time{}
			return p.poller.disarm()
		}
		d = p.cfg.timerWait
	}
	p.armed = now.Add(d)
	return p.poller.arm(d)
}

// Wake interrupts a blocked or subsequent [Pool.Dispatch]. It is the only
// method safe to call from any goroutine.
func (p *Pool) Wake() error {
	p.wakeMu.Lock()
	defer p.wakeMu.Unlock()
	return p.poller.wake()
}

// Run calls [Pool.Dispatch] until ctx is done, or it fails. Cancelling ctx
// wakes a blocked wait. The returned error is ctx.Err(), or the dispatch
// error.
func (p *Pool) Run(ctx context.Context, timeout time.Duration) error {
	stop := context.AfterFunc(ctx, func() { _ = p.Wake() })
	defer stop()
	for ctx.Err() == nil {
		if err := p.Dispatch(timeout); err != nil {
			return err
		}
	}
	return ctx.Err()
}
