// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"time"

	"github.com/joeycumines/go-reactor/internal/timerq"
)

type (
	// TimerID identifies a timer, see [Pool.CancelTimer]. The zero value
	// is never issued.
	TimerID = timerq.ID

	// TimerFunc is called once a timer is due, with the data it was added
	// with.
	TimerFunc func(p *Pool, data any)

	timerEntry = timerq.Entry[TimerFunc]
)

// AddTimer schedules fn to be called by the first [Pool.Dispatch] at least
// d from now. Timers with equal deadlines fire in the order they were
// added. A nil fn, or a closed pool, returns the zero TimerID.
func (p *Pool) AddTimer(d time.Duration, fn TimerFunc, data any) TimerID {
	if p.closed || fn == nil {
		return 0
	}
	deadline := time.Now().Add(max(d, 0))
	id := p.timers.Insert(deadline, fn, data)
	if p.armed.IsZero() || deadline.Before(p.armed) {
		if err := p.rearm(); err != nil {
			p.logger.Err().
				Err(err).
				Log("reactor: shared timer re-arm failed")
		}
	}
	return id
}

// CancelTimer removes a pending timer, returning false if it already
// fired, or was never added. The shared timer is left armed, and is
// corrected on the next dispatch.
func (p *Pool) CancelTimer(id TimerID) bool {
	return p.timers.Cancel(id)
}
