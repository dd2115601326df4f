// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"
	"fmt"
	"io"

	"github.com/joeycumines/go-reactor/buffer"
)

// Write appends b to the send buffer of the connection, then flushes as
// much as the socket accepts. Data written to a pending outbound connect is
// flushed once it succeeds.
func (p *Pool) Write(h Handle, b []byte) (int, error) {
	c, ok := p.Conn(h)
	if !ok {
		return 0, ErrStaleHandle
	}
	if !c.stream {
		if ci, ok := c.owner.(*Connecting); !ok || ci.status != ConnectPending {
			return 0, ErrNotStream
		}
	}
	n, err := c.send.Write(b)
	if err != nil {
		return n, err
	}
	if c.stream {
		streamWrite(p, c)
	}
	return n, nil
}

// streamRead drains the socket into the receive buffer, until it would
// block, then reports whatever was read to [Handler.OnData]. Data read
// before the peer closed is reported before the teardown. A full receive
// buffer is reported early, and is fatal only if the handler leaves it full.
func streamRead(p *Pool, c *Connection) {
	h := c.handle
	var (
		total      int
		retries    int
		overflowed bool
		cause      error
	)
loop:
	for {
		n, err := c.recv.Fill(c.readFn, 0)
		total += n
		switch {
		case err == nil:
			retries = 0
			overflowed = false
		case errors.Is(err, buffer.ErrOverflow):
			if overflowed {
				cause = fmt.Errorf("%w: %w", ErrPeerError, err)
				break loop
			}
			overflowed = true
			total = 0
			p.callData(c)
			if !c.alive(h) {
				return
			}
		case errors.Is(err, buffer.ErrWouldBlock):
			break loop
		case errors.Is(err, buffer.ErrInterrupted):
			if n > 0 {
				retries = 0
			} else if retries++; retries > maxInterruptedRetries {
				cause = ErrRetryExhausted
				break loop
			}
		case errors.Is(err, io.EOF), errors.Is(err, buffer.ErrClosed):
			cause = ErrPeerClosed
			break loop
		default:
			cause = fmt.Errorf("%w: %w", ErrPeerError, err)
			break loop
		}
	}

	if total > 0 {
		p.callData(c)
		if !c.alive(h) {
			return
		}
	}
	if cause != nil {
		p.teardown(c, cause)
	}
}

// streamWrite flushes the send buffer until it is empty, or the socket
// would block.
func streamWrite(p *Pool, c *Connection) {
	var retries int
	for c.send.Len() != 0 {
		n, err := c.send.Flush(c.writeFn)
		switch {
		case err == nil:
			if n == 0 {
				// no progress, wait for the next edge
				return
			}
			retries = 0
		case errors.Is(err, buffer.ErrWouldBlock):
			return
		case errors.Is(err, buffer.ErrInterrupted):
			if n > 0 {
				retries = 0
			} else if retries++; retries > maxInterruptedRetries {
				p.teardown(c, ErrRetryExhausted)
				return
			}
		case errors.Is(err, buffer.ErrClosed):
			p.teardown(c, ErrPeerClosed)
			return
		default:
			p.teardown(c, fmt.Errorf("%w: %w", ErrPeerError, err))
			return
		}
	}
}
