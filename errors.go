// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"
	"fmt"
	"time"
)

// Standard errors.
var (
	// ErrExhausted is returned when the pool has no free connection slots.
	ErrExhausted = errors.New("reactor: connection pool exhausted")

	// ErrAlreadyInFlight is returned by [Pool.Attempt] if the target is not
	// in the [ConnectNone] state.
	ErrAlreadyInFlight = errors.New("reactor: connect already in flight")

	// ErrPoolClosed is returned by operations on a closed pool, and is the
	// cause reported to [Handler.OnClose] for connections closed by
	// [Pool.Close].
	ErrPoolClosed = errors.New("reactor: pool closed")

	// ErrInvalidCapacity is returned by [New] for a capacity <= 0.
	ErrInvalidCapacity = errors.New("reactor: invalid capacity")

	// ErrUnsupportedPlatform is returned by [New] on platforms without epoll.
	ErrUnsupportedPlatform = errors.New("reactor: unsupported platform")

	// ErrAttemptLimited is wrapped by [LimitedError].
	ErrAttemptLimited = errors.New("reactor: connect attempt rate limited")

	// ErrStaleHandle indicates a [Handle] that no longer refers to an active
	// connection.
	ErrStaleHandle = errors.New("reactor: stale connection handle")

	// ErrPeerClosed is the teardown cause when the peer closed or reset the
	// stream.
	ErrPeerClosed = errors.New("reactor: peer closed")

	// ErrPeerError wraps any other fatal stream failure, including the
	// receive buffer reaching its bound.
	ErrPeerError = errors.New("reactor: peer error")

	// ErrNotStream is returned by [Pool.Write] for a listening slot.
	ErrNotStream = errors.New("reactor: not a stream connection")

	// ErrRetryExhausted is the teardown cause when a descriptor kept
	// reporting interrupted syscalls without progress.
	ErrRetryExhausted = errors.New("reactor: too many interrupted syscalls")

	// ErrInvalidAddr is returned when registering an invalid address.
	ErrInvalidAddr = errors.New("reactor: invalid address")
)

// SyscallError records a failed system call and the errno it failed with.
type SyscallError struct {
	Err error
	Op  string
}

func (e *SyscallError) Error() string {
	return "reactor: " + e.Op + ": " + e.Err.Error()
}

// Unwrap exposes the errno, e.g. for errors.Is(err, unix.ECONNREFUSED).
func (e *SyscallError) Unwrap() error { return e.Err }

// LimitedError is returned by [Pool.Attempt] if the target's attempt rate
// limit (see [WithConnectRateLimits]) is exhausted.
type LimitedError struct {
	// Next is the earliest time another attempt may be allowed.
	Next time.Time
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAttemptLimited, e.Next.Format(time.RFC3339Nano))
}

func (e *LimitedError) Unwrap() error { return ErrAttemptLimited }

// PanicError wraps a value recovered from a panicking application callback.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("reactor: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newSyscallError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SyscallError{Op: op, Err: err}
}
