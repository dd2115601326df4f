// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !unix

package buffer

import (
	"errors"
	"fmt"
	"syscall"
)

func classify(err error) error {
	switch {
	case errors.Is(err, syscall.EAGAIN):
		return ErrWouldBlock
	case errors.Is(err, syscall.EINTR):
		return ErrInterrupted
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return err
	}
}
