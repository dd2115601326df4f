// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package buffer implements the byte-stream buffer used by the reactor for
// non-blocking socket I/O.
//
// A [Buffer] is a FIFO chain of fixed-size chunks. Chunk storage is borrowed
// from [mempool], and returned as soon as a chunk is fully consumed, or on
// [Buffer.ReleaseAll].
//
// [Buffer.Fill] and [Buffer.Flush] each perform exactly one read or write,
// via a caller-supplied function (typically wrapping a non-blocking
// descriptor), and classify the outcome:
//
//   - n > 0, nil: progress
//   - [ErrWouldBlock]: the descriptor is drained (or full), wait for readiness
//   - [ErrInterrupted]: transient, retry immediately
//   - [io.EOF] (Fill) or [ErrClosed]: the peer is gone
//   - anything else: fatal for the stream
//
// A Buffer is not safe for concurrent use.
//
// [mempool]: https://pkg.go.dev/github.com/lesismal/nbio/mempool
package buffer

import (
	"errors"
	"fmt"
	"io"

	"github.com/eapache/queue"
	"github.com/lesismal/nbio/mempool"
)

// DefaultChunkSize is used by [New] if chunkSize <= 0.
const DefaultChunkSize = 4096

var (
	// ErrWouldBlock indicates the underlying descriptor would block.
	ErrWouldBlock = errors.New("buffer: would block")

	// ErrInterrupted indicates a transient failure, that should be retried.
	ErrInterrupted = errors.New("buffer: interrupted")

	// ErrClosed indicates the peer closed or reset the stream.
	ErrClosed = errors.New("buffer: peer closed")

	// ErrOverflow indicates the buffer reached its configured maximum.
	ErrOverflow = errors.New("buffer: overflow")
)

type (
	// IOFunc performs a single read or write, e.g. wrapping unix.Read.
	IOFunc func(p []byte) (int, error)

	// Buffer is a chunked byte FIFO, see the package docs.
	Buffer struct {
		chunks    *queue.Queue // of *chunk, oldest first
		tail      *chunk       // last chunk in chunks, or nil
		size      int
		chunkSize int
		max       int
	}

	chunk struct {
		buf []byte
		r   int
		w   int
	}
)

// New returns an empty buffer. A maxBuffered <= 0 disables the size bound.
func New(chunkSize, maxBuffered int) *Buffer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Buffer{
		chunks:    queue.New(),
		chunkSize: chunkSize,
		max:       maxBuffered,
	}
}

// Len returns the number of buffered bytes.
func (x *Buffer) Len() int { return x.size }

// Chunks returns the number of chunks currently held.
func (x *Buffer) Chunks() int { return x.chunks.Length() }

// Fill performs a single read into the buffer, reading at most limit bytes
// (limit <= 0 means up to the free space of one chunk). See the package docs
// for the result classification. A read of zero bytes reports [io.EOF].
func (x *Buffer) Fill(read IOFunc, limit int) (int, error) {
	if x.max > 0 && x.size >= x.max {
		return 0, ErrOverflow
	}

	c := x.writable()
	p := c.buf[c.w:]
	if limit > 0 && limit < len(p) {
		p = p[:limit]
	}
	if x.max > 0 && x.max-x.size < len(p) {
		p = p[:x.max-x.size]
	}

	n, err := read(p)
	if n > 0 {
		c.w += n
		x.size += n
	}
	if err != nil {
		return max(n, 0), classify(err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Flush performs a single write of the oldest buffered bytes, consuming
// whatever was written. Flushing an empty buffer does nothing, returning
// (0, nil).
func (x *Buffer) Flush(write IOFunc) (int, error) {
	c := x.head()
	if c == nil {
		return 0, nil
	}

	n, err := write(c.buf[c.r:c.w])
	if n > 0 {
		x.consume(n)
	}
	if err != nil {
		return max(n, 0), classify(err)
	}
	return n, nil
}

// Write appends p, implementing io.Writer. If the configured maximum would be
// exceeded nothing is appended, and [ErrOverflow] is returned.
func (x *Buffer) Write(p []byte) (int, error) {
	if x.max > 0 && x.size+len(p) > x.max {
		return 0, fmt.Errorf("%w: %d + %d > %d", ErrOverflow, x.size, len(p), x.max)
	}
	n := len(p)
	for len(p) != 0 {
		c := x.writable()
		m := copy(c.buf[c.w:], p)
		c.w += m
		x.size += m
		p = p[m:]
	}
	return n, nil
}

// Read consumes up to len(p) bytes, implementing io.Reader. It returns
// [io.EOF] only if the buffer is empty.
func (x *Buffer) Read(p []byte) (int, error) {
	if x.size == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	var n int
	for n < len(p) {
		c := x.head()
		if c == nil {
			break
		}
		m := copy(p[n:], c.buf[c.r:c.w])
		if m == 0 {
			break
		}
		n += m
		x.consume(m)
	}
	return n, nil
}

// Discard drops up to n bytes from the front, returning the number dropped.
func (x *Buffer) Discard(n int) int {
	if n > x.size {
		n = x.size
	}
	x.consume(n)
	return n
}

// ReleaseAll drops all buffered bytes, returning every chunk to the pool.
func (x *Buffer) ReleaseAll() {
	for x.chunks.Length() != 0 {
		c := x.chunks.Remove().(*chunk)
		mempool.Free(c.buf)
		c.buf = nil
	}
	x.tail = nil
	x.size = 0
}

// consume advances the read position by n bytes, which must not exceed
// x.size, freeing drained chunks.
func (x *Buffer) consume(n int) {
	x.size -= n
	for n > 0 {
		c := x.head()
		m := min(n, c.w-c.r)
		c.r += m
		n -= m
		if c.r == c.w {
			x.dropHead()
		}
	}
	if x.size == 0 {
		// an empty tail may be left behind by a failed Fill
		for x.chunks.Length() != 0 {
			x.dropHead()
		}
	}
}

func (x *Buffer) head() *chunk {
	if x.chunks.Length() == 0 {
		return nil
	}
	return x.chunks.Peek().(*chunk)
}

func (x *Buffer) dropHead() {
	c := x.chunks.Remove().(*chunk)
	if c == x.tail {
		x.tail = nil
	}
	mempool.Free(c.buf)
	c.buf = nil
}

// writable returns the tail chunk, allocating a new one if it is full.
func (x *Buffer) writable() *chunk {
	if x.tail != nil && x.tail.w < len(x.tail.buf) {
		return x.tail
	}
	c := &chunk{buf: mempool.Malloc(x.chunkSize)}
	x.chunks.Add(c)
	x.tail = c
	return c
}
