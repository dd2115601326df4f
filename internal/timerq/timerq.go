// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package timerq implements the timer priority queue consumed by the reactor:
// a min-heap ordered by deadline, ties broken by insertion order.
//
// A Queue is not safe for concurrent use.
package timerq

import (
	"container/heap"
	"time"
)

type (
	// ID identifies an inserted timer, for cancellation. IDs are never
	// reused within a Queue.
	ID uint64

	// Entry is a timer popped from the queue.
	Entry[F any] struct {
		Deadline time.Time
		Func     F
		Data     any
		ID       ID
	}

	// Queue is the timer priority queue, see the package docs.
	Queue[F any] struct {
		items   itemHeap[F]
		index   map[ID]*item[F]
		nextID  ID
		destroy bool
	}

	item[F any] struct {
		entry Entry[F]
		pos   int
	}

	itemHeap[F any] []*item[F]
)

// New returns an empty queue.
func New[F any]() *Queue[F] {
	return &Queue[F]{index: make(map[ID]*item[F])}
}

// Len returns the number of pending timers.
func (q *Queue[F]) Len() int { return len(q.items) }

// Insert adds a timer, returning its ID. Inserting into a destroyed queue is
// a no-op, returning the zero ID.
func (q *Queue[F]) Insert(deadline time.Time, fn F, data any) ID {
	if q.destroy {
		return 0
	}
	q.nextID++
	it := &item[F]{entry: Entry[F]{
		Deadline: deadline,
		Func:     fn,
		Data:     data,
		ID:       q.nextID,
	}}
	heap.Push(&q.items, it)
	q.index[it.entry.ID] = it
	return it.entry.ID
}

// Cancel removes a pending timer, returning false if it already fired, was
// already cancelled, or never existed.
func (q *Queue[F]) Cancel(id ID) bool {
	it, ok := q.index[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.pos)
	delete(q.index, id)
	return true
}

// PeekMin returns the duration from now until the earliest deadline, clamped
// at zero, and false if the queue is empty.
func (q *Queue[F]) PeekMin(now time.Time) (time.Duration, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	d := q.items[0].entry.Deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// PopDue removes and returns every timer with a deadline at or before now,
// in deadline order, ties in insertion order. The result is appended to dst,
// which may be nil.
func (q *Queue[F]) PopDue(now time.Time, dst []Entry[F]) []Entry[F] {
	for len(q.items) != 0 && !q.items[0].entry.Deadline.After(now) {
		it := heap.Pop(&q.items).(*item[F])
		delete(q.index, it.entry.ID)
		dst = append(dst, it.entry)
	}
	return dst
}

// Destroy drops every pending timer. Subsequent inserts are ignored.
func (q *Queue[F]) Destroy() {
	q.destroy = true
	q.items = nil
	q.index = nil
}

func (h itemHeap[F]) Len() int { return len(h) }

func (h itemHeap[F]) Less(i, j int) bool {
	a, b := &h[i].entry, &h[j].entry
	if a.Deadline.Equal(b.Deadline) {
		return a.ID < b.ID
	}
	return a.Deadline.Before(b.Deadline)
}

func (h itemHeap[F]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *itemHeap[F]) Push(x any) {
	it := x.(*item[F])
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap[F]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.pos = -1
	*h = old[:n-1]
	return it
}
