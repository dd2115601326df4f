// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package arena implements a fixed-capacity slot table, with O(1) allocate
// and release, tracked by two explicit index lists (free and active).
//
// Slots are addressed by [Handle], an index paired with a generation counter.
// The generation is bumped every time a slot is released, so a handle held
// past the lifetime of its slot is detected, rather than silently aliasing
// whatever the slot was reused for.
//
// An Arena is not safe for concurrent use.
package arena

import (
	"errors"
	"fmt"
	"math"
)

const nilIndex int32 = -1

// MaxCapacity is the largest supported capacity. Indexes must fit in an
// int32, with room left over for sentinel values chosen by callers.
const MaxCapacity = math.MaxInt32 - 16

var (
	// ErrExhausted is returned by [Arena.Allocate] if there are no free slots.
	ErrExhausted = errors.New("arena: exhausted")

	// ErrStaleHandle is returned by [Arena.Release] if the handle does not
	// refer to a currently active slot.
	ErrStaleHandle = errors.New("arena: stale handle")

	// ErrInvalidCapacity is returned by [New] for capacity outside of
	// (0, MaxCapacity].
	ErrInvalidCapacity = errors.New("arena: invalid capacity")
)

type (
	// Handle identifies an allocated slot. The zero value never refers to a
	// valid slot, as generations start at 1.
	Handle struct {
		index uint32
		gen   uint32
	}

	// Hooks customize slot initialization and reset. Both are optional.
	Hooks[T any] struct {
		// Init is called once per slot, during New.
		Init func(index int, v *T)
		// Reset is called by Release, before the slot re-enters the free
		// list.
		Reset func(v *T)
	}

	// Arena is the fixed-capacity slot table, see the package docs.
	Arena[T any] struct {
		reset      func(v *T)
		slots      []slot[T]
		freeHead   int32
		activeHead int32
		freeLen    int
		activeLen  int
	}

	// Snapshot is a diagnostic copy of the list structure, as indexes.
	Snapshot struct {
		Free   []int
		Active []int
	}

	slot[T any] struct {
		value  T
		prev   int32
		next   int32
		gen    uint32
		active bool
	}
)

// New allocates an arena with the given capacity. All slots start on the free
// list, in ascending index order.
func New[T any](capacity int, hooks Hooks[T]) (*Arena[T], error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	a := &Arena[T]{
		reset:      hooks.Reset,
		slots:      make([]slot[T], capacity),
		freeHead:   nilIndex,
		activeHead: nilIndex,
	}

	// build back to front, so the head ends up at index 0
	for i := capacity - 1; i >= 0; i-- {
		s := &a.slots[i]
		s.gen = 1
		if hooks.Init != nil {
			hooks.Init(i, &s.value)
		}
		a.push(&a.freeHead, int32(i))
	}
	a.freeLen = capacity

	return a, nil
}

// Cap returns the fixed capacity.
func (a *Arena[T]) Cap() int { return len(a.slots) }

// Len returns the number of active slots.
func (a *Arena[T]) Len() int { return a.activeLen }

// FreeLen returns the number of free slots.
func (a *Arena[T]) FreeLen() int { return a.freeLen }

// Allocate pops the head of the free list, and pushes it onto the active
// list. It fails with [ErrExhausted], without side effects, if no slots are
// free.
func (a *Arena[T]) Allocate() (Handle, *T, error) {
	i := a.freeHead
	if i == nilIndex {
		return Handle{}, nil, ErrExhausted
	}

	a.unlink(&a.freeHead, i)
	a.freeLen--

	a.push(&a.activeHead, i)
	a.activeLen++

	s := &a.slots[i]
	s.active = true

	return Handle{index: uint32(i), gen: s.gen}, &s.value, nil
}

// Release returns an active slot to the free list. The Reset hook runs
// before the slot is linked into the free list, and the generation is bumped,
// invalidating every outstanding copy of h.
func (a *Arena[T]) Release(h Handle) error {
	s := a.lookup(h)
	if s == nil {
		return ErrStaleHandle
	}

	i := int32(h.index)
	a.unlink(&a.activeHead, i)
	a.activeLen--

	if a.reset != nil {
		a.reset(&s.value)
	}
	s.active = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}

	a.push(&a.freeHead, i)
	a.freeLen++

	return nil
}

// Get resolves a handle, returning false if it is stale.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if s := a.lookup(h); s != nil {
		return &s.value, true
	}
	return nil, false
}

// Handle returns the current handle for the slot at index, and whether that
// slot is active.
func (a *Arena[T]) Handle(index int) (Handle, bool) {
	if index < 0 || index >= len(a.slots) {
		return Handle{}, false
	}
	s := &a.slots[index]
	return Handle{index: uint32(index), gen: s.gen}, s.active
}

// At returns the value of the slot at index, whether or not it is active,
// or nil if index is out of range. It is intended for diagnostics.
func (a *Arena[T]) At(index int) *T {
	if index < 0 || index >= len(a.slots) {
		return nil
	}
	return &a.slots[index].value
}

// Range calls fn for each active slot, most recently allocated first,
// stopping early if fn returns false. The current slot may be released by
// fn, other slots must not be.
func (a *Arena[T]) Range(fn func(h Handle, v *T) bool) {
	for i := a.activeHead; i != nilIndex; {
		s := &a.slots[i]
		next := s.next
		if !fn(Handle{index: uint32(i), gen: s.gen}, &s.value) {
			return
		}
		i = next
	}
}

// Snapshot copies the free and active lists, in list order.
func (a *Arena[T]) Snapshot() Snapshot {
	return Snapshot{
		Free:   a.indexes(a.freeHead, a.freeLen),
		Active: a.indexes(a.activeHead, a.activeLen),
	}
}

// Check walks both lists, verifying the structural invariants: every slot is
// on exactly one list, the links are consistent, the counts add up to the
// capacity, and the active flag agrees with list membership.
func (a *Arena[T]) Check() error {
	seen := make([]int8, len(a.slots))

	walk := func(head int32, active bool, want int) error {
		var (
			n    int
			prev = nilIndex
		)
		for i := head; i != nilIndex; i = a.slots[i].next {
			if i < 0 || int(i) >= len(a.slots) {
				return fmt.Errorf("arena: index %d out of range", i)
			}
			if seen[i] != 0 {
				return fmt.Errorf("arena: slot %d linked twice", i)
			}
			seen[i] = 1
			s := &a.slots[i]
			if s.prev != prev {
				return fmt.Errorf("arena: slot %d has prev %d, want %d", i, s.prev, prev)
			}
			if s.active != active {
				return fmt.Errorf("arena: slot %d active=%v on wrong list", i, s.active)
			}
			prev = i
			n++
		}
		if n != want {
			return fmt.Errorf("arena: list length %d, recorded %d", n, want)
		}
		return nil
	}

	if err := walk(a.freeHead, false, a.freeLen); err != nil {
		return err
	}
	if err := walk(a.activeHead, true, a.activeLen); err != nil {
		return err
	}
	if a.freeLen+a.activeLen != len(a.slots) {
		return fmt.Errorf("arena: free %d + active %d != capacity %d", a.freeLen, a.activeLen, len(a.slots))
	}
	return nil
}

// String implements fmt.Stringer, e.g. for logging.
func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.gen)
}

// Index returns the slot index.
func (h Handle) Index() int { return int(h.index) }

// Generation returns the generation the handle was issued for.
func (h Handle) Generation() uint32 { return h.gen }

// IsZero reports whether h is the zero value.
func (h Handle) IsZero() bool { return h == Handle{} }

// Pack encodes the handle as a uint64, e.g. to round-trip it through kernel
// user data fields.
func (h Handle) Pack() uint64 {
	return uint64(h.index) | uint64(h.gen)<<32
}

// Unpack is the inverse of [Handle.Pack].
func Unpack(v uint64) Handle {
	return Handle{index: uint32(v), gen: uint32(v >> 32)}
}

func (a *Arena[T]) lookup(h Handle) *slot[T] {
	if int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if !s.active || s.gen != h.gen {
		return nil
	}
	return s
}

func (a *Arena[T]) push(head *int32, i int32) {
	s := &a.slots[i]
	s.prev = nilIndex
	s.next = *head
	if *head != nilIndex {
		a.slots[*head].prev = i
	}
	*head = i
}

func (a *Arena[T]) unlink(head *int32, i int32) {
	s := &a.slots[i]
	if s.prev == nilIndex {
		*head = s.next
	} else {
		a.slots[s.prev].next = s.next
	}
	if s.next != nilIndex {
		a.slots[s.next].prev = s.prev
	}
	s.prev = nilIndex
	s.next = nilIndex
}

func (a *Arena[T]) indexes(head int32, n int) []int {
	out := make([]int, 0, n)
	for i := head; i != nilIndex; i = a.slots[i].next {
		out = append(out, int(i))
	}
	return out
}
