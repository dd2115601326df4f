// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

type counters struct {
	dispatches     uint64
	accepted       uint64
	acceptRejected uint64
	connected      uint64
	teardowns      uint64
	staleEvents    uint64
}

// Stats is a point-in-time snapshot of a pool, see [Pool.Stats].
type Stats struct {
	// FreeSlots and ActiveSlots list slot indexes, most recently
	// released or allocated first.
	FreeSlots   []int
	ActiveSlots []int

	Capacity      int
	Free          int
	Active        int
	EventCapacity int
	Listening     int
	Connecting    int
	Timers        int

	Dispatches     uint64
	Accepted       uint64
	AcceptRejected uint64
	Connected      uint64
	Teardowns      uint64
	StaleEvents    uint64
}

// Stats returns a snapshot of the pool's state and counters.
func (p *Pool) Stats() Stats {
	snap := p.conns.Snapshot()
	return Stats{
		FreeSlots:      snap.Free,
		ActiveSlots:    snap.Active,
		Capacity:       p.conns.Cap(),
		Free:           p.conns.FreeLen(),
		Active:         p.conns.Len(),
		EventCapacity:  p.poller.capacity(),
		Listening:      len(p.listening),
		Connecting:     len(p.connecting),
		Timers:         p.timers.Len(),
		Dispatches:     p.counters.dispatches,
		Accepted:       p.counters.accepted,
		AcceptRejected: p.counters.acceptRejected,
		Connected:      p.counters.connected,
		Teardowns:      p.counters.teardowns,
		StaleEvents:    p.counters.staleEvents,
	}
}
