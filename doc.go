// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package reactor implements a single-threaded, non-blocking TCP reactor,
// built on Linux epoll.
//
// A [Pool] owns a fixed-capacity table of connection slots, addressed by
// generation-counted [Handle] values, along with one readiness set. Every
// socket (listening, connecting, or established) is registered
// edge-triggered for both read and write readiness, tagged with its handle,
// so events for a slot that was released and reused are recognised and
// skipped.
//
// Timers share a single timerfd, registered alongside the sockets, and
// re-armed for the earliest pending deadline after every
// [Pool.Dispatch].
//
// # Lifecycle
//
//	p, err := reactor.New(1024, reactor.WithHandler(h), reactor.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	if _, err := p.RegisterListen(netip.MustParseAddrPort("127.0.0.1:8080")); err != nil {
//		return err
//	}
//	if err := p.OpenAll(); err != nil {
//		return err
//	}
//	return p.Run(ctx, -1)
//
// Application code observes connections through a [Handler], on the
// goroutine running Dispatch, and may call back into the pool from there.
// Only [Pool.Wake] may be called from other goroutines.
//
// The package is only functional on Linux. Elsewhere [New] returns
// [ErrUnsupportedPlatform].
package reactor
