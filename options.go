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

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

const (
	defaultInitialEvents    = 32
	defaultMaxEvents        = 4096
	defaultTimerWait        = 5 * time.Second
	defaultListenBacklog    = 20
	defaultAcceptBatch      = 64
	defaultAcceptBackoff    = 100 * time.Millisecond
	defaultReadChunk        = 4096
	maxInterruptedRetries   = 8
	minInitialEventCapacity = 3
)

// poolOptions holds configuration options for Pool creation.
type poolOptions struct {
	logger        *logiface.Logger[logiface.Event]
	handler       Handler
	connectRates  map[time.Duration]int
	timerWait     time.Duration
	initialEvents int
	maxEvents     int
	backlog       int
	acceptBatch   int
	acceptBackoff time.Duration
	readChunk     int
	maxBuffered   int
}

// PoolOption configures a Pool instance.
type PoolOption interface {
	applyPool(*poolOptions) error
}

// poolOptionImpl implements PoolOption.
type poolOptionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (o *poolOptionImpl) applyPool(opts *poolOptions) error {
	return o.applyPoolFunc(opts)
}

// WithLogger configures structured logging. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithHandler sets the application hooks. If the handler also implements
// [ConnectHandler], failed outbound attempts are reported to it.
func WithHandler(handler Handler) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.handler = handler
		return nil
	}}
}

// WithInitialEvents sets the initial capacity of the event buffer, which
// doubles (up to [WithMaxEvents]) whenever a wait fills it.
func WithInitialEvents(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n < minInitialEventCapacity {
			return fmt.Errorf("reactor: initial events %d < %d", n, minInitialEventCapacity)
		}
		opts.initialEvents = n
		return nil
	}}
}

// WithMaxEvents bounds event buffer growth.
func WithMaxEvents(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n < minInitialEventCapacity {
			return fmt.Errorf("reactor: max events %d < %d", n, minInitialEventCapacity)
		}
		opts.maxEvents = n
		return nil
	}}
}

// WithDefaultTimerWait sets how long the shared timer is armed for when no
// timers are pending. Zero disarms it instead, so a wait with no timers and
// no I/O blocks for the full dispatch timeout.
func WithDefaultTimerWait(d time.Duration) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if d < 0 {
			return errors.New("reactor: negative default timer wait")
		}
		opts.timerWait = d
		return nil
	}}
}

// WithListenBacklog sets the backlog passed to listen(2).
func WithListenBacklog(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n <= 0 {
			return fmt.Errorf("reactor: invalid listen backlog %d", n)
		}
		opts.backlog = n
		return nil
	}}
}

// WithAcceptBatch caps the number of peers accepted per listener wakeup.
// A listener that hits the cap is serviced again on the next dispatch.
func WithAcceptBatch(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n <= 0 {
			return fmt.Errorf("reactor: invalid accept batch %d", n)
		}
		opts.acceptBatch = n
		return nil
	}}
}

// WithAcceptBackoff sets the delay before a listener is serviced again,
// after accept failed for reasons other than an empty backlog, e.g. the
// process ran out of descriptors.
func WithAcceptBackoff(d time.Duration) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if d <= 0 {
			return fmt.Errorf("reactor: invalid accept backoff %s", d)
		}
		opts.acceptBackoff = d
		return nil
	}}
}

// WithReadChunk sets the chunk size of connection buffers, which is also
// the most read in a single syscall.
func WithReadChunk(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n <= 0 {
			return fmt.Errorf("reactor: invalid read chunk %d", n)
		}
		opts.readChunk = n
		return nil
	}}
}

// WithMaxBuffered bounds each receive and send buffer, zero meaning
// unbounded. A receive buffer at its bound tears the connection down with
// [ErrPeerError].
func WithMaxBuffered(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n < 0 {
			return fmt.Errorf("reactor: invalid max buffered %d", n)
		}
		opts.maxBuffered = n
		return nil
	}}
}

// WithConnectRateLimits limits [Pool.Attempt] per [Connecting] target,
// using sliding windows (e.g. {time.Second: 5, time.Minute: 30}).
// See [catrate.NewLimiter] for the constraints on rates.
func WithConnectRateLimits(rates map[time.Duration]int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.connectRates = rates
		return nil
	}}
}

// resolvePoolOptions applies PoolOption instances to poolOptions.
func resolvePoolOptions(opts []PoolOption) (*poolOptions, error) {
	cfg := &poolOptions{
		timerWait:     defaultTimerWait,
		initialEvents: defaultInitialEvents,
		maxEvents:     defaultMaxEvents,
		backlog:       defaultListenBacklog,
		acceptBatch:   defaultAcceptBatch,
		acceptBackoff: defaultAcceptBackoff,
		readChunk:     defaultReadChunk,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.maxEvents < cfg.initialEvents {
		cfg.maxEvents = cfg.initialEvents
	}
	return cfg, nil
}

// newLimiter converts the panics catrate raises for invalid rates into an
// error.
func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			limiter, err = nil, fmt.Errorf("reactor: invalid connect rate limits: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}
