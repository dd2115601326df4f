// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"context"
	"io"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
)

// app echoes everything received on accepted connections, and pings
// through outbound ones, reconnecting them after cfg.retry.
type app struct {
	logger *logiface.Logger[logiface.Event]
	cfg    *config
	buf    []byte
}

func run(ctx context.Context, cfg *config, logger *logiface.Logger[logiface.Event]) error {
	a := &app{logger: logger, cfg: cfg, buf: make([]byte, 4096)}

	p, err := reactor.New(
		cfg.capacity,
		reactor.WithLogger(logger),
		reactor.WithHandler(a.handler()),
		reactor.WithListenBacklog(cfg.backlog),
		reactor.WithAcceptBatch(cfg.acceptBatch),
		reactor.WithMaxBuffered(cfg.maxBuffered),
	)
	if err != nil {
		return err
	}
	defer p.Close()

	for _, addr := range cfg.listen {
		if _, err := p.RegisterListen(addr); err != nil {
			return err
		}
	}
	if err := p.OpenAll(); err != nil {
		return err
	}

	for _, addr := range cfg.connect {
		ci, err := p.RegisterConnect(addr)
		if err != nil {
			return err
		}
		a.attempt(p, ci)
	}

	return p.Run(ctx, -1)
}

func (a *app) handler() reactor.HandlerFuncs {
	return reactor.HandlerFuncs{
		Open: func(p *reactor.Pool, c *reactor.Connection) {
			a.logger.Info().
				Str("peer", c.RemoteAddr().String()).
				Stringer("slot", c.Handle()).
				Log("open")
			if _, ok := c.Connecting(); ok {
				a.schedulePing(p, c.Handle())
			}
		},
		Data: func(p *reactor.Pool, c *reactor.Connection) {
			if _, ok := c.Connecting(); ok {
				n := c.Recv().Len()
				c.Recv().Discard(n)
				a.logger.Debug().
					Str("peer", c.RemoteAddr().String()).
					Int("bytes", n).
					Log("pong")
				return
			}
			a.echo(p, c)
		},
		Close: func(p *reactor.Pool, c *reactor.Connection, cause error) {
			a.logger.Info().
				Str("peer", c.RemoteAddr().String()).
				Stringer("slot", c.Handle()).
				Err(cause).
				Log("closed")
			if ci, ok := c.Connecting(); ok {
				a.retry(p, ci)
			}
		},
		ConnectFailed: func(p *reactor.Pool, ci *reactor.Connecting, cause error) {
			a.logger.Warning().
				Str("addr", ci.Addr().String()).
				Err(cause).
				Log("connect failed")
			a.retry(p, ci)
		},
	}
}

func (a *app) echo(p *reactor.Pool, c *reactor.Connection) {
	h := c.Handle()
	for c.Recv().Len() != 0 {
		n, err := c.Recv().Read(a.buf)
		if err == io.EOF {
			return
		}
		if _, err := p.Write(h, a.buf[:n]); err != nil {
			a.logger.Warning().
				Stringer("slot", h).
				Err(err).
				Log("echo failed")
			_ = p.CloseConn(h)
			return
		}
		if _, ok := p.Conn(h); !ok {
			return
		}
	}
}

func (a *app) attempt(p *reactor.Pool, ci *reactor.Connecting) {
	if err := p.Attempt(ci); err != nil {
		a.logger.Warning().
			Str("addr", ci.Addr().String()).
			Err(err).
			Log("connect attempt failed")
		a.retry(p, ci)
	}
}

func (a *app) retry(p *reactor.Pool, ci *reactor.Connecting) {
	p.AddTimer(a.cfg.retry, func(p *reactor.Pool, data any) {
		ci := data.(*reactor.Connecting)
		if ci.Status() == reactor.ConnectNone {
			a.attempt(p, ci)
		}
	}, ci)
}

func (a *app) schedulePing(p *reactor.Pool, h reactor.Handle) {
	p.AddTimer(a.cfg.ping, func(p *reactor.Pool, _ any) {
		if _, err := p.Write(h, []byte("ping\n")); err != nil {
			// closed, a reconnect is already scheduled
			return
		}
		a.schedulePing(p, h)
	}, nil)
}
