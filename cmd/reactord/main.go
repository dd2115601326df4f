// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Command reactord runs a reactor pool as an echo server, and optionally as
// a client of other echo servers, logging JSON to stderr.
//
// Usage:
//
//	reactord -listen 127.0.0.1:7000,[::1]:7000
//	reactord -connect 127.0.0.1:7000 -ping 1s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

type config struct {
	listen      []netip.AddrPort
	connect     []netip.AddrPort
	capacity    int
	backlog     int
	acceptBatch int
	maxBuffered int
	level       logiface.Level
	ping        time.Duration
	retry       time.Duration
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, newLogger(os.Stderr, cfg.level)); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "reactord: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (*config, error) {
	var (
		cfg     config
		listen  string
		connect string
		level   string
	)
	fs := flag.NewFlagSet("reactord", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&listen, "listen", "", "comma separated addresses to listen on")
	fs.StringVar(&connect, "connect", "", "comma separated addresses to connect to")
	fs.IntVar(&cfg.capacity, "capacity", 1024, "maximum number of sockets")
	fs.IntVar(&cfg.backlog, "backlog", 20, "listen backlog")
	fs.IntVar(&cfg.acceptBatch, "accept-batch", 64, "peers accepted per listener wakeup")
	fs.IntVar(&cfg.maxBuffered, "max-buffered", 1<<20, "per connection buffer bound, 0 for unbounded")
	fs.StringVar(&level, "level", "info", "log level (trace, debug, info, notice, warning, err)")
	fs.DurationVar(&cfg.ping, "ping", time.Second, "interval between pings sent by outbound connections")
	fs.DurationVar(&cfg.retry, "retry", 2*time.Second, "delay before reconnecting a closed outbound connection")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if cfg.listen, err = parseAddrs(listen); err != nil {
		return nil, fmt.Errorf("-listen: %w", err)
	}
	if cfg.connect, err = parseAddrs(connect); err != nil {
		return nil, fmt.Errorf("-connect: %w", err)
	}
	if len(cfg.listen) == 0 && len(cfg.connect) == 0 {
		err = errors.New("at least one of -listen or -connect is required")
		fmt.Fprintln(output, err)
		fs.Usage()
		return nil, err
	}
	if cfg.level, err = parseLevel(level); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseAddrs(s string) ([]netip.AddrPort, error) {
	var addrs []netip.AddrPort
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		addr, err := netip.ParseAddrPort(v)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func parseLevel(s string) (logiface.Level, error) {
	for _, level := range [...]logiface.Level{
		logiface.LevelTrace,
		logiface.LevelDebug,
		logiface.LevelInformational,
		logiface.LevelNotice,
		logiface.LevelWarning,
		logiface.LevelError,
	} {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
		// sheds repeated back-pressure warnings
		stumpy.L.WithCategoryRateLimits(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		}),
	).Logger()
}
