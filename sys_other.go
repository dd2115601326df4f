// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !linux

package reactor

import (
	"net/netip"
	"time"
)

const platformSupported = false

const (
	timerTag uint64 = 1<<32 - 1
	wakeTag  uint64 = 1<<32 - 2
)

// poller is never constructed on this platform, see [New].
type poller struct{}

func newPoller(int, int) (*poller, error) { return nil, ErrUnsupportedPlatform }
func (*poller) close() error { return nil }
func (*poller) add(int, uint64) error { return ErrUnsupportedPlatform }
func (*poller) del(int) error { return ErrUnsupportedPlatform }
func (*poller) wait(time.Duration) (int, error) { return 0, ErrUnsupportedPlatform }
func (*poller) event(int) (uint64, IOEvents) { return 0, 0 }
func (*poller) capacity() int { return 0 }
func (*poller) grow() bool { return false }
func (*poller) arm(time.Duration) error { return ErrUnsupportedPlatform }
func (*poller) disarm() error { return ErrUnsupportedPlatform }
func (*poller) drainTimer() {}
func (*poller) wake() error { return ErrUnsupportedPlatform }
func (*poller) drainWake() {}

func listenSocket(netip.AddrPort, int) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, ErrUnsupportedPlatform
}

func acceptSocket(int) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, ErrUnsupportedPlatform
}

func newStreamSocket(int) (int, error) { return -1, ErrUnsupportedPlatform }

func socketFamily(netip.AddrPort) int { return 0 }

func connectSocket(int, netip.AddrPort) (bool, error) { return false, ErrUnsupportedPlatform }

func socketError(int) error { return ErrUnsupportedPlatform }

func closeFD(int) error { return ErrUnsupportedPlatform }

func readFD(int, []byte) (int, error) { return 0, ErrUnsupportedPlatform }

func writeFD(int, []byte) (int, error) { return 0, ErrUnsupportedPlatform }

type acceptErrorKind int

const (
	acceptFatal acceptErrorKind = iota
	acceptDrained
	acceptRetry
	acceptNoDescriptors
)

func classifyAcceptError(error) acceptErrorKind { return acceptFatal }
