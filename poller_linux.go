// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"encoding/binary"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// Sentinel tags, outside the range of packed handles (handles of active
// slots always have a non-zero generation).
const (
	timerTag uint64 = math.MaxUint32
	wakeTag  uint64 = math.MaxUint32 - 1
)

// poller owns the epoll instance, the shared timerfd, the wake eventfd, and
// the event buffer.
//
// Connections are registered edge-triggered, for both read and write, with
// their packed handle as the event payload.
type poller struct {
	events    []unix.EpollEvent
	maxEvents int
	epfd      int
	timerfd   int
	wakefd    int
}

// newPoller acquires the epoll instance, then the timer, then the wake
// descriptor, releasing whatever was acquired (in reverse) on failure.
func newPoller(initialEvents, maxEvents int) (*poller, error) {
	p := &poller{epfd: -1, timerfd: -1, wakefd: -1}
	var ok bool
	defer func() {
		if !ok {
			_ = p.close()
		}
	}()

	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, newSyscallError("epoll_create1", err)
	}
	p.epfd = fd

	fd, err = unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, newSyscallError("timerfd_create", err)
	}
	p.timerfd = fd
	if err := p.ctl(unix.EPOLL_CTL_ADD, p.timerfd, unix.EPOLLIN, timerTag); err != nil {
		return nil, err
	}

	fd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, newSyscallError("eventfd", err)
	}
	p.wakefd = fd
	if err := p.ctl(unix.EPOLL_CTL_ADD, p.wakefd, unix.EPOLLIN, wakeTag); err != nil {
		return nil, err
	}

	p.events = make([]unix.EpollEvent, initialEvents)
	p.maxEvents = maxEvents
	ok = true
	return p, nil
}

func (p *poller) close() error {
	var first error
	for _, fd := range [...]*int{&p.wakefd, &p.timerfd, &p.epfd} {
		if *fd == -1 {
			continue
		}
		if err := unix.Close(*fd); err != nil && first == nil {
			first = newSyscallError("close", err)
		}
		*fd = -1
	}
	return first
}

func (p *poller) ctl(op, fd int, events uint32, tag uint64) error {
	ev := unix.EpollEvent{Events: events}
	setTag(&ev, tag)
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return newSyscallError("epoll_ctl", err)
	}
	return nil
}

// add registers a connection descriptor, tagged with its packed handle.
func (p *poller) add(fd int, tag uint64) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLET, tag)
}

func (p *poller) del(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return newSyscallError("epoll_ctl", err)
	}
	return nil
}

// wait blocks for up to timeout (negative meaning indefinitely), returning
// the number of events in the buffer. An interrupted wait is reported as
// zero events.
func (p *poller) wait(timeout time.Duration) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, durationToMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, newSyscallError("epoll_wait", err)
	}
	return n, nil
}

func (p *poller) event(i int) (uint64, IOEvents) {
	ev := &p.events[i]
	return getTag(ev), epollToEvents(ev.Events)
}

func (p *poller) capacity() int { return len(p.events) }

// grow doubles the event buffer, up to maxEvents, returning false if it is
// already at the limit.
func (p *poller) grow() bool {
	n := min(len(p.events)*2, p.maxEvents)
	if n <= len(p.events) {
		return false
	}
	p.events = make([]unix.EpollEvent, n)
	return true
}

// arm sets the shared timer to expire once, after d. A non-positive d
// expires immediately, since a zero value would disarm it.
func (p *poller) arm(d time.Duration) error {
	if d <= 0 {
		d = time.Nanosecond
	}
	its := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(d))}
	return newSyscallError("timerfd_settime", unix.TimerfdSettime(p.timerfd, 0, &its, nil))
}

func (p *poller) disarm() error {
	var its unix.ItimerSpec
	return newSyscallError("timerfd_settime", unix.TimerfdSettime(p.timerfd, 0, &its, nil))
}

// drainTimer consumes the expiration count, clearing readiness.
func (p *poller) drainTimer() {
	var buf [8]byte
	_, _ = unix.Read(p.timerfd, buf[:])
}

func (p *poller) wake() error {
	if p.wakefd == -1 {
		return ErrPoolClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, a wake is already pending
		return nil
	}
	return newSyscallError("write", err)
}

func (p *poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

// the tag occupies the 64 bits following the events mask
func setTag(ev *unix.EpollEvent, tag uint64) {
	ev.Fd = int32(uint32(tag))
	ev.Pad = int32(uint32(tag >> 32))
}

func getTag(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

func durationToMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	// round up, so short timeouts don't spin
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
