// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"errors"
	"net/netip"

	"golang.org/x/sys/unix"
)

const platformSupported = true

func toSockaddr(ap netip.AddrPort) (int, unix.Sockaddr) {
	addr := ap.Addr()
	if addr.Is4() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}

func socketFamily(ap netip.AddrPort) int {
	family, _ := toSockaddr(ap)
	return family
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

func newStreamSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, newSyscallError("socket", err)
	}
	return fd, nil
}

// listenSocket returns a non-blocking socket listening on addr, and the
// address it actually bound (which differs for port 0).
func listenSocket(addr netip.AddrPort, backlog int) (fd int, bound netip.AddrPort, err error) {
	family, sa := toSockaddr(addr)
	if fd, err = newStreamSocket(family); err != nil {
		return -1, bound, err
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fd, bound, newSyscallError("setsockopt", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		return fd, bound, newSyscallError("bind", err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		return fd, bound, newSyscallError("listen", err)
	}
	local, err := unix.Getsockname(fd)
	if err != nil {
		return fd, bound, newSyscallError("getsockname", err)
	}
	return fd, fromSockaddr(local), nil
}

// acceptSocket accepts one pending peer as a non-blocking descriptor. The
// returned error is the raw errno, for classification by the caller.
func acceptSocket(fd int) (int, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	return nfd, fromSockaddr(sa), nil
}

// connectSocket starts a non-blocking connect, returning true if the
// connect is still in progress.
func connectSocket(fd int, addr netip.AddrPort) (bool, error) {
	_, sa := toSockaddr(addr)
	switch err := unix.Connect(fd, sa); err {
	case nil:
		return false, nil
	case unix.EINPROGRESS, unix.EINTR:
		// an interrupted connect continues asynchronously
		return true, nil
	default:
		return false, newSyscallError("connect", err)
	}
}

// socketError returns the pending error of a socket, i.e. the outcome of a
// non-blocking connect once it is writable.
func socketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return newSyscallError("getsockopt", err)
	}
	if v != 0 {
		return newSyscallError("connect", unix.Errno(v))
	}
	return nil
}

func closeFD(fd int) error {
	return newSyscallError("close", unix.Close(fd))
}

func readFD(fd int, p []byte) (int, error) { return unix.Read(fd, p) }

func writeFD(fd int, p []byte) (int, error) { return unix.Write(fd, p) }

type acceptErrorKind int

const (
	acceptFatal acceptErrorKind = iota
	acceptDrained
	acceptRetry
	acceptNoDescriptors
)

func classifyAcceptError(err error) acceptErrorKind {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return acceptFatal
	}
	switch errno {
	case unix.EAGAIN:
		return acceptDrained
	case unix.EINTR, unix.ECONNABORTED, unix.EPROTO:
		return acceptRetry
	case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
		return acceptNoDescriptors
	default:
		return acceptFatal
	}
}
