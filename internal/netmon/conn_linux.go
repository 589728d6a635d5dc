//go:build linux

package netmon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// rtnetlink multicast groups the monitor listens on. nl.Subscribe turns each
// group number g into the RTMGRP bit 1<<(g-1).
var subscribedGroups = []uint{
	unix.RTNLGRP_LINK,        // network card change
	unix.RTNLGRP_IPV4_IFADDR, // IPv4 address change
	unix.RTNLGRP_IPV4_ROUTE,  // IPv4 route table change
	unix.RTNLGRP_IPV6_IFADDR, // IPv6 address change
	unix.RTNLGRP_IPV6_ROUTE,  // IPv6 route table change
}

// socketConn is a non-blocking rtnetlink socket registered with the runtime
// poller, so Receive parks only the calling goroutine.
type socketConn struct {
	f  *os.File
	rc syscall.RawConn
}

func openConn() (conn, error) {
	// Port id 0 lets the kernel assign one; only the groups matter here.
	s, err := nl.Subscribe(unix.NETLINK_ROUTE, subscribedGroups...)
	if err != nil {
		return nil, fmt.Errorf("netmon: subscribe to rtnetlink groups: %w", err)
	}

	// The NetlinkSocket keeps its own *os.File on the descriptor, already
	// registered with the poller. Take a duplicate of the bound socket and
	// release the original, so the duplicate has exactly one owner.
	fd, err := unix.FcntlInt(uintptr(s.GetFd()), unix.F_DUPFD_CLOEXEC, 0)
	s.Close()
	if err != nil {
		return nil, fmt.Errorf("netmon: %w", os.NewSyscallError("dup", err))
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netmon: %w", os.NewSyscallError("setnonblock", err))
	}

	f := os.NewFile(uintptr(fd), "rtnetlink")
	rc, err := f.SyscallConn()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("netmon: %w", err)
	}

	return &socketConn{f: f, rc: rc}, nil
}

func (c *socketConn) Receive(ctx context.Context, b []byte) (int, error) {
	// Wake the poller when ctx is done by moving the deadline into the past.
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.f.SetReadDeadline(time.Unix(1, 0))
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
			_ = c.f.SetReadDeadline(time.Time{})
		}
	}()

	var (
		n       int
		recvErr error
	)
	err := c.rc.Read(func(fd uintptr) bool {
		// MSG_TRUNC makes n the full datagram length even if b was too small.
		n, _, recvErr = unix.Recvfrom(int(fd), b, unix.MSG_DONTWAIT|unix.MSG_TRUNC)
		return recvErr != unix.EAGAIN
	})

	switch {
	case errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() != nil:
		return 0, ctx.Err()
	case err != nil:
		return 0, fmt.Errorf("netmon: receive: %w", err)
	case recvErr != nil:
		return 0, fmt.Errorf("netmon: %w", os.NewSyscallError("recvfrom", recvErr))
	}
	return n, nil
}

func (c *socketConn) Close() error {
	return c.f.Close()
}
