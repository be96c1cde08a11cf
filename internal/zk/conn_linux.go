//go:build linux

package zk

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// setUserTimeout bounds how long the kernel retries unacknowledged data
// before reporting a timeout, so a peer that vanishes without a FIN/RST
// (a dead ensemble member behind a stale NAT entry, say) surfaces as a
// read/write error on roughly the same horizon as the heartbeat's own
// disconnect threshold, rather than hanging on the OS's default
// multi-minute retransmission budget.
func setUserTimeout(conn net.Conn, d time.Duration) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok || d <= 0 {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err //nolint:wrapcheck // thin raw-socket wrapper, caller adds context
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(d.Milliseconds()))
	}); err != nil {
		return err //nolint:wrapcheck // thin raw-socket wrapper, caller adds context
	}
	return sockErr
}
