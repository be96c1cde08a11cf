//go:build !linux

package zk

import (
	"net"
	"time"
)

// setUserTimeout is a no-op outside Linux: TCP_USER_TIMEOUT is a
// Linux-specific socket option.
func setUserTimeout(net.Conn, time.Duration) error {
	return nil
}
