//go:build unix

package sockopt

import "golang.org/x/sys/unix"

// SO_REUSEADDR is left off so a second agent on the same port gets a bind
// error instead of silently sharing unicast traffic.
func apply(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
}
