//go:build windows

package sockopt

import "golang.org/x/sys/windows"

// SO_REUSEADDR on Windows lets another process steal the port, so only
// broadcast is enabled here.
func apply(fd uintptr) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
}
