// Package sockopt sets the UDP socket options the agent relies on.
package sockopt

import (
	"fmt"
	"syscall"
)

// Control is a net.ListenConfig / net.Dialer control hook enabling
// SO_BROADCAST. Address reuse stays disabled, so a port in use fails to bind.
func Control(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = apply(fd)
	}); err != nil {
		return fmt.Errorf("accessing raw socket: %w", err)
	}
	if serr != nil {
		return fmt.Errorf("setting socket options on %s %s: %w", network, address, serr)
	}
	return nil
}
