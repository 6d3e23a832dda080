// Package sender emits magic packets and wake-up datagrams.
package sender

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"sleeponlan/internal/identity"
	"sleeponlan/internal/magic"
	"sleeponlan/internal/sockopt"
)

// WakeupPayload is the datagram used to cut a blocked receive short.
var WakeupPayload = []byte("stop")

// Send writes payload to host:port from an ephemeral, broadcast-enabled socket.
func Send(ctx context.Context, host string, port int, payload []byte) error {
	target, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolving %s:%d: %w", host, port, err)
	}

	lc := net.ListenConfig{Control: sockopt.Control}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("listening for UDP: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}

	if _, err := conn.WriteTo(payload, target); err != nil {
		return fmt.Errorf("writing packet to %s: %w", target, err)
	}
	return nil
}

// Magic sends a magic packet for target to host:port.
func Magic(ctx context.Context, host string, port int, target identity.HardwareAddr, log zerolog.Logger) error {
	packet := magic.Build(target)
	if err := Send(ctx, host, port, packet); err != nil {
		return err
	}

	log.Info().
		Str("target", target.String()).
		Str("address", net.JoinHostPort(host, strconv.Itoa(port))).
		Int("bytes", len(packet)).
		Msg("Magic packet sent")
	return nil
}

// Poke sends the wake-up datagram to a listener bound at addr. An unspecified
// bind address is reached through loopback.
func Poke(addr net.Addr) error {
	udp, ok := addr.(*net.UDPAddr)
	if !ok || udp == nil {
		return fmt.Errorf("cannot poke non-UDP address %v", addr)
	}

	host := udp.IP
	if host == nil || host.IsUnspecified() {
		host = net.IPv4(127, 0, 0, 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return Send(ctx, host.String(), udp.Port, WakeupPayload)
}
