package sender

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sleeponlan/internal/identity"
	"sleeponlan/internal/magic"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestMagic(t *testing.T) {
	conn := listenLoopback(t)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	target := identity.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}

	if err := Magic(context.Background(), "127.0.0.1", port, target, zerolog.Nop()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	buf := make([]byte, 512)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], magic.Build(target)) {
		t.Errorf("received % X", buf[:n])
	}
	if !magic.Valid(buf[:n], identity.NewSet(target)) {
		t.Error("sent packet does not validate")
	}
}

func TestPoke_UnspecifiedUsesLoopback(t *testing.T) {
	conn := listenLoopback(t)
	port := conn.LocalAddr().(*net.UDPAddr).Port

	if err := Poke(&net.UDPAddr{IP: net.IPv4zero, Port: port}); err != nil {
		t.Fatalf("poke failed: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "stop" {
		t.Errorf("got %q, want %q", buf[:n], "stop")
	}
}

func TestPoke_RejectsNonUDP(t *testing.T) {
	if err := Poke(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}); err == nil {
		t.Error("expected error for TCP address")
	}
	if err := Poke(nil); err == nil {
		t.Error("expected error for nil address")
	}
}

func TestSend_BadPort(t *testing.T) {
	if err := Send(context.Background(), "127.0.0.1", -1, []byte("x")); err == nil {
		t.Error("expected resolve error")
	}
}
