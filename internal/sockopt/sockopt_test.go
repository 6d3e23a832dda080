package sockopt

import (
	"context"
	"net"
	"testing"
)

func TestControl_ListenUDP(t *testing.T) {
	lc := net.ListenConfig{Control: Control}
	conn, err := lc.ListenPacket(context.Background(), "udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen with socket options: %v", err)
	}
	defer conn.Close()

	if conn.LocalAddr().(*net.UDPAddr).Port == 0 {
		t.Error("expected an ephemeral port to be assigned")
	}
}

func TestControl_PortInUseFails(t *testing.T) {
	lc := net.ListenConfig{Control: Control}
	first, err := lc.ListenPacket(context.Background(), "udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("first listen: %v", err)
	}
	defer first.Close()

	second, err := lc.ListenPacket(context.Background(), "udp4", first.LocalAddr().String())
	if err == nil {
		second.Close()
		t.Fatal("expected bind error for a port already in use")
	}
}
