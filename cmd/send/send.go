// Package send implements the send command, which emits a magic packet.
package send

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"sleeponlan/internal/identity"
	"sleeponlan/internal/sender"
	"sleeponlan/pkg/config"
	"sleeponlan/pkg/logger"
)

// Run parses the send flags and emits one or more magic packets.
func Run(configPath string, args []string) error {
	cfg, _, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	mac := fs.StringP("mac", "m", "", "Target hardware address (AA:BB:CC:DD:EE:FF)")
	address := fs.StringP("address", "a", cfg.Send.Address, "Destination address (broadcast or unicast)")
	port := fs.IntP("port", "p", cfg.Send.Port, "Destination UDP port")
	count := fs.IntP("count", "c", 1, "Number of packets to send")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *mac == "" {
		return errors.New("--mac is required")
	}
	target, err := identity.ParseHardwareAddr(*mac)
	if err != nil {
		return err
	}
	if *port < 1 || *port > 65535 {
		return fmt.Errorf("port %d out of range (must be 1-65535)", *port)
	}
	if *count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", *count)
	}

	log, closeLog := logger.Init(cfg.Agent.LogLevel, "")
	defer closeLog()

	for i := 0; i < *count; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := sender.Magic(ctx, *address, *port, target, log)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}
