// sleeponlan powers a machine off when it receives a magic packet addressed
// to one of its own interfaces.
//
// Usage:
//
//	sleeponlan run      listen for magic packets and power off on a match
//	sleeponlan status   query a running agent
//	sleeponlan send     emit a magic packet to a remote agent
package main

import (
	"fmt"
	"os"
	"strings"

	"sleeponlan/cmd/control"
	"sleeponlan/cmd/daemon"
	"sleeponlan/cmd/send"
)

const (
	defaultSystemPath = "/etc/sleeponlan/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "0.3.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "run":
		err = daemon.Run(configPath)
	case "identity":
		err = daemon.Identity(configPath)
	case "status":
		err = control.Status(configPath)
	case "stop":
		err = control.Stop(configPath)
	case "history":
		err = control.History(configPath, args[1:])
	case "send":
		err = send.Run(configPath, args[1:])
	case "edit":
		err = daemon.EditConfig(configPath)
	case "version":
		fmt.Printf("sleeponlan v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`sleeponlan v%s - Sleep-on-LAN agent

Usage:
  sleeponlan <command> [--config <path>] [flags]

Commands:
  run       Listen for magic packets and power off when one matches
  identity  Print the hardware addresses this machine answers to
  status    Show the state of a running agent
  stop      Ask a running agent to stop listening
  history   Show recent packet decisions (--limit N)
  send      Send a magic packet (--mac, --address, --port, --count)
  edit      Edit the configuration file in your system editor
  version   Print version information
  help      Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Examples:
  sleeponlan run                                    # Start the agent
  sleeponlan history -n 50                          # Last 50 decisions
  sleeponlan send --mac AA:BB:CC:DD:EE:FF           # Broadcast a magic packet
  sleeponlan send --mac AA:BB:CC:DD:EE:FF -a 10.0.0.7

`, version, defaultSystemPath)
}
