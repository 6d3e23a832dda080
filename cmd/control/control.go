// Package control implements the status, stop and history commands, which
// talk to a running agent over its control socket.
package control

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"sleeponlan/internal/rpc"
	"sleeponlan/internal/store"
	"sleeponlan/pkg/config"
)

func dial(configPath string) (*rpc.Client, error) {
	cfg, _, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	client, err := rpc.NewClient(cfg.Agent.RPCSocket)
	if err != nil {
		return nil, fmt.Errorf("%w\nIs 'sleeponlan run' running?", err)
	}
	return client, nil
}

// Status prints whether the agent is listening.
func Status(configPath string) error {
	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	fmt.Printf("  State:     %s\n", st.State)
	fmt.Printf("  Listening: %t\n", st.Listening)
	fmt.Printf("  Address:   %s\n", st.Address)
	fmt.Printf("  Allowed:   %s\n", strings.Join(st.Allowed, ", "))
	fmt.Printf("  Host:      %s (%s)\n", st.Hostname, st.OS)
	return nil
}

// Stop asks the agent to stop listening and exit.
func Stop(configPath string) error {
	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	stopped, err := client.Stop()
	if err != nil {
		return fmt.Errorf("requesting stop: %w", err)
	}
	if !stopped {
		fmt.Println("Stop requested; the listener did not confirm in time.")
		return nil
	}
	fmt.Println("Agent stopped.")
	return nil
}

// History prints recent packet decisions.
func History(configPath string, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.IntP("limit", "n", 20, "Number of decisions to show (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	decisions, err := client.History(*limit)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	if len(decisions) == 0 {
		fmt.Println("No packets recorded yet.")
		return nil
	}

	printHistory(os.Stdout, decisions)
	return nil
}

func printHistory(w io.Writer, decisions []store.Decision) {
	fmt.Fprintf(w, "  %-20s  %-22s  %-17s  %s\n", "TIME", "SOURCE", "TARGET", "VERDICT")
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", 80))
	for _, d := range decisions {
		target := d.Target
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(w, "  %-20s  %-22s  %-17s  %s\n",
			d.Time.Local().Format(time.DateTime), d.Source, target, d.Verdict)
	}
}
