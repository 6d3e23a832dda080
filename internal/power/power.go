// Package power turns the machine off.
package power

import (
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"sleeponlan/internal/metrics"
)

// Invoker powers off the host. Implementations never return failures to the
// caller and must be safe to call repeatedly.
type Invoker interface {
	PowerOff()
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func()

// PowerOff implements Invoker.
func (f InvokerFunc) PowerOff() { f() }

// CommandFor returns the power-off command for the given GOOS.
func CommandFor(goos string) (string, []string) {
	switch goos {
	case "windows":
		return "shutdown", []string{"/s", "/t", "0"}
	case "linux":
		return "systemctl", []string{"poweroff", "-i"}
	case "darwin":
		return "shutdown", []string{"-h", "now"}
	default:
		return "shutdown", []string{"-p", "now"}
	}
}

// startFunc launches a command and returns a function waiting for it.
type startFunc func(name string, args ...string) (func() error, error)

func execStart(name string, args ...string) (func() error, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

// Command runs the platform power-off command without waiting for it.
type Command struct {
	goos  string
	start startFunc
	log   zerolog.Logger
}

// NewCommand returns a Command for the running platform.
func NewCommand(log zerolog.Logger) *Command {
	return &Command{goos: runtime.GOOS, start: execStart, log: log}
}

// PowerOff implements Invoker.
func (c *Command) PowerOff() {
	name, args := CommandFor(c.goos)
	cmdline := name + " " + strings.Join(args, " ")

	c.log.Warn().Str("os", c.goos).Str("command", cmdline).Msg("Shutdown requested")
	metrics.PowerOffRequests.Inc()

	wait, err := c.start(name, args...)
	if err != nil {
		metrics.PowerOffFailures.Inc()
		c.log.Error().Err(err).Str("command", cmdline).Msg("Failed to run power-off command")
		return
	}

	go func() {
		if err := wait(); err != nil {
			metrics.PowerOffFailures.Inc()
			c.log.Error().Err(err).Str("command", cmdline).Msg("Power-off command failed")
		}
	}()
}

// DryRun logs instead of powering off.
type DryRun struct {
	Log zerolog.Logger
}

// PowerOff implements Invoker.
func (d DryRun) PowerOff() {
	metrics.PowerOffRequests.Inc()
	name, args := CommandFor(runtime.GOOS)
	d.Log.Warn().
		Str("command", name+" "+strings.Join(args, " ")).
		Msg("Dry run, not powering off")
}
