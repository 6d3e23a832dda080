package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"sleeponlan/pkg/config"
)

const defaultConfigTemplate = `[agent]
  bind_address      = ""
  port              = 4100
  poll_interval     = "1s"
  stop_timeout      = "3s"
  interface         = ""
  all_interfaces    = false
  dry_run           = false
  log_level         = "info"
  # Paths: "" uses the built-in default, "-" disables the feature.
  log_path          = ""
  db_path           = ""
  history_retention = "720h"
  max_records       = 10000
  rpc_socket        = ""
  metrics_address   = ""

[send]
  address = "255.255.255.255"
  port    = 4100
`

// EditConfig opens the configuration file in the user's editor, creating it
// from the default template first, and validates the result once the editor
// exits.
func EditConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", editor, err)
	}

	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("edited config is not usable, the agent will refuse to start: %w", err)
	}
	fmt.Printf("Config %s is valid.\n", path)
	return nil
}

// findEditor prefers $VISUAL, then $EDITOR, then the first common editor on PATH.
func findEditor() (string, error) {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if e := os.Getenv(env); e != "" {
			return e, nil
		}
	}

	candidates := []string{"vi", "nano", "vim"}
	if runtime.GOOS == "windows" {
		candidates = []string{"notepad"}
	}
	for _, e := range candidates {
		if _, err := exec.LookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found: set $EDITOR or install one of %s", strings.Join(candidates, ", "))
}
