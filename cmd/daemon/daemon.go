// Package daemon implements the sleeponlan run and identity commands.
package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sleeponlan/internal/agent"
	"sleeponlan/internal/identity"
	"sleeponlan/internal/listener"
	"sleeponlan/internal/metrics"
	"sleeponlan/internal/power"
	"sleeponlan/internal/rpc"
	"sleeponlan/internal/store"
	"sleeponlan/internal/sysinfo"
	"sleeponlan/pkg/config"
	"sleeponlan/pkg/logger"
)

const readyTimeout = 5 * time.Second

// Run starts the agent and blocks until it is stopped by a signal or over
// the control socket.
func Run(configPath string) error {
	cfg, loaded, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, closeLog := logger.Init(cfg.Agent.LogLevel, cfg.Agent.LogPath)
	defer closeLog()

	if !loaded {
		log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
	}

	poll, err := cfg.Agent.ParsePollInterval()
	if err != nil {
		return err
	}
	stopTimeout, err := cfg.Agent.ParseStopTimeout()
	if err != nil {
		return err
	}
	retention, err := cfg.Agent.ParseHistoryRetention()
	if err != nil {
		return err
	}

	host := sysinfo.Collect()
	log.Info().
		Str("hostname", host.Hostname).
		Str("os", host.OSName).
		Str("kernel", host.Kernel).
		Str("arch", host.Arch).
		Bool("dry_run", cfg.Agent.DryRun).
		Msg("Starting sleeponlan agent")

	var recorder listener.Recorder
	var history rpc.History
	if db := openHistory(cfg.Agent.DBPath, cfg.Agent.MaxRecords, retention, log); db != nil {
		defer db.Close()
		queue := store.NewQueue(db, store.DefaultQueueSize)
		defer queue.Close()
		recorder = queue
		history = db
	}

	var invoker power.Invoker = power.NewCommand(log)
	if cfg.Agent.DryRun {
		invoker = power.DryRun{Log: log}
	}

	a := agent.New(
		listener.Config{
			BindAddress:  cfg.Agent.BindAddress,
			Port:         cfg.Agent.Port,
			PollInterval: poll,
		},
		identity.Interfaces{Name: cfg.Agent.Interface, All: cfg.Agent.AllInterfaces},
		invoker,
		recorder,
		log,
	)

	if err := a.Start(); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	if err := a.WaitReady(readyTimeout); err != nil {
		a.Stop(stopTimeout)
		return fmt.Errorf("listener did not start: %w", err)
	}

	if srv := startControl(cfg.Agent.RPCSocket, a, history, stopTimeout, log); srv != nil {
		defer srv.Close()
	}

	if cfg.Agent.MetricsAddress != "" {
		ms, err := metrics.Serve(cfg.Agent.MetricsAddress, log)
		if err != nil {
			log.Warn().Err(err).Str("address", cfg.Agent.MetricsAddress).Msg("Metrics server unavailable")
		} else {
			defer ms.Close()
		}
	}

	// Wait for shutdown signal or the listener exiting on its own
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		a.Stop(stopTimeout)
	case <-a.Done():
		log.Info().Msg("Listener exited, shutting down")
	}

	log.Info().Msg("Exiting")
	return nil
}

// openHistory opens the decision store. An empty path or a failure leaves
// history disabled.
func openHistory(path string, maxRecords int, retention time.Duration, log zerolog.Logger) *store.Store {
	if path == "" {
		log.Info().Msg("Decision history disabled by config")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		log.Warn().Err(err).Str("db_path", path).Msg("Decision history disabled")
		return nil
	}
	db, err := store.New(path, maxRecords, log)
	if err != nil {
		log.Warn().Err(err).Str("db_path", path).Msg("Decision history disabled")
		return nil
	}
	db.RunRetention(time.Hour, retention)
	return db
}

func startControl(socketPath string, a *agent.Agent, history rpc.History, stopTimeout time.Duration, log zerolog.Logger) *rpc.Server {
	if socketPath == "" {
		log.Info().Msg("Control socket disabled by config")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		log.Warn().Err(err).Str("rpc_socket", socketPath).Msg("Control socket unavailable")
		return nil
	}
	srv, err := rpc.StartServer(socketPath, a, history, stopTimeout, log)
	if err != nil {
		log.Warn().Err(err).Str("rpc_socket", socketPath).Msg("Control socket unavailable")
		return nil
	}
	return srv
}

// Identity prints the hardware addresses the agent would accept.
func Identity(configPath string) error {
	cfg, _, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allowed, err := identity.Interfaces{Name: cfg.Agent.Interface, All: cfg.Agent.AllInterfaces}.Resolve()
	if err != nil {
		return err
	}
	if allowed.Len() == 0 {
		fmt.Println("No usable hardware address found; magic packets can never match.")
		return nil
	}
	for _, a := range allowed.Strings() {
		fmt.Println(a)
	}
	return nil
}
