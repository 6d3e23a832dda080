// Package agent coordinates the lifecycle of the magic packet listener.
package agent

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sleeponlan/internal/identity"
	"sleeponlan/internal/listener"
	"sleeponlan/internal/power"
	"sleeponlan/internal/sender"
)

// ErrAlreadyRunning is returned by Start while a previous run has not stopped.
var ErrAlreadyRunning = errors.New("agent already running")

// Agent starts the listener loop in the background and stops it on request.
type Agent struct {
	cfg      listener.Config
	resolver identity.Resolver
	invoker  power.Invoker
	recorder listener.Recorder
	log      zerolog.Logger

	token listener.Token

	mu      sync.Mutex
	allowed identity.Set
	addr    net.Addr
	bindErr error
	ready   chan struct{}
	done    chan struct{}
}

// New creates an agent. recorder may be nil.
func New(cfg listener.Config, resolver identity.Resolver, invoker power.Invoker, recorder listener.Recorder, log zerolog.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		resolver: resolver,
		invoker:  invoker,
		recorder: recorder,
		log:      log,
	}
}

// Start resolves the allowed identities and launches the listener loop. It
// does not wait for the socket to bind; use WaitReady for that.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token.State() != listener.Stopped {
		return ErrAlreadyRunning
	}

	allowed, err := a.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolving local identity: %w", err)
	}
	a.log.Info().Strs("allowed", allowed.Strings()).Msg("Local identity resolved")

	if !a.token.Begin() {
		return ErrAlreadyRunning
	}

	ready := make(chan struct{})
	done := make(chan struct{})
	a.allowed = allowed
	a.addr = nil
	a.bindErr = nil
	a.ready = ready
	a.done = done

	loop := listener.New(a.cfg, allowed, a.invoker, a.recorder, a.log)
	go func() {
		defer close(done)
		loop.Run(&a.token, func(addr net.Addr, err error) {
			a.mu.Lock()
			a.addr = addr
			if !errors.Is(err, listener.ErrStopped) {
				a.bindErr = err
			}
			a.mu.Unlock()
			close(ready)
		})
	}()

	return nil
}

// Stop signals the loop, pokes its socket so a pending receive returns early,
// and waits up to timeout for the loop to exit. It reports whether the loop
// stopped in time. An agent that was never started counts as stopped.
func (a *Agent) Stop(timeout time.Duration) bool {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	if done == nil {
		return true
	}

	if a.token.RequestStop() {
		a.log.Info().Msg("Stop requested")
		// The loop publishes its address before it first checks for a stop,
		// so a nil address here means it will exit without reading.
		if addr := a.Addr(); addr != nil {
			if err := sender.Poke(addr); err != nil {
				a.log.Debug().Err(err).Msg("Wake-up datagram not sent")
			}
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		a.log.Info().Msg("Agent stopped")
		return true
	case <-timer.C:
		a.log.Warn().Dur("timeout", timeout).Msg("Listener did not stop in time, continuing teardown")
		return false
	}
}

// WaitReady blocks until the loop has bound its socket, returning the bind
// error if it failed or listener.ErrStopped if a stop came first.
func (a *Agent) WaitReady(timeout time.Duration) error {
	a.mu.Lock()
	ready := a.ready
	a.mu.Unlock()

	if ready == nil {
		return errors.New("agent not started")
	}

	select {
	case <-ready:
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.bindErr != nil {
			return a.bindErr
		}
		if a.addr == nil {
			return listener.ErrStopped
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("listener not ready after %s", timeout)
	}
}

// Listening reports whether the loop is bound and serving.
func (a *Agent) Listening() bool {
	a.mu.Lock()
	bound := a.addr != nil && a.bindErr == nil
	a.mu.Unlock()
	return bound && a.token.State() == listener.Listening
}

// State returns the listener state.
func (a *Agent) State() listener.State {
	return a.token.State()
}

// Err returns the bind error of the current run, if any. A run stopped
// before it bound reports no error.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bindErr
}

// Addr returns the bound address of the current run, or nil.
func (a *Agent) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Allowed returns the identities resolved at the last Start.
func (a *Agent) Allowed() identity.Set {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowed
}

// Done is closed when the current run's loop exits. It is nil before Start.
func (a *Agent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}
