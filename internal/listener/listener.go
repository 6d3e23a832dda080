// Package listener implements the UDP receiver that waits for magic packets.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"sleeponlan/internal/identity"
	"sleeponlan/internal/magic"
	"sleeponlan/internal/metrics"
	"sleeponlan/internal/power"
	"sleeponlan/internal/sockopt"
	"sleeponlan/internal/store"
)

const (
	// DefaultPort is the UDP port the agent listens on.
	DefaultPort = 4100
	// DefaultPollInterval bounds how long a receive blocks before the stop
	// signal is checked again.
	DefaultPollInterval = time.Second

	maxDatagramSize = 4096
)

// Recorder keeps a history of packet decisions.
type Recorder interface {
	Record(d store.Decision) error
}

// Config holds the socket settings of a Loop.
type Config struct {
	BindAddress  string
	Port         int
	PollInterval time.Duration
}

// Loop receives datagrams and powers the host off when one is a magic
// packet for an allowed identity.
type Loop struct {
	cfg      Config
	allowed  identity.Set
	invoker  power.Invoker
	recorder Recorder
	log      zerolog.Logger
}

// New creates a loop. recorder may be nil.
func New(cfg Config, allowed identity.Set, invoker power.Invoker, recorder Recorder, log zerolog.Logger) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Loop{
		cfg:      cfg,
		allowed:  allowed,
		invoker:  invoker,
		recorder: recorder,
		log:      log,
	}
}

// ErrStopped is passed to the ready callback when a stop was requested
// before the socket finished binding.
var ErrStopped = errors.New("listener stopped before binding")

// Run binds the socket and serves until token is moved to Stopping or the
// socket is closed. ready, if non-nil, is called once before any datagram is
// read: with the bound address, with the bind error, or with ErrStopped. The
// token is reset to Stopped on every return path.
func (l *Loop) Run(token *Token, ready func(net.Addr, error)) error {
	defer token.acknowledge()

	notify := func(addr net.Addr, err error) {
		if ready != nil {
			ready(addr, err)
		}
	}

	switch st := token.State(); st {
	case Starting:
	case Stopping:
		notify(nil, ErrStopped)
		return nil
	default:
		err := fmt.Errorf("listener token is %s, not starting", st)
		notify(nil, err)
		return err
	}

	conn, err := l.bind()
	if err != nil {
		l.log.Error().
			Err(err).
			Str("bind_address", l.cfg.BindAddress).
			Int("port", l.cfg.Port).
			Msg("Bind error")
		notify(nil, err)
		return err
	}

	pc := ipv4.NewPacketConn(conn)
	if !token.listen() {
		pc.Close()
		notify(nil, ErrStopped)
		return nil
	}
	defer func() {
		pc.Close()
		metrics.Listening.Set(0)
		l.log.Info().Msg("UDP listener stopped")
	}()

	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		l.log.Debug().Err(err).Msg("Destination address reporting unavailable")
	}

	metrics.Listening.Set(1)
	l.log.Info().
		Str("address", conn.LocalAddr().String()).
		Strs("allowed", l.allowed.Strings()).
		Dur("poll_interval", l.cfg.PollInterval).
		Msg("Listening for magic packets")
	if l.allowed.Len() == 0 {
		l.log.Warn().Msg("No allowed hardware address, shutdown can never trigger")
	}

	notify(conn.LocalAddr(), nil)

	buf := make([]byte, maxDatagramSize)
	for !token.stopRequested() {
		if err := pc.SetReadDeadline(time.Now().Add(l.cfg.PollInterval)); err != nil {
			l.log.Error().Err(err).Msg("Failed to set read deadline")
			return nil
		}

		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				l.log.Info().Msg("Socket closed, leaving receive loop")
				return nil
			}
			metrics.ReceiveErrors.Inc()
			l.log.Warn().Err(err).Msg("Error reading from UDP")
			continue
		}

		// A stop may have raced the receive.
		if token.stopRequested() {
			break
		}

		l.handle(buf[:n], src, cm)
	}
	return nil
}

func (l *Loop) bind() (net.PacketConn, error) {
	lc := net.ListenConfig{Control: sockopt.Control}
	addr := net.JoinHostPort(l.cfg.BindAddress, strconv.Itoa(l.cfg.Port))
	conn, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on UDP %s: %w", addr, err)
	}
	if err := conn.(*net.UDPConn).SetReadBuffer(maxDatagramSize * 16); err != nil {
		l.log.Warn().Err(err).Msg("Failed to set read buffer")
	}
	return conn, nil
}

func (l *Loop) handle(data []byte, src net.Addr, cm *ipv4.ControlMessage) {
	target, verdict := magic.Inspect(data, l.allowed)
	accepted := verdict == magic.Accepted
	metrics.PacketsTotal.WithLabelValues(verdictLabel(verdict)).Inc()

	ev := l.log.Info()
	if accepted {
		ev = l.log.Warn()
	}
	ev = ev.Str("src", src.String()).Int("bytes", len(data))
	if cm != nil && cm.Dst != nil {
		ev = ev.Str("dst", cm.Dst.String())
	}
	if !target.IsZero() {
		ev = ev.Str("target", target.String())
	}

	if accepted {
		ev.Msg("Magic packet accepted, executing shutdown")
	} else {
		ev.Str("reason", verdict.String()).Msg("Packet ignored")
	}

	l.record(store.Decision{
		Time:     time.Now(),
		Source:   src.String(),
		Target:   targetString(target),
		Verdict:  verdict.String(),
		Accepted: accepted,
	})

	if accepted {
		l.powerOff()
	}
}

func (l *Loop) record(d store.Decision) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Record(d); err != nil {
		l.log.Warn().Err(err).Msg("Failed to record decision")
	}
}

// powerOff keeps the loop alive even if the invoker panics.
func (l *Loop) powerOff() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("Power-off invoker panicked")
		}
	}()
	l.invoker.PowerOff()
}

func targetString(t identity.HardwareAddr) string {
	if t.IsZero() {
		return ""
	}
	return t.String()
}

func verdictLabel(v magic.Verdict) string {
	switch v {
	case magic.Accepted:
		return "accepted"
	case magic.NoMarker:
		return "no_marker"
	case magic.ShortPayload:
		return "short_payload"
	case magic.UnknownTarget:
		return "unknown_target"
	case magic.BadRepetition:
		return "bad_repetition"
	default:
		return "unknown"
	}
}
