// Package metrics exposes Prometheus counters for the agent.
package metrics

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry holds every sleeponlan collector.
var Registry = prometheus.NewRegistry()

var (
	// PacketsTotal counts datagrams by validation verdict.
	PacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleeponlan_packets_total",
			Help: "Number of datagrams received, by verdict",
		},
		[]string{"verdict"},
	)

	// PowerOffRequests counts power-off invocations.
	PowerOffRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sleeponlan_poweroff_requests_total",
			Help: "Number of power-off invocations",
		},
	)

	// PowerOffFailures counts power-off commands that failed to start or exited non-zero.
	PowerOffFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sleeponlan_poweroff_failures_total",
			Help: "Number of failed power-off commands",
		},
	)

	// ReceiveErrors counts unexpected socket read errors.
	ReceiveErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sleeponlan_receive_errors_total",
			Help: "Number of unexpected UDP receive errors",
		},
	)

	// Listening is 1 while the listener loop is bound and running.
	Listening = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleeponlan_listening",
			Help: "Whether the magic packet listener is running",
		},
	)
)

func init() {
	Registry.MustRegister(
		PacketsTotal,
		PowerOffRequests,
		PowerOffFailures,
		ReceiveErrors,
		Listening,
	)
}

// Server serves /metrics over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts an HTTP server for the registry on addr.
func Serve(addr string, log zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	log.Info().Str("address", ln.Addr().String()).Msg("Metrics server started")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.srv.Close()
}
