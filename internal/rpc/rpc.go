// Package rpc provides the Unix socket control surface of a running agent.
package rpc

import (
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"time"

	"github.com/rs/zerolog"

	"sleeponlan/internal/identity"
	"sleeponlan/internal/listener"
	"sleeponlan/internal/store"
	"sleeponlan/internal/sysinfo"
)

// Agent is the part of agent.Agent the control surface needs.
type Agent interface {
	State() listener.State
	Listening() bool
	Addr() net.Addr
	Allowed() identity.Set
	Stop(timeout time.Duration) bool
}

// History lists recorded decisions.
type History interface {
	Recent(limit int) ([]store.Decision, error)
}

// Service is the RPC service exposed by the agent.
type Service struct {
	agent       Agent
	history     History
	host        sysinfo.SystemInfo
	stopTimeout time.Duration
	log         zerolog.Logger
}

// StatusArgs is the request for Status.
type StatusArgs struct{}

// StatusReply is the response for Status.
type StatusReply struct {
	State     string
	Listening bool
	Address   string
	Allowed   []string
	Hostname  string
	OS        string
}

// StopArgs is the request for Stop.
type StopArgs struct{}

// StopReply is the response for Stop.
type StopReply struct {
	Stopped bool
}

// HistoryArgs is the request for History.
type HistoryArgs struct {
	Limit int
}

// HistoryReply is the response for History.
type HistoryReply struct {
	Decisions []store.Decision
}

// Status reports the listener state.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	reply.State = s.agent.State().String()
	reply.Listening = s.agent.Listening()
	if addr := s.agent.Addr(); addr != nil {
		reply.Address = addr.String()
	}
	reply.Allowed = s.agent.Allowed().Strings()
	reply.Hostname = s.host.Hostname
	reply.OS = s.host.OSName
	return nil
}

// Stop asks the listener to stop and reports whether it did in time.
func (s *Service) Stop(args *StopArgs, reply *StopReply) error {
	s.log.Info().Msg("Exit requested over control socket")
	reply.Stopped = s.agent.Stop(s.stopTimeout)
	return nil
}

// History returns the most recent decisions, newest first.
func (s *Service) History(args *HistoryArgs, reply *HistoryReply) error {
	if s.history == nil {
		return errors.New("decision history is disabled")
	}
	decisions, err := s.history.Recent(args.Limit)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	reply.Decisions = decisions
	return nil
}

// Server accepts control connections on a Unix socket.
type Server struct {
	listener   net.Listener
	socketPath string
}

// StartServer starts the Unix socket RPC server. history may be nil.
func StartServer(socketPath string, a Agent, history History, stopTimeout time.Duration, log zerolog.Logger) (*Server, error) {
	service := &Service{
		agent:       a,
		history:     history,
		host:        sysinfo.Collect(),
		stopTimeout: stopTimeout,
		log:         log,
	}

	server := netrpc.NewServer()
	if err := server.Register(service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove existing socket file if present
	os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("Control socket started")

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return &Server{listener: ln, socketPath: socketPath}, nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.socketPath)
	return err
}

// Client is a client for the agent control socket.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Status fetches the agent status.
func (c *Client) Status() (*StatusReply, error) {
	reply := &StatusReply{}
	if err := c.client.Call("Service.Status", &StatusArgs{}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Stop asks the agent to stop listening and exit.
func (c *Client) Stop() (bool, error) {
	reply := &StopReply{}
	if err := c.client.Call("Service.Stop", &StopArgs{}, reply); err != nil {
		return false, err
	}
	return reply.Stopped, nil
}

// History fetches up to limit recent decisions.
func (c *Client) History(limit int) ([]store.Decision, error) {
	reply := &HistoryReply{}
	if err := c.client.Call("Service.History", &HistoryArgs{Limit: limit}, reply); err != nil {
		return nil, err
	}
	return reply.Decisions, nil
}
