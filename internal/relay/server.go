package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server hosts a Hub at /ws on a TCP listener.
type Server struct {
	hub      *Hub
	listener net.Listener
	http     *http.Server
}

// NewServer creates a relay server with the given per-connection limits.
func NewServer(opts Options) *Server {
	return &Server{hub: NewHub(opts)}
}

// Start begins listening on addr (":0" picks a free port) and returns the
// bound address.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)

	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = s.http.Serve(listener)
	}()

	return listener.Addr().String(), nil
}

// Hub returns the underlying hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close stops accepting connections and drops connected peers.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	// Hijacked WebSocket connections are invisible to Shutdown.
	s.hub.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return s.http.Close()
	}
	return err
}
