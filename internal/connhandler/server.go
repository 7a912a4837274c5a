// Package connhandler implements the Connection Handler component: the
// listener accept loop plus one goroutine per accepted connection, built
// around a tracked connection set, an accept loop, and a graceful Stop
// that drains in-flight handlers, serving the framed-CBOR
// protocol and secret handshake pueue's network/socket.rs describes.
package connhandler

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"firestige.xyz/duskq/internal/config"
	"firestige.xyz/duskq/internal/dispatcher"
)

// Server accepts client connections and hands each to its own goroutine.
type Server struct {
	Config     *config.GlobalConfig
	Dispatcher *dispatcher.Dispatcher
	Secret     []byte
	Version    string

	// Shutdown is invoked once, from a connection goroutine, when a
	// DaemonShutdown request is dispatched successfully.
	Shutdown func()

	listener net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	stopped bool
}

// New builds a Server. Call Start to begin accepting.
func New(cfg *config.GlobalConfig, disp *dispatcher.Dispatcher, secret []byte, version string, shutdown func()) *Server {
	return &Server{
		Config:     cfg,
		Dispatcher: disp,
		Secret:     secret,
		Version:    version,
		Shutdown:   shutdown,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start opens the configured listener (Unix socket by default, TCP+TLS
// when daemon.tcp_address is set) and accepts connections until ctx is
// cancelled. Blocks until the accept loop and all handlers exit.
func (s *Server) Start(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = listener

	slog.Info("connection handler listening", "addr", listener.Addr())

	go s.acceptLoop(ctx)

	<-ctx.Done()
	return s.Stop()
}

func (s *Server) listen() (net.Listener, error) {
	d := s.Config.Daemon
	if d.TCPAddress != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("connhandler: load tls cert: %w", err)
		}
		return tls.Listen("tcp", d.TCPAddress, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	if err := os.RemoveAll(d.SocketPath); err != nil {
		return nil, fmt.Errorf("connhandler: remove stale socket: %w", err)
	}
	l, err := net.Listen("unix", d.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("connhandler: listen on %s: %w", d.SocketPath, err)
	}
	if err := os.Chmod(d.SocketPath, 0o600); err != nil {
		l.Close()
		return nil, fmt.Errorf("connhandler: chmod socket: %w", err)
	}
	return l, nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			slog.Error("accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			handleConn(ctx, conn, s.Dispatcher, s.Secret, s.Version, s.Shutdown)
		}()
	}
}

// Stop closes the listener and every tracked connection, then waits for
// in-flight handlers to drain before returning.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if s.Config.Daemon.TCPAddress == "" {
		os.RemoveAll(s.Config.Daemon.SocketPath)
	}
	slog.Info("connection handler stopped")
	return nil
}
