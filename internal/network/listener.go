package network

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/vcmi/proxy-server/internal/config"
)

// Handler processes a single accepted connection. The handler owns the
// connection for its whole lifetime and must close it before returning.
type Handler interface {
	HandleConn(ctx context.Context, conn *Conn)
}

// Listener accepts TCP connections on the lobby port and hands each one
// to the handler in its own goroutine.
type Listener struct {
	cfg      *config.Config
	handler  Handler
	listener net.Listener
	active   atomic.Int32
}

// NewListener creates a new lobby listener.
func NewListener(cfg *config.Config, handler Handler) *Listener {
	return &Listener{
		cfg:     cfg,
		handler: handler,
	}
}

// Start begins accepting connections. Blocks until ctx is cancelled or
// the listener fails.
func (l *Listener) Start(ctx context.Context) error {
	server := l.cfg.GetServer()
	addr := server.Addr()

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Int("max_connections", server.MaxConnections).Msg("lobby listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		rawConn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("lobby listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		if int(l.active.Load()) >= server.MaxConnections {
			log.Warn().
				Str("remote", rawConn.RemoteAddr().String()).
				Msg("connection limit reached, dropping connection")
			rawConn.Close()
			continue
		}

		log.Debug().Str("remote", rawConn.RemoteAddr().String()).Msg("new connection")

		conn := NewConn(rawConn)
		l.active.Add(1)
		go func() {
			defer l.active.Add(-1)
			defer conn.Close()
			l.handler.HandleConn(ctx, conn)
		}()
	}
}

// ActiveConnections returns the number of connections currently handled.
func (l *Listener) ActiveConnections() int {
	return int(l.active.Load())
}

// Stop closes the listening socket.
func (l *Listener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
