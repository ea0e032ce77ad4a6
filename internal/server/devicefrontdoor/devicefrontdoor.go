// Package devicefrontdoor accepts device TLS connections, assigns each a
// monotonically increasing connection id, and hands the connection off to
// the session layer. Grounded on
// _examples/edgetainer-edgetainer/internal/server/ssh/server.go (the
// teacher's accept loop and connection-replacement shape, generalized away
// from the SSH wire protocol since this system shells out to an external
// ssh client rather than speaking SSH itself) and
// _examples/original_source/server/src/device_server/mod.rs's
// connection_id wrapping-add idiom.
package devicefrontdoor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bryanburgers/connectbot/internal/server/session"
	"github.com/bryanburgers/connectbot/internal/server/world"
)

// Server accepts TLS device connections on a configured address.
type Server struct {
	Address   string
	TLSConfig *tls.Config

	World     *world.World
	SshConfig session.SshConfig
	Logger    zerolog.Logger

	nextConnectionId uint64
}

// ListenAndServe binds Address and accepts connections until ctx is
// canceled. Accept errors are logged and do not terminate the listener,
// matching the teacher's accept-loop resilience.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.Address, s.TLSConfig)
	if err != nil {
		return fmt.Errorf("devicefrontdoor: listen %s: %w", s.Address, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.Logger.Info().Str("address", s.Address).Msg("device front door listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.Logger.Warn().Err(err).Msg("accept error")
			continue
		}

		connectionId := atomic.AddUint64(&s.nextConnectionId, 1)
		sess := session.New(connectionId, conn, s.World, s.SshConfig, s.Logger)
		go sess.Run(ctx)
	}
}

// Listener is the net.Listener interface subset devicefrontdoor depends
// on; exported for tests that want to drive the accept loop over a custom
// (non-TLS) listener via ServeListener.
type Listener interface {
	net.Listener
}

// ServeListener is ListenAndServe's inner loop, parameterized over an
// already-bound listener -- used by tests to exercise the front door over
// a plain net.Pipe-backed listener instead of a real TLS socket.
func (s *Server) ServeListener(ctx context.Context, ln Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.Logger.Warn().Err(err).Msg("accept error")
			continue
		}

		connectionId := atomic.AddUint64(&s.nextConnectionId, 1)
		sess := session.New(connectionId, conn, s.World, s.SshConfig, s.Logger)
		go sess.Run(ctx)
	}
}
