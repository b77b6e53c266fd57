package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/jrsharp/9p4z-sub000/pkg/transport"
)

// Server accepts carrier connections and runs one Session per
// connection. The backend is shared across sessions and must tolerate
// concurrent calls; each session's fid and tag state is its own.
type Server struct {
	fs   FileSystem
	log  *zap.Logger
	opts []Option
}

// NewServer wraps fs for serving. opts are applied to every session.
func NewServer(fs FileSystem, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{fs: fs, log: log, opts: opts}
}

// Serve accepts connections on ln until the context is canceled or the
// listener fails. It blocks; cancellation closes the listener and waits
// for in-flight sessions to finish.
func (srv *Server) Serve(ctx context.Context, ln *transport.TCPListener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			remote := conn.RemoteAddr().String()
			srv.log.Info("session started", zap.String("remote", remote))
			sess := NewSession(srv.fs, conn, append([]Option{WithLogger(srv.log)}, srv.opts...)...)
			if err := sess.Serve(ctx); err != nil {
				srv.log.Warn("session failed", zap.String("remote", remote), zap.Error(err))
				return
			}
			srv.log.Info("session ended", zap.String("remote", remote))
		}()
	}
}
