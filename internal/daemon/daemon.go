// Package daemon serves the session backend on a unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/kevinzwang/termdeck/internal/lifecycle"
	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/kevinzwang/termdeck/internal/ptyhost"
	"github.com/kevinzwang/termdeck/internal/rpc"
	"github.com/kevinzwang/termdeck/internal/target"
	"github.com/kevinzwang/termdeck/internal/wire"
	"pkt.systems/pslog"
)

const (
	CodeBadRequest      = "bad_request"
	CodeSessionNotFound = "session_not_found"
)

// Server exposes a ptyhost.Manager over rpc.
type Server struct {
	socketPath string
	log        pslog.Logger
	rpc        *rpc.Server
	sessions   *ptyhost.Manager
	ln         net.Listener
}

func New(socketPath string, specs []ptyhost.Spec, logger pslog.Logger) *Server {
	srv := rpc.NewServer(logger)
	s := &Server{
		socketPath: socketPath,
		log:        logger,
		rpc:        srv,
		sessions:   ptyhost.NewManager(specs, srv, logger),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	handle(s, lifecycle.MethodCreate, func(ctx context.Context, args lifecycle.CreateArgs) (any, error) {
		id, err := s.sessions.Create(args.TargetName)
		if err != nil {
			return nil, rpc.Errorf(lifecycle.CodeSessionCreate, "%v", err)
		}
		return id, nil
	})
	handle(s, lifecycle.MethodWrite, func(ctx context.Context, args lifecycle.WriteArgs) (any, error) {
		return nil, sessionError(s.sessions.Write(args.SessionID, args.Bytes))
	})
	handle(s, lifecycle.MethodResize, func(ctx context.Context, args lifecycle.ResizeArgs) (any, error) {
		return nil, sessionError(s.sessions.Resize(args.SessionID, args.Cols, args.Rows))
	})
	handle(s, lifecycle.MethodIsAlive, func(ctx context.Context, args lifecycle.SessionArgs) (any, error) {
		return s.sessions.IsAlive(args.SessionID), nil
	})
	handle(s, lifecycle.MethodClose, func(ctx context.Context, args lifecycle.SessionArgs) (any, error) {
		return nil, sessionError(s.sessions.Close(args.SessionID))
	})
	handle(s, target.MethodList, func(ctx context.Context, _ struct{}) (any, error) {
		return s.sessions.Targets(), nil
	})
}

func handle[A any](s *Server, method string, fn func(ctx context.Context, args A) (any, error)) {
	s.rpc.Handle(method, func(ctx context.Context, raw wire.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 {
			if err := wire.Unmarshal(raw, &args); err != nil {
				return nil, rpc.Errorf(CodeBadRequest, "invalid arguments for %s: %v", method, err)
			}
		}
		result, err := fn(ctx, args)
		if err != nil {
			logx.WithMethod(s.log, method).Debug("request failed", "err", err)
		}
		return result, err
	})
}

func sessionError(err error) error {
	if errors.Is(err, ptyhost.ErrSessionNotFound) {
		return rpc.Errorf(CodeSessionNotFound, "%v", err)
	}
	return err
}

// Listen binds the socket, replacing a stale one left by a dead daemon.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if Reachable(context.Background(), s.socketPath) {
		return fmt.Errorf("a daemon is already listening on %s", s.socketPath)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}
	s.ln = ln
	return nil
}

// Serve handles clients until ctx is cancelled, then terminates every
// session and removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("daemon is not listening")
	}
	s.log.Info("daemon listening", "socket", s.socketPath)
	err := s.rpc.Serve(ctx, s.ln)

	s.sessions.CloseAll()
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		s.log.Warn("failed to remove socket", "err", rmErr)
	}
	s.log.Info("daemon stopped")
	return err
}

// Run listens and serves.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Reachable reports whether something accepts connections on socketPath.
func Reachable(ctx context.Context, socketPath string) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
