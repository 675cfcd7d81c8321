package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/kevinzwang/termdeck/internal/wire"
	"pkt.systems/pslog"
)

// CodeInternal is reported for handler errors that carry no code.
const CodeInternal = "internal"

// HandlerFunc serves one method. The returned value is encoded as the
// result; a *wire.RemoteError keeps its code on the wire.
type HandlerFunc func(ctx context.Context, args wire.RawMessage) (any, error)

// Errorf builds a coded error for handlers to return.
func Errorf(code, format string, a ...any) error {
	return &wire.RemoteError{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Server dispatches requests to registered handlers and broadcasts events
// to every connected client. Requests on one connection are served in
// order, which keeps keystrokes from a client in sequence.
type Server struct {
	log pslog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	connMu sync.Mutex
	conns  map[*serverConn]struct{}
}

type serverConn struct {
	conn    io.ReadWriteCloser
	writeMu sync.Mutex
}

func (sc *serverConn) write(frameType byte, body any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return wire.WriteFrame(sc.conn, frameType, body)
}

func NewServer(logger pslog.Logger) *Server {
	return &Server{
		log:      logger,
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[*serverConn]struct{}),
	}
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn serves one connection until it closes or ctx is cancelled.
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriteCloser) {
	sc := &serverConn{conn: conn}
	s.connMu.Lock()
	s.conns[sc] = struct{}{}
	s.connMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	defer func() {
		s.connMu.Lock()
		delete(s.conns, sc)
		s.connMu.Unlock()
	}()

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				s.log.Debug("rpc connection read failed", "err", err)
			}
			return
		}
		if frame.Type != wire.FrameRequest {
			s.log.Warn("rpc unexpected frame from client", "type", frame.Type)
			continue
		}
		resp := s.dispatch(ctx, frame.Request)
		if err := sc.write(wire.FrameResponse, resp); err != nil {
			s.log.Debug("rpc response write failed", "method", frame.Request.Method, "err", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *wire.Request) wire.Response {
	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		return wire.Response{ID: req.ID, Error: &wire.RemoteError{Code: "unknown_method", Message: req.Method}}
	}

	result, err := h(ctx, req.Args)
	if err != nil {
		var remote *wire.RemoteError
		if !errors.As(err, &remote) {
			remote = &wire.RemoteError{Code: CodeInternal, Message: err.Error()}
		}
		return wire.Response{ID: req.ID, Error: remote}
	}
	if result == nil {
		return wire.Response{ID: req.ID}
	}
	encoded, err := wire.Marshal(result)
	if err != nil {
		return wire.Response{ID: req.ID, Error: &wire.RemoteError{Code: CodeInternal, Message: err.Error()}}
	}
	return wire.Response{ID: req.ID, Result: encoded}
}

// Broadcast pushes event to every connection. A failed write drops that
// connection's copy only.
func (s *Server) Broadcast(event string, payload any) error {
	encoded, err := wire.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	ev := wire.Event{Name: event, Payload: encoded}

	s.connMu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.connMu.Unlock()

	for _, sc := range conns {
		if err := sc.write(wire.FrameEvent, ev); err != nil {
			s.log.Debug("rpc broadcast write failed", "event", event, "err", err)
		}
	}
	return nil
}
