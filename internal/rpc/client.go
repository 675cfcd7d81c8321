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

// ErrClosed is returned by calls made on, or pending when, the connection
// goes away.
var ErrClosed = errors.New("rpc: connection closed")

// Caller fires a named request and waits for its single result.
type Caller interface {
	Call(ctx context.Context, method string, args, reply any) error
}

// EventHandler receives the raw payload of one push.
type EventHandler func(payload wire.RawMessage)

// Subscriber registers push handlers for named events.
type Subscriber interface {
	Subscribe(event string, handler EventHandler) (unsubscribe func())
}

// Client is a request/response and push-subscription endpoint over one
// stream connection. Events are dispatched on the reader goroutine in the
// order they arrive, so handlers must not block and must not call Call.
type Client struct {
	conn io.ReadWriteCloser
	log  pslog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	nextID      uint64
	pending     map[uint64]chan wire.Response
	handlers    map[string]map[int]EventHandler
	nextHandler int
	closed      bool
	err         error

	done chan struct{}
}

// Dial connects to the daemon's unix socket.
func Dial(ctx context.Context, socketPath string, logger pslog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection and starts its reader.
func NewClient(conn io.ReadWriteCloser, logger pslog.Logger) *Client {
	c := &Client{
		conn:     conn,
		log:      logger,
		pending:  make(map[uint64]chan wire.Response),
		handlers: make(map[string]map[int]EventHandler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends method with args and decodes the result into reply, which may
// be nil for methods without a result.
func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	var raw wire.RawMessage
	if args != nil {
		encoded, err := wire.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to encode %s args: %w", method, err)
		}
		raw = encoded
	}

	ch := make(chan wire.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := wire.WriteFrame(c.conn, wire.FrameRequest, wire.Request{ID: id, Method: method, Args: raw})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case resp := <-ch:
		return decodeResponse(method, resp, reply)
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-c.done:
		select {
		case resp := <-ch:
			return decodeResponse(method, resp, reply)
		default:
		}
		return ErrClosed
	}
}

func decodeResponse(method string, resp wire.Response, reply any) error {
	if resp.Error != nil {
		return resp.Error
	}
	if reply == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := wire.Unmarshal(resp.Result, reply); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Subscribe registers handler for event. The returned function removes it
// and may be called any number of times.
func (c *Client) Subscribe(event string, handler EventHandler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]EventHandler)
	}
	c.handlers[event][id] = handler
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers[event], id)
			c.mu.Unlock()
		})
	}
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection down and fails pending calls.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(ErrClosed)
	return err
}

func (c *Client) shutdown(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = reason
	c.pending = make(map[uint64]chan wire.Response)
	close(c.done)
}

func (c *Client) readLoop() {
	for {
		frame, err := wire.ReadFrame(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Debug("rpc read failed", "err", err)
			}
			c.shutdown(ErrClosed)
			return
		}

		switch frame.Type {
		case wire.FrameResponse:
			c.mu.Lock()
			ch, ok := c.pending[frame.Response.ID]
			delete(c.pending, frame.Response.ID)
			c.mu.Unlock()
			if ok {
				ch <- *frame.Response
			}
		case wire.FrameEvent:
			c.dispatch(frame.Event)
		default:
			c.log.Warn("rpc unexpected frame", "type", frame.Type)
		}
	}
}

func (c *Client) dispatch(ev *wire.Event) {
	c.mu.Lock()
	handlers := make([]EventHandler, 0, len(c.handlers[ev.Name]))
	for _, h := range c.handlers[ev.Name] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev.Payload)
	}
}
