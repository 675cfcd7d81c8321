// Package lifecycle wraps the backend's session.* requests.
//
// None of the calls carry an intrinsic timeout; a backend that never answers
// leaves the caller waiting until its context is cancelled.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/kevinzwang/termdeck/internal/rpc"
	"github.com/kevinzwang/termdeck/internal/wire"
)

const (
	MethodCreate  = "session.create"
	MethodWrite   = "session.write"
	MethodResize  = "session.resize"
	MethodIsAlive = "session.isAlive"
	MethodClose   = "session.close"

	// CodeSessionCreate marks a create failure on the wire.
	CodeSessionCreate = "session_create"
)

// CreateArgs and the other argument types are the wire shapes of the
// session.* requests.
type CreateArgs struct {
	TargetName string `cbor:"targetName"`
}

type WriteArgs struct {
	SessionID string `cbor:"sessionId"`
	Bytes     []byte `cbor:"bytes"`
}

type ResizeArgs struct {
	SessionID string `cbor:"sessionId"`
	Cols      uint16 `cbor:"cols"`
	Rows      uint16 `cbor:"rows"`
}

type SessionArgs struct {
	SessionID string `cbor:"sessionId"`
}

// SessionCreateError reports that a target could not host a shell.
type SessionCreateError struct {
	TargetName string
	Reason     string
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("failed to create session on %s: %s", e.TargetName, e.Reason)
}

// Client issues lifecycle requests over a Caller.
type Client struct {
	caller rpc.Caller
}

func New(caller rpc.Caller) *Client {
	return &Client{caller: caller}
}

// Create starts a shell on target and returns the backend-assigned id.
// Every failure comes back as *SessionCreateError.
func (c *Client) Create(ctx context.Context, targetName string) (string, error) {
	var id string
	err := c.caller.Call(ctx, MethodCreate, CreateArgs{TargetName: targetName}, &id)
	if err != nil {
		reason := err.Error()
		var remote *wire.RemoteError
		if errors.As(err, &remote) {
			reason = remote.Message
		}
		return "", &SessionCreateError{TargetName: targetName, Reason: reason}
	}
	if id == "" {
		return "", &SessionCreateError{TargetName: targetName, Reason: "backend returned an empty session id"}
	}
	return id, nil
}

// Write sends input bytes to the session.
func (c *Client) Write(ctx context.Context, sessionID string, data []byte) error {
	return c.caller.Call(ctx, MethodWrite, WriteArgs{SessionID: sessionID, Bytes: data}, nil)
}

// Resize changes the session's virtual screen.
func (c *Client) Resize(ctx context.Context, sessionID string, cols, rows uint16) error {
	return c.caller.Call(ctx, MethodResize, ResizeArgs{SessionID: sessionID, Cols: cols, Rows: rows}, nil)
}

// IsAlive asks whether the backend still holds the session. A returned
// error means the answer is unknown, not that the session is dead.
func (c *Client) IsAlive(ctx context.Context, sessionID string) (bool, error) {
	var alive bool
	if err := c.caller.Call(ctx, MethodIsAlive, SessionArgs{SessionID: sessionID}, &alive); err != nil {
		return false, err
	}
	return alive, nil
}

// Close terminates the session's process.
func (c *Client) Close(ctx context.Context, sessionID string) error {
	return c.caller.Call(ctx, MethodClose, SessionArgs{SessionID: sessionID}, nil)
}
