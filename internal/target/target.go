// Package target lists the execution targets a session can start on.
package target

import (
	"context"
	"fmt"

	"github.com/kevinzwang/termdeck/internal/rpc"
)

const MethodList = "target.list"

// Target is one place a shell can run.
type Target struct {
	Name      string `cbor:"name"`
	IsRunning bool   `cbor:"isRunning"`
}

// Client fetches targets from the backend.
type Client struct {
	caller rpc.Caller
}

func NewClient(caller rpc.Caller) *Client {
	return &Client{caller: caller}
}

// List returns the backend's targets in its order.
func (c *Client) List(ctx context.Context) ([]Target, error) {
	var targets []Target
	if err := c.caller.Call(ctx, MethodList, nil, &targets); err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	return targets, nil
}

// FirstRunning picks the first running target.
func FirstRunning(targets []Target) (Target, bool) {
	for _, t := range targets {
		if t.IsRunning {
			return t, true
		}
	}
	return Target{}, false
}
