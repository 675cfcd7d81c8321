// Package pushtest provides an in-memory push subscriber for tests.
package pushtest

import (
	"sync"

	"github.com/kevinzwang/termdeck/internal/push"
	"github.com/kevinzwang/termdeck/internal/rpc"
	"github.com/kevinzwang/termdeck/internal/wire"
)

// Hub implements rpc.Subscriber and delivers pushes synchronously.
type Hub struct {
	mu       sync.Mutex
	handlers map[string]map[int]rpc.EventHandler
	next     int
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string]map[int]rpc.EventHandler)}
}

func (h *Hub) Subscribe(event string, handler rpc.EventHandler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	if h.handlers[event] == nil {
		h.handlers[event] = make(map[int]rpc.EventHandler)
	}
	h.handlers[event][id] = handler
	return func() {
		h.mu.Lock()
		delete(h.handlers[event], id)
		h.mu.Unlock()
	}
}

// Subscribers counts the live handlers for event.
func (h *Hub) Subscribers(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers[event])
}

// Emit encodes payload and hands it to every handler of event.
func (h *Hub) Emit(event string, payload any) {
	data, err := wire.Marshal(payload)
	if err != nil {
		panic(err)
	}
	h.mu.Lock()
	handlers := make([]rpc.EventHandler, 0, len(h.handlers[event]))
	for _, fn := range h.handlers[event] {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

// Output emits a terminal-output push.
func (h *Hub) Output(sessionID string, data string) {
	h.Emit(push.EventOutput, push.OutputPayload{SessionID: sessionID, Bytes: []byte(data)})
}

// Exit emits a terminal-exit push.
func (h *Hub) Exit(sessionID string) {
	h.Emit(push.EventExit, push.ExitPayload{SessionID: sessionID})
}
