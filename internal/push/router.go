// Package push routes the backend's terminal-output and terminal-exit
// channels to per-session handlers.
package push

import (
	"sync"

	"github.com/kevinzwang/termdeck/internal/rpc"
	"github.com/kevinzwang/termdeck/internal/wire"
	"pkt.systems/pslog"
)

const (
	EventOutput = "terminal-output"
	EventExit   = "terminal-exit"
)

// Output for a session nobody has routed yet is held until its route
// registers. A new session starts streaming before its tab mounts.
const (
	maxBacklogChunks      = 256
	maxBacklogBytes       = 256 << 10
	maxBackloggedSessions = 32
)

// OutputPayload is the wire shape of a terminal-output push.
type OutputPayload struct {
	SessionID string `cbor:"sessionId"`
	Bytes     []byte `cbor:"bytes"`
}

// ExitPayload is the wire shape of a terminal-exit push.
type ExitPayload struct {
	SessionID string `cbor:"sessionId"`
}

// Route receives the pushes of one session.
type Route interface {
	SessionID() string
	OnOutput(data []byte)
	OnExit()
}

// backlog is the output, and possibly the exit, of one unrouted session.
type backlog struct {
	chunks [][]byte
	size   int
	exited bool
}

func (b *backlog) add(data []byte) {
	b.chunks = append(b.chunks, data)
	b.size += len(data)
	for len(b.chunks) > maxBacklogChunks || (b.size > maxBacklogBytes && len(b.chunks) > 1) {
		b.size -= len(b.chunks[0])
		b.chunks = b.chunks[1:]
	}
}

// Router is the routing table from session id to Route.
type Router struct {
	log pslog.Logger

	// deliver serializes handing pushes to routes so a backlog replayed by
	// Register cannot interleave with live events.
	deliver sync.Mutex

	mu       sync.RWMutex
	routes   map[string]Route
	backlogs map[string]*backlog
	order    []string

	unsubscribe []func()
}

// NewRouter subscribes to both push channels on sub.
func NewRouter(sub rpc.Subscriber, logger pslog.Logger) *Router {
	r := &Router{
		log:      logger,
		routes:   make(map[string]Route),
		backlogs: make(map[string]*backlog),
	}
	r.unsubscribe = []func(){
		sub.Subscribe(EventOutput, r.handleOutput),
		sub.Subscribe(EventExit, r.handleExit),
	}
	return r
}

// Register installs route for its session id, replacing any previous one.
// Output that arrived for the id before any route existed is handed to
// route first, in order. The returned function removes the route again,
// only if it is still the registered route, and is safe to call
// repeatedly.
func (r *Router) Register(route Route) (unregister func()) {
	id := route.SessionID()
	r.deliver.Lock()
	r.mu.Lock()
	r.routes[id] = route
	held := r.takeBacklogLocked(id)
	r.mu.Unlock()
	if held != nil {
		for _, chunk := range held.chunks {
			route.OnOutput(chunk)
		}
		if held.exited {
			route.OnExit()
		}
	}
	r.deliver.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.routes[id] == route {
				delete(r.routes, id)
			}
			r.mu.Unlock()
		})
	}
}

// Registered reports whether a route exists for id.
func (r *Router) Registered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[id]
	return ok
}

// Close detaches from the push channels.
func (r *Router) Close() {
	for _, fn := range r.unsubscribe {
		fn()
	}
}

// holdLocked returns the backlog for id, creating it and evicting the oldest
// one when too many sessions are waiting.
func (r *Router) holdLocked(id string) *backlog {
	if b, ok := r.backlogs[id]; ok {
		return b
	}
	if len(r.order) >= maxBackloggedSessions {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.backlogs, oldest)
		r.log.Debug("push backlog evicted", "session", oldest)
	}
	b := &backlog{}
	r.backlogs[id] = b
	r.order = append(r.order, id)
	return b
}

func (r *Router) takeBacklogLocked(id string) *backlog {
	b, ok := r.backlogs[id]
	if !ok {
		return nil
	}
	delete(r.backlogs, id)
	for i, held := range r.order {
		if held == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return b
}

func (r *Router) handleOutput(raw wire.RawMessage) {
	var p OutputPayload
	if err := wire.Unmarshal(raw, &p); err != nil {
		r.log.Warn("push output payload invalid", "err", err)
		return
	}
	r.deliver.Lock()
	defer r.deliver.Unlock()
	r.mu.Lock()
	route := r.routes[p.SessionID]
	if route == nil {
		r.holdLocked(p.SessionID).add(p.Bytes)
		r.mu.Unlock()
		r.log.Debug("push output held for unrouted session", "session", p.SessionID, "len", len(p.Bytes))
		return
	}
	r.mu.Unlock()
	route.OnOutput(p.Bytes)
}

func (r *Router) handleExit(raw wire.RawMessage) {
	var p ExitPayload
	if err := wire.Unmarshal(raw, &p); err != nil {
		r.log.Warn("push exit payload invalid", "err", err)
		return
	}
	r.deliver.Lock()
	defer r.deliver.Unlock()
	r.mu.Lock()
	route := r.routes[p.SessionID]
	if route == nil {
		r.holdLocked(p.SessionID).exited = true
		r.mu.Unlock()
		r.log.Debug("push exit held for unrouted session", "session", p.SessionID)
		return
	}
	r.mu.Unlock()
	route.OnExit()
}
