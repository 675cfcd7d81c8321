package registry

import "sync"

const (
	MinPanelHeight     = 150
	MaxPanelHeight     = 600
	DefaultPanelHeight = 300
)

// Session is one backend shell attached to one tab.
type Session struct {
	ID         string
	TargetName string
	Title      string
}

// NewSession builds a session whose title mirrors the target name.
func NewSession(id, targetName string) Session {
	return Session{ID: id, TargetName: targetName, Title: targetName}
}

// State is a point-in-time copy of the registry.
type State struct {
	Sessions        []Session
	ActiveSessionID string // "" when no session is active
	IsOpen          bool
	PanelHeight     int
}

// Session returns the session with the given id.
func (s State) Session(id string) (Session, bool) {
	for _, sess := range s.Sessions {
		if sess.ID == id {
			return sess, true
		}
	}
	return Session{}, false
}

// Listener is called after every mutation with the resulting state.
type Listener func(State)

// Registry is the authoritative list of open sessions. All mutations are
// synchronous and total; none of them perform I/O.
type Registry struct {
	mu    sync.Mutex
	state State

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

// New creates an empty registry with a collapsed panel.
func New() *Registry {
	return &Registry{
		state:     State{PanelHeight: DefaultPanelHeight},
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

func (r *Registry) copyLocked() State {
	st := r.state
	st.Sessions = append([]Session(nil), r.state.Sessions...)
	return st
}

// AddSession appends the session, makes it active and opens the panel.
// The caller guarantees the id is unique.
func (r *Registry) AddSession(s Session) {
	r.mutate(func(st *State) {
		st.Sessions = append(st.Sessions, s)
		st.ActiveSessionID = s.ID
		st.IsOpen = true
	})
}

// RemoveSession drops the session. Removing the active session promotes
// the most recently added remaining one; removing the last session closes
// the panel.
func (r *Registry) RemoveSession(id string) {
	r.mutate(func(st *State) {
		remaining := make([]Session, 0, len(st.Sessions))
		for _, s := range st.Sessions {
			if s.ID != id {
				remaining = append(remaining, s)
			}
		}
		st.Sessions = remaining
		if len(remaining) == 0 {
			st.ActiveSessionID = ""
			st.IsOpen = false
			return
		}
		if st.ActiveSessionID == id {
			st.ActiveSessionID = remaining[len(remaining)-1].ID
		}
	})
}

// SetActiveSession overwrites the active id.
func (r *Registry) SetActiveSession(id string) {
	r.mutate(func(st *State) {
		st.ActiveSessionID = id
	})
}

// TogglePanel flips the panel and returns the new value.
func (r *Registry) TogglePanel() bool {
	var open bool
	r.mutate(func(st *State) {
		st.IsOpen = !st.IsOpen
		open = st.IsOpen
	})
	return open
}

func (r *Registry) OpenPanel() {
	r.mutate(func(st *State) { st.IsOpen = true })
}

func (r *Registry) ClosePanel() {
	r.mutate(func(st *State) { st.IsOpen = false })
}

// SetPanelHeight stores px clamped to [MinPanelHeight, MaxPanelHeight].
func (r *Registry) SetPanelHeight(px int) {
	r.mutate(func(st *State) {
		st.PanelHeight = ClampHeight(px)
	})
}

// Restore replaces the whole state, typically with a layout loaded from
// disk. An active id that names no session falls back to the last one.
func (r *Registry) Restore(sessions []Session, activeID string, isOpen bool, height int) {
	r.mutate(func(st *State) {
		st.Sessions = append([]Session(nil), sessions...)
		st.IsOpen = isOpen && len(sessions) > 0
		st.PanelHeight = ClampHeight(height)
		st.ActiveSessionID = ""
		for _, s := range sessions {
			if s.ID == activeID {
				st.ActiveSessionID = activeID
			}
		}
		if st.ActiveSessionID == "" && len(sessions) > 0 {
			st.ActiveSessionID = sessions[len(sessions)-1].ID
		}
	})
}

// Subscribe registers fn to run after every mutation. Listeners run on the
// mutating goroutine, after the lock is released.
func (r *Registry) Subscribe(fn Listener) (unsubscribe func()) {
	r.listenerMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenerMu.Lock()
			delete(r.listeners, id)
			r.listenerMu.Unlock()
		})
	}
}

func (r *Registry) mutate(fn func(*State)) {
	r.mu.Lock()
	fn(&r.state)
	snap := r.copyLocked()
	r.mu.Unlock()

	r.listenerMu.Lock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.listenerMu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// ClampHeight bounds a panel height in pixels.
func ClampHeight(px int) int {
	if px < MinPanelHeight {
		return MinPanelHeight
	}
	if px > MaxPanelHeight {
		return MaxPanelHeight
	}
	return px
}
