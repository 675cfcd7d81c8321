package bridge

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kevinzwang/termdeck/internal/frame"
	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/kevinzwang/termdeck/internal/push"
	"github.com/kevinzwang/termdeck/internal/push/pushtest"
	"github.com/kevinzwang/termdeck/internal/widget"
)

const testID = "sess-1"

type fakeLifecycle struct {
	alive    bool
	aliveErr error
	gate     chan struct{} // IsAlive waits for this when set
	returned chan struct{}

	mu      sync.Mutex
	writes  []string
	resizes [][2]uint16
}

func newLifecycle(alive bool) *fakeLifecycle {
	return &fakeLifecycle{alive: alive, returned: make(chan struct{})}
}

func (f *fakeLifecycle) IsAlive(ctx context.Context, id string) (bool, error) {
	defer close(f.returned)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.alive, f.aliveErr
}

func (f *fakeLifecycle) Write(ctx context.Context, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeLifecycle) Resize(ctx context.Context, id string, cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]uint16{cols, rows})
	return nil
}

func (f *fakeLifecycle) snapshot() ([]string, [][2]uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...), append([][2]uint16(nil), f.resizes...)
}

type fakeWidget struct {
	mu       sync.Mutex
	writes   []string
	cols     int
	rows     int
	theme    widget.Theme
	repaint  bool
	disposed bool
}

func (w *fakeWidget) Write(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, string(data))
}

func (w *fakeWidget) Fit(cols, rows int) (int, int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cols = max(cols, widget.MinCols)
	rows = max(rows, widget.MinRows)
	changed := cols != w.cols || rows != w.rows
	w.cols, w.rows = cols, rows
	return cols, rows, changed
}

func (w *fakeWidget) Size() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cols, w.rows
}

func (w *fakeWidget) SetTheme(theme widget.Theme) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.theme = theme
}

func (w *fakeWidget) Encode(msg tea.KeyMsg) []byte { return widget.EncodeKey(msg) }
func (w *fakeWidget) Render(bool) string           { return "" }

func (w *fakeWidget) RequestRepaint() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.repaint = true
}

func (w *fakeWidget) TakeRepaint() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.repaint
	w.repaint = false
	return r
}

func (w *fakeWidget) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disposed = true
}

func (w *fakeWidget) written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.writes...)
}

type fakeRegistry struct {
	mu      sync.Mutex
	removed []string
}

func (r *fakeRegistry) RemoveSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func (r *fakeRegistry) removals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

type harness struct {
	hub      *pushtest.Hub
	router   *push.Router
	lc       *fakeLifecycle
	registry *fakeRegistry
	sched    *frame.Manual
	bridge   *Bridge

	mu      sync.Mutex
	widgets []*fakeWidget
}

func newHarness(t *testing.T, lc *fakeLifecycle) *harness {
	t.Helper()
	h := &harness{
		hub:      pushtest.NewHub(),
		lc:       lc,
		registry: &fakeRegistry{},
		sched:    &frame.Manual{},
	}
	h.router = push.NewRouter(h.hub, logx.Discard())
	h.bridge = New(Options{
		SessionID: testID,
		Lifecycle: lc,
		Routes:    h.router,
		Registry:  h.registry,
		Scheduler: h.sched,
		Theme:     widget.Mocha,
		Cols:      80,
		Rows:      24,
		Factory: func(opts widget.Options) Widget {
			h.mu.Lock()
			defer h.mu.Unlock()
			w := &fakeWidget{theme: opts.Theme}
			h.widgets = append(h.widgets, w)
			return w
		},
		Logger: logx.Discard(),
	})
	t.Cleanup(func() {
		h.bridge.Unmount()
		h.router.Close()
	})
	return h
}

func (h *harness) widget(t *testing.T) *fakeWidget {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.widgets) != 1 {
		t.Fatalf("constructed %d widgets, want 1", len(h.widgets))
	}
	return h.widgets[0]
}

func (h *harness) constructed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.widgets)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitReady(t *testing.T, h *harness) {
	t.Helper()
	waitFor(t, "ready", func() bool { return h.bridge.State() == Ready })
	// ready() requests the initial frame after publishing the state.
	waitFor(t, "initial frame", func() bool { return h.sched.Pending() > 0 })
}

func TestOutputBeforeReadyIsDrainedInOrder(t *testing.T) {
	lc := newLifecycle(true)
	lc.gate = make(chan struct{})
	h := newHarness(t, lc)

	h.bridge.Mount()
	if got := h.bridge.State(); got != Probing {
		t.Fatalf("state after Mount = %v, want probing", got)
	}
	h.hub.Output(testID, "banner\r\n")
	h.hub.Output(testID, "$ ")
	h.hub.Output("other", "not mine")

	close(lc.gate)
	waitReady(t, h)

	h.hub.Output(testID, "ls")

	want := []string{"banner\r\n", "$ ", "ls"}
	if got := h.widget(t).written(); !reflect.DeepEqual(got, want) {
		t.Errorf("widget writes = %q, want %q", got, want)
	}
}

func TestOutputBeforeMountIsKept(t *testing.T) {
	h := newHarness(t, newLifecycle(true))

	// The backend streams as soon as the session exists, before its tab
	// has mounted.
	h.hub.Output(testID, "banner\r\n")
	h.bridge.Mount()
	waitReady(t, h)
	h.hub.Output(testID, "$ ")

	want := []string{"banner\r\n", "$ "}
	if got := h.widget(t).written(); !reflect.DeepEqual(got, want) {
		t.Errorf("widget writes = %q, want %q", got, want)
	}
}

func TestProbeErrorAssumesAlive(t *testing.T) {
	lc := newLifecycle(false)
	lc.aliveErr = errors.New("subscription layer reloading")
	h := newHarness(t, lc)

	h.bridge.Mount()
	waitReady(t, h)

	if h.constructed() != 1 {
		t.Errorf("constructed %d widgets, want 1", h.constructed())
	}
	if got := h.registry.removals(); len(got) != 0 {
		t.Errorf("registry removals = %v, want none", got)
	}
}

func TestNegativeProbeTearsDown(t *testing.T) {
	h := newHarness(t, newLifecycle(false))

	h.bridge.Mount()
	waitFor(t, "teardown", func() bool { return h.bridge.State() == TornDown })
	waitFor(t, "registry removal", func() bool { return len(h.registry.removals()) == 1 })

	if got := h.registry.removals(); got[0] != testID {
		t.Errorf("removed %v, want %s", got, testID)
	}
	if h.router.Registered(testID) {
		t.Error("route still registered after negative probe")
	}
	if h.constructed() != 0 {
		t.Errorf("constructed %d widgets for a dead session", h.constructed())
	}
}

func TestUnmountDuringProbe(t *testing.T) {
	lc := newLifecycle(true)
	lc.gate = make(chan struct{})
	h := newHarness(t, lc)

	h.bridge.Mount()
	if !h.router.Registered(testID) {
		t.Fatal("route not registered after Mount")
	}

	h.bridge.Unmount()
	h.bridge.Unmount()

	select {
	case <-lc.returned:
	case <-time.After(2 * time.Second):
		t.Fatal("probe was not cancelled")
	}
	if h.router.Registered(testID) {
		t.Error("route still registered after Unmount")
	}
	if got := h.bridge.State(); got != TornDown {
		t.Errorf("state = %v, want torn-down", got)
	}

	h.hub.Output(testID, "late")
	h.hub.Exit(testID)
	if got := h.registry.removals(); len(got) != 0 {
		t.Errorf("unmounted bridge reacted to exit: %v", got)
	}
	if h.constructed() != 0 {
		t.Errorf("constructed %d widgets after Unmount", h.constructed())
	}
}

func TestUnmountBeforeMount(t *testing.T) {
	h := newHarness(t, newLifecycle(true))
	h.bridge.Unmount()
	h.bridge.Mount()
	if h.router.Registered(testID) {
		t.Error("Mount after Unmount registered a route")
	}
}

func TestExitWritesTrailerAndRemovesSession(t *testing.T) {
	h := newHarness(t, newLifecycle(true))
	h.bridge.Mount()
	waitReady(t, h)

	h.hub.Output(testID, "bye")
	h.hub.Exit(testID)
	h.hub.Exit(testID)

	want := []string{"bye", EndedTrailer}
	if got := h.widget(t).written(); !reflect.DeepEqual(got, want) {
		t.Errorf("widget writes = %q, want %q", got, want)
	}
	if got := h.registry.removals(); !reflect.DeepEqual(got, []string{testID}) {
		t.Errorf("removals = %v, want exactly one for %s", got, testID)
	}
}

func TestExitBeforeReadyIsBuffered(t *testing.T) {
	lc := newLifecycle(true)
	lc.gate = make(chan struct{})
	h := newHarness(t, lc)

	h.bridge.Mount()
	h.hub.Output(testID, "last words")
	h.hub.Exit(testID)

	if got := h.registry.removals(); !reflect.DeepEqual(got, []string{testID}) {
		t.Fatalf("removals = %v", got)
	}

	close(lc.gate)
	waitReady(t, h)
	want := []string{"last words", EndedTrailer}
	if got := h.widget(t).written(); !reflect.DeepEqual(got, want) {
		t.Errorf("widget writes = %q, want %q", got, want)
	}
}

func TestResizeCoalescedPerFrame(t *testing.T) {
	lc := newLifecycle(true)
	h := newHarness(t, lc)
	h.bridge.Mount()
	waitReady(t, h)

	h.sched.Flush()
	if _, resizes := lc.snapshot(); !reflect.DeepEqual(resizes, [][2]uint16{{80, 24}}) {
		t.Fatalf("initial resizes = %v", resizes)
	}

	h.bridge.SetContainerSize(100, 30)
	h.bridge.SetContainerSize(110, 32)
	h.bridge.SetContainerSize(120, 40)
	if n := h.sched.Pending(); n != 1 {
		t.Errorf("pending frames = %d, want 1", n)
	}
	h.sched.Flush()

	h.bridge.SetContainerSize(120, 40)
	h.sched.Flush()

	_, resizes := lc.snapshot()
	want := [][2]uint16{{80, 24}, {120, 40}}
	if !reflect.DeepEqual(resizes, want) {
		t.Errorf("resizes = %v, want %v", resizes, want)
	}
	if cols, rows := h.bridge.Size(); cols != 120 || rows != 40 {
		t.Errorf("Size = %dx%d", cols, rows)
	}
}

func TestKeysAreWrittenInOrder(t *testing.T) {
	lc := newLifecycle(true)
	h := newHarness(t, lc)
	h.bridge.Mount()
	waitReady(t, h)

	h.bridge.HandleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})
	h.bridge.HandleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	h.bridge.HandleKey(tea.KeyMsg{Type: tea.KeyEnter})
	h.bridge.Paste("echo ✓")

	want := []string{"l", "s", "\r", "echo ✓"}
	waitFor(t, "writes", func() bool {
		writes, _ := lc.snapshot()
		return len(writes) == len(want)
	})
	if writes, _ := lc.snapshot(); !reflect.DeepEqual(writes, want) {
		t.Errorf("writes = %q, want %q", writes, want)
	}
}

func TestKeysBeforeReadyAreDropped(t *testing.T) {
	lc := newLifecycle(true)
	lc.gate = make(chan struct{})
	h := newHarness(t, lc)
	h.bridge.Mount()

	h.bridge.HandleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	close(lc.gate)
	waitReady(t, h)

	if writes, _ := lc.snapshot(); len(writes) != 0 {
		t.Errorf("writes = %q, want none", writes)
	}
}

func TestVisibleAgainRepaintsActive(t *testing.T) {
	h := newHarness(t, newLifecycle(true))
	h.bridge.Mount()
	waitReady(t, h)
	h.sched.Flush()

	h.bridge.SetVisible(false, true)
	h.bridge.SetVisible(true, true)
	if !h.bridge.TakeRepaint() {
		t.Error("becoming visible while active should repaint")
	}
	if h.sched.Pending() != 1 {
		t.Error("becoming visible while active should re-fit")
	}
	h.sched.Flush()

	h.bridge.SetVisible(false, false)
	h.bridge.SetVisible(true, false)
	if h.bridge.TakeRepaint() {
		t.Error("inactive bridge should not repaint")
	}
}

func TestSetThemeKeepsWidget(t *testing.T) {
	h := newHarness(t, newLifecycle(true))
	h.bridge.Mount()
	waitReady(t, h)

	h.bridge.SetTheme(widget.Latte)
	w := h.widget(t)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.theme.Name != widget.Latte.Name {
		t.Errorf("widget theme = %q, want light", w.theme.Name)
	}
}

func TestUnmountDisposesWidget(t *testing.T) {
	h := newHarness(t, newLifecycle(true))
	h.bridge.Mount()
	waitReady(t, h)

	h.bridge.Unmount()
	w := h.widget(t)
	w.mu.Lock()
	disposed := w.disposed
	w.mu.Unlock()
	if !disposed {
		t.Error("widget not disposed")
	}
	if h.bridge.View(true) != "" {
		t.Error("torn-down bridge should render nothing")
	}
	if h.sched.Pending() != 0 {
		t.Error("pending frame survived Unmount")
	}
}
