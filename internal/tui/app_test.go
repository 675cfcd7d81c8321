package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/kevinzwang/termdeck/internal/bridge"
	"github.com/kevinzwang/termdeck/internal/database"
	"github.com/kevinzwang/termdeck/internal/frame"
	"github.com/kevinzwang/termdeck/internal/lifecycle"
	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/kevinzwang/termdeck/internal/push"
	"github.com/kevinzwang/termdeck/internal/push/pushtest"
	"github.com/kevinzwang/termdeck/internal/registry"
	"github.com/kevinzwang/termdeck/internal/target"
)

type fakeLifecycle struct {
	mu        sync.Mutex
	nextID    int
	createErr error
	created   []string
	writes    []string
	closed    chan string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{closed: make(chan string, 16)}
}

func (f *fakeLifecycle) Create(ctx context.Context, targetName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	f.created = append(f.created, targetName)
	return targetName + "-" + string(rune('0'+f.nextID)), nil
}

func (f *fakeLifecycle) Write(ctx context.Context, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeLifecycle) Resize(ctx context.Context, id string, cols, rows uint16) error {
	return nil
}

func (f *fakeLifecycle) IsAlive(ctx context.Context, id string) (bool, error) {
	return true, nil
}

func (f *fakeLifecycle) Close(ctx context.Context, id string) error {
	f.closed <- id
	return nil
}

func (f *fakeLifecycle) createdTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func (f *fakeLifecycle) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "")
}

type fakeTargets []target.Target

func (f fakeTargets) List(ctx context.Context) ([]target.Target, error) {
	return f, nil
}

type memoryStore struct {
	mu     sync.Mutex
	layout database.Layout
	saves  int
}

func (s *memoryStore) SaveLayout(l database.Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = l
	s.saves++
	return nil
}

func (s *memoryStore) LoadLayout() (database.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout, nil
}

type harness struct {
	m      *Model
	reg    *registry.Registry
	lc     *fakeLifecycle
	router *push.Router
	store  *memoryStore
}

func newHarness(t *testing.T, targets ...target.Target) *harness {
	t.Helper()
	return buildHarness(t, nil, targets...)
}

// newPersistentHarness also saves layouts. Its refreshes schedule save
// ticks, so its commands should not be run through run.
func newPersistentHarness(t *testing.T) *harness {
	t.Helper()
	return buildHarness(t, &memoryStore{}, target.Target{Name: "sh", IsRunning: true})
}

func buildHarness(t *testing.T, store *memoryStore, targets ...target.Target) *harness {
	t.Helper()
	if len(targets) == 0 {
		targets = []target.Target{{Name: "sh", IsRunning: true}}
	}
	h := &harness{
		reg:    registry.New(),
		lc:     newFakeLifecycle(),
		router: push.NewRouter(pushtest.NewHub(), logx.Discard()),
		store:  store,
	}
	var layout LayoutStore
	if store != nil {
		layout = store
	}
	h.m = NewModel(Options{
		Registry:  h.reg,
		Lifecycle: h.lc,
		Targets:   fakeTargets(targets),
		Routes:    h.router,
		Layout:    layout,
		Scheduler: &frame.Manual{},
	})
	t.Cleanup(h.m.Shutdown)
	h.update(tea.WindowSizeMsg{Width: 80, Height: 40})
	h.run(h.m.loadTargets())
	return h
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	_, cmd := h.m.Update(msg)
	return cmd
}

// run executes cmd and feeds the messages that matter back into Update.
func (h *harness) run(cmd tea.Cmd) {
	for _, msg := range collect(cmd) {
		switch msg.(type) {
		case targetsLoadedMsg, sessionCreatedMsg:
			h.run(h.update(msg))
		}
	}
}

func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewSessionUsesFirstRunningTarget(t *testing.T) {
	h := newHarness(t,
		target.Target{Name: "remote", IsRunning: false},
		target.Target{Name: "local", IsRunning: true},
	)
	h.run(h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")}))

	if got := h.lc.createdTargets(); len(got) != 1 || got[0] != "local" {
		t.Fatalf("created = %v, want [local]", got)
	}
	st := h.reg.Snapshot()
	if len(st.Sessions) != 1 || st.Sessions[0].TargetName != "local" {
		t.Fatalf("sessions = %+v", st.Sessions)
	}
	if st.ActiveSessionID != st.Sessions[0].ID || !st.IsOpen {
		t.Errorf("state = %+v", st)
	}
	if h.m.focus != focusTerminal {
		t.Error("new session did not take focus")
	}
	if _, ok := h.m.bridges[st.ActiveSessionID]; !ok {
		t.Error("no bridge mounted for new session")
	}
	if !h.router.Registered(st.ActiveSessionID) {
		t.Error("bridge did not register its route")
	}
}

func TestNewSessionWithoutRunningTargetIsNoop(t *testing.T) {
	h := newHarness(t, target.Target{Name: "remote", IsRunning: false})
	h.run(h.update(tea.KeyMsg{Type: tea.KeyCtrlT}))

	if got := h.lc.createdTargets(); len(got) != 0 {
		t.Errorf("created = %v", got)
	}
	if n := len(h.reg.Snapshot().Sessions); n != 0 {
		t.Errorf("registry has %d sessions", n)
	}
	if h.m.message == "" {
		t.Error("no status message")
	}
	if h.m.creating {
		t.Error("still creating")
	}
}

func TestLaunchUsesTargetUnderCursor(t *testing.T) {
	h := newHarness(t,
		target.Target{Name: "first", IsRunning: true},
		target.Target{Name: "second", IsRunning: true},
		target.Target{Name: "stopped", IsRunning: false},
	)
	h.update(tea.KeyMsg{Type: tea.KeyDown})
	h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if got := h.lc.createdTargets(); len(got) != 1 || got[0] != "second" {
		t.Fatalf("created = %v, want [second]", got)
	}

	h.update(tea.KeyMsg{Type: tea.KeyCtrlCloseBracket})
	h.update(tea.KeyMsg{Type: tea.KeyDown})
	h.run(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if got := h.lc.createdTargets(); len(got) != 1 {
		t.Errorf("launched on a stopped target: %v", got)
	}
	if h.m.err == nil {
		t.Error("no error for stopped target")
	}
}

func TestCreateErrorLeavesRegistryUntouched(t *testing.T) {
	h := newHarness(t)
	h.lc.createErr = &lifecycle.SessionCreateError{TargetName: "sh", Reason: "boom"}
	h.run(h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")}))

	if n := len(h.reg.Snapshot().Sessions); n != 0 {
		t.Errorf("registry has %d sessions", n)
	}
	if len(h.m.bridges) != 0 {
		t.Errorf("%d bridges mounted", len(h.m.bridges))
	}
	var createErr *lifecycle.SessionCreateError
	if !errors.As(h.m.err, &createErr) {
		t.Fatalf("err = %v", h.m.err)
	}
	if !strings.Contains(ansi.Strip(h.m.View()), "boom") {
		t.Error("error not shown in status line")
	}
}

func TestRefreshMountsAndUnmountsBridges(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.reg.AddSession(registry.NewSession("b", "sh"))
	h.update(refreshMsg{})

	if len(h.m.bridges) != 2 {
		t.Fatalf("%d bridges, want 2", len(h.m.bridges))
	}
	kept := h.m.bridges["b"]

	h.reg.RemoveSession("a")
	h.update(refreshMsg{})
	if _, ok := h.m.bridges["a"]; ok {
		t.Error("removed session still has a bridge")
	}
	if h.router.Registered("a") {
		t.Error("removed session still routed")
	}
	if h.m.bridges["b"] != kept {
		t.Error("surviving bridge was replaced")
	}
}

func TestInactiveBridgesStayMounted(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.reg.AddSession(registry.NewSession("b", "sh"))
	h.update(refreshMsg{})
	h.reg.SetActiveSession("a")
	h.update(refreshMsg{})
	if !h.router.Registered("b") {
		t.Error("inactive session lost its route")
	}
}

func TestCloseTabRemovesImmediately(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.reg.AddSession(registry.NewSession("b", "sh"))
	h.update(refreshMsg{})

	h.update(tea.KeyMsg{Type: tea.KeyCtrlW})
	st := h.reg.Snapshot()
	if _, ok := st.Session("b"); ok {
		t.Fatal("closed tab still in registry")
	}
	if st.ActiveSessionID != "a" {
		t.Errorf("active = %q, want a", st.ActiveSessionID)
	}
	select {
	case id := <-h.lc.closed:
		if id != "b" {
			t.Errorf("closed %q, want b", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backend close not called")
	}
}

func TestTogglePanelTwice(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	before := h.reg.Snapshot().IsOpen
	h.update(tea.KeyMsg{Type: tea.KeyCtrlJ})
	if h.reg.Snapshot().IsOpen == before {
		t.Fatal("ctrl+j did not toggle")
	}
	h.update(tea.KeyMsg{Type: tea.KeyCtrlJ})
	if h.reg.Snapshot().IsOpen != before {
		t.Error("two toggles changed the panel")
	}
}

func TestDragHandleResizesPanel(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.update(refreshMsg{})
	start := h.reg.Snapshot().PanelHeight
	handle := h.m.layout().panelTop

	h.update(tea.MouseMsg{X: 10, Y: handle, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	if !h.m.dragging {
		t.Fatal("press on handle did not start a drag")
	}
	h.update(tea.MouseMsg{X: 10, Y: handle - 2, Action: tea.MouseActionMotion})
	if got, want := h.reg.Snapshot().PanelHeight, start+2*defaultCellHeightPx; got != want {
		t.Errorf("height = %d, want %d", got, want)
	}
	h.update(tea.MouseMsg{X: 10, Y: handle + 40, Action: tea.MouseActionRelease})
	if got := h.reg.Snapshot().PanelHeight; got != registry.MinPanelHeight {
		t.Errorf("height = %d, want clamp to %d", got, registry.MinPanelHeight)
	}
	if h.m.dragging {
		t.Error("release did not end the drag")
	}
}

func TestDragTracksPointerFromStart(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.update(refreshMsg{})
	start := h.reg.Snapshot().PanelHeight
	handle := h.m.layout().panelTop

	h.update(tea.MouseMsg{X: 10, Y: handle, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	h.update(tea.MouseMsg{X: 10, Y: handle + 40, Action: tea.MouseActionMotion})
	if got := h.reg.Snapshot().PanelHeight; got != registry.MinPanelHeight {
		t.Fatalf("height = %d, want clamp to %d", got, registry.MinPanelHeight)
	}
	// Coming back from past the bound lands where the pointer is, not
	// where the clamp engaged.
	h.update(tea.MouseMsg{X: 10, Y: handle + 5, Action: tea.MouseActionMotion})
	if got, want := h.reg.Snapshot().PanelHeight, start-5*defaultCellHeightPx; got != want {
		t.Errorf("height = %d, want %d", got, want)
	}
	h.update(tea.MouseMsg{X: 10, Y: handle, Action: tea.MouseActionRelease})
	if got := h.reg.Snapshot().PanelHeight; got != start {
		t.Errorf("height after release = %d, want %d", got, start)
	}
}

func TestDragUnavailableWhilePanelClosed(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.reg.ClosePanel()
	h.update(refreshMsg{})

	strip := h.m.layout().panelTop
	h.update(tea.MouseMsg{X: 1, Y: strip, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	if h.m.dragging {
		t.Error("drag started on a closed panel")
	}
	if !h.reg.Snapshot().IsOpen {
		t.Error("click on collapsed strip did not open the panel")
	}
}

func TestTabClicks(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.Session{ID: "id-a", TargetName: "a", Title: "a"})
	h.reg.AddSession(registry.Session{ID: "id-b", TargetName: "bb", Title: "bb"})
	h.update(refreshMsg{})
	h.m.View()
	row := h.m.layout().tabsY

	h.update(tea.MouseMsg{X: 1, Y: row, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	if got := h.reg.Snapshot().ActiveSessionID; got != "id-a" {
		t.Errorf("active = %q after tab click", got)
	}
	if h.m.focus != focusTerminal {
		t.Error("tab click did not focus the terminal")
	}

	h.m.View()
	h.update(tea.MouseMsg{X: 10, Y: row, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	if _, ok := h.reg.Snapshot().Session("id-b"); ok {
		t.Error("close affordance did not remove the tab")
	}
}

func TestTerminalKeysReachActiveSession(t *testing.T) {
	h := newHarness(t)
	h.run(h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")}))
	b := h.m.activeBridge()
	if b == nil {
		t.Fatal("no active bridge")
	}
	waitFor(t, "bridge ready", func() bool { return b.State() == bridge.Ready })

	h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ls")})
	h.update(tea.KeyMsg{Type: tea.KeyEnter})
	h.update(tea.KeyMsg{Type: tea.KeyCtrlW})
	waitFor(t, "keys written", func() bool { return h.lc.written() == "ls\r\x17" })
	if n := len(h.reg.Snapshot().Sessions); n != 1 {
		t.Error("ctrl+w in the terminal closed a tab")
	}

	h.update(tea.KeyMsg{Type: tea.KeyCtrlCloseBracket})
	if h.m.focus != focusTargets {
		t.Error("ctrl+] did not return focus")
	}
	time.Sleep(20 * time.Millisecond)
	if got := h.lc.written(); got != "ls\r\x17" {
		t.Errorf("written = %q", got)
	}
}

func TestCycleTabsFromTerminal(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.reg.AddSession(registry.NewSession("b", "sh"))
	h.update(refreshMsg{})
	h.update(tea.KeyMsg{Type: tea.KeyTab})
	if h.m.focus != focusTerminal {
		t.Fatal("tab did not focus the terminal")
	}
	h.update(tea.KeyMsg{Type: tea.KeyCtrlPgDown})
	if got := h.reg.Snapshot().ActiveSessionID; got != "a" {
		t.Errorf("active = %q, want a", got)
	}
	h.update(tea.KeyMsg{Type: tea.KeyCtrlPgUp})
	if got := h.reg.Snapshot().ActiveSessionID; got != "b" {
		t.Errorf("active = %q, want b", got)
	}
}

func TestFocusFallsBackWhenLastSessionCloses(t *testing.T) {
	h := newHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.update(refreshMsg{})
	h.update(tea.KeyMsg{Type: tea.KeyTab})
	h.reg.RemoveSession("a")
	h.update(refreshMsg{})
	if h.m.focus != focusTargets {
		t.Error("focus stayed on a closed terminal")
	}
}

func TestThemeToggle(t *testing.T) {
	h := newHarness(t)
	before := h.m.theme.Name
	h.update(tea.KeyMsg{Type: tea.KeyCtrlL})
	if h.m.theme.Name == before {
		t.Error("ctrl+l did not change the theme")
	}
}

func TestNotifyCoalesces(t *testing.T) {
	h := newHarness(t)
	msgs := make(chan tea.Msg, 4)
	h.m.setNotifier(func(msg tea.Msg) { msgs <- msg })

	h.reg.SetPanelHeight(200)
	h.reg.SetPanelHeight(220)
	select {
	case <-msgs:
	case <-time.After(time.Second):
		t.Fatal("no refresh delivered")
	}
	select {
	case <-msgs:
		t.Fatal("second refresh before the first was handled")
	case <-time.After(20 * time.Millisecond):
	}

	h.update(refreshMsg{})
	h.reg.SetPanelHeight(240)
	select {
	case <-msgs:
	case <-time.After(time.Second):
		t.Fatal("no refresh after the previous one was handled")
	}
}

func TestLayoutSave(t *testing.T) {
	h := newPersistentHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.update(refreshMsg{})

	if cmd := h.update(saveLayoutMsg{gen: h.m.saveGen - 1}); cmd != nil {
		t.Error("stale save was not ignored")
	}
	collect(h.update(saveLayoutMsg{gen: h.m.saveGen}))
	l, _ := h.store.LoadLayout()
	if len(l.Tabs) != 1 || l.Tabs[0].ID != "a" || l.ActiveSessionID != "a" || !l.IsOpen {
		t.Errorf("saved layout = %+v", l)
	}
}

func TestRestoreLayout(t *testing.T) {
	store := &memoryStore{layout: database.Layout{
		Tabs: []database.Tab{
			{ID: "a", TargetName: "sh", Title: "sh", Position: 0},
			{ID: "b", TargetName: "sh", Title: "build", Position: 1},
		},
		ActiveSessionID: "a",
		IsOpen:          true,
	}}
	reg := registry.New()
	if err := RestoreLayout(reg, store, 240); err != nil {
		t.Fatalf("RestoreLayout: %v", err)
	}
	st := reg.Snapshot()
	if len(st.Sessions) != 2 || st.Sessions[1].Title != "build" {
		t.Errorf("sessions = %+v", st.Sessions)
	}
	if st.ActiveSessionID != "a" || !st.IsOpen || st.PanelHeight != 240 {
		t.Errorf("state = %+v", st)
	}
}

func TestShutdownUnmountsAndSaves(t *testing.T) {
	h := newPersistentHarness(t)
	h.reg.AddSession(registry.NewSession("a", "sh"))
	h.update(refreshMsg{})
	h.m.Shutdown()

	if h.router.Registered("a") {
		t.Error("route left registered")
	}
	if len(h.reg.Snapshot().Sessions) != 1 {
		t.Error("shutdown removed sessions")
	}
	if l, _ := h.store.LoadLayout(); len(l.Tabs) != 1 {
		t.Errorf("layout not saved: %+v", l)
	}
}

func TestViewFillsWindow(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"empty", func(*harness) {}},
		{"open panel", func(h *harness) {
			h.reg.AddSession(registry.NewSession("a", "sh"))
		}},
		{"collapsed panel", func(h *harness) {
			h.reg.AddSession(registry.NewSession("a", "sh"))
			h.reg.ClosePanel()
		}},
		{"help", func(h *harness) {
			h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.update(tea.WindowSizeMsg{Width: 60, Height: 30})
			tt.setup(h)
			h.update(refreshMsg{})

			lines := strings.Split(h.m.View(), "\n")
			if len(lines) != 30 {
				t.Fatalf("%d lines, want 30", len(lines))
			}
			for i, line := range lines {
				if w := ansi.StringWidth(line); w != 60 {
					t.Errorf("line %d width = %d, want 60", i, w)
				}
			}
		})
	}
}
