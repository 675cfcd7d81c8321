package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kevinzwang/termdeck/internal/bridge"
	"github.com/kevinzwang/termdeck/internal/database"
	"github.com/kevinzwang/termdeck/internal/frame"
	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/kevinzwang/termdeck/internal/registry"
	"github.com/kevinzwang/termdeck/internal/target"
	"github.com/kevinzwang/termdeck/internal/widget"
	"pkt.systems/pslog"
)

// Version is set via ldflags at build time
var Version = "dev"

const saveDelay = 500 * time.Millisecond

// Focus state
type focus int

const (
	focusTargets focus = iota
	focusTerminal
)

// Custom messages
type refreshMsg struct{}

type targetsLoadedMsg struct {
	targets []target.Target
	err     error
}

type sessionCreatedMsg struct {
	id         string
	targetName string
	err        error
}

type saveLayoutMsg struct {
	gen int
}

// Lifecycle is the part of the lifecycle client the shell drives.
type Lifecycle interface {
	bridge.Lifecycle
	Create(ctx context.Context, targetName string) (string, error)
	Close(ctx context.Context, sessionID string) error
}

// TargetLister enumerates the targets a session can start on.
type TargetLister interface {
	List(ctx context.Context) ([]target.Target, error)
}

// LayoutStore persists tabs between runs. *database.DB implements it.
type LayoutStore interface {
	SaveLayout(l database.Layout) error
	LoadLayout() (database.Layout, error)
}

type Options struct {
	Registry  *registry.Registry
	Lifecycle Lifecycle
	Targets   TargetLister
	Routes    bridge.Registrar
	// Layout may be nil, in which case nothing is persisted.
	Layout       LayoutStore
	Scheduler    frame.Scheduler
	Factory      bridge.WidgetFactory
	Theme        widget.Theme
	CellHeightPx int
	Logger       pslog.Logger
}

type Model struct {
	reg     *registry.Registry
	lc      Lifecycle
	lister  TargetLister
	routes  bridge.Registrar
	store   LayoutStore
	sched   frame.Scheduler
	factory bridge.WidgetFactory
	cellPx  int
	log     pslog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	// Core state
	focus   focus
	state   registry.State // last registry snapshot seen by Update
	saved   registry.State
	bridges map[string]*bridge.Bridge
	theme   widget.Theme

	// Target list
	targets      []target.Target
	cursor       int
	scrollOffset int

	// Panel chrome
	tabs                 TabBar
	dragging             bool
	dragStartY           int
	dragStartHeight      int
	sizedCols, sizedRows int

	// Window dimensions
	width   int
	height  int
	blurred bool

	keys     keyMap
	help     help.Model
	showHelp bool
	spinner  spinner.Model
	creating bool
	err      error
	message  string
	saveGen  int

	send         atomic.Pointer[func(tea.Msg)]
	pending      atomic.Bool
	unsubscribe  func()
	shutdownOnce sync.Once
}

func NewModel(opts Options) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	logger := opts.Logger
	if logger == nil {
		logger = logx.Discard()
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = frame.Real{}
	}
	cellPx := opts.CellHeightPx
	if cellPx <= 0 {
		cellPx = defaultCellHeightPx
	}
	theme := opts.Theme
	if theme.Name == "" {
		theme = widget.Mocha
	}
	ctx, cancel := context.WithCancel(pslog.ContextWithLogger(context.Background(), logger))

	m := &Model{
		reg:     opts.Registry,
		lc:      opts.Lifecycle,
		lister:  opts.Targets,
		routes:  opts.Routes,
		store:   opts.Layout,
		sched:   sched,
		factory: opts.Factory,
		cellPx:  cellPx,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		focus:   focusTargets,
		bridges: make(map[string]*bridge.Bridge),
		theme:   theme,
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: s,
	}
	m.state = m.reg.Snapshot()
	m.saved = m.state
	m.unsubscribe = m.reg.Subscribe(func(registry.State) { m.notify() })
	return m
}

// SetProgram sets the Bubble Tea program reference, needed for registry and
// bridge notifications.
func (m *Model) SetProgram(p *tea.Program) {
	m.setNotifier(p.Send)
}

func (m *Model) setNotifier(send func(tea.Msg)) {
	m.send.Store(&send)
}

// notify queues a refresh. It never blocks and collapses bursts into one
// pending message.
func (m *Model) notify() {
	send := m.send.Load()
	if send == nil {
		return
	}
	if !m.pending.CompareAndSwap(false, true) {
		return
	}
	go (*send)(refreshMsg{})
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadTargets(),
		func() tea.Msg { return refreshMsg{} },
	)
}

// Shutdown unmounts every bridge and writes the layout. Sessions keep
// running in the daemon. Safe to call more than once.
func (m *Model) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.unsubscribe()
		for id, b := range m.bridges {
			b.Unmount()
			delete(m.bridges, id)
		}
		if m.store != nil {
			if err := m.store.SaveLayout(layoutFromState(m.reg.Snapshot())); err != nil {
				m.log.Warn("failed to save layout", "err", err)
			}
		}
		m.cancel()
	})
}

// --- Commands ---

func (m *Model) loadTargets() tea.Cmd {
	ctx, lister := m.ctx, m.lister
	return func() tea.Msg {
		targets, err := lister.List(ctx)
		return targetsLoadedMsg{targets: targets, err: err}
	}
}

// newSession starts a shell on targetName, or on the first running target
// when targetName is empty.
func (m *Model) newSession(targetName string) tea.Cmd {
	if m.creating {
		return nil
	}
	m.creating = true
	m.err = nil
	m.message = ""
	ctx, lc, lister := m.ctx, m.lc, m.lister
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		name := targetName
		if name == "" {
			targets, err := lister.List(ctx)
			if err != nil {
				return sessionCreatedMsg{err: err}
			}
			t, ok := target.FirstRunning(targets)
			if !ok {
				return sessionCreatedMsg{}
			}
			name = t.Name
		}
		id, err := lc.Create(ctx, name)
		return sessionCreatedMsg{id: id, targetName: name, err: err}
	})
}

// closeTab drops the tab right away and closes the backend session in the
// background.
func (m *Model) closeTab(id string) {
	m.reg.RemoveSession(id)
	ctx, lc, log := context.WithoutCancel(m.ctx), m.lc, logx.WithSession(m.log, id)
	go func() {
		if err := lc.Close(ctx, id); err != nil {
			log.Debug("close failed", "err", err)
		}
	}()
}

func (m *Model) scheduleSave(st registry.State) tea.Cmd {
	if m.store == nil || sameLayout(st, m.saved) {
		return nil
	}
	m.saved = st
	m.saveGen++
	gen := m.saveGen
	return tea.Tick(saveDelay, func(time.Time) tea.Msg {
		return saveLayoutMsg{gen: gen}
	})
}

func (m *Model) saveLayout() tea.Cmd {
	store, layout, log := m.store, layoutFromState(m.saved), m.log
	return func() tea.Msg {
		if err := store.SaveLayout(layout); err != nil {
			log.Warn("failed to save layout", "err", err)
		}
		return nil
	}
}

// --- Update ---

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, m.refresh()

	case tea.FocusMsg:
		m.blurred = false
		return m, m.refresh()

	case tea.BlurMsg:
		m.blurred = true
		return m, m.refresh()

	case refreshMsg:
		m.pending.Store(false)
		return m, m.refresh()

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case targetsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.targets = msg.targets
		if m.cursor >= len(m.targets) {
			m.cursor = len(m.targets) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		m.adjustScroll()
		return m, nil

	case sessionCreatedMsg:
		m.creating = false
		switch {
		case msg.err != nil:
			m.err = msg.err
			m.log.Warn("session create failed", "err", msg.err)
			return m, nil
		case msg.id == "":
			m.message = "No running target to start a session on"
			return m, nil
		}
		m.reg.AddSession(registry.NewSession(msg.id, msg.targetName))
		logx.WithTarget(logx.WithSession(m.log, msg.id), msg.targetName).Info("session created")
		m.message = fmt.Sprintf("Started session on '%s'", msg.targetName)
		m.focus = focusTerminal
		return m, m.refresh()

	case saveLayoutMsg:
		if msg.gen != m.saveGen {
			return m, nil
		}
		return m, m.saveLayout()

	case spinner.TickMsg:
		if !m.creating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// refresh brings bridges in line with the registry: new sessions get a
// mounted bridge, removed ones are unmounted, and every bridge learns its
// size and visibility.
func (m *Model) refresh() tea.Cmd {
	st := m.reg.Snapshot()
	m.state = st

	live := make(map[string]bool, len(st.Sessions))
	for _, s := range st.Sessions {
		live[s.ID] = true
		if _, ok := m.bridges[s.ID]; ok {
			continue
		}
		cols, rows := m.containerSize()
		b := bridge.New(bridge.Options{
			SessionID: s.ID,
			Lifecycle: m.lc,
			Routes:    m.routes,
			Registry:  m.reg,
			Factory:   m.factory,
			Scheduler: m.sched,
			Theme:     m.theme,
			Cols:      cols,
			Rows:      rows,
			Changed:   m.notify,
			Logger:    m.log,
		})
		m.bridges[s.ID] = b
		b.Mount()
	}
	for id, b := range m.bridges {
		if !live[id] {
			b.Unmount()
			delete(m.bridges, id)
		}
	}

	cols, rows := m.containerSize()
	resized := cols != m.sizedCols || rows != m.sizedRows
	m.sizedCols, m.sizedRows = cols, rows
	repaint := false
	for id, b := range m.bridges {
		if resized {
			b.SetContainerSize(cols, rows)
		}
		b.SetVisible(m.bridgeVisible(id), id == st.ActiveSessionID)
		if b.TakeRepaint() {
			repaint = true
		}
	}

	if m.focus == focusTerminal && !m.terminalAvailable() {
		m.focus = focusTargets
	}
	if m.dragging && !st.IsOpen {
		m.dragging = false
	}

	var cmds []tea.Cmd
	if repaint {
		cmds = append(cmds, tea.ClearScreen)
	}
	cmds = append(cmds, m.scheduleSave(st))
	return tea.Batch(cmds...)
}

func (m *Model) bridgeVisible(id string) bool {
	return !m.blurred && m.state.IsOpen && id == m.state.ActiveSessionID
}

func (m *Model) terminalAvailable() bool {
	return m.state.IsOpen && m.state.ActiveSessionID != ""
}

func (m *Model) terminalFocused() bool {
	return m.focus == focusTerminal && !m.blurred
}

func (m *Model) activeBridge() *bridge.Bridge {
	return m.bridges[m.state.ActiveSessionID]
}

func (m *Model) selectTab(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	m.reg.SetActiveSession(id)
	return m.refresh()
}

func (m *Model) toggleTheme() {
	m.theme = m.theme.Toggle()
	for _, b := range m.bridges {
		b.SetTheme(m.theme)
	}
	m.message = "Theme: " + m.theme.Name
}

// --- Keys ---

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		if key.Matches(msg, m.keys.Help) || msg.Type == tea.KeyEscape {
			m.showHelp = false
		}
		return m, nil
	}
	if m.focus == focusTerminal {
		return m.handleTerminalKeys(msg)
	}
	return m.handleTargetKeys(msg)
}

func (m *Model) handleTerminalKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.focus = focusTargets
		return m, nil
	case key.Matches(msg, m.keys.NextTab):
		return m, m.selectTab(cycleTab(m.state, 1))
	case key.Matches(msg, m.keys.PrevTab):
		return m, m.selectTab(cycleTab(m.state, -1))
	}

	b := m.activeBridge()
	if b == nil {
		return m, nil
	}
	if msg.Paste {
		b.Paste(string(msg.Runes))
		return m, nil
	}
	b.HandleKey(msg)
	return m, nil
}

func (m *Model) handleTargetKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
			m.adjustScroll()
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.targets)-1 {
			m.cursor++
			m.adjustScroll()
		}
		return m, nil

	case key.Matches(msg, m.keys.Launch):
		if m.cursor >= len(m.targets) {
			return m, nil
		}
		t := m.targets[m.cursor]
		if !t.IsRunning {
			m.err = fmt.Errorf("target '%s' is not running", t.Name)
			return m, nil
		}
		return m, m.newSession(t.Name)

	case key.Matches(msg, m.keys.New):
		return m, m.newSession("")

	case key.Matches(msg, m.keys.Close):
		if id := m.state.ActiveSessionID; id != "" {
			m.closeTab(id)
			return m, m.refresh()
		}
		return m, nil

	case key.Matches(msg, m.keys.TogglePanel):
		m.reg.TogglePanel()
		return m, m.refresh()

	case key.Matches(msg, m.keys.Terminal):
		if m.terminalAvailable() {
			m.message = ""
			m.err = nil
			m.focus = focusTerminal
		}
		return m, nil

	case key.Matches(msg, m.keys.NextTab):
		return m, m.selectTab(cycleTab(m.state, 1))

	case key.Matches(msg, m.keys.PrevTab):
		return m, m.selectTab(cycleTab(m.state, -1))

	case key.Matches(msg, m.keys.Theme):
		m.toggleTheme()
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.err = nil
		return m, m.loadTargets()

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	}
	return m, nil
}

func (m *Model) adjustScroll() {
	rows := m.layout().listRows
	if rows < 1 {
		rows = 1
	}
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+rows {
		m.scrollOffset = m.cursor - rows + 1
	}
}

// --- Mouse ---

func (m *Model) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if m.dragging {
		switch msg.Action {
		case tea.MouseActionMotion:
			m.dragTo(msg.Y)
			return m, m.refresh()
		case tea.MouseActionRelease:
			m.dragTo(msg.Y)
			m.dragging = false
			return m, m.refresh()
		}
	}
	if msg.Action != tea.MouseActionPress {
		return m, nil
	}

	lay := m.layout()
	inList := msg.Y >= lay.listTop && msg.Y < lay.listTop+lay.listRows

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		if inList && m.cursor > 0 {
			m.cursor--
			m.adjustScroll()
		}
		return m, nil
	case tea.MouseButtonWheelDown:
		if inList && m.cursor < len(m.targets)-1 {
			m.cursor++
			m.adjustScroll()
		}
		return m, nil
	case tea.MouseButtonLeft:
	default:
		return m, nil
	}

	switch {
	case msg.Y == lay.panelTop && m.state.IsOpen:
		m.dragging = true
		m.dragStartY = msg.Y
		m.dragStartHeight = m.state.PanelHeight
		return m, nil

	case msg.Y == lay.panelTop:
		m.reg.OpenPanel()
		return m, m.refresh()

	case msg.Y == lay.tabsY && m.state.IsOpen:
		return m.handleTabClick(msg.X)

	case msg.Y >= lay.termTop && msg.Y < lay.footerY && m.state.IsOpen:
		if m.terminalAvailable() {
			m.focus = focusTerminal
		}
		return m, nil

	case inList:
		m.focus = focusTargets
		if idx := m.scrollOffset + msg.Y - lay.listTop; idx < len(m.targets) {
			m.cursor = idx
		}
		return m, nil
	}
	return m, nil
}

// dragTo sizes the panel from where the drag began. Dragging up grows the
// panel.
func (m *Model) dragTo(y int) {
	st := m.reg.Snapshot()
	if !st.IsOpen {
		m.dragging = false
		return
	}
	height := m.dragStartHeight + (m.dragStartY-y)*m.cellPx
	if registry.ClampHeight(height) == st.PanelHeight {
		return
	}
	m.reg.SetPanelHeight(height)
}

func (m *Model) handleTabClick(x int) (tea.Model, tea.Cmd) {
	hit := m.tabs.HitTest(x)
	switch hit.Kind {
	case HitSelect:
		m.focus = focusTerminal
		return m, m.selectTab(hit.SessionID)
	case HitClose:
		m.closeTab(hit.SessionID)
		return m, m.refresh()
	case HitNew:
		return m, m.newSession("")
	}
	return m, nil
}

// --- View ---

func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	lay := m.layout()

	sections := []string{m.viewHeader()}
	if lay.listRows > 0 {
		if m.showHelp {
			sections = append(sections, fitBlock(lipgloss.Place(m.width, lay.listRows, lipgloss.Center, lipgloss.Center, m.viewHelp()), m.width, lay.listRows))
		} else {
			sections = append(sections, m.viewTargets(lay.listRows))
		}
	}
	sections = append(sections, m.viewStatus(), m.viewPanel(lay), m.viewFooter())
	return strings.Join(sections, "\n")
}

func (m *Model) viewHeader() string {
	left := titleStyle.Render("termdeck") + subtitleStyle.Render(" "+Version)
	right := subtitleStyle.Render(fmt.Sprintf("%d sessions · %s ", len(m.state.Sessions), m.theme.Name))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return padLine(left, m.width)
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m *Model) viewTargets(rows int) string {
	if len(m.targets) == 0 {
		return fitBlock("\n"+centerText(placeholderStyle.Render("No targets. Press r to refresh."), m.width), m.width, rows)
	}
	var lines []string
	end := m.scrollOffset + rows
	if end > len(m.targets) {
		end = len(m.targets)
	}
	for i := m.scrollOffset; i < end; i++ {
		lines = append(lines, m.renderTarget(i))
	}
	return fitBlock(strings.Join(lines, "\n"), m.width, rows)
}

func (m *Model) renderTarget(i int) string {
	t := m.targets[i]
	selected := i == m.cursor && m.focus == focusTargets

	prefix := "  "
	nameStyle := normalItemStyle
	if selected {
		prefix = "▸ "
		nameStyle = selectedItemStyle
	}
	badge := stoppedItemStyle.Render("○ stopped")
	if t.IsRunning {
		badge = runningBadgeStyle.Render("● running")
	} else if !selected {
		nameStyle = stoppedItemStyle
	}
	return nameStyle.Render(prefix+t.Name) + metadataStyle.Render(badge)
}

func (m *Model) viewStatus() string {
	var line string
	switch {
	case m.creating:
		line = m.spinner.View() + statusStyle.Render(" Starting session...")
	case m.err != nil:
		line = errorStyle.Render("Error: " + m.err.Error())
	case m.message != "":
		line = statusStyle.Render(m.message)
	}
	return padLine(line, m.width)
}

func (m *Model) viewPanel(lay screenLayout) string {
	if !m.state.IsOpen {
		strip := fmt.Sprintf("▸ %d sessions · ^j or click to open", len(m.state.Sessions))
		return padLine(dividerStyle.Render(strip), m.width)
	}
	return strings.Join([]string{
		m.viewHandle(),
		m.tabs.Render(m.state, m.width, m.terminalFocused()),
		m.viewTerminal(lay.termRows),
	}, "\n")
}

func (m *Model) viewHandle() string {
	style := dividerStyle
	if m.dragging {
		style = handleActiveStyle
	}
	grip := " ≡ "
	left := (m.width - lipgloss.Width(grip)) / 2
	if left < 0 {
		return padLine(style.Render(grip), m.width)
	}
	right := m.width - left - lipgloss.Width(grip)
	return style.Render(strings.Repeat("─", left) + grip + strings.Repeat("─", right))
}

func (m *Model) viewTerminal(rows int) string {
	b := m.activeBridge()
	if b == nil {
		return fitBlock("\n"+centerText(placeholderStyle.Render("No sessions. Press n to start one."), m.width), m.width, rows)
	}
	content := b.View(m.terminalFocused())
	if content == "" {
		content = "\n" + centerText(placeholderStyle.Render("Connecting..."), m.width)
	}
	return fitBlock(content, m.width, rows)
}

func (m *Model) viewFooter() string {
	if m.focus == focusTerminal {
		return padLine(m.help.ShortHelpView([]key.Binding{m.keys.Back, m.keys.NextTab, m.keys.PrevTab}), m.width)
	}
	return padLine(m.help.View(m.keys), m.width)
}

func (m *Model) viewHelp() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Keyboard Shortcuts"))
	b.WriteString("\n\n")
	b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	b.WriteString("\n\n")
	b.WriteString(statusStyle.Render("In the terminal every other key goes to the shell."))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("Press Esc or ? to close"))
	return dialogBoxStyle.Render(b.String())
}
