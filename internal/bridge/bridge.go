// Package bridge connects one backend session to one terminal widget.
//
// A Bridge registers for its session's pushes before anything else happens,
// buffers output until the widget exists, probes the backend for liveness
// and then forwards keystrokes, output and size changes for as long as it
// stays mounted.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kevinzwang/termdeck/internal/frame"
	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/kevinzwang/termdeck/internal/push"
	"github.com/kevinzwang/termdeck/internal/widget"
	"pkt.systems/pslog"
)

// EndedTrailer is written into the widget when the backend reports that the
// session's process exited.
const EndedTrailer = "\r\n\x1b[90m[Session ended]\x1b[0m\r\n"

const inputQueueSize = 1024

type State int

const (
	Uninitialized State = iota
	Subscribing
	Probing
	Ready
	TornDown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Subscribing:
		return "subscribing"
	case Probing:
		return "probing"
	case Ready:
		return "ready"
	case TornDown:
		return "torn-down"
	}
	return "unknown"
}

// Lifecycle is the subset of the lifecycle client a bridge uses.
type Lifecycle interface {
	Write(ctx context.Context, sessionID string, data []byte) error
	Resize(ctx context.Context, sessionID string, cols, rows uint16) error
	IsAlive(ctx context.Context, sessionID string) (bool, error)
}

// Registrar installs push routes. *push.Router implements it.
type Registrar interface {
	Register(route push.Route) (unregister func())
}

// Remover drops a session from the registry.
type Remover interface {
	RemoveSession(id string)
}

// Widget is the terminal surface a bridge drives.
type Widget interface {
	Write(data []byte)
	Fit(cols, rows int) (int, int, bool)
	Size() (int, int)
	SetTheme(theme widget.Theme)
	Encode(msg tea.KeyMsg) []byte
	Render(focused bool) string
	RequestRepaint()
	TakeRepaint() bool
	Dispose()
}

// WidgetFactory constructs the widget once the session is known to be alive.
type WidgetFactory func(opts widget.Options) Widget

// NewTerminal is the default WidgetFactory.
func NewTerminal(opts widget.Options) Widget {
	return widget.New(opts)
}

type Options struct {
	SessionID string
	Lifecycle Lifecycle
	Routes    Registrar
	Registry  Remover
	Factory   WidgetFactory
	Scheduler frame.Scheduler
	Theme     widget.Theme
	// Cols and Rows are the container size until SetContainerSize is called.
	Cols, Rows int
	// Changed is called whenever the rendered output may have changed. It
	// runs on arbitrary goroutines and must not block.
	Changed func()
	Logger  pslog.Logger
}

type Bridge struct {
	id       string
	lc       Lifecycle
	routes   Registrar
	registry Remover
	factory  WidgetFactory
	changed  func()
	log      pslog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	frame     *frame.Coalescer
	input     chan []byte
	resizeMu  sync.Mutex

	mu         sync.Mutex
	state      State
	pending    [][]byte
	w          Widget
	theme      widget.Theme
	width      int
	height     int
	sentCols   int
	sentRows   int
	visible    bool
	exited     bool
	unregister func()

	unmountOnce sync.Once
}

func New(opts Options) *Bridge {
	factory := opts.Factory
	if factory == nil {
		factory = NewTerminal
	}
	logger := opts.Logger
	if logger == nil {
		logger = logx.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		id:       opts.SessionID,
		lc:       opts.Lifecycle,
		routes:   opts.Routes,
		registry: opts.Registry,
		factory:  factory,
		changed:  opts.Changed,
		log:      logx.WithSession(logger, opts.SessionID),
		ctx:      ctx,
		cancel:   cancel,
		input:    make(chan []byte, inputQueueSize),
		theme:    opts.Theme,
		width:    opts.Cols,
		height:   opts.Rows,
		visible:  true,
	}
	b.frame = frame.NewCoalescer(opts.Scheduler, b.fit)
	return b
}

// SessionID implements push.Route.
func (b *Bridge) SessionID() string {
	return b.id
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Mount registers the push route and starts the liveness probe. The route
// is in place before Mount returns.
func (b *Bridge) Mount() {
	b.mu.Lock()
	if b.state != Uninitialized {
		b.mu.Unlock()
		return
	}
	b.state = Subscribing
	b.mu.Unlock()

	unregister := b.routes.Register(b)

	b.mu.Lock()
	if b.state != Subscribing {
		// Unmounted while registering.
		b.mu.Unlock()
		unregister()
		return
	}
	b.unregister = unregister
	b.state = Probing
	b.mu.Unlock()

	go b.probe()
}

func (b *Bridge) probe() {
	alive, err := b.lc.IsAlive(b.ctx, b.id)
	if b.cancelled.Load() {
		return
	}
	if err != nil {
		b.log.Warn("liveness probe failed, assuming alive", "err", err)
		alive = true
	}
	if !alive {
		b.log.Info("session no longer alive")
		b.release()
		b.registry.RemoveSession(b.id)
		return
	}
	b.ready()
}

func (b *Bridge) ready() {
	b.mu.Lock()
	cols, rows, theme := b.width, b.height, b.theme
	b.mu.Unlock()

	w := b.factory(widget.Options{Cols: cols, Rows: rows, Theme: theme, Reply: b.send})

	b.mu.Lock()
	if b.cancelled.Load() || b.state != Probing {
		b.mu.Unlock()
		w.Dispose()
		return
	}
	b.w = w
	for _, chunk := range b.pending {
		w.Write(chunk)
	}
	b.pending = nil
	b.state = Ready
	b.mu.Unlock()

	b.log.Debug("bridge ready")
	go b.pumpInput()
	b.frame.Request()
	b.notify()
}

// OnOutput implements push.Route.
func (b *Bridge) OnOutput(data []byte) {
	b.mu.Lock()
	switch b.state {
	case Subscribing, Probing:
		b.pending = append(b.pending, data)
	case Ready:
		b.w.Write(data)
	default:
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.notify()
}

// OnExit implements push.Route.
func (b *Bridge) OnExit() {
	b.mu.Lock()
	if b.exited {
		b.mu.Unlock()
		return
	}
	switch b.state {
	case Subscribing, Probing:
		b.pending = append(b.pending, []byte(EndedTrailer))
	case Ready:
		b.w.Write([]byte(EndedTrailer))
	default:
		b.mu.Unlock()
		return
	}
	b.exited = true
	b.mu.Unlock()

	b.log.Info("session exited")
	b.notify()
	b.registry.RemoveSession(b.id)
}

// HandleKey forwards a key event to the session. Keys pressed before the
// widget exists are dropped.
func (b *Bridge) HandleKey(msg tea.KeyMsg) {
	w := b.widget()
	if w == nil {
		return
	}
	if data := w.Encode(msg); len(data) > 0 {
		b.send(data)
	}
}

// Paste forwards text to the session as typed input.
func (b *Bridge) Paste(text string) {
	if text == "" || b.widget() == nil {
		return
	}
	b.send([]byte(text))
}

func (b *Bridge) send(data []byte) {
	if b.cancelled.Load() {
		return
	}
	select {
	case b.input <- data:
	default:
		b.log.Warn("input queue full, dropping input", "len", len(data))
	}
}

// pumpInput writes queued input in order on a goroutine of its own, so
// emulator replies produced while handling output never wait on the
// transport.
func (b *Bridge) pumpInput() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case data := <-b.input:
			if err := b.lc.Write(b.ctx, b.id, data); err != nil && b.ctx.Err() == nil {
				b.log.Debug("write failed", "err", err)
			}
		}
	}
}

// SetContainerSize records the space available to the widget in cells.
// Calls within one frame collapse into a single fit.
func (b *Bridge) SetContainerSize(cols, rows int) {
	b.mu.Lock()
	b.width, b.height = cols, rows
	b.mu.Unlock()
	b.frame.Request()
}

func (b *Bridge) fit() {
	b.resizeMu.Lock()
	defer b.resizeMu.Unlock()

	b.mu.Lock()
	if b.state != Ready {
		b.mu.Unlock()
		return
	}
	cols, rows, _ := b.w.Fit(b.width, b.height)
	changed := cols != b.sentCols || rows != b.sentRows
	if changed {
		b.sentCols, b.sentRows = cols, rows
	}
	b.mu.Unlock()

	if changed {
		if err := b.lc.Resize(b.ctx, b.id, uint16(cols), uint16(rows)); err != nil && b.ctx.Err() == nil {
			b.log.Debug("resize failed", "cols", cols, "rows", rows, "err", err)
		}
	}
	b.notify()
}

// SetVisible tells the bridge whether its host is visible. Becoming visible
// again while active re-fits and repaints the widget.
func (b *Bridge) SetVisible(visible, active bool) {
	b.mu.Lock()
	was := b.visible
	b.visible = visible
	w := b.w
	ready := b.state == Ready
	b.mu.Unlock()

	if visible && !was && active && ready {
		w.RequestRepaint()
		b.frame.Request()
	}
}

// SetTheme recolors the widget in place.
func (b *Bridge) SetTheme(theme widget.Theme) {
	b.mu.Lock()
	b.theme = theme
	w := b.w
	ready := b.state == Ready
	b.mu.Unlock()
	if ready {
		w.SetTheme(theme)
		b.notify()
	}
}

// View renders the widget, or "" before it exists.
func (b *Bridge) View(focused bool) string {
	w := b.widget()
	if w == nil {
		return ""
	}
	return w.Render(focused)
}

// TakeRepaint reports whether the widget asked for a full repaint since the
// last call.
func (b *Bridge) TakeRepaint() bool {
	w := b.widget()
	return w != nil && w.TakeRepaint()
}

// Size returns the widget grid size, or zero before it exists.
func (b *Bridge) Size() (int, int) {
	w := b.widget()
	if w == nil {
		return 0, 0
	}
	return w.Size()
}

func (b *Bridge) widget() Widget {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Ready {
		return nil
	}
	return b.w
}

// Unmount tears the bridge down. It is safe in every state and on repeated
// calls; it does not close the backend session.
func (b *Bridge) Unmount() {
	b.unmountOnce.Do(func() {
		b.cancelled.Store(true)
		b.release()
		b.log.Debug("bridge unmounted")
	})
}

func (b *Bridge) release() {
	b.cancel()
	b.frame.Stop()

	b.mu.Lock()
	unregister := b.unregister
	b.unregister = nil
	w := b.w
	b.state = TornDown
	b.pending = nil
	b.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	if w != nil {
		w.Dispose()
	}
}

func (b *Bridge) notify() {
	if b.changed != nil {
		b.changed()
	}
}
