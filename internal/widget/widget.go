// Package widget is the terminal emulator surface a bridge drives: it
// parses PTY output into a cell grid, renders that grid for the panel and
// encodes keystrokes back into bytes.
package widget

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/hinshun/vt10x"
)

const (
	MinCols = 2
	MinRows = 1

	// unfocusedFade is how far colors move toward the background while the
	// terminal does not have keyboard focus.
	unfocusedFade = 0.6
)

// Glyph attribute bits as set by the vt10x parser.
const (
	attrReverse = 1 << iota
	attrUnderline
	attrBold
	attrGfx
	attrItalic
	attrBlink
)

// Options configures a new Terminal. Reply receives bytes the emulator
// answers with, such as device status reports, and must not block.
type Options struct {
	Cols  int
	Rows  int
	Theme Theme
	Reply func([]byte)
}

// Terminal is a headless terminal emulator with a cell-grid renderer.
type Terminal struct {
	vt vt10x.Terminal

	mu       sync.Mutex
	theme    Theme
	cols     int
	rows     int
	repaint  bool
	disposed bool
	// carry holds the start of a UTF-8 sequence split across writes.
	carry []byte
}

type replyWriter func([]byte)

func (w replyWriter) Write(p []byte) (int, error) {
	if w != nil {
		buf := make([]byte, len(p))
		copy(buf, p)
		w(buf)
	}
	return len(p), nil
}

func New(opts Options) *Terminal {
	cols, rows := clampSize(opts.Cols, opts.Rows)
	theme := opts.Theme
	if theme.Name == "" {
		theme = Mocha
	}
	return &Terminal{
		vt:    vt10x.New(vt10x.WithSize(cols, rows), vt10x.WithWriter(replyWriter(opts.Reply))),
		theme: theme,
		cols:  cols,
		rows:  rows,
	}
}

func clampSize(cols, rows int) (int, int) {
	if cols < MinCols {
		cols = MinCols
	}
	if rows < MinRows {
		rows = MinRows
	}
	return cols, rows
}

// Write feeds PTY output into the emulator. A multi-byte character cut
// off at the end of data is held back until the rest arrives.
func (t *Terminal) Write(data []byte) {
	t.mu.Lock()
	if t.disposed || len(data) == 0 {
		t.mu.Unlock()
		return
	}
	if len(t.carry) > 0 {
		data = append(t.carry, data...)
		t.carry = nil
	}
	if n := partialRuneTail(data); n > 0 {
		t.carry = append([]byte(nil), data[len(data)-n:]...)
		data = data[:len(data)-n]
	}
	t.mu.Unlock()
	if len(data) == 0 {
		return
	}
	t.vt.Write(data)
}

// partialRuneTail returns how many trailing bytes of p begin a UTF-8
// sequence that is not complete yet.
func partialRuneTail(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax+1; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return 0
			}
			return len(p) - i
		}
	}
	return 0
}

// Fit resizes the grid to the given cell dimensions and reports the
// resulting size and whether it changed.
func (t *Terminal) Fit(cols, rows int) (int, int, bool) {
	cols, rows = clampSize(cols, rows)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed || (cols == t.cols && rows == t.rows) {
		return t.cols, t.rows, false
	}
	t.cols, t.rows = cols, rows
	t.vt.Resize(cols, rows)
	t.repaint = true
	return cols, rows, true
}

// Size returns the grid dimensions in cells.
func (t *Terminal) Size() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows
}

func (t *Terminal) Theme() Theme {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.theme
}

// SetTheme swaps the color scheme and marks the surface for a repaint.
func (t *Terminal) SetTheme(theme Theme) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.theme = theme
	t.repaint = true
}

// Encode returns the bytes a key event should send to the session.
func (t *Terminal) Encode(msg tea.KeyMsg) []byte {
	return EncodeKey(msg)
}

// RequestRepaint marks the whole surface as stale.
func (t *Terminal) RequestRepaint() {
	t.mu.Lock()
	t.repaint = true
	t.mu.Unlock()
}

// TakeRepaint reports and clears the stale mark.
func (t *Terminal) TakeRepaint() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.repaint
	t.repaint = false
	return r
}

// Dispose stops the emulator from accepting output.
func (t *Terminal) Dispose() {
	t.mu.Lock()
	t.disposed = true
	t.mu.Unlock()
}

func (t *Terminal) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Text returns the grid contents without styling, one line per row with
// trailing blanks trimmed.
func (t *Terminal) Text() string {
	t.vt.Lock()
	defer t.vt.Unlock()
	cols, rows := t.vt.Size()
	lines := make([]string, rows)
	for y := 0; y < rows; y++ {
		var b strings.Builder
		for x := 0; x < cols; x++ {
			b.WriteRune(cellRune(t.vt.Cell(x, y)))
		}
		lines[y] = strings.TrimRight(b.String(), " ")
	}
	return strings.Join(lines, "\n")
}

type cellStyle struct {
	fg, bg string
	mode   int16
}

// Render draws the grid. The cursor is drawn only when focused; an
// unfocused grid is faded toward the background.
func (t *Terminal) Render(focused bool) string {
	t.mu.Lock()
	theme := t.theme
	t.mu.Unlock()

	t.vt.Lock()
	defer t.vt.Unlock()

	cols, rows := t.vt.Size()
	cursor := t.vt.Cursor()
	showCursor := focused && t.vt.CursorVisible()
	fade := 0.0
	if !focused {
		fade = unfocusedFade
	}

	var out strings.Builder
	var run strings.Builder
	for y := 0; y < rows; y++ {
		if y > 0 {
			out.WriteByte('\n')
		}
		var cur cellStyle
		run.Reset()
		for x := 0; x < cols; x++ {
			g := t.vt.Cell(x, y)
			st := cellStyle{
				fg:   theme.color(g.FG, theme.Foreground),
				bg:   theme.color(g.BG, theme.Background),
				mode: g.Mode,
			}
			if st.mode&attrReverse != 0 {
				st.fg, st.bg = st.bg, st.fg
			}
			if showCursor && x == cursor.X && y == cursor.Y {
				st.fg, st.bg = theme.CursorText, theme.Cursor
			}
			if fade > 0 {
				st.fg = theme.Fade(st.fg, fade)
				st.bg = theme.Fade(st.bg, fade)
			}
			if x > 0 && st != cur {
				out.WriteString(cur.render(run.String()))
				run.Reset()
			}
			cur = st
			run.WriteRune(cellRune(g))
		}
		out.WriteString(cur.render(run.String()))
	}
	return out.String()
}

func (s cellStyle) render(text string) string {
	if text == "" {
		return ""
	}
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color(s.fg)).
		Background(lipgloss.Color(s.bg))
	if s.mode&attrBold != 0 {
		style = style.Bold(true)
	}
	if s.mode&attrItalic != 0 {
		style = style.Italic(true)
	}
	if s.mode&attrUnderline != 0 {
		style = style.Underline(true)
	}
	if s.mode&attrBlink != 0 {
		style = style.Blink(true)
	}
	return style.Render(text)
}

func cellRune(g vt10x.Glyph) rune {
	if g.Char == 0 {
		return ' '
	}
	return g.Char
}

// color resolves a vt10x color against the theme.
func (t Theme) color(c vt10x.Color, def string) string {
	switch {
	case c == vt10x.DefaultFG:
		return t.Foreground
	case c == vt10x.DefaultBG:
		return t.Background
	case c >= vt10x.DefaultFG:
		return def
	case c < 256:
		return t.indexed(int(c))
	}
	return fmt.Sprintf("#%06x", uint32(c))
}
