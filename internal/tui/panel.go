package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/kevinzwang/termdeck/internal/database"
	"github.com/kevinzwang/termdeck/internal/registry"
)

const (
	headerRows      = 1
	statusRows      = 1
	footerRows      = 1
	panelChromeRows = 2 // drag handle + tab bar
	minListRows     = 1

	defaultCellHeightPx = 16
	defaultCols         = 80
	defaultRows         = 24
)

// screenLayout holds the row of every region for the current window.
type screenLayout struct {
	listTop  int
	listRows int
	statusY  int
	// panelTop is the drag handle when the panel is open, or the collapsed
	// strip when it is not.
	panelTop int
	tabsY    int
	termTop  int
	termRows int
	footerY  int
}

func (m *Model) layout() screenLayout {
	return m.layoutFor(m.state.IsOpen)
}

func (m *Model) layoutFor(open bool) screenLayout {
	avail := m.height - headerRows - statusRows - footerRows
	panelRows := 1
	termRows := 0
	if open {
		termRows = m.pxToRows(m.state.PanelHeight)
		if limit := avail - panelChromeRows - minListRows; termRows > limit {
			termRows = limit
		}
		if termRows < 1 {
			termRows = 1
		}
		panelRows = panelChromeRows + termRows
	}
	listRows := avail - panelRows
	if listRows < 0 {
		listRows = 0
	}

	lay := screenLayout{listTop: headerRows, listRows: listRows}
	lay.statusY = lay.listTop + listRows
	lay.panelTop = lay.statusY + statusRows
	lay.tabsY = lay.panelTop + 1
	lay.termTop = lay.panelTop + panelChromeRows
	lay.termRows = termRows
	lay.footerY = lay.panelTop + panelRows
	return lay
}

func (m *Model) pxToRows(px int) int {
	rows := px / m.cellPx
	if rows < 1 {
		rows = 1
	}
	return rows
}

// containerSize is the cell area a session's terminal gets when the panel
// is open. Hidden bridges keep this size so reopening does not resize them.
func (m *Model) containerSize() (int, int) {
	if m.width == 0 || m.height == 0 {
		return defaultCols, defaultRows
	}
	return m.width, m.layoutFor(true).termRows
}

// sameLayout reports whether two states persist identically.
func sameLayout(a, b registry.State) bool {
	if a.ActiveSessionID != b.ActiveSessionID || a.IsOpen != b.IsOpen ||
		a.PanelHeight != b.PanelHeight || len(a.Sessions) != len(b.Sessions) {
		return false
	}
	for i := range a.Sessions {
		if a.Sessions[i] != b.Sessions[i] {
			return false
		}
	}
	return true
}

func layoutFromState(st registry.State) database.Layout {
	l := database.Layout{
		ActiveSessionID: st.ActiveSessionID,
		IsOpen:          st.IsOpen,
		PanelHeight:     st.PanelHeight,
	}
	for i, s := range st.Sessions {
		l.Tabs = append(l.Tabs, database.Tab{
			ID:         s.ID,
			TargetName: s.TargetName,
			Title:      s.Title,
			Position:   i,
		})
	}
	return l
}

// RestoreLayout loads the saved tabs into reg. Each restored tab gets a
// bridge whose liveness probe drops it if its session is gone. A layout
// saved without a height uses defaultHeight.
func RestoreLayout(reg *registry.Registry, store LayoutStore, defaultHeight int) error {
	l, err := store.LoadLayout()
	if err != nil {
		return fmt.Errorf("failed to restore layout: %w", err)
	}
	height := l.PanelHeight
	if height == 0 {
		height = defaultHeight
	}
	sessions := make([]registry.Session, 0, len(l.Tabs))
	for _, t := range l.Tabs {
		sessions = append(sessions, registry.Session{ID: t.ID, TargetName: t.TargetName, Title: t.Title})
	}
	reg.Restore(sessions, l.ActiveSessionID, l.IsOpen, height)
	return nil
}

// fitBlock crops or pads s to exactly width x height cells.
func fitBlock(s string, width, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	line = ansi.Truncate(line, width, "")
	if pad := width - ansi.StringWidth(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	return line
}

func centerText(s string, width int) string {
	w := ansi.StringWidth(s)
	if w >= width {
		return s
	}
	pad := (width - w) / 2
	return strings.Repeat(" ", pad) + s
}
