package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/kevinzwang/termdeck/internal/registry"
)

const (
	maxTabTitle  = 24
	tabSeparator = "│"
	closeGlyph   = "×"
	newTabLabel  = " + "
)

// HitKind says what a click on the tab bar landed on.
type HitKind int

const (
	HitNone HitKind = iota
	HitSelect
	HitClose
	HitNew
)

// Hit is the result of a tab bar hit test.
type Hit struct {
	Kind      HitKind
	SessionID string
}

type tabSpan struct {
	start, end int // columns, end exclusive
	hit        Hit
}

// TabBar draws one tab per session and remembers where each affordance
// landed so clicks can be mapped back to it.
type TabBar struct {
	spans []tabSpan
}

// Render draws the bar for st in width columns. The new-tab button always
// stays on screen; when the tabs overflow, the strip scrolls so the active
// tab is visible. Spans of the last render are what HitTest consults.
func (tb *TabBar) Render(st registry.State, width int, focused bool) string {
	tb.spans = tb.spans[:0]

	activeStyle := activeTabStyle
	inactiveStyle := inactiveTabStyle
	closeStyle := tabCloseStyle
	if !focused {
		activeStyle = activeTabStyle.Foreground(textMuted)
		inactiveStyle = inactiveTabStyle.Foreground(textDim)
		closeStyle = tabCloseStyle.Foreground(textDim)
	}

	closeLabel := closeGlyph + " "
	closeWidth := ansi.StringWidth(closeLabel)
	sepWidth := ansi.StringWidth(tabSeparator)
	newWidth := ansi.StringWidth(newTabLabel)

	labels := make([]string, len(st.Sessions))
	widths := make([]int, len(st.Sessions))
	active := -1
	for i, s := range st.Sessions {
		labels[i] = " " + ansi.Truncate(tabTitle(s), maxTabTitle, "…") + " "
		widths[i] = ansi.StringWidth(labels[i]) + closeWidth + sepWidth
		if s.ID == st.ActiveSessionID {
			active = i
		}
	}

	// limit is the room left for tabs, or -1 when unbounded.
	limit := -1
	first := 0
	if width > 0 {
		limit = max(width-newWidth, 0)
		used := 0
		for i := 0; i <= active; i++ {
			used += widths[i]
		}
		for used > limit && first < active {
			used -= widths[first]
			first++
		}
	}

	var b strings.Builder
	col := 0
	for i := first; i < len(st.Sessions); i++ {
		if limit >= 0 && col >= limit {
			break
		}
		s := st.Sessions[i]
		style := inactiveStyle
		if i == active {
			style = activeStyle
		}
		labelWidth := widths[i] - closeWidth - sepWidth
		b.WriteString(style.Render(labels[i]))
		tb.spans = append(tb.spans, tabSpan{col, col + labelWidth, Hit{HitSelect, s.ID}})
		col += labelWidth

		b.WriteString(closeStyle.Render(closeLabel))
		tb.spans = append(tb.spans, tabSpan{col, col + closeWidth, Hit{HitClose, s.ID}})
		col += closeWidth

		b.WriteString(dividerStyle.Render(tabSeparator))
		col += sepWidth
	}

	line := b.String()
	if limit >= 0 && col > limit {
		line = ansi.Truncate(line, limit, "")
		col = limit
		tb.clip(limit)
	}
	line += newTabStyle.Render(newTabLabel)
	tb.spans = append(tb.spans, tabSpan{col, col + newWidth, Hit{Kind: HitNew}})

	if width > 0 {
		line = ansi.Truncate(line, width, "")
		tb.clip(width)
		if pad := width - ansi.StringWidth(line); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
	}
	return line
}

// clip drops spans that start at or beyond limit and shortens the rest.
func (tb *TabBar) clip(limit int) {
	kept := tb.spans[:0]
	for _, sp := range tb.spans {
		if sp.start >= limit {
			continue
		}
		sp.end = min(sp.end, limit)
		kept = append(kept, sp)
	}
	tb.spans = kept
}

// HitTest maps a column of the last rendered bar to an affordance.
func (tb *TabBar) HitTest(x int) Hit {
	for _, sp := range tb.spans {
		if x >= sp.start && x < sp.end {
			return sp.hit
		}
	}
	return Hit{}
}

func tabTitle(s registry.Session) string {
	if s.Title != "" {
		return s.Title
	}
	return s.TargetName
}

// cycleTab returns the id delta tabs away from the active one, wrapping
// around. It returns "" when there are no sessions.
func cycleTab(st registry.State, delta int) string {
	n := len(st.Sessions)
	if n == 0 {
		return ""
	}
	idx := n - 1
	for i, s := range st.Sessions {
		if s.ID == st.ActiveSessionID {
			idx = i
			break
		}
	}
	idx = ((idx+delta)%n + n) % n
	return st.Sessions[idx].ID
}

var (
	activeTabStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(textNormal)

	tabCloseStyle = lipgloss.NewStyle().
			Foreground(textMuted)

	newTabStyle = lipgloss.NewStyle().
			Foreground(success).
			Bold(true)
)
