package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the shell's own bindings. While the terminal has focus only
// Back, NextTab and PrevTab are intercepted; everything else goes to the
// session.
type keyMap struct {
	Up          key.Binding
	Down        key.Binding
	Launch      key.Binding
	New         key.Binding
	Close       key.Binding
	TogglePanel key.Binding
	Terminal    key.Binding
	Back        key.Binding
	NextTab     key.Binding
	PrevTab     key.Binding
	Theme       key.Binding
	Refresh     key.Binding
	Help        key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Launch: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open on target"),
		),
		New: key.NewBinding(
			key.WithKeys("n", "ctrl+t"),
			key.WithHelp("n", "new session"),
		),
		Close: key.NewBinding(
			key.WithKeys("w", "ctrl+w"),
			key.WithHelp("w", "close tab"),
		),
		TogglePanel: key.NewBinding(
			key.WithKeys("ctrl+j"),
			key.WithHelp("^j", "toggle panel"),
		),
		Terminal: key.NewBinding(
			key.WithKeys("tab", "esc"),
			key.WithHelp("tab", "focus terminal"),
		),
		Back: key.NewBinding(
			key.WithKeys("ctrl+]"),
			key.WithHelp("^]", "back to targets"),
		),
		NextTab: key.NewBinding(
			key.WithKeys("ctrl+pgdown"),
			key.WithHelp("^pgdn", "next tab"),
		),
		PrevTab: key.NewBinding(
			key.WithKeys("ctrl+pgup"),
			key.WithHelp("^pgup", "prev tab"),
		),
		Theme: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("^l", "theme"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh targets"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.New, k.Close, k.TogglePanel, k.Terminal, k.Back, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Launch, k.Refresh},
		{k.New, k.Close, k.NextTab, k.PrevTab},
		{k.TogglePanel, k.Terminal, k.Back, k.Theme},
		{k.Help, k.Quit},
	}
}
