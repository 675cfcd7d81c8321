package widget

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Theme is the widget color scheme. ANSI holds the 16 base colors in
// standard order (black, red, green, yellow, blue, magenta, cyan, white,
// then the bright variants).
type Theme struct {
	Name       string
	Background string
	Foreground string
	Cursor     string
	CursorText string
	Selection  string
	ANSI       [16]string
}

var Mocha = Theme{
	Name:       "dark",
	Background: "#1e1e2e",
	Foreground: "#cdd6f4",
	Cursor:     "#f5e0dc",
	CursorText: "#1e1e2e",
	Selection:  "#585b70",
	ANSI: [16]string{
		"#45475a", "#f38ba8", "#a6e3a1", "#f9e2af", "#89b4fa", "#f5c2e7", "#94e2d5", "#bac2de",
		"#585b70", "#f38ba8", "#a6e3a1", "#f9e2af", "#89b4fa", "#f5c2e7", "#94e2d5", "#a6adc8",
	},
}

var Latte = Theme{
	Name:       "light",
	Background: "#eff1f5",
	Foreground: "#4c4f69",
	Cursor:     "#dc8a78",
	CursorText: "#eff1f5",
	Selection:  "#acb0be",
	ANSI: [16]string{
		"#5c5f77", "#d20f39", "#40a02b", "#df8e1d", "#1e66f5", "#ea76cb", "#179299", "#acb0be",
		"#6c6f85", "#d20f39", "#40a02b", "#df8e1d", "#1e66f5", "#ea76cb", "#179299", "#bcc0cc",
	},
}

// ThemeByName returns the theme for "dark" or "light".
func ThemeByName(name string) (Theme, bool) {
	switch strings.ToLower(name) {
	case "dark", "mocha":
		return Mocha, true
	case "light", "latte":
		return Latte, true
	}
	return Theme{}, false
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t.Name == Latte.Name {
		return Mocha
	}
	return Latte
}

// indexed resolves an xterm 256-color index: 0-15 come from the theme,
// 16-231 are the 6x6x6 cube and 232-255 the grey ramp.
func (t Theme) indexed(n int) string {
	switch {
	case n < 16:
		return t.ANSI[n]
	case n < 232:
		n -= 16
		return hexRGB(cubeLevel(n/36), cubeLevel((n/6)%6), cubeLevel(n%6))
	case n < 256:
		v := 8 + (n-232)*10
		return hexRGB(v, v, v)
	}
	return t.Foreground
}

func cubeLevel(i int) int {
	if i == 0 {
		return 0
	}
	return 55 + i*40
}

func hexRGB(r, g, b int) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// Fade blends hex toward the theme background by amount (0 keeps the color,
// 1 yields the background). Unparseable colors are returned unchanged.
func (t Theme) Fade(hex string, amount float64) string {
	c, err := colorful.Hex(hex)
	if err != nil {
		return hex
	}
	bg, err := colorful.Hex(t.Background)
	if err != nil {
		return hex
	}
	return c.BlendRgb(bg, amount).Clamped().Hex()
}
