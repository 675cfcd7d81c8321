package widget

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// EncodeKey translates a Bubble Tea key event into the bytes an xterm
// would send for it. Unknown keys encode to nil.
func EncodeKey(msg tea.KeyMsg) []byte {
	if msg.Paste {
		return []byte(string(msg.Runes))
	}

	// Alt+Runes: ESC + rune in one write. If they're split, the program
	// sees a standalone Escape followed by the rune.
	if msg.Type == tea.KeyRunes {
		if msg.Alt {
			return []byte("\x1b" + string(msg.Runes))
		}
		return []byte(string(msg.Runes))
	}

	if b, ok := keyByte(msg.Type); ok {
		if msg.Alt {
			return []byte{0x1b, b}
		}
		return []byte{b}
	}

	seq, ok := keySequences[msg.Type]
	if !ok {
		return nil
	}
	if msg.Alt {
		return []byte(addAltModifier(seq))
	}
	return []byte(seq)
}

// keyByte returns the raw byte for single-byte keys. Bubble Tea's control
// key types share their values with the C0 control bytes, so Ctrl+letter,
// Enter, Tab and Escape map straight through.
func keyByte(kt tea.KeyType) (byte, bool) {
	switch {
	case kt == tea.KeySpace:
		return ' ', true
	case kt == tea.KeyBackspace:
		return 0x7f, true
	case kt >= 0 && kt <= 0x1f:
		return byte(kt), true
	}
	return 0, false
}

// keySequences holds the xterm escape sequences for multi-byte keys. These
// match the sequences in Bubble Tea's key parser.
var keySequences = map[tea.KeyType]string{
	tea.KeyUp:    "\x1b[A",
	tea.KeyDown:  "\x1b[B",
	tea.KeyRight: "\x1b[C",
	tea.KeyLeft:  "\x1b[D",

	tea.KeyShiftUp:    "\x1b[1;2A",
	tea.KeyShiftDown:  "\x1b[1;2B",
	tea.KeyShiftRight: "\x1b[1;2C",
	tea.KeyShiftLeft:  "\x1b[1;2D",

	tea.KeyCtrlUp:    "\x1b[1;5A",
	tea.KeyCtrlDown:  "\x1b[1;5B",
	tea.KeyCtrlRight: "\x1b[1;5C",
	tea.KeyCtrlLeft:  "\x1b[1;5D",

	tea.KeyCtrlShiftUp:    "\x1b[1;6A",
	tea.KeyCtrlShiftDown:  "\x1b[1;6B",
	tea.KeyCtrlShiftRight: "\x1b[1;6C",
	tea.KeyCtrlShiftLeft:  "\x1b[1;6D",

	tea.KeyHome:          "\x1b[H",
	tea.KeyEnd:           "\x1b[F",
	tea.KeyShiftHome:     "\x1b[1;2H",
	tea.KeyShiftEnd:      "\x1b[1;2F",
	tea.KeyCtrlHome:      "\x1b[1;5H",
	tea.KeyCtrlEnd:       "\x1b[1;5F",
	tea.KeyCtrlShiftHome: "\x1b[1;6H",
	tea.KeyCtrlShiftEnd:  "\x1b[1;6F",
	tea.KeyInsert:        "\x1b[2~",
	tea.KeyDelete:        "\x1b[3~",
	tea.KeyPgUp:          "\x1b[5~",
	tea.KeyPgDown:        "\x1b[6~",
	tea.KeyCtrlPgUp:      "\x1b[5;5~",
	tea.KeyCtrlPgDown:    "\x1b[6;5~",
	tea.KeyShiftTab:      "\x1b[Z",

	tea.KeyF1:  "\x1bOP",
	tea.KeyF2:  "\x1bOQ",
	tea.KeyF3:  "\x1bOR",
	tea.KeyF4:  "\x1bOS",
	tea.KeyF5:  "\x1b[15~",
	tea.KeyF6:  "\x1b[17~",
	tea.KeyF7:  "\x1b[18~",
	tea.KeyF8:  "\x1b[19~",
	tea.KeyF9:  "\x1b[20~",
	tea.KeyF10: "\x1b[21~",
	tea.KeyF11: "\x1b[23~",
	tea.KeyF12: "\x1b[24~",
	tea.KeyF13: "\x1b[25~",
	tea.KeyF14: "\x1b[26~",
	tea.KeyF15: "\x1b[28~",
	tea.KeyF16: "\x1b[29~",
	tea.KeyF17: "\x1b[31~",
	tea.KeyF18: "\x1b[32~",
	tea.KeyF19: "\x1b[33~",
	tea.KeyF20: "\x1b[34~",
}

// addAltModifier folds Alt (xterm modifier bit 2) into a CSI or SS3 key
// sequence: "\x1b[A" becomes "\x1b[1;3A" and "\x1b[1;5A" becomes
// "\x1b[1;7A". Sequences it does not understand get a plain ESC prefix.
func addAltModifier(seq string) string {
	if len(seq) == 3 && strings.HasPrefix(seq, "\x1bO") {
		return "\x1b[1;3" + seq[2:]
	}
	if len(seq) < 3 || !strings.HasPrefix(seq, "\x1b[") {
		return "\x1b" + seq
	}

	body := seq[2 : len(seq)-1]
	final := seq[len(seq)-1:]
	if body == "" {
		return "\x1b[1;3" + final
	}
	params := strings.Split(body, ";")
	if len(params) == 1 {
		return "\x1b[" + params[0] + ";3" + final
	}
	mod, err := strconv.Atoi(params[1])
	if err != nil {
		return "\x1b" + seq
	}
	return "\x1b[" + params[0] + ";" + strconv.Itoa(mod+2) + final
}
