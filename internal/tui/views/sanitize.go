package views

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// invisible lists codepoints tcell cannot lay out as single cells: emoji
// modifiers and joiners, variation selectors and bidi controls. Dropping
// them degrades a composed emoji to its base glyph.
var invisible = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero width space, joiners, marks
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embeddings and overrides
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolates
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1F3FB, Hi: 0x1F3FF, Stride: 1}, // skin tone modifiers
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1}, // variation selectors supplement
	},
}

// sanitizeForTerminal strips what correspondents can put in a message that
// would corrupt the screen: escape sequences, control characters other than
// newline and tab, and the codepoints in invisible.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == 0x1b:
			i += escapeLen(s[i:])
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r == utf8.RuneError && size == 1:
		case unicode.IsControl(r), unicode.Is(invisible, r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// escapeLen returns how many bytes after an ESC belong to its sequence.
// CSI sequences run up to their final byte; anything else takes one byte.
func escapeLen(s string) int {
	if s == "" {
		return 0
	}
	if s[0] != '[' {
		return 1
	}
	for j := 1; j < len(s); j++ {
		if s[j] >= 0x40 && s[j] <= 0x7e {
			return j + 1
		}
	}
	return len(s)
}
