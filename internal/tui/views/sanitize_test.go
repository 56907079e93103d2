package views

import "testing"

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello there", "hello there"},
		{"keeps newlines and tabs", "a\nb\tc", "a\nb\tc"},
		{"skin tone", "\U0001F44D\U0001F3FB", "\U0001F44D"},
		{"zwj sequence", "\U0001F468\u200d\U0001F469", "\U0001F468\U0001F469"},
		{"variation selector", "\u2764\ufe0f", "\u2764"},
		{"csi color", "\x1b[31mred\x1b[0m", "red"},
		{"bare escape", "a\x1bcb", "ab"},
		{"truncated csi", "x\x1b[12", "x"},
		{"bell and backspace", "a\a\bb", "ab"},
		{"bidi override", "abc\u202edef", "abcdef"},
		{"invalid utf8", "ok\xff", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("  first\n\nsecond  third "); got != "first second third" {
		t.Errorf("oneLine = %q", got)
	}
}
