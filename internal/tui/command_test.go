package tui

import (
	"slices"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"search hello world", Command{Name: "search", Args: "hello world"}},
		{"  Open   alice ", Command{Name: "open", Args: "alice"}},
		{"s  lunch", Command{Name: "search", Args: "lunch"}},
		{"q", Command{Name: "quit"}},
		{"logout", Command{Name: "logout"}},
		{"frobnicate x", Command{Name: "frobnicate", Args: "x"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		in      string
		wantErr string
	}{
		{"open alice", ""},
		{"outbox", ""},
		{"open", "usage: :open <user>"},
		{"o", "usage: :open <user>"},
		{"people", ""},
		{"nope", `unknown command "nope"`},
	}
	for _, tt := range tests {
		err := ParseCommand(tt.in).Validate()
		switch {
		case tt.wantErr == "" && err != nil:
			t.Errorf("%q: unexpected error %v", tt.in, err)
		case tt.wantErr != "" && (err == nil || err.Error() != tt.wantErr):
			t.Errorf("%q: err = %v, want %q", tt.in, err, tt.wantErr)
		}
	}
}

func TestCompleteCommand(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"o", []string{"open", "outbox"}},
		{"LO", []string{"logout"}},
		{"", []string{"help", "logout", "open", "outbox", "people", "quit", "search"}},
		{"open al", nil},
		{"x", nil},
	}
	for _, tt := range tests {
		if got := CompleteCommand(tt.prefix); !slices.Equal(got, tt.want) {
			t.Errorf("CompleteCommand(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}
}
