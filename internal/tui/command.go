package tui

import (
	"fmt"
	"sort"
	"strings"
)

// Command represents a parsed command. Name is canonical once parsed.
type Command struct {
	Name string
	Args string
}

type commandDef struct {
	name    string
	aliases []string
	arg     string // placeholder for a required argument
}

var commandDefs = []commandDef{
	{name: "search", aliases: []string{"s"}},
	{name: "people", aliases: []string{"p"}},
	{name: "open", aliases: []string{"o"}, arg: "<user>"},
	{name: "outbox"},
	{name: "logout"},
	{name: "help", aliases: []string{"h"}},
	{name: "quit", aliases: []string{"q"}},
}

func lookupCommand(name string) (commandDef, bool) {
	for _, d := range commandDefs {
		if d.name == name {
			return d, true
		}
		for _, a := range d.aliases {
			if a == name {
				return d, true
			}
		}
	}
	return commandDef{}, false
}

// ParseCommand parses a command string (without the leading ':'). Aliases
// resolve to their command; unknown names are kept as typed.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	if d, ok := lookupCommand(cmd.Name); ok {
		cmd.Name = d.name
	}
	return cmd
}

// Validate checks that the command exists and has its argument.
func (c Command) Validate() error {
	d, ok := lookupCommand(c.Name)
	if !ok {
		return fmt.Errorf("unknown command %q", c.Name)
	}
	if d.arg != "" && c.Args == "" {
		return fmt.Errorf("usage: :%s %s", d.name, d.arg)
	}
	return nil
}

// CompleteCommand returns the command names starting with prefix, sorted.
// Once an argument is being typed there is nothing to complete.
func CompleteCommand(prefix string) []string {
	if strings.ContainsRune(prefix, ' ') {
		return nil
	}
	prefix = strings.ToLower(prefix)
	var out []string
	for _, d := range commandDefs {
		if strings.HasPrefix(d.name, prefix) {
			out = append(out, d.name)
		}
	}
	sort.Strings(out)
	return out
}
