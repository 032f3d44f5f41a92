package admin

import (
	"fmt"
	"strings"
)

// Prefix marks a message as an admin command.
const Prefix = "tachi;"

// ErrNotACommand is returned by Parse for messages without the admin prefix.
var ErrNotACommand = fmt.Errorf("not an admin command")

// Command is a tokenized admin command: the verb after the prefix and its
// whitespace-separated arguments. For prompt-style commands the raw argument
// text (with original spacing) is preserved in Rest.
type Command struct {
	Name string
	Args []string
	Rest string
}

// Parse tokenizes an admin command message.
//
// Accepted shape:
//
//	tachi;<name> [args...]
//
// e.g. "tachi;model google/gemini-2.0-flash-001" or "tachi;forget !room:id".
// Returns ErrNotACommand when text does not start with the prefix, and a
// usage error when the prefix is present but no command name follows.
func Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Prefix) {
		return nil, ErrNotACommand
	}

	rest := text[len(Prefix):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, fmt.Errorf("usage: %s<command> [args] — try %shelp", Prefix, Prefix)
	}

	name := strings.ToLower(fields[0])
	// Rest starts after the command name, wherever it sits: leading
	// whitespace between the prefix and the name must not leak the name
	// into the argument text.
	argText := strings.TrimSpace(rest[strings.Index(rest, fields[0])+len(fields[0]):])
	return &Command{
		Name: name,
		Args: fields[1:],
		Rest: argText,
	}, nil
}
