package protocol

import (
	"strings"
)

// Command is a single tagged operation extracted from a lobby message.
type Command struct {
	Tag   string
	Value string
}

// Tokenize splits a lobby message into its tagged commands, preserving
// message order. A message looks like:
//
//	<GREETINGS>player<VER>1.4.2
//
// Each recognized <TAG> opens a command whose value runs until the next
// recognized tag or the end of the message. Unrecognized angle-bracket
// sequences are treated as literal value text. Text before the first
// recognized tag is dropped.
func Tokenize(msg string) []Command {
	var commands []Command
	cur := -1 // index into commands of the open command
	var value strings.Builder

	flush := func() {
		if cur >= 0 {
			commands[cur].Value = value.String()
			value.Reset()
		}
	}

	i := 0
	for i < len(msg) {
		if msg[i] == '<' {
			if end := strings.IndexByte(msg[i+1:], '>'); end >= 0 {
				name := msg[i+1 : i+1+end]
				if IsKnownTag(name) {
					flush()
					commands = append(commands, Command{Tag: name})
					cur = len(commands) - 1
					i += end + 2
					continue
				}
			}
		}
		if cur >= 0 {
			value.WriteByte(msg[i])
		}
		i++
	}
	flush()

	return commands
}

// Reply encodes a server reply in the ":>>TAG:field:field" form that
// lobby clients parse.
func Reply(tag string, fields ...string) string {
	var sb strings.Builder
	sb.WriteString(ReplyPrefix)
	sb.WriteString(tag)
	for _, f := range fields {
		sb.WriteByte(':')
		sb.WriteString(f)
	}
	return sb.String()
}
