package shell

import "strings"

// Command assembles a single shell command line from quoted arguments and
// verbatim fragments. The final string is handed to the privileged session
// as-is, so anything that came from a path or package name goes through Arg.
type Command struct {
	parts []string
}

// Cmd starts a command with the given program name and quoted arguments.
func Cmd(name string, args ...string) *Command {
	c := &Command{parts: []string{name}}
	return c.Arg(args...)
}

// Arg appends arguments, quoting each one when it needs it.
func (c *Command) Arg(args ...string) *Command {
	for _, a := range args {
		c.parts = append(c.parts, Quote(a))
	}
	return c
}

// Raw appends fragments verbatim: globs, redirections, operators.
func (c *Command) Raw(fragments ...string) *Command {
	for _, f := range fragments {
		if f != "" {
			c.parts = append(c.parts, f)
		}
	}
	return c
}

// Flag appends name=value with the value quoted, e.g. --exclude='a b'.
func (c *Command) Flag(name, value string) *Command {
	c.parts = append(c.parts, name+"="+Quote(value))
	return c
}

// Pipe appends "| next".
func (c *Command) Pipe(next *Command) *Command {
	c.parts = append(c.parts, "|")
	c.parts = append(c.parts, next.parts...)
	return c
}

// And appends "&& next".
func (c *Command) And(next *Command) *Command {
	c.parts = append(c.parts, "&&")
	c.parts = append(c.parts, next.parts...)
	return c
}

// To redirects stdout to path.
func (c *Command) To(path string) *Command {
	c.parts = append(c.parts, ">", Quote(path))
	return c
}

// String renders the command line.
func (c *Command) String() string {
	return strings.Join(c.parts, " ")
}

// Quote returns s in a form the shell reads back as a single word equal to s.
// Words made only of safe characters are returned unchanged.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '_', '@', '%', '+', '=', ':', ',', '.', '/', '-':
		return true
	}
	return false
}
