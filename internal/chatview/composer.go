// ABOUTME: Line-based message composer for the terminal chat
// ABOUTME: A trailing backslash continues the message on the next line

package chatview

import "strings"

// Composer assembles a message from input lines. Enter sends; ending a
// line with a backslash starts a new line in the same message instead.
type Composer struct {
	lines []string
}

// Feed adds one input line. It returns the finished message and true once
// a line without a trailing backslash arrives.
func (c *Composer) Feed(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.HasSuffix(line, `\`) {
		c.lines = append(c.lines, strings.TrimSuffix(line, `\`))
		return "", false
	}

	c.lines = append(c.lines, line)
	msg := strings.Join(c.lines, "\n")
	c.lines = nil
	return msg, true
}

// Composing reports whether a continued message is in progress.
func (c *Composer) Composing() bool {
	return len(c.lines) > 0
}

// Reset discards a message in progress.
func (c *Composer) Reset() {
	c.lines = nil
}
