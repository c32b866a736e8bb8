// ABOUTME: Colored rendering of the conversation list and message threads
// ABOUTME: Writes to any io.Writer; color is dropped automatically off a terminal

package chatview

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/lectern/internal/directory"
	"github.com/2389/lectern/internal/store"
)

const previewLength = 40

var (
	dim    = color.New(color.FgHiBlack)
	name   = color.New(color.FgCyan, color.Bold)
	self   = color.New(color.FgGreen)
	badge  = color.New(color.FgYellow, color.Bold)
	notice = color.New(color.FgYellow)
)

// RenderList writes the numbered conversation list.
func RenderList(w io.Writer, entries []*directory.Entry, now time.Time) {
	if len(entries) == 0 {
		dim.Fprintln(w, "No conversations yet")
		return
	}

	for i, e := range entries {
		fmt.Fprintf(w, "%3d. %s", i+1, name.Sprint(DisplayName(e.Other)))
		if b := UnreadBadge(e.UnreadCount); b != "" {
			fmt.Fprintf(w, " %s", badge.Sprint(b))
		}

		if conv := e.Conversation; conv != nil && conv.LastMessage != nil {
			fmt.Fprintf(w, "  %s", preview(*conv.LastMessage, previewLength))
			if conv.LastMessageAt != nil {
				fmt.Fprintf(w, "  %s", dim.Sprint(FormatTimestamp(*conv.LastMessageAt, now)))
			}
		}
		fmt.Fprintln(w)
	}
}

// RenderThread writes the messages of one conversation. pending reports
// which messages are still waiting for the gateway.
func RenderThread(w io.Writer, msgs []*store.Message, userID string, other *store.User, pending func(id string) bool, now time.Time) {
	if len(msgs) == 0 {
		dim.Fprintln(w, "No messages yet. Say hello!")
		return
	}
	for _, m := range msgs {
		RenderMessage(w, m, userID, other, pending != nil && pending(m.ID), now)
	}
}

// RenderMessage writes one message. Continuation lines are indented under
// the first.
func RenderMessage(w io.Writer, m *store.Message, userID string, other *store.User, pending bool, now time.Time) {
	stamp := dim.Sprintf("%5s", FormatTimestamp(m.CreatedAt, now))

	var who string
	if m.SenderID == userID {
		who = self.Sprint("You")
	} else {
		who = name.Sprint(DisplayName(other))
	}

	lines := strings.Split(m.Content, "\n")
	fmt.Fprintf(w, "%s %s: %s", stamp, who, lines[0])

	switch {
	case pending:
		fmt.Fprint(w, " ", dim.Sprint("(sending...)"))
	case m.SenderID == userID && m.Read:
		fmt.Fprint(w, " ", dim.Sprint("(seen)"))
	}
	fmt.Fprintln(w)

	for _, line := range lines[1:] {
		fmt.Fprintf(w, "      %s\n", line)
	}
}

// Notice writes a highlighted status line.
func Notice(w io.Writer, format string, args ...any) {
	notice.Fprintf(w, format+"\n", args...)
}
