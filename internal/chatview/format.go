// ABOUTME: Text formatting for the terminal chat: timestamps, names, badges and search
// ABOUTME: Pure functions so the chat loop and tests share exactly one rendering

package chatview

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/lectern/internal/directory"
	"github.com/2389/lectern/internal/store"
)

// FormatTimestamp renders t relative to now: clock time within a day,
// "Yesterday" within two, otherwise the date.
func FormatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())

	age := now.Sub(t)
	switch {
	case age < 24*time.Hour:
		return t.Format("15:04")
	case age < 48*time.Hour:
		return "Yesterday"
	default:
		return t.Format("Jan 2, 2006")
	}
}

// DisplayName picks the best available label for a user.
func DisplayName(u *store.User) string {
	switch {
	case u == nil:
		return "Unknown user"
	case strings.TrimSpace(u.DisplayName) != "":
		return u.DisplayName
	case u.Email != "":
		return u.Email
	case u.ID != "":
		return u.ID
	default:
		return "Unknown user"
	}
}

// UnreadBadge renders an unread count, or "" when there is nothing unread.
func UnreadBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "(99+)"
	default:
		return fmt.Sprintf("(%d)", n)
	}
}

// FilterConversations keeps the entries whose other participant's name
// contains query, ignoring case. An empty query keeps everything.
func FilterConversations(entries []*directory.Entry, query string) []*directory.Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return entries
	}

	var out []*directory.Entry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(DisplayName(e.Other)), query) {
			out = append(out, e)
		}
	}
	return out
}

// Truncate shortens s to at most maxRunes runes, ending in "..." when cut.
func Truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string([]rune(s)[:maxRunes])
	}
	return string([]rune(s)[:maxRunes-3]) + "..."
}

// preview flattens a message to one line for the conversation list.
func preview(s string, maxRunes int) string {
	return Truncate(strings.Join(strings.Fields(s), " "), maxRunes)
}
