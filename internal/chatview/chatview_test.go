// ABOUTME: Tests for chat formatting, search, composer and rendering
// ABOUTME: Color is disabled so output can be compared as plain text

package chatview

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/lectern/internal/directory"
	"github.com/2389/lectern/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"minutes ago", now.Add(-5 * time.Minute), "15:25"},
		{"earlier today", time.Date(2026, 3, 10, 8, 5, 0, 0, time.UTC), "08:05"},
		{"just under a day", now.Add(-23*time.Hour - 59*time.Minute), "15:31"},
		{"exactly a day", now.Add(-24 * time.Hour), "Yesterday"},
		{"a day and a half", now.Add(-36 * time.Hour), "Yesterday"},
		{"two days", now.Add(-48 * time.Hour), "Mar 8, 2026"},
		{"last year", time.Date(2025, 12, 24, 9, 0, 0, 0, time.UTC), "Dec 24, 2025"},
		{"clock skew", now.Add(time.Minute), "15:31"},
		{"zero", time.Time{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimestamp(tt.at, now); got != tt.want {
				t.Errorf("FormatTimestamp() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatTimestamp_UsesViewerZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, tokyo)
	at := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC) // 10:00 in Tokyo

	assert.Equal(t, "10:00", FormatTimestamp(at, now))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Tia", DisplayName(&store.User{ID: "u1", Email: "t@x.io", DisplayName: "Tia"}))
	assert.Equal(t, "t@x.io", DisplayName(&store.User{ID: "u1", Email: "t@x.io", DisplayName: "  "}))
	assert.Equal(t, "u1", DisplayName(&store.User{ID: "u1"}))
	assert.Equal(t, "Unknown user", DisplayName(nil))
}

func TestUnreadBadge(t *testing.T) {
	assert.Equal(t, "", UnreadBadge(0))
	assert.Equal(t, "", UnreadBadge(-1))
	assert.Equal(t, "(3)", UnreadBadge(3))
	assert.Equal(t, "(99)", UnreadBadge(99))
	assert.Equal(t, "(99+)", UnreadBadge(100))
}

func entry(id, name string, unread int) *directory.Entry {
	return &directory.Entry{
		Conversation: &store.Conversation{ID: id},
		Other:        &store.User{ID: "user-" + id, DisplayName: name},
		UnreadCount:  unread,
	}
}

func TestFilterConversations(t *testing.T) {
	entries := []*directory.Entry{
		entry("c1", "Tia Teacher", 0),
		entry("c2", "Xavier Ortiz", 2),
		entry("c3", "Martina Tiago", 0),
	}

	ids := func(es []*directory.Entry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Conversation.ID)
		}
		return out
	}

	assert.Equal(t, []string{"c1", "c3"}, ids(FilterConversations(entries, "TIA")))
	assert.Equal(t, []string{"c2"}, ids(FilterConversations(entries, " ortiz ")))
	assert.Empty(t, FilterConversations(entries, "nobody"))
	assert.Len(t, FilterConversations(entries, ""), 3)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", Truncate("éééééééé", 6), "counts runes, not bytes")
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestComposer(t *testing.T) {
	var c Composer

	msg, done := c.Feed("hello")
	assert.True(t, done)
	assert.Equal(t, "hello", msg)
	assert.False(t, c.Composing())

	_, done = c.Feed(`first line\`)
	assert.False(t, done)
	assert.True(t, c.Composing())
	_, done = c.Feed(`second line\`)
	assert.False(t, done)
	msg, done = c.Feed("third line\r")
	assert.True(t, done)
	assert.Equal(t, "first line\nsecond line\nthird line", msg)

	_, _ = c.Feed(`draft\`)
	c.Reset()
	assert.False(t, c.Composing())
	msg, _ = c.Feed("fresh")
	assert.Equal(t, "fresh", msg)
}

func TestRenderList(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	last := "See you in\n  class tomorrow"
	at := now.Add(-time.Hour)

	e := entry("c1", "Tia Teacher", 2)
	e.Conversation.LastMessage = &last
	e.Conversation.LastMessageAt = &at

	var buf bytes.Buffer
	RenderList(&buf, []*directory.Entry{e, entry("c2", "", 0)}, now)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	assert.Equal(t, "  1. Tia Teacher (2)  See you in class tomorrow  14:30", lines[0])
	assert.Equal(t, "  2. user-c2", lines[1])

	buf.Reset()
	RenderList(&buf, nil, now)
	assert.Equal(t, "No conversations yet\n", buf.String())
}

func TestRenderThread(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	tia := &store.User{ID: "tia", DisplayName: "Tia"}
	msgs := []*store.Message{
		{ID: "m1", SenderID: "tia", Content: "Welcome!", CreatedAt: now.Add(-50 * time.Hour)},
		{ID: "m2", SenderID: "sam", Content: "Thanks\nsee you", Read: true, CreatedAt: now.Add(-30 * time.Hour)},
		{ID: "tmp-1", SenderID: "sam", Content: "one more", CreatedAt: now},
	}

	var buf bytes.Buffer
	RenderThread(&buf, msgs, "sam", tia, func(id string) bool { return id == "tmp-1" }, now)

	want := strings.Join([]string{
		"Mar 8, 2026 Tia: Welcome!",
		"Yesterday You: Thanks (seen)",
		"      see you",
		"15:30 You: one more (sending...)",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())

	buf.Reset()
	RenderThread(&buf, nil, "sam", tia, nil, now)
	assert.Contains(t, buf.String(), "No messages yet")
}
