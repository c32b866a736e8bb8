// ABOUTME: Tests for lectern-gateway helpers: logging, user flags and addresses
// ABOUTME: Subcommands that touch the network or a config file are not exercised here

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lectern/internal/config"
	"github.com/2389/lectern/internal/store"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "bus").WithGroup("sub").Info("subscriber added", "id", "s1")
	logger.Warn("slow", slog.Group("event", "id", "e1"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF subscriber added component=bus sub.id=s1")
	assert.Contains(t, lines[1], "WRN slow event.id=e1")
	assert.Same(t, logger, slog.Default())
}

func TestSetupLogger_JSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestBuildUser(t *testing.T) {
	u, err := buildUser(" u1 ", "u1@example.com", " Uma ", "Educator")
	require.NoError(t, err)
	assert.Equal(t, &store.User{ID: "u1", Email: "u1@example.com", DisplayName: "Uma", Role: store.RoleEducator}, u)

	_, err = buildUser("", "", "", "student")
	assert.Error(t, err)
	_, err = buildUser("u1", "", "", "admin")
	assert.Error(t, err)
	_, err = buildUser("u1", "", strings.Repeat("x", 101), "student")
	assert.Error(t, err)
}

func TestDialAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", dialAddr("0.0.0.0:8080"))
	assert.Equal(t, "127.0.0.1:8080", dialAddr(":8080"))
	assert.Equal(t, "localhost:9000", dialAddr("localhost:9000"))
	assert.Equal(t, "garbage", dialAddr("garbage"))
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	require.NoError(t, err)
	b, err := generateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 32)
}
