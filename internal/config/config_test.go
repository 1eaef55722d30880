package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ChatLink/internal/session"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatlink.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_UsesStockRoutes(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, time.Second, cfg.PollInterval())

	dialects := cfg.Dialects()
	require.Equal(t, session.DirectDialect(), dialects[0])
	require.Equal(t, session.GroupDialect(), dialects[1])
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
base_url = "https://chat.example.com"
poll_interval_ms = 250

[group]
socket = "/ws/group/{id}"
`)

	cfg, err := Load(path, Default())
	require.NoError(t, err)
	require.Equal(t, "https://chat.example.com", cfg.BaseURL)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	require.Equal(t, "/ws/group/{id}", cfg.Group.Socket)
	require.Equal(t, "/group_chats/messages/{id}", cfg.Group.History, "unset keys keep defaults")
	require.Equal(t, "logs", cfg.LogDir)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `bse_url = "http://typo"`)
	_, err := Load(path, Default())
	require.ErrorContains(t, err, "unknown config keys")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), Default())
	require.ErrorContains(t, err, "failed to read config file")
}

func TestParse_FlagsWinOverFile(t *testing.T) {
	path := writeConfig(t, `
base_url = "https://from-file.example.com"
poll_interval_ms = 250
`)

	cfg, err := Parse("chatlink", []string{"-config", path, "-poll-interval-ms", "500", "-debug"})
	require.NoError(t, err)
	require.Equal(t, "https://from-file.example.com", cfg.BaseURL)
	require.Equal(t, 500, cfg.PollIntervalMS)
	require.True(t, cfg.Debug)
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse("chatlink", []string{"-base-url", "ftp://nope"})
	require.ErrorContains(t, err, "http or https")

	_, err = Parse("chatlink", []string{"-poll-interval-ms", "0"})
	require.ErrorContains(t, err, "poll interval")

	path := writeConfig(t, `
[direct]
history = ""
`)
	_, err = Parse("chatlink", []string{"-config", path})
	require.ErrorContains(t, err, "history endpoint")
}
