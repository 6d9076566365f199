package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCommandsOverSQLite(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("LOG_LEVEL", "error")

	id := strings.TrimSpace(run(t, "save", "--type", "game", `{"name":"three","description":"foo"}`))
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)

	run(t, "save", "--type", "game", id, `{"description":null}`)
	other := strings.TrimSpace(run(t, "save", "--type", "post", `{"title":"x"}`))
	run(t, "drop", "--type", "post", other)

	out := run(t, "aggregate", "--type=")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)

	var p struct {
		ID       uuid.UUID      `json:"id"`
		Document map[string]any `json:"document"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &p))
	assert.Equal(t, parsed, p.ID)
	assert.Equal(t, map[string]any{"name": "three"}, p.Document)

	events := run(t, "events", id)
	assert.Equal(t, 2, strings.Count(events, "\n"))
	assert.Contains(t, events, "save\tgame")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	out := strings.TrimSpace(run(t, "token", "--ttl", "1h", "12"))
	assert.Equal(t, 2, strings.Count(out, "."))
}

func TestReadDocumentArg(t *testing.T) {
	doc, err := readDocumentArg(strings.NewReader(`{"a":1}`), "", "-")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(doc))

	doc, err = readDocumentArg(nil, `{"b":2}`, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(doc))

	_, err = readDocumentArg(nil, "", "")
	assert.Error(t, err)
}

func TestParseTTL(t *testing.T) {
	d, err := parseTTL("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = parseTTL("forever")
	assert.Error(t, err)
}
