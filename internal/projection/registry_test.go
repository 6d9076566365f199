package projection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projector/internal/event"
)

type stubStrategy struct{ MergeStrategy }

func TestLoadRegistryDefault(t *testing.T) {
	reg, err := LoadRegistry("", nil)
	require.NoError(t, err)

	assert.Equal(t, []event.Type{event.TypeGame}, reg.Types())
	assert.IsType(t, MergeStrategy{}, reg.Lookup(event.TypeGame))
	assert.IsType(t, MergeStrategy{}, reg.Lookup("anything"))
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: merge_patch
types:
  - name: player
    strategy: fields
    fields:
      - {name: handle, kind: string}
      - {name: level, kind: number}
  - name: game
    strategy: custom
`), 0o644))

	reg, err := LoadRegistry(path, map[string]Strategy{"custom": stubStrategy{}})
	require.NoError(t, err)

	assert.Equal(t, []event.Type{"game", "player"}, reg.Types())
	assert.IsType(t, FieldStrategy{}, reg.Lookup("player"))
	assert.IsType(t, stubStrategy{}, reg.Lookup("game"))

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestParseRegistryErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "types: [", "parse type registry"},
		{"missing strategy", "types:\n  - name: a\n", "validate type registry"},
		{"missing name", "types:\n  - strategy: merge_patch\n", "validate type registry"},
		{"bad field kind", "types:\n  - name: a\n    strategy: fields\n    fields: [{name: x, kind: date}]\n", "validate type registry"},
		{"fields without fields", "types:\n  - name: a\n    strategy: fields\n", "declares none"},
		{"unknown strategy", "types:\n  - name: a\n    strategy: magic\n", "unknown strategy magic"},
		{"unknown default", "default: magic\n", "unknown strategy magic"},
		{"duplicate", "types:\n  - {name: a, strategy: merge_patch}\n  - {name: a, strategy: merge_patch}\n", "declared twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(tt.yaml), nil)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", stubStrategy{})
	reg.Register("a", MergeStrategy{})

	assert.Equal(t, []event.Type{"a", "b"}, reg.Types())
	assert.IsType(t, stubStrategy{}, reg.Lookup("b"))
}
