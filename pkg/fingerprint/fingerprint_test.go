package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name  string
		a     any
		b     any
		equal bool
	}{
		{
			name:  "identical maps hash the same",
			a:     map[string]any{"name": "acme", "seats": 10},
			b:     map[string]any{"name": "acme", "seats": 10},
			equal: true,
		},
		{
			name:  "key order does not matter",
			a:     map[string]any{"b": 2, "a": 1},
			b:     map[string]any{"a": 1, "b": 2},
			equal: true,
		},
		{
			name:  "value change produces a new hash",
			a:     map[string]any{"name": "acme", "seats": 10},
			b:     map[string]any{"name": "acme", "seats": 11},
			equal: false,
		},
		{
			name:  "nested key order does not matter",
			a:     map[string]any{"site": map[string]any{"id": "s1", "region": "us"}},
			b:     map[string]any{"site": map[string]any{"region": "us", "id": "s1"}},
			equal: true,
		},
		{
			name:  "array order matters",
			a:     map[string]any{"tags": []any{"a", "b"}},
			b:     map[string]any{"tags": []any{"b", "a"}},
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashA, err := Generate(tt.a)
			require.NoError(t, err)
			hashB, err := Generate(tt.b)
			require.NoError(t, err)

			if tt.equal {
				assert.Equal(t, hashA, hashB)
			} else {
				assert.NotEqual(t, hashA, hashB)
			}
			assert.Len(t, hashA, 64)
		})
	}
}

func TestGenerateFromJSON(t *testing.T) {
	a := json.RawMessage(`{"name":"acme","plan":{"tier":"gold","seats":5}}`)
	b := json.RawMessage(`{"plan":{"seats":5,"tier":"gold"},"name":"acme"}`)

	hashA, err := GenerateFromJSON(a)
	require.NoError(t, err)
	hashB, err := GenerateFromJSON(b)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestGenerateFromJSONInvalid(t *testing.T) {
	_, err := GenerateFromJSON(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestHasChanged(t *testing.T) {
	value := map[string]any{"hostname": "web-01", "os": "linux"}

	hash, err := Generate(value)
	require.NoError(t, err)

	changed, newHash, err := HasChanged(value, hash)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, hash, newHash)

	value["os"] = "windows"
	changed, newHash, err = HasChanged(value, hash)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, hash, newHash)
}
