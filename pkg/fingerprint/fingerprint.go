// Package fingerprint computes stable content hashes for change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Generate returns a sha256 hex digest of the value's canonical JSON form.
// Two values with the same fields in different orders hash identically.
func Generate(value any) (string, error) {
	canonical, err := canonicalize(value)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// GenerateFromJSON hashes a raw JSON document after canonicalization
func GenerateFromJSON(raw json.RawMessage) (string, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("failed to parse json: %w", err)
	}
	return Generate(value)
}

// HasChanged reports whether the value's hash differs from the stored hash
func HasChanged(value any, storedHash string) (bool, string, error) {
	hash, err := Generate(value)
	if err != nil {
		return false, "", err
	}
	return hash != storedHash, hash, nil
}

// canonicalize renders a value as deterministic JSON with sorted object keys
func canonicalize(value any) ([]byte, error) {
	// Round-trip through json to normalize numeric types and drop
	// Go-specific representations.
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return marshalCanonical(generic)
}

func marshalCanonical(value any) ([]byte, error) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := marshalCanonical(v[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	case []any:
		buf := []byte{'['}
		for i, item := range v {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		return append(buf, ']'), nil
	default:
		return json.Marshal(v)
	}
}
