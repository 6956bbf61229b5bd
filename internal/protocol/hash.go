package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes v with object keys sorted at every nesting level.
// The re-marshal through map[string]any is what fixes the key order; struct
// field order must never leak into a hash that is re-verified later.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

func SHA256Hex(in []byte) string {
	h := sha256.Sum256(in)
	return hex.EncodeToString(h[:])
}

// ContentHash is the 64-char hex SHA-256 of the canonical form of v.
func ContentHash(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// VerifyContentHash reports whether v still hashes to expected.
func VerifyContentHash(v any, expected string) (bool, error) {
	h, err := ContentHash(v)
	if err != nil {
		return false, err
	}
	return h == expected, nil
}
