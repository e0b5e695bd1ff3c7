package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// VersionHash fingerprints an aggregate value. The hash is a pure function of
// the value: equal values hash equal, any field change produces a new hash.
// encoding/json sorts map keys, so plugin property maps hash deterministically.
func VersionHash(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshaling for version hash: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16]), nil
}
