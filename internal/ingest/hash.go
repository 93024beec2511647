package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"horse.fit/eventmerge/internal/model"
)

// rawHashOf returns the candidate's declared raw hash, or the SHA-256 of the
// canonical JSON of its raw payload. Without a raw payload the candidate
// itself is hashed.
func rawHashOf(c *model.Candidate) string {
	if declared := strings.ToLower(strings.TrimSpace(c.RawHash)); declared != "" {
		return declared
	}

	payload := []byte(c.Raw)
	if len(bytes.TrimSpace(payload)) == 0 {
		withoutHashes := *c
		withoutHashes.RawHash = ""
		withoutHashes.Raw = nil
		encoded, err := json.Marshal(withoutHashes)
		if err == nil {
			payload = encoded
		}
	}

	canonical, err := canonicalizeJSON(payload)
	if err != nil {
		canonical = bytes.TrimSpace(payload)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func canonicalizeJSON(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("JSON payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("JSON contains trailing content")
	}

	canonical, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical JSON: %w", err)
	}
	return canonical, nil
}
