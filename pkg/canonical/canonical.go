// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the event-hash construction used by the event log.
//
// Determinism matters here: two stores appending the same logical events
// with the same timestamps must produce identical hash chains.
package canonical

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// v is marshalled with the standard encoder first so struct tags are
// respected, then transformed into canonical form.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// HashBytes returns the hex SHA-256 of data, prefixed "sha256:".
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Hash returns the canonical hash of any JSON-serializable value.
func Hash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// EventHash computes the hash of one execution event:
//
//	H(prevHash || sequenceId || requestId || type || jcs(payload) || timestamp)
//
// The timestamp is fixed to RFC3339Nano in UTC so the chain is stable
// across store implementations.
func EventHash(prevHash string, sequenceID uint64, requestID, eventType string, payload map[string]any, ts time.Time) (string, error) {
	canon, err := JCS(payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(prevHash))

	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, sequenceID)
	h.Write(seq)

	h.Write([]byte(requestID))
	h.Write([]byte(eventType))
	h.Write(canon)
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
