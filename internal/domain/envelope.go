package domain

import (
	"bytes"
	"encoding/json"
)

// Envelope is the normalized provider response every adapter produces,
// whether it was pulled by a poll or pushed by a webhook.
type Envelope struct {
	Status TaskStatus
	Info   json.RawMessage
	Result json.RawMessage
}

// MarshalInfo encodes provider metadata into a compact JSON document. Nil
// input yields a nil document.
func MarshalInfo(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CompactJSON(raw), nil
}

// CompactJSON strips insignificant whitespace so two documents with the same
// content compare equal byte for byte. Invalid JSON is returned unchanged.
func CompactJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	out := buf.Bytes()
	if bytes.Equal(out, []byte("null")) {
		return nil
	}
	return out
}

// SameInfo reports whether two provider metadata documents carry the same
// content after compaction.
func SameInfo(a, b json.RawMessage) bool {
	return bytes.Equal(CompactJSON(a), CompactJSON(b))
}
