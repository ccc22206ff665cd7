package models

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EvidenceEncodingBase64 tags evidence that was not JSON when a check produced it.
const EvidenceEncodingBase64 = "base64"

type evidenceEnvelope struct {
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

// EncodeEvidence makes check evidence safe to store in a case snapshot. JSON
// evidence is kept as is; any other bytes are wrapped in a tagged base64
// envelope.
func EncodeEvidence(raw []byte) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return bytes.Clone(raw)
	}
	out, _ := json.Marshal(evidenceEnvelope{
		Encoding: EvidenceEncodingBase64,
		Data:     base64.StdEncoding.EncodeToString(raw),
	})
	return out
}

// DecodeEvidence returns the bytes a check originally produced.
func DecodeEvidence(stored json.RawMessage) ([]byte, error) {
	var env evidenceEnvelope
	if err := json.Unmarshal(stored, &env); err != nil || env.Encoding != EvidenceEncodingBase64 {
		return bytes.Clone(stored), nil
	}
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	return raw, nil
}
