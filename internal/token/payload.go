package token

import (
	"encoding/json"
	"errors"
)

// Payload is the structured text blob a QR code encodes. It must survive a
// round trip through an external image encode/decode step, so it is plain JSON.
type Payload struct {
	LectureID string `json:"lecture_id"`
	IssuedAt  int64  `json:"issued_at"` // epoch milliseconds
	Nonce     string `json:"nonce"`
}

// ErrMalformedPayload reports decoded text that is not a token payload.
var ErrMalformedPayload = errors.New("malformed token payload")

// Encode renders the payload as the QR text blob.
func Encode(p Payload) string {
	data, _ := json.Marshal(p)
	return string(data)
}

// DecodePayload parses decoded QR text into a payload. Any missing field
// means the text did not come from a rotator.
func DecodePayload(decodedText string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(decodedText), &p); err != nil {
		return Payload{}, ErrMalformedPayload
	}
	if p.LectureID == "" || p.IssuedAt <= 0 || p.Nonce == "" {
		return Payload{}, ErrMalformedPayload
	}
	return p, nil
}
