package domain

import (
	"encoding/json"
	"fmt"
)

// SessionPath is the store key of a session document. The whole session
// lives under one path so membership and score updates are single-document
// compare-and-swaps.
func SessionPath(code string) string {
	return "session:" + code
}

func EncodeSession(s *Session) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.Code, err)
	}
	return b, nil
}

func DecodeSession(b []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
