package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// ServerTime is a server-resolved instant. The store writes timestamps with a
// placeholder that only resolves once the write commits, so consumers must
// distinguish "not yet resolved" from a real instant. The zero value is
// unresolved.
type ServerTime struct {
	millis int64
	ok     bool
}

// ResolvedAt wraps a wall-clock instant as a resolved server time.
func ResolvedAt(t time.Time) ServerTime {
	return ServerTime{millis: t.UnixMilli(), ok: true}
}

func (t ServerTime) IsResolved() bool { return t.ok }

// At returns the resolved instant. Only meaningful when IsResolved.
func (t ServerTime) At() time.Time {
	return time.UnixMilli(t.millis).UTC()
}

func (t ServerTime) Equal(o ServerTime) bool {
	return t.ok == o.ok && t.millis == o.millis
}

var jsonNull = []byte("null")

// MarshalJSON encodes a resolved time as unix milliseconds and an unresolved
// one as null, matching how the store serializes its timestamp placeholder.
func (t ServerTime) MarshalJSON() ([]byte, error) {
	if !t.ok {
		return jsonNull, nil
	}
	return json.Marshal(t.millis)
}

func (t *ServerTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, jsonNull) {
		*t = ServerTime{}
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*t = ServerTime{millis: ms, ok: true}
	return nil
}
