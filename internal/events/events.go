package events

import (
	"encoding/json"
	"time"
)

// Event types pushed to dashboards. Subscribers re-query the record; the payload
// is advisory.
const (
	ScrapeRunUpdated = "scrape_run_updated"
	DMUpdated        = "dm_updated"
	ProfileUpdated   = "profile_updated"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func MakeEvent(reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// Emitter is what background workers publish through.
type Emitter interface {
	Emit(typ string, data any)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(string, any) {}
