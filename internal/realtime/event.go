package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventType is the kind of push event delivered to thread participants.
type EventType string

const (
	EventMessageCreated EventType = "message-created"
	EventMessageUpdated EventType = "message-updated"
	EventOperation      EventType = "operation" // bulk delete / mark-read / undo
)

// Event is the wire format pushed over the websocket. Delivery is
// fire-and-forget: this channel is never the source of truth, a client that
// misses events catches up by polling or a full refresh.
type Event struct {
	Type     EventType       `json:"type"`
	ThreadID uuid.UUID       `json:"thread_id"`
	Payload  json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event, panicking only on unmarshalable
// payloads (programmer error).
func NewEvent(eventType EventType, threadID uuid.UUID, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("realtime: unmarshalable event payload: " + err.Error())
	}
	return Event{Type: eventType, ThreadID: threadID, Payload: data}
}
