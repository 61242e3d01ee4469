package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSON-serialized columns shared by Thread, Message and BulkOperation.
// Stored as TEXT/JSONB so the same models run on Postgres and the in-memory
// SQLite used by tests.

type UUIDList []uuid.UUID

func (l UUIDList) Value() (driver.Value, error) { return jsonValue(l) }
func (l *UUIDList) Scan(src any) error          { return jsonScan(src, l) }

// Contains reports whether id is present in the list.
func (l UUIDList) Contains(id uuid.UUID) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// ReadReceipt records that a user read a message at a point in time.
type ReadReceipt struct {
	UserID uuid.UUID `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type ReadReceipts []ReadReceipt

func (r ReadReceipts) Value() (driver.Value, error) { return jsonValue(r) }
func (r *ReadReceipts) Scan(src any) error          { return jsonScan(src, r) }

// HasReader reports whether userID already appears in the receipt list.
func (r ReadReceipts) HasReader(userID uuid.UUID) bool {
	for _, rr := range r {
		if rr.UserID == userID {
			return true
		}
	}
	return false
}

// EditRevision is a prior content version kept when a message is edited.
type EditRevision struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

type EditRevisions []EditRevision

func (e EditRevisions) Value() (driver.Value, error) { return jsonValue(e) }
func (e *EditRevisions) Scan(src any) error          { return jsonScan(src, e) }

// ThreadPref holds a single participant's pin/mute flags for a thread.
type ThreadPref struct {
	Pinned bool `json:"pinned"`
	Muted  bool `json:"muted"`
}

// ThreadPrefs maps participant id (string form) to their preferences.
type ThreadPrefs map[string]ThreadPref

func (p ThreadPrefs) Value() (driver.Value, error) { return jsonValue(p) }
func (p *ThreadPrefs) Scan(src any) error          { return jsonScan(src, p) }

// MessageSnapshot captures the reversible fields of one message before a bulk
// mutation touches it. Undo restores exactly these fields.
type MessageSnapshot struct {
	MessageID uuid.UUID    `json:"message_id"`
	ReadBy    ReadReceipts `json:"read_by"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
	DeletedBy *uuid.UUID   `json:"deleted_by,omitempty"`
}

type Snapshots []MessageSnapshot

func (s Snapshots) Value() (driver.Value, error) { return jsonValue(s) }
func (s *Snapshots) Scan(src any) error          { return jsonScan(src, s) }

func jsonValue(v any) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonScan(src, dst any) error {
	if src == nil {
		return nil
	}
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, dst)
	case string:
		return json.Unmarshal([]byte(data), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}
