package models

import (
	"encoding/json"
	"fmt"
	"time"
)

/*
	Shared shapes for the offline data-access layer. Every remote call and
	every facade call moves data as a Row (field -> value) and hands back a
	Result. Callers can only tell a live call from a queued one through the
	OfflineQueued flag on the result.
*/

// Row is a field-value mapping for a single record: an insert/update payload,
// a match filter, rpc arguments, or a server row snapshot.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Result is the uniform shape handed back by the offline facade.
type Result struct {
	Data          json.RawMessage `json:"data"`
	OfflineQueued bool            `json:"offlineQueued,omitempty"`
}

// UploadOptions carries the transport options for a file upload.
type UploadOptions struct {
	ContentType string `json:"contentType,omitempty"`
	Upsert      bool   `json:"upsert,omitempty"`
}

/*
	Conflicts. A conflict is a write-write disagreement detected during queue
	drain: the server row changed after the local edit was queued and at
	least one payload field disagrees with the server value. Conflicts are
	parked for human review and never auto-resolved.
*/

// QueuedWrite is a snapshot of the queued operation that could not be
// safely applied. It is preserved inside the conflict record.
type QueuedWrite struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	Table     string    `json:"table"`
	Payload   Row       `json:"payload"`
	Match     Row       `json:"match"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conflict is a persisted write-write conflict awaiting manual resolution.
// At most one unresolved conflict exists per {table, row} at a time; a newly
// detected conflict on the same key overwrites the prior entry.
type Conflict struct {
	Key        string      `json:"key"` // "{table}-{matchId}"
	Table      string      `json:"table"`
	Local      QueuedWrite `json:"local"`
	Server     Row         `json:"server"`
	Resolved   bool        `json:"resolved"`
	DetectedAt time.Time   `json:"detectedAt"`
}

// ConflictKey builds the composite store key for a table/row pair.
func ConflictKey(table string, matchID any) string {
	return fmt.Sprintf("%s-%v", table, matchID)
}
