// Package versioning stores append-only snapshots of versioned records.
//
// A record's versions are numbered 1..N with no gaps. Versions are never
// updated or deleted; the record's current version is the highest number.
package versioning

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Version is one immutable snapshot of a record.
type Version struct {
	RecordID   uuid.UUID       `json:"record_id"`
	Number     int             `json:"version_number"`
	Content    json.RawMessage `json:"content"`
	IsAddendum bool            `json:"is_addendum"`
	AuthorID   uuid.UUID       `json:"author_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store appends and reads record versions.
type Store interface {
	// Append writes the next version of recordID and returns its number.
	Append(ctx context.Context, recordID uuid.UUID, content json.RawMessage, authorID uuid.UUID, isAddendum bool) (int, error)
	Get(ctx context.Context, recordID uuid.UUID, number int) (*Version, error)
	Latest(ctx context.Context, recordID uuid.UUID) (*Version, error)
	// List returns every version in ascending order.
	List(ctx context.Context, recordID uuid.UUID) ([]*Version, error)
}
