package versioning

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/conflict"
)

// MemoryStore keeps versions in process memory. Content is copied on the
// way in and out so stored snapshots cannot be changed through aliases.
type MemoryStore struct {
	mu       sync.Mutex
	versions map[uuid.UUID][]Version
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[uuid.UUID][]Version),
		now:      time.Now,
	}
}

func clone(v Version) *Version {
	v.Content = append(json.RawMessage(nil), v.Content...)
	return &v
}

func (s *MemoryStore) Append(_ context.Context, recordID uuid.UUID, content json.RawMessage, authorID uuid.UUID, isAddendum bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := len(s.versions[recordID]) + 1
	s.versions[recordID] = append(s.versions[recordID], Version{
		RecordID:   recordID,
		Number:     next,
		Content:    append(json.RawMessage(nil), content...),
		IsAddendum: isAddendum,
		AuthorID:   authorID,
		CreatedAt:  s.now().UTC(),
	})
	return next, nil
}

func (s *MemoryStore) Get(_ context.Context, recordID uuid.UUID, number int) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vs := s.versions[recordID]
	if number < 1 || number > len(vs) {
		return nil, conflict.New(conflict.NotFound, "version %d not found", number)
	}
	return clone(vs[number-1]), nil
}

func (s *MemoryStore) Latest(_ context.Context, recordID uuid.UUID) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vs := s.versions[recordID]
	if len(vs) == 0 {
		return nil, conflict.New(conflict.NotFound, "record has no versions")
	}
	return clone(vs[len(vs)-1]), nil
}

func (s *MemoryStore) List(_ context.Context, recordID uuid.UUID) ([]*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vs := s.versions[recordID]
	out := make([]*Version, 0, len(vs))
	for _, v := range vs {
		out = append(out, clone(v))
	}
	return out, nil
}
