package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/versioning"
)

// Service runs encounters and the note lifecycle: drafts are edited by
// appending versions, signing freezes them, and signed notes only grow by
// addenda.
type Service struct {
	encounters EncounterRepository
	notes      NoteRepository
	bookings   BookingReader
	versions   versioning.Store
	tx         db.TxRunner
	events     events.Emitter
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(encounters EncounterRepository, notes NoteRepository, bookings BookingReader,
	versions versioning.Store, tx db.TxRunner, emitter events.Emitter, logger zerolog.Logger) *Service {
	return &Service{
		encounters: encounters,
		notes:      notes,
		bookings:   bookings,
		versions:   versions,
		tx:         tx,
		events:     emitter,
		logger:     logger.With().Str("component", "clinical").Logger(),
		now:        time.Now,
	}
}

func forbidden(what string, id uuid.UUID) error {
	return conflict.New(conflict.Forbidden, "%s %s is outside your scope", what, id)
}

// -- Encounters --

// StartEncounter opens the encounter of a confirmed or completed booking.
func (s *Service) StartEncounter(ctx context.Context, scope auth.Scope, bookingID uuid.UUID) (*Encounter, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !scope.OwnsPractitioner(b.PractitionerID) {
		return nil, forbidden("booking", bookingID)
	}
	if b.Status != scheduling.StatusConfirmed && b.Status != scheduling.StatusCompleted {
		return nil, conflict.New(conflict.InvalidTransition, "cannot start an encounter for a %s booking", b.Status)
	}

	e := &Encounter{
		ID:             uuid.New(),
		BookingID:      b.ID,
		PractitionerID: b.PractitionerID,
		ChildID:        b.ChildID,
		GuardianID:     b.GuardianID,
		Status:         EncounterInProgress,
		StartedAt:      s.now().UTC(),
		CreatedBy:      scope.UserID,
	}
	if err := s.encounters.Create(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info().Str("encounter_id", e.ID.String()).Str("booking_id", b.ID.String()).Msg("encounter started")
	return e, nil
}

func (s *Service) GetEncounter(ctx context.Context, scope auth.Scope, id uuid.UUID) (*Encounter, error) {
	e, err := s.encounters.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.OwnsPractitioner(e.PractitionerID) {
		return nil, forbidden("encounter", id)
	}
	return e, nil
}

func (s *Service) CloseEncounter(ctx context.Context, scope auth.Scope, id uuid.UUID) (*Encounter, error) {
	var e *Encounter
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.encounters.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !scope.OwnsPractitioner(e.PractitionerID) {
			return forbidden("encounter", id)
		}
		if e.Status != EncounterInProgress {
			return conflict.New(conflict.InvalidTransition, "encounter %s is already closed", id)
		}
		at := s.now().UTC()
		e.Status = EncounterClosed
		e.ClosedAt = &at
		return s.encounters.Close(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// -- Notes --

// NoteInput is the body of note create and update calls. A nil
// VisibleToGuardian leaves the flag unchanged.
type NoteInput struct {
	NoteContent
	VisibleToGuardian *bool `json:"visible_to_guardian,omitempty"`
}

func encode(c NoteContent) (json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode note content: %w", err)
	}
	return data, nil
}

func decode(v *versioning.Version) (NoteContent, error) {
	var c NoteContent
	if err := json.Unmarshal(v.Content, &c); err != nil {
		return c, fmt.Errorf("decode note %s v%d: %w", v.RecordID, v.Number, err)
	}
	return c, nil
}

// append stores content as n's next version and records the new number on
// the header.
func (s *Service) append(ctx context.Context, n *ClinicalNote, author uuid.UUID, c NoteContent, addendum bool) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	number, err := s.versions.Append(ctx, n.ID, data, author, addendum)
	if err != nil {
		return err
	}
	n.Version = number
	n.UpdatedAt = s.now().UTC()
	return s.notes.Update(ctx, n)
}

// CreateNote starts the encounter's single note as a draft with version 1.
func (s *Service) CreateNote(ctx context.Context, scope auth.Scope, encounterID uuid.UUID, in NoteInput) (*NoteView, error) {
	var n *ClinicalNote
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.encounters.GetByID(ctx, encounterID)
		if err != nil {
			return err
		}
		if !scope.OwnsPractitioner(e.PractitionerID) {
			return forbidden("encounter", encounterID)
		}

		now := s.now().UTC()
		n = &ClinicalNote{
			ID:                uuid.New(),
			EncounterID:       e.ID,
			PractitionerID:    e.PractitionerID,
			GuardianID:        e.GuardianID,
			Status:            NoteDraft,
			VisibleToGuardian: in.VisibleToGuardian != nil && *in.VisibleToGuardian,
			CreatedBy:         scope.UserID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.notes.Create(ctx, n); err != nil {
			return err
		}
		return s.append(ctx, n, scope.UserID, in.NoteContent, false)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("note_id", n.ID.String()).Str("encounter_id", encounterID.String()).Msg("note created")
	return &NoteView{ClinicalNote: n, Content: in.NoteContent}, nil
}

// loadForWrite locks the note and checks the caller may edit it. expected,
// when positive, must equal the current version.
func (s *Service) loadForWrite(ctx context.Context, scope auth.Scope, id uuid.UUID, expected int) (*ClinicalNote, error) {
	n, err := s.notes.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if scope.GuardianID != nil || !scope.OwnsPractitioner(n.PractitionerID) {
		return nil, forbidden("note", id)
	}
	if expected > 0 && n.Version != expected {
		return nil, conflict.New(conflict.VersionMismatch, "note %s is at version %d, not %d", id, n.Version, expected)
	}
	return n, nil
}

// UpdateNote appends a new draft version. Signed notes reject edits with
// NoteSigned; use AddAddendum instead.
func (s *Service) UpdateNote(ctx context.Context, scope auth.Scope, id uuid.UUID, expected int, in NoteInput) (*NoteView, error) {
	var n *ClinicalNote
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = s.loadForWrite(ctx, scope, id, expected); err != nil {
			return err
		}
		if n.Signed() {
			return conflict.New(conflict.NoteSigned, "note %s is signed, add an addendum instead", id)
		}
		if in.VisibleToGuardian != nil {
			n.VisibleToGuardian = *in.VisibleToGuardian
		}
		return s.append(ctx, n, scope.UserID, in.NoteContent, false)
	})
	if err != nil {
		return nil, err
	}
	return &NoteView{ClinicalNote: n, Content: in.NoteContent}, nil
}

// SignNote freezes the note. Versions written so far stay byte-for-byte as
// they are.
func (s *Service) SignNote(ctx context.Context, scope auth.Scope, id uuid.UUID) (*NoteView, error) {
	var (
		n       *ClinicalNote
		content NoteContent
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = s.loadForWrite(ctx, scope, id, 0); err != nil {
			return err
		}
		if n.Signed() {
			return conflict.New(conflict.AlreadySigned, "note %s is already signed", id)
		}
		latest, err := s.versions.Latest(ctx, id)
		if err != nil {
			if conflict.KindOf(err) == conflict.NotFound {
				return conflict.New(conflict.Invalid, "note %s has no version to sign", id)
			}
			return err
		}
		if content, err = decode(latest); err != nil {
			return err
		}

		at := s.now().UTC()
		signer := scope.UserID
		n.Status = NoteSigned
		n.SignedAt = &at
		n.SignedBy = &signer
		n.UpdatedAt = at
		if err := s.notes.Update(ctx, n); err != nil {
			return err
		}

		evt, err := events.New("note", n.ID, events.NoteSigned, map[string]any{
			"note_id":         n.ID,
			"encounter_id":    n.EncounterID,
			"practitioner_id": n.PractitionerID,
			"version":         n.Version,
			"signed_by":       signer,
			"signed_at":       at,
		})
		if err != nil {
			return err
		}
		return s.events.Emit(ctx, evt)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("note_id", id.String()).Int("version", n.Version).Msg("note signed")
	return &NoteView{ClinicalNote: n, Content: content}, nil
}

// AddAddendum appends an addendum version to a signed note.
func (s *Service) AddAddendum(ctx context.Context, scope auth.Scope, id uuid.UUID, c NoteContent) (*NoteView, error) {
	if c.Empty() {
		return nil, conflict.New(conflict.Invalid, "addendum must not be empty")
	}
	var n *ClinicalNote
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = s.loadForWrite(ctx, scope, id, 0); err != nil {
			return err
		}
		if !n.Signed() {
			return conflict.New(conflict.NotSigned, "note %s is still a draft, update it instead", id)
		}
		return s.append(ctx, n, scope.UserID, c, true)
	})
	if err != nil {
		return nil, err
	}
	return &NoteView{ClinicalNote: n, Content: c}, nil
}

// canRead applies the note visibility rules. Guardians only see signed notes
// shared with them.
func canRead(scope auth.Scope, n *ClinicalNote) bool {
	if scope.GuardianID != nil {
		if n.GuardianID == nil || *n.GuardianID != *scope.GuardianID {
			return false
		}
		return n.Signed() && n.VisibleToGuardian
	}
	if scope.SignedVisibleNotesOnly && !(n.Signed() && n.VisibleToGuardian) {
		return false
	}
	return scope.OwnsPractitioner(n.PractitionerID)
}

// GetNote returns the note with its latest version. Guardians get the
// family-facing parts only.
func (s *Service) GetNote(ctx context.Context, scope auth.Scope, id uuid.UUID) (*NoteView, error) {
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(scope, n) {
		return nil, forbidden("note", id)
	}
	latest, err := s.versions.Latest(ctx, id)
	if err != nil {
		if conflict.KindOf(err) == conflict.NotFound {
			return nil, conflict.New(conflict.Invalid, "note %s version missing", id)
		}
		return nil, err
	}
	content, err := decode(latest)
	if err != nil {
		return nil, err
	}
	n.Version = latest.Number
	if scope.GuardianID != nil {
		content = content.ForGuardian()
	}
	return &NoteView{ClinicalNote: n, Content: content}, nil
}

// ListVersions returns the full history of a note. Guardians never see it.
func (s *Service) ListVersions(ctx context.Context, scope auth.Scope, id uuid.UUID) ([]NoteVersionView, error) {
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if scope.GuardianID != nil || !canRead(scope, n) {
		return nil, forbidden("note", id)
	}
	versions, err := s.versions.List(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]NoteVersionView, 0, len(versions))
	for _, v := range versions {
		c, err := decode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, NoteVersionView{
			Number:     v.Number,
			IsAddendum: v.IsAddendum,
			AuthorID:   v.AuthorID,
			CreatedAt:  v.CreatedAt,
			Content:    c,
		})
	}
	return out, nil
}
