package clinical

import (
	"time"

	"github.com/google/uuid"
)

type EncounterStatus string

const (
	EncounterInProgress EncounterStatus = "IN_PROGRESS"
	EncounterClosed     EncounterStatus = "CLOSED"
)

// Encounter is the clinical visit that follows a booking. A booking has at
// most one encounter.
type Encounter struct {
	ID             uuid.UUID       `json:"id"`
	BookingID      uuid.UUID       `json:"booking_id"`
	PractitionerID uuid.UUID       `json:"practitioner_id"`
	ChildID        *uuid.UUID      `json:"child_id,omitempty"`
	GuardianID     *uuid.UUID      `json:"guardian_id,omitempty"`
	Status         EncounterStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	CreatedBy      uuid.UUID       `json:"created_by"`
}

type NoteStatus string

const (
	NoteDraft  NoteStatus = "DRAFT"
	NoteSigned NoteStatus = "SIGNED"
)

// ClinicalNote is the header of an encounter's note. Its text lives in
// immutable versions; Version is the highest version number.
type ClinicalNote struct {
	ID                uuid.UUID  `json:"id"`
	EncounterID       uuid.UUID  `json:"encounter_id"`
	PractitionerID    uuid.UUID  `json:"practitioner_id"`
	GuardianID        *uuid.UUID `json:"guardian_id,omitempty"`
	Status            NoteStatus `json:"status"`
	Version           int        `json:"version"`
	VisibleToGuardian bool       `json:"visible_to_guardian"`
	SignedAt          *time.Time `json:"signed_at,omitempty"`
	SignedBy          *uuid.UUID `json:"signed_by,omitempty"`
	CreatedBy         uuid.UUID  `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (n *ClinicalNote) Signed() bool { return n.Status == NoteSigned }

// NoteContent is the text snapshot stored in each version.
type NoteContent struct {
	History         string `json:"history,omitempty"`
	Diagnosis       string `json:"diagnosis,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
	TherapyPlan     string `json:"therapy_plan,omitempty"`
	GuardianSummary string `json:"guardian_summary,omitempty"`
}

// ForGuardian keeps only the parts written for the family.
func (c NoteContent) ForGuardian() NoteContent {
	return NoteContent{Recommendations: c.Recommendations, GuardianSummary: c.GuardianSummary}
}

func (c NoteContent) Empty() bool {
	return c == NoteContent{}
}

// NoteView is a note header with the content of one of its versions.
type NoteView struct {
	*ClinicalNote
	Content NoteContent `json:"content"`
}

// NoteVersionView is one decoded version of a note.
type NoteVersionView struct {
	Number     int         `json:"version_number"`
	IsAddendum bool        `json:"is_addendum"`
	AuthorID   uuid.UUID   `json:"author_id"`
	CreatedAt  time.Time   `json:"created_at"`
	Content    NoteContent `json:"content"`
}
