package clinical

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
)

// =========== Encounter Repository ===========

type encounterRepoPG struct{ pool *pgxpool.Pool }

func NewEncounterRepoPG(pool *pgxpool.Pool) EncounterRepository {
	return &encounterRepoPG{pool: pool}
}

func (r *encounterRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const encounterCols = `id, booking_id, practitioner_id, child_id, guardian_id, status, started_at,
	closed_at, created_by`

func (r *encounterRepoPG) scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	var status string
	err := row.Scan(&e.ID, &e.BookingID, &e.PractitionerID, &e.ChildID, &e.GuardianID, &status,
		&e.StartedAt, &e.ClosedAt, &e.CreatedBy)
	if err != nil {
		return nil, db.NotFound(err, "encounter")
	}
	e.Status = EncounterStatus(status)
	return &e, nil
}

func (r *encounterRepoPG) Create(ctx context.Context, e *Encounter) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounters (id, booking_id, practitioner_id, child_id, guardian_id, status,
			started_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.BookingID, e.PractitionerID, e.ChildID, e.GuardianID, string(e.Status),
		e.StartedAt, e.CreatedBy)
	if db.IsUniqueViolation(err) {
		return conflict.Wrap(conflict.AlreadyExists, err, "booking already has an encounter")
	}
	return err
}

func (r *encounterRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.scanEncounter(r.conn(ctx).QueryRow(ctx, `SELECT `+encounterCols+` FROM encounters WHERE id = $1`, id))
}

func (r *encounterRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.scanEncounter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encounterCols+` FROM encounters WHERE id = $1 FOR UPDATE`, id))
}

func (r *encounterRepoPG) Close(ctx context.Context, e *Encounter) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE encounters SET status = $2, closed_at = $3 WHERE id = $1`,
		e.ID, string(e.Status), e.ClosedAt)
	return err
}

// =========== Note Repository ===========

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository {
	return &noteRepoPG{pool: pool}
}

func (r *noteRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const noteSelect = `SELECT n.id, n.encounter_id, e.practitioner_id, e.guardian_id, n.status, n.version,
	n.visible_to_guardian, n.signed_at, n.signed_by, n.created_by, n.created_at, n.updated_at
	FROM clinical_notes n JOIN encounters e ON e.id = n.encounter_id`

func (r *noteRepoPG) scanNote(row pgx.Row) (*ClinicalNote, error) {
	var n ClinicalNote
	var status string
	err := row.Scan(&n.ID, &n.EncounterID, &n.PractitionerID, &n.GuardianID, &status, &n.Version,
		&n.VisibleToGuardian, &n.SignedAt, &n.SignedBy, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, "note")
	}
	n.Status = NoteStatus(status)
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *ClinicalNote) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_notes (id, encounter_id, status, version, visible_to_guardian,
			created_by, created_at, updated_at)
		VALUES ($1,$2,$3,0,$4,$5,$6,$7)`,
		n.ID, n.EncounterID, string(n.Status), n.VisibleToGuardian, n.CreatedBy, n.CreatedAt, n.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return conflict.Wrap(conflict.AlreadyExists, err, "encounter already has a note")
	}
	return err
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return r.scanNote(r.conn(ctx).QueryRow(ctx, noteSelect+` WHERE n.id = $1`, id))
}

func (r *noteRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return r.scanNote(r.conn(ctx).QueryRow(ctx, noteSelect+` WHERE n.id = $1 FOR UPDATE OF n`, id))
}

// Update writes the mutable header fields. The version column is owned by
// the version store and only read back here.
func (r *noteRepoPG) Update(ctx context.Context, n *ClinicalNote) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE clinical_notes SET status = $2, visible_to_guardian = $3, signed_at = $4,
			signed_by = $5, updated_at = $6
		WHERE id = $1
		RETURNING version`,
		n.ID, string(n.Status), n.VisibleToGuardian, n.SignedAt, n.SignedBy, n.UpdatedAt).Scan(&n.Version)
	return db.NotFound(err, "note")
}
