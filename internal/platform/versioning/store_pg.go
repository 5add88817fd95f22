package versioning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
)

// Table names the parent table (which carries id, version, updated_at) and
// the versions table (keyed by ForeignKey, version_number).
type Table struct {
	Parent     string
	Versions   string
	ForeignKey string
	Noun       string
}

// NoteTables is the layout used for clinical notes.
var NoteTables = Table{
	Parent:     "clinical_notes",
	Versions:   "note_versions",
	ForeignKey: "note_id",
	Noun:       "note",
}

type PGStore struct {
	pool  *pgxpool.Pool
	tx    db.TxRunner
	table Table

	lockParent   string
	maxVersion   string
	insert       string
	bumpParent   string
	selectOne    string
	selectLatest string
	selectAll    string
}

func NewPGStore(pool *pgxpool.Pool, tx db.TxRunner, t Table) *PGStore {
	cols := fmt.Sprintf("%s, version_number, content, is_addendum, author_id, created_at", t.ForeignKey)
	return &PGStore{
		pool:         pool,
		tx:           tx,
		table:        t,
		lockParent:   fmt.Sprintf(`SELECT version FROM %s WHERE id = $1 FOR UPDATE`, t.Parent),
		maxVersion:   fmt.Sprintf(`SELECT COALESCE(MAX(version_number), 0) FROM %s WHERE %s = $1`, t.Versions, t.ForeignKey),
		insert:       fmt.Sprintf(`INSERT INTO %s (%s, version_number, content, is_addendum, author_id) VALUES ($1, $2, $3, $4, $5)`, t.Versions, t.ForeignKey),
		bumpParent:   fmt.Sprintf(`UPDATE %s SET version = $2, updated_at = now() WHERE id = $1`, t.Parent),
		selectOne:    fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND version_number = $2`, cols, t.Versions, t.ForeignKey),
		selectLatest: fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY version_number DESC LIMIT 1`, cols, t.Versions, t.ForeignKey),
		selectAll:    fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY version_number`, cols, t.Versions, t.ForeignKey),
	}
}

func (s *PGStore) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

func scanVersion(row pgx.Row) (*Version, error) {
	var v Version
	if err := row.Scan(&v.RecordID, &v.Number, &v.Content, &v.IsAddendum, &v.AuthorID, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// Append locks the parent row for the read-increment-write so concurrent
// appends to one record queue up instead of racing for the same number.
func (s *PGStore) Append(ctx context.Context, recordID uuid.UUID, content json.RawMessage, authorID uuid.UUID, isAddendum bool) (int, error) {
	var next int
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)

		var current int
		if err := q.QueryRow(ctx, s.lockParent, recordID).Scan(&current); err != nil {
			return db.NotFound(err, s.table.Noun)
		}

		var max int
		if err := q.QueryRow(ctx, s.maxVersion, recordID).Scan(&max); err != nil {
			return fmt.Errorf("read max version: %w", err)
		}
		next = max + 1

		if _, err := q.Exec(ctx, s.insert, recordID, next, []byte(content), isAddendum, authorID); err != nil {
			if db.IsUniqueViolation(err) {
				return conflict.Wrap(conflict.VersionMismatch, err, "concurrent version append")
			}
			return fmt.Errorf("insert version: %w", err)
		}

		if _, err := q.Exec(ctx, s.bumpParent, recordID, next); err != nil {
			return fmt.Errorf("bump %s version: %w", s.table.Noun, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *PGStore) Get(ctx context.Context, recordID uuid.UUID, number int) (*Version, error) {
	v, err := scanVersion(s.conn(ctx).QueryRow(ctx, s.selectOne, recordID, number))
	if err != nil {
		return nil, db.NotFound(err, s.table.Noun+" version")
	}
	return v, nil
}

func (s *PGStore) Latest(ctx context.Context, recordID uuid.UUID) (*Version, error) {
	v, err := scanVersion(s.conn(ctx).QueryRow(ctx, s.selectLatest, recordID))
	if err != nil {
		return nil, db.NotFound(err, s.table.Noun+" version")
	}
	return v, nil
}

func (s *PGStore) List(ctx context.Context, recordID uuid.UUID) ([]*Version, error) {
	rows, err := s.conn(ctx).Query(ctx, s.selectAll, recordID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
