package patient

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
)

// =========== Guardian Repository ===========

type guardianRepoPG struct{ pool *pgxpool.Pool }

func NewGuardianRepoPG(pool *pgxpool.Pool) GuardianRepository {
	return &guardianRepoPG{pool: pool}
}

func (r *guardianRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const guardianCols = `id, user_id, first_name, last_name, email, phone, address, version, created_at, updated_at`

func (r *guardianRepoPG) scanGuardian(row pgx.Row) (*Guardian, error) {
	var g Guardian
	err := row.Scan(&g.ID, &g.UserID, &g.FirstName, &g.LastName, &g.Email, &g.Phone, &g.Address,
		&g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, "guardian")
	}
	return &g, nil
}

func (r *guardianRepoPG) Create(ctx context.Context, g *Guardian) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO guardians (id, user_id, first_name, last_name, email, phone, address, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		g.ID, g.UserID, g.FirstName, g.LastName, g.Email, g.Phone, g.Address, g.Version,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return conflict.Wrap(conflict.AlreadyExists, err, "guardian already registered")
	}
	return err
}

func (r *guardianRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Guardian, error) {
	return r.scanGuardian(r.conn(ctx).QueryRow(ctx, `SELECT `+guardianCols+` FROM guardians WHERE id = $1`, id))
}

func (r *guardianRepoPG) LoadForUpdate(ctx context.Context, id uuid.UUID) (*Guardian, error) {
	return r.scanGuardian(r.conn(ctx).QueryRow(ctx,
		`SELECT `+guardianCols+` FROM guardians WHERE id = $1 FOR UPDATE`, id))
}

func (r *guardianRepoPG) SaveIfVersion(ctx context.Context, g *Guardian, expected int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE guardians SET first_name=$3, last_name=$4, email=$5, phone=$6, address=$7,
			version=$8, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		g.ID, expected, g.FirstName, g.LastName, g.Email, g.Phone, g.Address, g.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return conflict.New(conflict.VersionMismatch, "guardian %s changed since version %d", g.ID, expected)
	}
	return nil
}

func (r *guardianRepoPG) List(ctx context.Context, limit, offset int) ([]*Guardian, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM guardians`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+guardianCols+` FROM guardians ORDER BY last_name, first_name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Guardian
	for rows.Next() {
		g, err := r.scanGuardian(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, g)
	}
	return items, total, rows.Err()
}

// =========== Child Repository ===========

type childRepoPG struct{ pool *pgxpool.Pool }

func NewChildRepoPG(pool *pgxpool.Pool) ChildRepository {
	return &childRepoPG{pool: pool}
}

func (r *childRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const childCols = `id, guardian_id, first_name, last_name, COALESCE(to_char(birth_date, 'YYYY-MM-DD'), ''),
	notes, status, archived_at, version, created_at, updated_at`

func (r *childRepoPG) scanChild(row pgx.Row) (*Child, error) {
	var c Child
	var status string
	err := row.Scan(&c.ID, &c.GuardianID, &c.FirstName, &c.LastName, &c.BirthDate, &c.Notes, &status,
		&c.ArchivedAt, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, "child")
	}
	c.Status = ChildStatus(status)
	return &c, nil
}

func (r *childRepoPG) Create(ctx context.Context, c *Child) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO children (id, guardian_id, first_name, last_name, birth_date, notes, status, version)
		VALUES ($1,$2,$3,$4,NULLIF($5, '')::date,$6,$7,$8)
		RETURNING created_at, updated_at`,
		c.ID, c.GuardianID, c.FirstName, c.LastName, c.BirthDate, c.Notes, string(c.Status), c.Version,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *childRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Child, error) {
	return r.scanChild(r.conn(ctx).QueryRow(ctx, `SELECT `+childCols+` FROM children WHERE id = $1`, id))
}

func (r *childRepoPG) LoadForUpdate(ctx context.Context, id uuid.UUID) (*Child, error) {
	return r.scanChild(r.conn(ctx).QueryRow(ctx,
		`SELECT `+childCols+` FROM children WHERE id = $1 FOR UPDATE`, id))
}

func (r *childRepoPG) SaveIfVersion(ctx context.Context, c *Child, expected int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE children SET first_name=$3, last_name=$4, birth_date=NULLIF($5, '')::date, notes=$6,
			status=$7, archived_at=$8, version=$9, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		c.ID, expected, c.FirstName, c.LastName, c.BirthDate, c.Notes, string(c.Status), c.ArchivedAt, c.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return conflict.New(conflict.VersionMismatch, "child %s changed since version %d", c.ID, expected)
	}
	return nil
}

func (r *childRepoPG) ListByGuardian(ctx context.Context, guardianID uuid.UUID, limit, offset int) ([]*Child, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM children WHERE guardian_id = $1`, guardianID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+childCols+` FROM children WHERE guardian_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		guardianID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Child
	for rows.Next() {
		c, err := r.scanChild(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
