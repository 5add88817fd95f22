package patient

import (
	"time"

	"github.com/google/uuid"
)

// Guardian is the parent or legal guardian who books visits for children.
type Guardian struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Address   string     `json:"address,omitempty"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (g *Guardian) GetVersion() int  { return g.Version }
func (g *Guardian) SetVersion(v int) { g.Version = v }

// GuardianPatch carries the fields of a partial update. Version may stand in
// for an If-Match header.
type GuardianPatch struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
	Version   *int    `json:"version"`
}

func (p GuardianPatch) apply(g *Guardian) {
	if p.FirstName != nil {
		g.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		g.LastName = *p.LastName
	}
	if p.Email != nil {
		g.Email = *p.Email
	}
	if p.Phone != nil {
		g.Phone = *p.Phone
	}
	if p.Address != nil {
		g.Address = *p.Address
	}
}

type ChildStatus string

const (
	ChildActive   ChildStatus = "ACTIVE"
	ChildArchived ChildStatus = "ARCHIVED"
)

// Child is the patient. BirthDate is a calendar date, YYYY-MM-DD.
type Child struct {
	ID         uuid.UUID   `json:"id"`
	GuardianID uuid.UUID   `json:"guardian_id"`
	FirstName  string      `json:"first_name"`
	LastName   string      `json:"last_name"`
	BirthDate  string      `json:"birth_date,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	Status     ChildStatus `json:"status"`
	ArchivedAt *time.Time  `json:"archived_at,omitempty"`
	Version    int         `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (c *Child) GetVersion() int  { return c.Version }
func (c *Child) SetVersion(v int) { c.Version = v }

type ChildPatch struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	BirthDate *string `json:"birth_date"`
	Notes     *string `json:"notes"`
	Version   *int    `json:"version"`
}

func (p ChildPatch) apply(c *Child) {
	if p.FirstName != nil {
		c.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		c.LastName = *p.LastName
	}
	if p.BirthDate != nil {
		c.BirthDate = *p.BirthDate
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
}
