package patient

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/optimistic"
)

// Service manages guardian and child profiles. Every update is a
// compare-and-swap on the profile version.
type Service struct {
	guardians     GuardianRepository
	children      ChildRepository
	guardianGuard *optimistic.Guard[*Guardian]
	childGuard    *optimistic.Guard[*Child]
	now           func() time.Time
}

func NewService(guardians GuardianRepository, children ChildRepository, tx db.TxRunner) *Service {
	return &Service{
		guardians:     guardians,
		children:      children,
		guardianGuard: optimistic.NewGuard[*Guardian](tx, guardians),
		childGuard:    optimistic.NewGuard[*Child](tx, children),
		now:           time.Now,
	}
}

func forbidden(what string, id uuid.UUID) error {
	return conflict.New(conflict.Forbidden, "%s %s is outside your scope", what, id)
}

func validateGuardian(g *Guardian) error {
	g.FirstName = strings.TrimSpace(g.FirstName)
	g.LastName = strings.TrimSpace(g.LastName)
	if g.FirstName == "" || g.LastName == "" {
		return conflict.New(conflict.Invalid, "first_name and last_name are required")
	}
	if g.Email != "" {
		if _, err := mail.ParseAddress(g.Email); err != nil {
			return conflict.New(conflict.Invalid, "invalid email %q", g.Email)
		}
	}
	return nil
}

func validateChild(c *Child) error {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	if c.FirstName == "" || c.LastName == "" {
		return conflict.New(conflict.Invalid, "first_name and last_name are required")
	}
	if c.BirthDate != "" {
		if _, err := time.Parse(time.DateOnly, c.BirthDate); err != nil {
			return conflict.New(conflict.Invalid, "birth_date must be YYYY-MM-DD")
		}
	}
	return nil
}

// -- Guardians --

// CreateGuardian registers a guardian at version 1. Guardians cannot create
// other guardians.
func (s *Service) CreateGuardian(ctx context.Context, scope auth.Scope, g *Guardian) error {
	if scope.GuardianID != nil {
		return conflict.New(conflict.Forbidden, "guardians cannot register other guardians")
	}
	if err := validateGuardian(g); err != nil {
		return err
	}
	g.ID = uuid.New()
	g.Version = 1
	return s.guardians.Create(ctx, g)
}

func (s *Service) GetGuardian(ctx context.Context, scope auth.Scope, id uuid.UUID) (*Guardian, error) {
	if !scope.OwnsGuardian(id) {
		return nil, forbidden("guardian", id)
	}
	return s.guardians.GetByID(ctx, id)
}

func (s *Service) ListGuardians(ctx context.Context, scope auth.Scope, limit, offset int) ([]*Guardian, int, error) {
	if scope.GuardianID != nil {
		g, err := s.guardians.GetByID(ctx, *scope.GuardianID)
		if err != nil {
			return nil, 0, err
		}
		return []*Guardian{g}, 1, nil
	}
	return s.guardians.List(ctx, limit, offset)
}

// UpdateGuardian applies patch if the stored version equals expected.
func (s *Service) UpdateGuardian(ctx context.Context, scope auth.Scope, id uuid.UUID, expected int, patch GuardianPatch) (*Guardian, error) {
	if !scope.OwnsGuardian(id) {
		return nil, forbidden("guardian", id)
	}
	return s.guardianGuard.Apply(ctx, id, expected, func(g *Guardian) error {
		patch.apply(g)
		g.UpdatedAt = s.now().UTC()
		return validateGuardian(g)
	})
}

// -- Children --

func (s *Service) CreateChild(ctx context.Context, scope auth.Scope, c *Child) error {
	if !scope.OwnsGuardian(c.GuardianID) {
		return forbidden("guardian", c.GuardianID)
	}
	if err := validateChild(c); err != nil {
		return err
	}
	if _, err := s.guardians.GetByID(ctx, c.GuardianID); err != nil {
		return err
	}
	c.ID = uuid.New()
	c.Status = ChildActive
	c.Version = 1
	return s.children.Create(ctx, c)
}

func (s *Service) GetChild(ctx context.Context, scope auth.Scope, id uuid.UUID) (*Child, error) {
	c, err := s.children.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.OwnsGuardian(c.GuardianID) {
		return nil, forbidden("child", id)
	}
	return c, nil
}

func (s *Service) ListChildren(ctx context.Context, scope auth.Scope, guardianID uuid.UUID, limit, offset int) ([]*Child, int, error) {
	if !scope.OwnsGuardian(guardianID) {
		return nil, 0, forbidden("guardian", guardianID)
	}
	return s.children.ListByGuardian(ctx, guardianID, limit, offset)
}

// ownedChild checks scope against the locked row inside the guarded update.
func ownedChild(scope auth.Scope, c *Child) error {
	if !scope.OwnsGuardian(c.GuardianID) {
		return forbidden("child", c.ID)
	}
	if c.Status == ChildArchived {
		return conflict.New(conflict.InvalidTransition, "child %s is archived", c.ID)
	}
	return nil
}

func (s *Service) UpdateChild(ctx context.Context, scope auth.Scope, id uuid.UUID, expected int, patch ChildPatch) (*Child, error) {
	if _, err := s.GetChild(ctx, scope, id); err != nil {
		return nil, err
	}
	return s.childGuard.Apply(ctx, id, expected, func(c *Child) error {
		if err := ownedChild(scope, c); err != nil {
			return err
		}
		patch.apply(c)
		c.UpdatedAt = s.now().UTC()
		return validateChild(c)
	})
}

// ArchiveChild retires a child profile. Archived children keep their history
// but accept no further edits.
func (s *Service) ArchiveChild(ctx context.Context, scope auth.Scope, id uuid.UUID, expected int) (*Child, error) {
	if _, err := s.GetChild(ctx, scope, id); err != nil {
		return nil, err
	}
	return s.childGuard.Apply(ctx, id, expected, func(c *Child) error {
		if err := ownedChild(scope, c); err != nil {
			return err
		}
		at := s.now().UTC()
		c.Status = ChildArchived
		c.ArchivedAt = &at
		c.UpdatedAt = at
		return nil
	})
}
