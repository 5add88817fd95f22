package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Role is the caller's clinic role.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleRegistration Role = "registration"
	RoleDoctor       Role = "doctor"
	RoleTherapist    Role = "therapist"
	RoleGuardian     Role = "guardian"
)

// ParseRole validates a role claim.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleRegistration, RoleDoctor, RoleTherapist, RoleGuardian:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the authenticated caller. PractitionerID is set for clinicians,
// GuardianID for guardians.
type Actor struct {
	UserID         uuid.UUID
	Role           Role
	PractitionerID *uuid.UUID
	GuardianID     *uuid.UUID
}

type contextKey string

const (
	actorKey  contextKey = "actor"
	policyKey contextKey = "policy"
)

// WithActor binds the actor and its policy to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = context.WithValue(ctx, actorKey, a)
	return context.WithValue(ctx, policyKey, PolicyFor(a))
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

// PolicyFromContext returns the policy bound by WithActor, or a policy that
// denies everything.
func PolicyFromContext(ctx context.Context) Policy {
	if p, ok := ctx.Value(policyKey).(Policy); ok {
		return p
	}
	return denyAll{}
}

// ScopeFromContext is shorthand for PolicyFromContext(ctx).Scope().
func ScopeFromContext(ctx context.Context) Scope {
	return PolicyFromContext(ctx).Scope()
}
