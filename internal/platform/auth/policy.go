package auth

import (
	"github.com/google/uuid"
)

// Action is a coarse capability checked at the HTTP boundary.
type Action string

const (
	ManageSchedules Action = "schedules:manage"
	ReadSchedules   Action = "schedules:read"
	CreateBookings  Action = "bookings:create"
	ManageBookings  Action = "bookings:manage"
	ReadBookings    Action = "bookings:read"
	ManageClinical  Action = "clinical:manage"
	ReadClinical    Action = "clinical:read"
	ManageProfiles  Action = "profiles:manage"
	ReadProfiles    Action = "profiles:read"
)

// Scope limits which records an already-authorized caller reaches. A nil
// restriction means unrestricted on that axis.
type Scope struct {
	UserID         uuid.UUID
	PractitionerID *uuid.UUID
	GuardianID     *uuid.UUID
	// SignedVisibleNotesOnly hides drafts and notes not shared with guardians.
	SignedVisibleNotesOnly bool
}

// OwnsPractitioner reports whether the scope reaches the practitioner's data.
func (s Scope) OwnsPractitioner(id uuid.UUID) bool {
	if s.GuardianID != nil {
		return false
	}
	return s.PractitionerID == nil || *s.PractitionerID == id
}

// OwnsGuardian reports whether the scope reaches the guardian's data.
func (s Scope) OwnsGuardian(id uuid.UUID) bool {
	return s.GuardianID == nil || *s.GuardianID == id
}

// Policy is the access rule set of one role.
type Policy interface {
	Allow(action Action) bool
	Scope() Scope
}

// PolicyFor picks the policy variant for the actor's role.
func PolicyFor(a Actor) Policy {
	switch a.Role {
	case RoleAdmin:
		return adminPolicy{userID: a.UserID}
	case RoleRegistration:
		return registrationPolicy{userID: a.UserID}
	case RoleDoctor, RoleTherapist:
		if a.PractitionerID == nil {
			return denyAll{}
		}
		return clinicianPolicy{userID: a.UserID, practitionerID: *a.PractitionerID}
	case RoleGuardian:
		if a.GuardianID == nil {
			return denyAll{}
		}
		return guardianPolicy{userID: a.UserID, guardianID: *a.GuardianID}
	}
	return denyAll{}
}

type adminPolicy struct{ userID uuid.UUID }

func (adminPolicy) Allow(Action) bool { return true }

func (p adminPolicy) Scope() Scope { return Scope{UserID: p.userID} }

// Registration staff run the front desk: schedules, bookings and profiles,
// but never clinical content.
type registrationPolicy struct{ userID uuid.UUID }

func (registrationPolicy) Allow(a Action) bool {
	switch a {
	case ManageClinical, ReadClinical:
		return false
	}
	return true
}

func (p registrationPolicy) Scope() Scope { return Scope{UserID: p.userID} }

type clinicianPolicy struct {
	userID         uuid.UUID
	practitionerID uuid.UUID
}

func (clinicianPolicy) Allow(a Action) bool {
	switch a {
	case ReadSchedules, ManageBookings, ReadBookings, ManageClinical, ReadClinical, ReadProfiles:
		return true
	}
	return false
}

func (p clinicianPolicy) Scope() Scope {
	id := p.practitionerID
	return Scope{UserID: p.userID, PractitionerID: &id}
}

type guardianPolicy struct {
	userID     uuid.UUID
	guardianID uuid.UUID
}

func (guardianPolicy) Allow(a Action) bool {
	switch a {
	case ReadSchedules, CreateBookings, ReadBookings, ReadClinical, ReadProfiles, ManageProfiles:
		return true
	}
	return false
}

func (p guardianPolicy) Scope() Scope {
	id := p.guardianID
	return Scope{UserID: p.userID, GuardianID: &id, SignedVisibleNotesOnly: true}
}

type denyAll struct{}

func (denyAll) Allow(Action) bool { return false }

func (denyAll) Scope() Scope {
	none := uuid.Nil
	return Scope{PractitionerID: &none, GuardianID: &none, SignedVisibleNotesOnly: true}
}
