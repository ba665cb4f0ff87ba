// Package identity turns the signed-in user and the active organization into
// the scope that partitions files.
package identity

import "errors"

// ErrUndetermined is returned when the scope cannot be resolved yet
var ErrUndetermined = errors.New("scope undetermined")

// Role is a viewer's capability inside a scope
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	// RoleOwner is held by a user inside their own personal scope
	RoleOwner Role = "owner"
)

// User is the signed-in account as seen by the resolver
type User struct {
	ID string
}

// Organization is the active organization together with the user's role in it
type Organization struct {
	ID   string
	Role Role
}

// AuthState is the authentication snapshot the resolver works from. User and
// organization are loaded independently; nil pointers mean "none".
type AuthState struct {
	UserLoaded   bool
	User         *User
	OrgLoaded    bool
	Organization *Organization
}

// Viewer is a resolved identity: who is asking, and in which scope
type Viewer struct {
	UserID         string
	ScopeID        string
	OrganizationID string
	Role           Role
}

// Resolve returns the scope id for s: the active organization's id, or the
// user's id when no organization is active. ok is false while either part of
// the state is still loading or nobody is signed in.
func Resolve(s AuthState) (scopeID string, ok bool) {
	if !s.UserLoaded || !s.OrgLoaded || s.User == nil || s.User.ID == "" {
		return "", false
	}
	if s.Organization != nil && s.Organization.ID != "" {
		return s.Organization.ID, true
	}
	return s.User.ID, true
}

// NewViewer resolves s into a Viewer
func NewViewer(s AuthState) (Viewer, error) {
	scopeID, ok := Resolve(s)
	if !ok {
		return Viewer{}, ErrUndetermined
	}

	v := Viewer{UserID: s.User.ID, ScopeID: scopeID, Role: RoleOwner}
	if s.Organization != nil && s.Organization.ID != "" {
		v.OrganizationID = s.Organization.ID
		v.Role = s.Organization.Role
	}
	return v, nil
}

// Personal reports whether the viewer is working in their own personal scope
func (v Viewer) Personal() bool {
	return v.OrganizationID == "" && v.ScopeID == v.UserID
}

// Elevated reports whether the viewer's role allows destructive operations.
// It reflects request state only; mutation paths re-check the role against
// the membership table.
func (v Viewer) Elevated() bool {
	return v.Role == RoleAdmin || (v.Role == RoleOwner && v.Personal())
}
