package domain

import (
	"errors"
	"time"
)

const (
	RoleCustomer      = "customer"
	RoleBusinessOwner = "business_owner"
	RoleAdmin         = "admin"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrForbidden          = errors.New("access forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid session transition")
	// ErrSuperseded is returned when a later event replaced the outcome of
	// an in-flight session operation.
	ErrSuperseded = errors.New("superseded by a later session event")
)

// SessionStatus is the lifecycle state of the session store.
type SessionStatus string

const (
	StatusUninitialized   SessionStatus = "uninitialized"
	StatusLoading         SessionStatus = "loading"
	StatusAuthenticated   SessionStatus = "authenticated"
	StatusUnauthenticated SessionStatus = "unauthenticated"
	StatusError           SessionStatus = "error"
)

// validTransitions defines the allowed session state machine transitions.
// Error is entered by a failed load or sign-in attempt and left by a retry
// (Loading) or a sign-out.
var validTransitions = map[SessionStatus][]SessionStatus{
	StatusUninitialized:   {StatusLoading},
	StatusLoading:         {StatusAuthenticated, StatusUnauthenticated, StatusError, StatusLoading},
	StatusAuthenticated:   {StatusUnauthenticated, StatusLoading, StatusAuthenticated},
	StatusUnauthenticated: {StatusLoading, StatusUnauthenticated, StatusError},
	StatusError:           {StatusLoading, StatusUnauthenticated, StatusError},
}

// CanTransitionTo reports whether a transition from current status to next is valid.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Identity is the handle issued by the identity provider for a signed-in user.
type Identity struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Profile is the user's profile document in the remote data service.
type Profile struct {
	UserID      string    `json:"user_id" bson:"_id"`
	Role        string    `json:"role" bson:"role"`
	DisplayName string    `json:"display_name" bson:"display_name"`
	Email       string    `json:"email,omitempty" bson:"email,omitempty"`
	Phone       string    `json:"phone,omitempty" bson:"phone,omitempty"`
	BusinessID  string    `json:"business_id,omitempty" bson:"business_id,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Session is the observable state of the session store.
type Session struct {
	Identity *Identity     `json:"identity,omitempty"`
	Profile  *Profile      `json:"profile,omitempty"`
	Status   SessionStatus `json:"status"`

	// Reason is set only when Status is StatusError.
	Reason string `json:"reason,omitempty"`
}

// IsAuthenticated reports whether the session holds a live identity.
func (s Session) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// Role returns the profile role, or empty when no profile is loaded.
func (s Session) Role() string {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.Role
}

// Scopes returns every realtime scope key owned by the session's identity.
func (s Session) Scopes() []ScopeKey {
	return ScopesFor(s.Identity, s.Profile)
}

// ScopesFor derives the realtime scope keys that belong to an identity:
// its user scope and, for business owners, its business scope.
func ScopesFor(id *Identity, p *Profile) []ScopeKey {
	if id == nil {
		return nil
	}
	keys := []ScopeKey{UserScope(id.UserID)}
	if p != nil && p.BusinessID != "" {
		keys = append(keys, BusinessScope(p.BusinessID))
	}
	return keys
}
