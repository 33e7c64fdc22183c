package ports

import (
	"context"

	"github.com/localmart/marketplace-client/internal/core/domain"
)

// SignUpInput carries the data needed to create an account and its profile.
type SignUpInput struct {
	Credentials domain.Credentials
	DisplayName string
	Role        string
	BusinessID  string
	Phone       string
}

// SessionService owns the authenticated-identity lifecycle.
type SessionService interface {
	Session() domain.Session
	Initialize(ctx context.Context) error
	SignIn(ctx context.Context, creds domain.Credentials) error
	SignUp(ctx context.Context, in SignUpInput) error
	SignOut(ctx context.Context) error
	RefreshProfile(ctx context.Context) error
}

// ScopeReleaser cancels every live subscription for a scope. The session
// store calls it for each scope of a departing identity.
type ScopeReleaser interface {
	ReleaseScope(scope domain.ScopeKey) int
}
