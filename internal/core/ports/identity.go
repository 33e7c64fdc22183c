package ports

import (
	"context"

	"github.com/localmart/marketplace-client/internal/core/domain"
)

// AuthEventKind classifies events pushed by the identity provider.
type AuthEventKind string

const (
	AuthSignedIn       AuthEventKind = "signed_in"
	AuthSignedOut      AuthEventKind = "signed_out"
	AuthTokenRefreshed AuthEventKind = "token_refreshed"
	AuthUserUpdated    AuthEventKind = "user_updated"
)

// AuthEvent is one entry of the provider's state-changed stream. Identity is
// nil when the provider reports no active credential.
type AuthEvent struct {
	Kind     AuthEventKind
	Identity *domain.Identity
	// Revoked is the access token a sign-out ended. Empty means whatever
	// credential is active.
	Revoked string
}

// IdentityProvider is the external authentication service.
type IdentityProvider interface {
	SignIn(ctx context.Context, creds domain.Credentials) (*domain.Identity, error)
	SignUp(ctx context.Context, creds domain.Credentials) (*domain.Identity, error)
	SignOut(ctx context.Context) error
	// Current returns the active identity, or nil when none.
	Current(ctx context.Context) (*domain.Identity, error)
	// Events delivers asynchronous state changes until the provider is closed.
	Events() <-chan AuthEvent
}

// AccountRepository persists identity-provider credential records.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) (*domain.Account, error)
}
