package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

const (
	tokenKey      = "identity:token"
	eventBuffer   = 16
	minPassword   = 8
	defaultTTL    = time.Hour
	defaultMargin = 5 * time.Minute
)

// Config holds the token settings of the provider.
type Config struct {
	Secret string
	// TokenTTL is how long an issued access token is valid.
	TokenTTL time.Duration
	// RefreshBefore is how long before expiry the token is re-issued.
	RefreshBefore time.Duration
}

// Claims are the JWT claims of an access token.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Provider implements ports.IdentityProvider with bcrypt-hashed accounts and
// HS256 access tokens. The active token is kept in the key-value store so a
// restart resumes the session, and it is re-issued shortly before expiry.
type Provider struct {
	accounts ports.AccountRepository
	store    ports.KeyValueStore
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	current *domain.Identity
	timer   *time.Timer

	events chan ports.AuthEvent
	done   chan struct{}
	once   sync.Once
}

func NewProvider(accounts ports.AccountRepository, store ports.KeyValueStore, cfg Config, log zerolog.Logger) *Provider {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTTL
	}
	if cfg.RefreshBefore <= 0 || cfg.RefreshBefore >= cfg.TokenTTL {
		cfg.RefreshBefore = min(defaultMargin, cfg.TokenTTL/2)
	}
	return &Provider{
		accounts: accounts,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
		events:   make(chan ports.AuthEvent, eventBuffer),
		done:     make(chan struct{}),
	}
}

// SignIn verifies the password and issues a token.
func (p *Provider) SignIn(ctx context.Context, creds domain.Credentials) (*domain.Identity, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	acc, err := p.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if acc.Disabled {
		return nil, domain.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(creds.Password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}

	return p.activate(ctx, acc, ports.AuthSignedIn)
}

// SignUp creates an account and signs it in.
func (p *Provider) SignUp(ctx context.Context, creds domain.Credentials) (*domain.Identity, error) {
	email := normalizeEmail(creds.Email)
	if !strings.Contains(email, "@") || len(creds.Password) < minPassword {
		return nil, domain.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	acc, err := p.accounts.Create(ctx, &domain.Account{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	p.log.Info().Str("user_id", acc.ID).Msg("account created")

	return p.activate(ctx, acc, ports.AuthSignedIn)
}

// SignOut drops the active token.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.stopTimerLocked()
	prev := p.current
	p.current = nil
	p.mu.Unlock()

	err := p.store.Remove(ctx, tokenKey)
	if prev != nil {
		p.emit(ports.AuthEvent{Kind: ports.AuthSignedOut, Revoked: prev.AccessToken})
	}
	if err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Current returns the active identity. On first use it resumes from the
// stored token; an expired or forged token counts as signed out.
func (p *Provider) Current(ctx context.Context) (*domain.Identity, error) {
	p.mu.Lock()
	if p.current != nil {
		id := *p.current
		p.mu.Unlock()
		return &id, nil
	}
	p.mu.Unlock()

	var token string
	if err := p.store.Get(ctx, tokenKey, &token); err != nil {
		if errors.Is(err, ports.ErrKeyNotFound) || errors.Is(err, ports.ErrMalformedValue) {
			return nil, nil
		}
		return nil, fmt.Errorf("load token: %w", err)
	}

	claims, err := ParseToken(p.cfg.Secret, token)
	if err != nil {
		p.log.Info().Err(err).Msg("stored token rejected")
		_ = p.store.Remove(ctx, tokenKey)
		return nil, nil
	}

	id := &domain.Identity{
		UserID:      claims.Subject,
		Email:       claims.Email,
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	p.mu.Lock()
	p.current = id
	p.scheduleLocked(id.ExpiresAt)
	p.mu.Unlock()

	out := *id
	return &out, nil
}

// Events delivers asynchronous state changes until Close.
func (p *Provider) Events() <-chan ports.AuthEvent { return p.events }

// Close stops the refresh timer and unblocks pending event sends.
func (p *Provider) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.stopTimerLocked()
		p.mu.Unlock()
		close(p.done)
	})
}

// Refresh re-issues the active token. A deleted or disabled account is
// signed out instead.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	if cur == nil {
		return domain.ErrNotAuthenticated
	}

	acc, err := p.accounts.FindByID(ctx, cur.UserID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && acc.Disabled) {
		p.log.Warn().Str("user_id", cur.UserID).Msg("account gone, signing out")
		return p.SignOut(ctx)
	}
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	_, err = p.activate(ctx, acc, ports.AuthTokenRefreshed)
	return err
}

func (p *Provider) activate(ctx context.Context, acc *domain.Account, kind ports.AuthEventKind) (*domain.Identity, error) {
	token, exp, err := p.issue(acc)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if err := p.store.Set(ctx, tokenKey, token); err != nil {
		p.log.Warn().Err(err).Msg("failed to persist token")
	}

	id := &domain.Identity{UserID: acc.ID, Email: acc.Email, AccessToken: token, ExpiresAt: exp}
	p.mu.Lock()
	p.current = id
	p.scheduleLocked(exp)
	p.mu.Unlock()

	out := *id
	ev := out
	p.emit(ports.AuthEvent{Kind: kind, Identity: &ev})
	return &out, nil
}

func (p *Provider) issue(acc *domain.Account) (string, time.Time, error) {
	now := p.now()
	exp := now.Add(p.cfg.TokenTTL)
	claims := Claims{
		Email: acc.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(p.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (p *Provider) scheduleLocked(exp time.Time) {
	p.stopTimerLocked()
	wait := exp.Sub(p.now()) - p.cfg.RefreshBefore
	if wait < 0 {
		wait = 0
	}
	p.timer = time.AfterFunc(wait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrNotAuthenticated) {
			p.log.Error().Err(err).Msg("token refresh failed")
		}
	})
}

func (p *Provider) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Provider) emit(ev ports.AuthEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// ParseToken verifies an HS256 access token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !tkn.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
