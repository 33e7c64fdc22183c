package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/pkg/metrics"
)

const (
	sessionIdentityKey      = "session:identity"
	sessionProfileKey       = "session:profile"
	sessionAuthenticatedKey = "session:authenticated"

	profilesCollection = "profiles"

	triggerCall  = "call"
	triggerEvent = "event"
)

// SessionStore owns the authenticated-identity lifecycle and the cached
// profile.
//
// Every transition bumps an epoch. Work started under an older epoch (a
// profile fetch racing an external sign-out, say) is discarded when it
// completes, so the latest event always wins.
type SessionStore struct {
	mu          sync.Mutex
	state       domain.Session
	epoch       uint64
	scopeCtx    context.Context
	scopeCancel context.CancelFunc

	// persistMu orders storage writes so a stale write never lands after a
	// newer one.
	persistMu sync.Mutex

	provider  ports.IdentityProvider
	data      ports.DataService
	store     ports.KeyValueStore
	releaser  ports.ScopeReleaser
	observers observers[domain.Session]
	now       func() time.Time
	log       zerolog.Logger
}

// NewSessionStore returns a store in the Uninitialized state. releaser may be
// nil when nothing holds scoped subscriptions.
func NewSessionStore(
	provider ports.IdentityProvider,
	data ports.DataService,
	store ports.KeyValueStore,
	releaser ports.ScopeReleaser,
	log zerolog.Logger,
) *SessionStore {
	s := &SessionStore{
		state:    domain.Session{Status: domain.StatusUninitialized},
		provider: provider,
		data:     data,
		store:    store,
		releaser: releaser,
		now:      time.Now,
		log:      log,
	}
	s.scopeCtx, s.scopeCancel = canceledContext()
	return s
}

// Session returns a copy of the current state.
func (s *SessionStore) Session() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(s.state)
}

// Subscribe registers fn to receive every state change.
func (s *SessionStore) Subscribe(fn func(domain.Session)) (cancel func()) {
	return s.observers.add(fn)
}

// ScopeContext returns a context that lives exactly as long as the current
// Authenticated period. Work bound to it (realtime subscriptions) stops when
// the identity leaves. Outside Authenticated the returned context is already
// done.
func (s *SessionStore) ScopeContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopeCtx
}

// Initialize restores the persisted identity and profile, then asks the
// identity provider whether a credential is active. It is also the retry path
// out of the Error state.
func (s *SessionStore) Initialize(ctx context.Context) error {
	cachedID, cachedProfile := s.restore(ctx)

	s.mu.Lock()
	if s.state.Status == domain.StatusAuthenticated {
		status := s.state.Status
		s.mu.Unlock()
		return fmt.Errorf("initialize from %s: %w", status, domain.ErrInvalidTransition)
	}
	from := s.state.Status
	s.epoch++
	ep := s.epoch
	s.state = domain.Session{Identity: cachedID, Profile: cachedProfile, Status: domain.StatusLoading}
	snapshot := cloneSession(s.state)
	s.mu.Unlock()
	s.committed(from, snapshot, triggerCall)

	id, err := s.provider.Current(ctx)
	if err != nil {
		return s.fail(ep, fmt.Errorf("initialize: current identity: %w", err))
	}
	if !s.isCurrent(ep) {
		return nil
	}
	if id == nil {
		s.toUnauthenticated(ctx, triggerCall, ep)
		return nil
	}
	return s.load(ctx, id, triggerCall)
}

// SignIn authenticates through the identity provider and loads the profile.
// Rejected credentials leave the state untouched; a transient provider
// failure enters Error unless a session is already authenticated.
func (s *SessionStore) SignIn(ctx context.Context, creds domain.Credentials) error {
	id, err := s.provider.SignIn(ctx, creds)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return fmt.Errorf("sign in: %w", err)
		}
		s.mu.Lock()
		if s.state.Status == domain.StatusAuthenticated {
			s.mu.Unlock()
			return fmt.Errorf("sign in: %w", err)
		}
		s.epoch++
		ep := s.epoch
		s.mu.Unlock()
		return s.fail(ep, fmt.Errorf("sign in: %w", err))
	}
	return s.load(ctx, id, triggerCall)
}

// SignUp creates the account, writes its initial profile document, and then
// follows the sign-in path.
func (s *SessionStore) SignUp(ctx context.Context, in ports.SignUpInput) error {
	role := in.Role
	if role == "" {
		role = domain.RoleCustomer
	}
	if role != domain.RoleCustomer && role != domain.RoleBusinessOwner {
		return fmt.Errorf("sign up: role %q: %w", role, domain.ErrInvalidCredentials)
	}

	id, err := s.provider.SignUp(ctx, in.Credentials)
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}

	profile := domain.Profile{
		UserID:      id.UserID,
		Role:        role,
		DisplayName: in.DisplayName,
		Email:       in.Credentials.Email,
		Phone:       in.Phone,
		BusinessID:  in.BusinessID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.data.Put(ctx, profilesCollection, id.UserID, profile); err != nil {
		// The account exists; without a profile the user signs in as a new user.
		s.log.Warn().Err(err).Str("user_id", id.UserID).Msg("failed to write initial profile")
	}
	return s.load(ctx, id, triggerCall)
}

// SignOut ends the session. Local state is always cleared, even when the
// provider call fails, so no scoped data outlives the identity.
func (s *SessionStore) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Warn().Err(err).Msg("identity provider sign-out failed, clearing local session anyway")
	}
	s.toUnauthenticated(ctx, triggerCall, 0)
	return nil
}

// RefreshProfile re-fetches the profile of the current identity. A missing
// profile document is not an error: the user is new and the profile is nil.
// On failure the prior state is kept.
func (s *SessionStore) RefreshProfile(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.IsAuthenticated() {
		s.mu.Unlock()
		return fmt.Errorf("refresh profile: %w", domain.ErrNotAuthenticated)
	}
	ep := s.epoch
	userID := s.state.Identity.UserID
	s.mu.Unlock()

	profile, err := s.fetchProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh profile: %w", err)
	}

	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		return fmt.Errorf("refresh profile: %w", domain.ErrSuperseded)
	}
	departing := droppedScopes(s.state.Identity, s.state.Profile, profile)
	s.state.Profile = profile
	snapshot := cloneSession(s.state)
	s.mu.Unlock()

	s.release(departing)
	s.persist(ctx, ep, snapshot)
	s.observers.notify(snapshot)
	return nil
}

// Run consumes the identity provider's event stream until ctx is done or the
// stream closes.
func (s *SessionStore) Run(ctx context.Context) {
	events := s.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one provider event through the same transition table
// as the explicit calls. The state transition happens before HandleEvent
// returns; a profile fetch it starts completes in the background.
func (s *SessionStore) HandleEvent(ctx context.Context, ev ports.AuthEvent) {
	s.log.Debug().Str("event", string(ev.Kind)).Bool("identity", ev.Identity != nil).Msg("identity provider event")

	if ev.Kind == ports.AuthSignedOut || ev.Identity == nil {
		if s.staleSignOut(ev) {
			s.log.Debug().Msg("ignoring sign-out of a replaced credential")
			return
		}
		s.toUnauthenticated(ctx, triggerEvent, 0)
		return
	}

	s.mu.Lock()
	same := s.state.Identity != nil && s.state.Identity.UserID == ev.Identity.UserID
	switch {
	case same && s.state.Status == domain.StatusAuthenticated:
		id := *ev.Identity
		s.state.Identity = &id
		ep := s.epoch
		snapshot := cloneSession(s.state)
		s.mu.Unlock()

		s.persist(ctx, ep, snapshot)
		s.observers.notify(snapshot)
		if ev.Kind == ports.AuthUserUpdated {
			if err := s.RefreshProfile(ctx); err != nil {
				s.log.Warn().Err(err).Msg("profile refresh after user update failed")
			}
		}
		return
	case same && s.state.Status == domain.StatusLoading:
		// The in-flight load is for this user; it commits the newer token.
		id := *ev.Identity
		s.state.Identity = &id
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ep := s.beginLoading(ctx, ev.Identity, triggerEvent)
	go func() {
		if err := s.finishLoading(ctx, ep, triggerEvent); err != nil && !errors.Is(err, domain.ErrSuperseded) {
			s.log.Warn().Err(err).Str("user_id", ev.Identity.UserID).Msg("session load after provider event failed")
		}
	}()
}

// staleSignOut reports whether ev revokes a token the session no longer
// holds, as when a sign-out is drained after the user signed in again.
func (s *SessionStore) staleSignOut(ev ports.AuthEvent) bool {
	if ev.Revoked == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Identity != nil && s.state.Identity.AccessToken != ev.Revoked
}

// load moves to Loading for id and fetches its profile on the calling goroutine.
func (s *SessionStore) load(ctx context.Context, id *domain.Identity, trigger string) error {
	ep := s.beginLoading(ctx, id, trigger)
	return s.finishLoading(ctx, ep, trigger)
}

// beginLoading enters Loading for id. A different prior identity loses its
// scopes immediately.
func (s *SessionStore) beginLoading(ctx context.Context, id *domain.Identity, trigger string) uint64 {
	s.mu.Lock()
	prior := s.state
	s.epoch++
	ep := s.epoch

	var departing []domain.ScopeKey
	var profile *domain.Profile
	if prior.Identity != nil && prior.Identity.UserID == id.UserID {
		profile = prior.Profile
	} else {
		departing = domain.ScopesFor(prior.Identity, prior.Profile)
	}
	if prior.Status == domain.StatusAuthenticated && len(departing) > 0 {
		s.scopeCancel()
		s.scopeCtx, s.scopeCancel = canceledContext()
	}

	idCopy := *id
	s.state = domain.Session{Identity: &idCopy, Profile: profile, Status: domain.StatusLoading}
	snapshot := cloneSession(s.state)
	s.mu.Unlock()

	s.release(departing)
	s.committed(prior.Status, snapshot, trigger)
	return ep
}

// finishLoading fetches the profile for the identity entered under ep and
// commits Authenticated, unless a later transition happened meanwhile.
func (s *SessionStore) finishLoading(ctx context.Context, ep uint64, trigger string) error {
	s.mu.Lock()
	if s.epoch != ep || s.state.Identity == nil {
		s.mu.Unlock()
		return domain.ErrSuperseded
	}
	userID := s.state.Identity.UserID
	s.mu.Unlock()

	profile, err := s.fetchProfile(ctx, userID)
	if err != nil {
		return s.fail(ep, fmt.Errorf("load profile: %w", err))
	}

	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		s.log.Debug().Str("user_id", userID).Msg("discarding stale profile fetch")
		return domain.ErrSuperseded
	}
	from := s.state.Status
	s.state.Profile = profile
	s.state.Status = domain.StatusAuthenticated
	s.state.Reason = ""
	if s.scopeCtx.Err() != nil {
		s.scopeCtx, s.scopeCancel = context.WithCancel(context.Background())
	}
	snapshot := cloneSession(s.state)
	s.mu.Unlock()

	s.persist(ctx, ep, snapshot)
	s.committed(from, snapshot, trigger)
	s.log.Info().Str("user_id", userID).Str("role", snapshot.Role()).Msg("session authenticated")
	return nil
}

// toUnauthenticated clears the identity, cancels the scope context, and
// releases every realtime scope of the departing identity. A non-zero onlyIf
// skips the transition unless the epoch still matches.
func (s *SessionStore) toUnauthenticated(ctx context.Context, trigger string, onlyIf uint64) {
	s.mu.Lock()
	if onlyIf != 0 && s.epoch != onlyIf {
		s.mu.Unlock()
		return
	}
	prior := s.state
	s.epoch++
	ep := s.epoch
	departing := domain.ScopesFor(prior.Identity, prior.Profile)
	s.scopeCancel()
	s.scopeCtx, s.scopeCancel = canceledContext()
	s.state = domain.Session{Status: domain.StatusUnauthenticated}
	snapshot := cloneSession(s.state)
	s.mu.Unlock()

	s.release(departing)
	s.persist(ctx, ep, snapshot)
	s.committed(prior.Status, snapshot, trigger)
	if prior.Identity != nil {
		s.log.Info().Str("user_id", prior.Identity.UserID).Str("trigger", trigger).Msg("session signed out")
	}
}

// fail enters Error if ep is still current and returns err either way. An
// unconfirmed identity keeps no live scopes.
func (s *SessionStore) fail(ep uint64, err error) error {
	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		return err
	}
	from := s.state.Status
	departing := domain.ScopesFor(s.state.Identity, s.state.Profile)
	s.scopeCancel()
	s.scopeCtx, s.scopeCancel = canceledContext()
	s.state.Status = domain.StatusError
	s.state.Reason = err.Error()
	snapshot := cloneSession(s.state)
	s.mu.Unlock()

	s.release(departing)
	s.log.Error().Err(err).Msg("session load failed")
	s.committed(from, snapshot, triggerCall)
	return err
}

func (s *SessionStore) isCurrent(ep uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == ep
}

func (s *SessionStore) fetchProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	err := s.data.Get(ctx, profilesCollection, userID, &p)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SessionStore) release(scopes []domain.ScopeKey) {
	if s.releaser == nil {
		return
	}
	for _, scope := range scopes {
		n := s.releaser.ReleaseScope(scope)
		s.log.Debug().Str("scope", scope.String()).Int("subscriptions", n).Msg("released scope")
	}
}

// persist writes identity, profile and the authenticated flag. Status is
// never persisted; Initialize re-derives it on cold start.
func (s *SessionStore) persist(ctx context.Context, ep uint64, snap domain.Session) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if !s.isCurrent(ep) {
		return
	}

	var err error
	if snap.IsAuthenticated() {
		err = errors.Join(
			s.store.Set(ctx, sessionIdentityKey, snap.Identity),
			s.setOrRemove(ctx, sessionProfileKey, snap.Profile),
			s.store.Set(ctx, sessionAuthenticatedKey, true),
		)
	} else {
		err = errors.Join(
			s.store.Remove(ctx, sessionIdentityKey),
			s.store.Remove(ctx, sessionProfileKey),
			s.store.Set(ctx, sessionAuthenticatedKey, false),
		)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to persist session")
	}
}

func (s *SessionStore) setOrRemove(ctx context.Context, key string, p *domain.Profile) error {
	if p == nil {
		return s.store.Remove(ctx, key)
	}
	return s.store.Set(ctx, key, p)
}

// restore reads the persisted identity and profile. Malformed entries are
// dropped and removed.
func (s *SessionStore) restore(ctx context.Context) (*domain.Identity, *domain.Profile) {
	var authenticated bool
	if err := s.store.Get(ctx, sessionAuthenticatedKey, &authenticated); err != nil || !authenticated {
		if err != nil && !errors.Is(err, ports.ErrKeyNotFound) {
			s.log.Warn().Err(err).Msg("ignoring persisted session flag")
		}
		return nil, nil
	}

	var id domain.Identity
	if err := s.store.Get(ctx, sessionIdentityKey, &id); err != nil || id.UserID == "" {
		if err != nil && !errors.Is(err, ports.ErrKeyNotFound) {
			s.log.Warn().Err(err).Msg("discarding persisted identity")
			_ = s.store.Remove(ctx, sessionIdentityKey)
		}
		return nil, nil
	}

	var p domain.Profile
	if err := s.store.Get(ctx, sessionProfileKey, &p); err != nil || p.UserID != id.UserID {
		if err != nil && !errors.Is(err, ports.ErrKeyNotFound) {
			s.log.Warn().Err(err).Msg("discarding persisted profile")
			_ = s.store.Remove(ctx, sessionProfileKey)
		}
		return &id, nil
	}
	return &id, &p
}

func (s *SessionStore) committed(from domain.SessionStatus, snap domain.Session, trigger string) {
	if !from.CanTransitionTo(snap.Status) {
		s.log.Warn().Str("from", string(from)).Str("to", string(snap.Status)).Msg("unexpected session transition")
	}
	metrics.SessionTransitionsTotal.WithLabelValues(string(snap.Status), trigger).Inc()
	s.observers.notify(snap)
}

// droppedScopes lists the scopes of before that the new profile no longer owns.
func droppedScopes(id *domain.Identity, before, after *domain.Profile) []domain.ScopeKey {
	keep := make(map[domain.ScopeKey]struct{})
	for _, k := range domain.ScopesFor(id, after) {
		keep[k] = struct{}{}
	}
	var out []domain.ScopeKey
	for _, k := range domain.ScopesFor(id, before) {
		if _, ok := keep[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func cloneSession(s domain.Session) domain.Session {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	return out
}

func canceledContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx, cancel
}
