package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

// ---------------------------------------------------------------------------
// In-memory key-value store
// ---------------------------------------------------------------------------

type memKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error // if set, Set returns this error
	getErr error // if set, Get returns this error
	sets   int
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(_ context.Context, key string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.data[key]
	if !ok {
		return ports.ErrKeyNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrMalformedValue, err)
	}
	return nil
}

func (m *memKV) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	m.sets++
	return nil
}

func (m *memKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok
}

func (m *memKV) putRaw(key string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
}

// ---------------------------------------------------------------------------
// In-memory data service
// ---------------------------------------------------------------------------

type stubData struct {
	mu      sync.Mutex
	docs    map[string]map[string][]byte
	getErr  error
	putErr  error
	findErr error
	finds   int
	// getHook runs before Get returns, outside the lock.
	getHook func()
	// findHook runs once, after the next Find has read its result.
	findHook func()
	// putHook runs after a successful Put, outside the lock.
	putHook func()
}

func newStubData() *stubData { return &stubData{docs: make(map[string]map[string][]byte)} }

func (d *stubData) Get(_ context.Context, collection, id string, out any) error {
	if d.getHook != nil {
		d.getHook()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.getErr != nil {
		return d.getErr
	}
	raw, ok := d.docs[collection][id]
	if !ok {
		return domain.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (d *stubData) Put(_ context.Context, collection, id string, doc any) error {
	if err := d.put(collection, id, doc); err != nil {
		return err
	}
	if d.putHook != nil {
		d.putHook()
	}
	return nil
}

func (d *stubData) put(collection, id string, doc any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.putErr != nil {
		return d.putErr
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if d.docs[collection] == nil {
		d.docs[collection] = make(map[string][]byte)
	}
	d.docs[collection][id] = raw
	return nil
}

// Find matches filter values against the JSON field names, like the real
// store matches them against document fields.
func (d *stubData) Find(_ context.Context, q ports.Query, out any) error {
	err := d.find(q, out)
	d.mu.Lock()
	hook := d.findHook
	d.findHook = nil
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (d *stubData) find(q ports.Query, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds++
	if d.findErr != nil {
		return d.findErr
	}
	matched := make([]json.RawMessage, 0)
	for _, raw := range d.docs[q.Collection] {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return err
		}
		ok := true
		for k, v := range q.Filter {
			if fmt.Sprint(fields[k]) != fmt.Sprint(v) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, raw)
		}
	}
	b, err := json.Marshal(matched)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (d *stubData) findCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finds
}

func (d *stubData) afterNextFind(hook func()) {
	d.mu.Lock()
	d.findHook = hook
	d.mu.Unlock()
}

func (d *stubData) setFindErr(err error) {
	d.mu.Lock()
	d.findErr = err
	d.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Change feed
// ---------------------------------------------------------------------------

type stubWatch struct {
	feed   *stubFeed
	spec   ports.WatchSpec
	notify func(ports.ChangeNotice)
	closed bool
}

func (w *stubWatch) Close() error {
	w.feed.mu.Lock()
	defer w.feed.mu.Unlock()
	w.closed = true
	return nil
}

type stubFeed struct {
	mu       sync.Mutex
	watches  []*stubWatch
	watchErr error
}

func (f *stubFeed) Watch(_ context.Context, spec ports.WatchSpec, notify func(ports.ChangeNotice)) (ports.Watch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	w := &stubWatch{feed: f, spec: spec, notify: notify}
	f.watches = append(f.watches, w)
	return w, nil
}

// emit notifies every open watch on collection, whether or not it still
// matches, the way a lagging transport might.
func (f *stubFeed) emit(collection string) {
	f.mu.Lock()
	var targets []*stubWatch
	for _, w := range f.watches {
		if w.spec.Collection == collection {
			targets = append(targets, w)
		}
	}
	f.mu.Unlock()
	for _, w := range targets {
		w.notify(ports.ChangeNotice{Collection: collection, Operation: "insert"})
	}
}

func (f *stubFeed) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.watches {
		if !w.closed {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Identity provider
// ---------------------------------------------------------------------------

type stubProvider struct {
	mu         sync.Mutex
	users      map[string]string // email -> password
	ids        map[string]string // email -> user id
	current    *domain.Identity
	currentErr error
	signInErr  error
	signOutErr error
	issued     int
	events     chan ports.AuthEvent
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		users:  make(map[string]string),
		ids:    make(map[string]string),
		events: make(chan ports.AuthEvent, 8),
	}
}

func (p *stubProvider) addUser(email, password, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[email] = password
	p.ids[email] = id
}

func (p *stubProvider) SignIn(_ context.Context, creds domain.Credentials) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	pw, ok := p.users[creds.Email]
	if !ok || pw != creds.Password {
		return nil, domain.ErrInvalidCredentials
	}
	p.issued++
	p.current = &domain.Identity{
		UserID:      p.ids[creds.Email],
		Email:       creds.Email,
		AccessToken: fmt.Sprintf("tok-%s-%d", p.ids[creds.Email], p.issued),
	}
	id := *p.current
	return &id, nil
}

func (p *stubProvider) SignUp(_ context.Context, creds domain.Credentials) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[creds.Email]; ok {
		return nil, domain.ErrUserExists
	}
	uid := "u-" + creds.Email
	p.users[creds.Email] = creds.Password
	p.ids[creds.Email] = uid
	p.current = &domain.Identity{UserID: uid, Email: creds.Email}
	id := *p.current
	return &id, nil
}

func (p *stubProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	return p.signOutErr
}

func (p *stubProvider) Current(context.Context) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentErr != nil {
		return nil, p.currentErr
	}
	if p.current == nil {
		return nil, nil
	}
	id := *p.current
	return &id, nil
}

func (p *stubProvider) Events() <-chan ports.AuthEvent { return p.events }

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

type stubPromos struct {
	discounts map[string]domain.Money
	// onEvaluate runs before each evaluation returns.
	onEvaluate func(subtotal domain.Money)
}

func (p *stubPromos) Evaluate(_ context.Context, code string, subtotal domain.Money) (domain.Money, error) {
	if p.onEvaluate != nil {
		p.onEvaluate(subtotal)
	}
	d, ok := p.discounts[code]
	if !ok || subtotal <= 0 {
		return 0, domain.ErrPromotionNotApplicable
	}
	return d, nil
}

type spyReleaser struct {
	mu       sync.Mutex
	released []domain.ScopeKey
}

func (r *spyReleaser) ReleaseScope(scope domain.ScopeKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, scope)
	return 1
}

func (r *spyReleaser) scopes() []domain.ScopeKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ScopeKey(nil), r.released...)
}

type fixedSession struct {
	s domain.Session
}

func (f fixedSession) Session() domain.Session { return f.s }

var errBoom = errors.New("boom")
