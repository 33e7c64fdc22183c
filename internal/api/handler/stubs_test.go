package handler

import (
	"context"
	"net/http/httptest"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withUser(c echo.Context, userID, role, businessID string) {
	c.Set("user_id", userID)
	c.Set("role", role)
	c.Set("business_id", businessID)
}

type stubSessionService struct {
	session    domain.Session
	signInFn   func(ctx context.Context, creds domain.Credentials) error
	signUpFn   func(ctx context.Context, in ports.SignUpInput) error
	signOutErr error
	refreshErr error
	signedOut  bool
}

func (s *stubSessionService) Session() domain.Session              { return s.session }
func (s *stubSessionService) Initialize(ctx context.Context) error { return nil }

func (s *stubSessionService) SignIn(ctx context.Context, creds domain.Credentials) error {
	return s.signInFn(ctx, creds)
}

func (s *stubSessionService) SignUp(ctx context.Context, in ports.SignUpInput) error {
	return s.signUpFn(ctx, in)
}

func (s *stubSessionService) SignOut(ctx context.Context) error {
	s.signedOut = true
	s.session = domain.Session{Status: domain.StatusUnauthenticated}
	return s.signOutErr
}

func (s *stubSessionService) RefreshProfile(ctx context.Context) error { return s.refreshErr }

type stubCartService struct {
	cart      domain.Cart
	err       error
	lastAdd   ports.AddItemInput
	lastLine  string
	lastQty   int
	lastCz    domain.Customizations
	lastCode  string
	cleared   bool
	calledOps []string
}

func (s *stubCartService) record(op string) (domain.Cart, error) {
	s.calledOps = append(s.calledOps, op)
	return s.cart, s.err
}

func (s *stubCartService) Cart() domain.Cart { return s.cart }

func (s *stubCartService) AddItem(ctx context.Context, in ports.AddItemInput) (domain.Cart, error) {
	s.lastAdd = in
	return s.record("add")
}

func (s *stubCartService) RemoveItem(ctx context.Context, lineID string) (domain.Cart, error) {
	s.lastLine = lineID
	return s.record("remove")
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, lineID string, quantity int) (domain.Cart, error) {
	s.lastLine, s.lastQty = lineID, quantity
	return s.record("update_quantity")
}

func (s *stubCartService) UpdateCustomizations(ctx context.Context, lineID string, c domain.Customizations) (domain.Cart, error) {
	s.lastLine, s.lastCz = lineID, c
	return s.record("update_customizations")
}

func (s *stubCartService) ApplyPromotion(ctx context.Context, code string) (domain.Cart, error) {
	s.lastCode = code
	return s.record("apply_promotion")
}

func (s *stubCartService) RemovePromotion(ctx context.Context) (domain.Cart, error) {
	return s.record("remove_promotion")
}

func (s *stubCartService) Clear(ctx context.Context) error {
	s.cleared = true
	_, err := s.record("clear")
	return err
}

type stubCheckoutService struct {
	placeFn func(ctx context.Context, in ports.PlaceOrderInput) (*domain.Order, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, in ports.PlaceOrderInput) (*domain.Order, error) {
	return s.placeFn(ctx, in)
}

type stubDashboards struct {
	mounted  []domain.ScopeKey
	mountErr error
	stats    map[domain.ScopeKey]domain.DerivedStats
	orders   map[domain.ScopeKey][]domain.Order
}

func (s *stubDashboards) Mount(ctx context.Context, scope domain.ScopeKey) error {
	if s.mountErr != nil {
		return s.mountErr
	}
	s.mounted = append(s.mounted, scope)
	return nil
}

func (s *stubDashboards) Unmount(scope domain.ScopeKey) {}

func (s *stubDashboards) Stats(scope domain.ScopeKey) (domain.DerivedStats, bool) {
	st, ok := s.stats[scope]
	return st, ok
}

func (s *stubDashboards) Orders(scope domain.ScopeKey) []domain.Order {
	return s.orders[scope]
}

type backgroundScopes struct{}

func (backgroundScopes) ScopeContext() context.Context { return context.Background() }

type stubPayouts struct {
	got ports.PayoutInput
	err error
}

func (s *stubPayouts) RequestPayout(ctx context.Context, in ports.PayoutInput) error {
	s.got = in
	return s.err
}
