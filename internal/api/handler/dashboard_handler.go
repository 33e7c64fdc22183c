package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

// ScopeContexter hands out the context that bounds realtime work for the
// current signed-in period.
type ScopeContexter interface {
	ScopeContext() context.Context
}

// DashboardHandler serves the per-scope read-model cache. A scope is mounted
// on first read if the session observer has not mounted it yet.
type DashboardHandler struct {
	dashboards ports.DashboardService
	scopes     ScopeContexter
}

func NewDashboardHandler(dashboards ports.DashboardService, scopes ScopeContexter) *DashboardHandler {
	return &DashboardHandler{dashboards: dashboards, scopes: scopes}
}

type dashboardStatsResponse struct {
	Scope string `json:"scope"`
	domain.DerivedStats
}

type dashboardOrdersResponse struct {
	Scope  string         `json:"scope"`
	Orders []domain.Order `json:"orders"`
}

// Stats handles GET /dashboard/stats.
//
// @Summary      Dashboard stats
// @Tags         dashboard
// @Produce      json
// @Security     BearerAuth
// @Param        scope  query     string  false  "business:<id> or user:<id>; defaults to the caller's business, else the caller"
// @Success      200    {object}  dashboardStatsResponse
// @Failure      400    {object}  errorResponse
// @Failure      403    {object}  errorResponse
// @Router       /dashboard/stats [get]
func (h *DashboardHandler) Stats(c echo.Context) error {
	scope, err := h.resolveScope(c)
	if err != nil {
		return err
	}
	if err := h.dashboards.Mount(h.scopes.ScopeContext(), scope); err != nil {
		return err
	}

	stats, ok := h.dashboards.Stats(scope)
	if !ok {
		return fmt.Errorf("dashboard %s: %w", scope, domain.ErrSubscriptionClosed)
	}
	return c.JSON(http.StatusOK, dashboardStatsResponse{Scope: scope.String(), DerivedStats: stats})
}

// Orders handles GET /dashboard/orders.
//
// @Summary      Dashboard orders
// @Tags         dashboard
// @Produce      json
// @Security     BearerAuth
// @Param        scope  query     string  false  "business:<id> or user:<id>"
// @Success      200    {object}  dashboardOrdersResponse
// @Failure      400    {object}  errorResponse
// @Failure      403    {object}  errorResponse
// @Router       /dashboard/orders [get]
func (h *DashboardHandler) Orders(c echo.Context) error {
	scope, err := h.resolveScope(c)
	if err != nil {
		return err
	}
	if err := h.dashboards.Mount(h.scopes.ScopeContext(), scope); err != nil {
		return err
	}

	orders := h.dashboards.Orders(scope)
	if orders == nil {
		orders = []domain.Order{}
	}
	return c.JSON(http.StatusOK, dashboardOrdersResponse{Scope: scope.String(), Orders: orders})
}

// resolveScope reads the scope query parameter and checks that it belongs to
// the caller.
func (h *DashboardHandler) resolveScope(c echo.Context) (domain.ScopeKey, error) {
	userID, _, businessID, err := ctxUser(c)
	if err != nil {
		return domain.ScopeKey{}, err
	}

	raw := c.QueryParam("scope")
	if raw == "" {
		if businessID != "" {
			return domain.BusinessScope(businessID), nil
		}
		return domain.UserScope(userID), nil
	}

	scope, ok := domain.ParseScopeKey(raw)
	if !ok {
		return domain.ScopeKey{}, echo.NewHTTPError(http.StatusBadRequest, "scope must be business:<id> or user:<id>")
	}
	owned := scope == domain.UserScope(userID) ||
		(businessID != "" && scope == domain.BusinessScope(businessID))
	if !owned {
		return domain.ScopeKey{}, fmt.Errorf("scope %s: %w", scope, domain.ErrForbidden)
	}
	return scope, nil
}
