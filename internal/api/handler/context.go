package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ctxUser extracts the identity injected by the Auth middleware and fails
// fast before any service call when it is missing. businessID is empty for
// users that do not own a business.
func ctxUser(c echo.Context) (userID, role, businessID string, err error) {
	userID, _ = c.Get("user_id").(string)
	if userID == "" {
		return "", "", "", echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	role, _ = c.Get("role").(string)
	businessID, _ = c.Get("business_id").(string)
	return userID, role, businessID, nil
}

// badRequest renders a 400 with the canonical error envelope.
func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}
