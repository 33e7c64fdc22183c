package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

// SessionHandler exposes the session store.
type SessionHandler struct {
	sessions ports.SessionService
}

func NewSessionHandler(sessions ports.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// SignIn authenticates with email and password and returns the access token
// bound to the new session.
//
// @Summary      Sign in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signInRequest  true  "Credentials"
// @Success      200   {object}  authResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /auth/signin [post]
func (h *SessionHandler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.sessions.SignIn(c.Request().Context(), domain.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAuthResponse(h.sessions.Session()))
}

// SignUp creates an account with its profile and signs it in.
//
// @Summary      Sign up
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signUpRequest  true  "Account and profile details"
// @Success      201   {object}  authResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /auth/signup [post]
func (h *SessionHandler) SignUp(c echo.Context) error {
	var req signUpRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.sessions.SignUp(c.Request().Context(), ports.SignUpInput{
		Credentials: domain.Credentials{Email: req.Email, Password: req.Password},
		DisplayName: req.DisplayName,
		Role:        req.Role,
		BusinessID:  req.BusinessID,
		Phone:       req.Phone,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toAuthResponse(h.sessions.Session()))
}

// SignOut ends the session. It always clears local state.
//
// @Summary      Sign out
// @Tags         auth
// @Success      204
// @Router       /auth/signout [post]
func (h *SessionHandler) SignOut(c echo.Context) error {
	if err := h.sessions.SignOut(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Get returns the current session state.
//
// @Summary      Current session
// @Tags         session
// @Produce      json
// @Success      200  {object}  sessionResponse
// @Router       /session [get]
func (h *SessionHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, toSessionResponse(h.sessions.Session()))
}

// RefreshProfile re-fetches the profile document of the signed-in user.
//
// @Summary      Refresh profile
// @Tags         session
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  sessionResponse
// @Failure      401  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /session/profile/refresh [post]
func (h *SessionHandler) RefreshProfile(c echo.Context) error {
	if err := h.sessions.RefreshProfile(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResponse(h.sessions.Session()))
}
