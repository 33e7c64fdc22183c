package handler

import (
	"time"

	"github.com/localmart/marketplace-client/internal/core/domain"
)

// errorResponse is the standard error envelope returned on all 4xx/5xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

type signInRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signUpRequest struct {
	Email       string `json:"email"        validate:"required,email"`
	Password    string `json:"password"     validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"required,max=80"`
	Role        string `json:"role"         validate:"required,oneof=customer business_owner"`
	BusinessID  string `json:"business_id"  validate:"required_if=Role business_owner"`
	Phone       string `json:"phone"        validate:"max=20"`
}

// sessionResponse is the public view of the session. It never carries the
// access token.
type sessionResponse struct {
	Status    domain.SessionStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
	UserID    string               `json:"user_id,omitempty"`
	Email     string               `json:"email,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	Profile   *domain.Profile      `json:"profile,omitempty"`
}

type authResponse struct {
	Token   string          `json:"token"`
	Session sessionResponse `json:"session"`
}

func toSessionResponse(s domain.Session) sessionResponse {
	resp := sessionResponse{
		Status:  s.Status,
		Reason:  s.Reason,
		Profile: s.Profile,
	}
	if s.Identity != nil {
		resp.UserID = s.Identity.UserID
		resp.Email = s.Identity.Email
		if !s.Identity.ExpiresAt.IsZero() {
			exp := s.Identity.ExpiresAt
			resp.ExpiresAt = &exp
		}
	}
	return resp
}

func toAuthResponse(s domain.Session) authResponse {
	resp := authResponse{Session: toSessionResponse(s)}
	if s.Identity != nil {
		resp.Token = s.Identity.AccessToken
	}
	return resp
}
