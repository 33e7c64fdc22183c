package domain

import "time"

// Account is a credential record held by the identity provider.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Credentials carries an email/password pair for sign-in and sign-up.
type Credentials struct {
	Email    string
	Password string
}
