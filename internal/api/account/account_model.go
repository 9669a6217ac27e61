package account

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scamphub/scamp-backend/internal/api"
)

// User is the persistent account entity.
type User struct {
	ID                    uuid.UUID  `json:"id"`
	Name                  string     `json:"name"`
	Email                 string     `json:"email"`
	PasswordDigest        string     `json:"-"`
	HasVerifiedEmail      bool       `json:"hasVerifiedEmail"`
	VerificationPinDigest string     `json:"-"`
	VerificationPinSentAt time.Time  `json:"-"`
	Roles                 []api.Role `json:"roles"`
	CurrentServerAddress  *string    `json:"-"`
	CurrentSession        *string    `json:"-"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// CreateUserRequest represents the signup request body.
type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUserResponse carries the id of a freshly created account.
type CreateUserResponse struct {
	ID uuid.UUID `json:"id"`
}

// VerifyRequest represents the email verification request body.
type VerifyRequest struct {
	Email    string `json:"email"`
	Pin      string `json:"pin"`
	Password string `json:"password"`
}

// VerifyResponse carries the bearer token issued on successful verification.
type VerifyResponse struct {
	Token string `json:"token"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the login response body.
type LoginResponse struct {
	Token string    `json:"token"`
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
}

// ResetPasswordRequest changes or regenerates a password. Password is the
// current password, required only when NewPassword is supplied.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword,omitempty"`
}

type ResetPasswordResponse struct {
	PasswordGenerated bool `json:"passwordGenerated"`
}

// ResetPinRequest reissues the verification pin for an unverified account.
type ResetPinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileResponse is the authenticated user's own profile view.
type ProfileResponse struct {
	Name string `json:"name"`
}

// PlayResponse carries the session token binding a user to a game server.
type PlayResponse struct {
	Session string `json:"session"`
}

// SessionUserResponse resolves a (server, session) pair to a user id.
type SessionUserResponse struct {
	User struct {
		ID uuid.UUID `json:"id"`
	} `json:"user"`
}

// LoginResult is what the service hands back to the login handler.
type LoginResult struct {
	Token string
	ID    uuid.UUID
	Name  string
}

const (
	nameMinLen     = 2
	nameMaxLen     = 32
	emailMinLen    = 5
	emailMaxLen    = 100
	passwordMinLen = 6
	passwordMaxLen = 100
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidationErrors carries field-level failures and matches api.ErrValidation.
type ValidationErrors []api.FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (v ValidationErrors) Is(target error) bool {
	return target == api.ErrValidation
}

// ValidateNewAccount checks the shape of signup input. It performs no I/O.
func ValidateNewAccount(name, email, password string) ValidationErrors {
	var errs ValidationErrors
	if len(name) < nameMinLen || len(name) > nameMaxLen {
		errs = append(errs, api.FieldError{Field: "name", Message: "name must be between 2 and 32 characters"})
	}
	if len(email) < emailMinLen || len(email) > emailMaxLen || !emailRegex.MatchString(email) {
		errs = append(errs, api.FieldError{Field: "email", Message: "email must be a valid e-mail address"})
	}
	if len(password) < passwordMinLen || len(password) > passwordMaxLen {
		errs = append(errs, api.FieldError{Field: "password", Message: "password must be between 6 and 100 characters"})
	}
	return errs
}
