package api

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors shared by all feature packages. Handlers translate these
// into HTTP statuses with errors.Is.
var (
	ErrNotFound         = errors.New("requested item not found")
	ErrConflict         = errors.New("item already exists or conflict")
	ErrUnauthenticated  = errors.New("authentication required or invalid credentials")
	ErrForbidden        = errors.New("action forbidden")
	ErrValidation       = errors.New("validation failed")
	ErrExpiredChallenge = errors.New("verification code expired")
)

// Role is a closed enumeration of account roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// RolesIntersect reports whether any required role is present in the granted
// set. An empty required set means "authenticated only" and always passes.
func RolesIntersect(granted []Role, required []Role) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[Role]struct{}, len(granted))
	for _, r := range granted {
		set[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// Claims represents the custom claims included in the bearer token.
type Claims struct {
	UserID           string `json:"uid"`
	Email            string `json:"eml"`
	HasVerifiedEmail bool   `json:"verified"`
	Roles            []Role `json:"roles"`
	jwt.RegisteredClaims
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Response represents a generic API response for success or error messages.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
