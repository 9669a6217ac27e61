package account

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/scamphub/scamp-backend/internal/api"
)

type contextKey string

const authUserKey contextKey = "authUser"

// AuthUser is the identity attached to a request after token validation.
type AuthUser struct {
	ID               uuid.UUID
	Email            string
	HasVerifiedEmail bool
	Roles            []api.Role
}

// GetAuthUserFromContext returns the authenticated user placed on the
// request context by Authenticate.
func GetAuthUserFromContext(ctx context.Context) (*AuthUser, bool) {
	user, ok := ctx.Value(authUserKey).(*AuthUser)
	return user, ok
}

// Authenticate rejects requests without a valid "JWT <token>" Authorization
// header and attaches the resolved AuthUser to the request context.
func Authenticate(tokens *TokenService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], TokenScheme) {
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}

			claims, err := tokens.Parse(parts[1])
			if err != nil {
				logger.WarnContext(r.Context(), "Rejected bearer token", slog.Any("error", err))
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				logger.WarnContext(r.Context(), "Token carries malformed user id", slog.String("uid", claims.UserID))
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			user := &AuthUser{
				ID:               userID,
				Email:            claims.Email,
				HasVerifiedEmail: claims.HasVerifiedEmail,
				Roles:            claims.Roles,
			}
			ctx := context.WithValue(r.Context(), authUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireVerifiedEmail gates routes that only verified accounts may use.
// It must run after Authenticate.
func RequireVerifiedEmail(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetAuthUserFromContext(r.Context())
			if !ok {
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !user.HasVerifiedEmail {
				logger.InfoContext(r.Context(), "Unverified account blocked", slog.String("user_id", user.ID.String()))
				api.ErrorResponse(w, r, http.StatusForbidden, "Your email not verified")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles allows the request through when the authenticated user holds
// at least one of the given roles. It must run after Authenticate.
func RequireRoles(logger *slog.Logger, roles ...api.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetAuthUserFromContext(r.Context())
			if !ok {
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !api.RolesIntersect(user.Roles, roles) {
				logger.InfoContext(r.Context(), "Role check failed",
					slog.String("user_id", user.ID.String()),
					slog.Any("granted", user.Roles))
				api.ErrorResponse(w, r, http.StatusForbidden, "You don't have permission to access")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
