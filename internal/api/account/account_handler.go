package account

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/scamphub/scamp-backend/app/observability/metrics"
	"github.com/scamphub/scamp-backend/internal/api"
)

// AccountHandler translates HTTP requests into AccountService calls.
type AccountHandler struct {
	accountService AccountService
	logger         *slog.Logger
}

func NewAccountHandler(accountService AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

var verifyPageTmpl = template.Must(template.New("verify-page").Parse(`<!DOCTYPE html>
<html>
<head><title>Email verification</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

// CreateUser handles POST /users.
func (h *AccountHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "CreateUser")
	defer span.End()

	var req CreateUserRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.accountService.CreateAccount(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		var verrs ValidationErrors
		switch {
		case errors.As(err, &verrs):
			api.ValidationErrorResponse(w, r, verrs)
		case errors.Is(err, ErrEmailTaken):
			api.ErrorResponse(w, r, http.StatusBadRequest, "The specified e-mail address already exists")
		case errors.Is(err, ErrNameTaken):
			api.ErrorResponse(w, r, http.StatusBadRequest, "A user with the same name already exists")
		default:
			h.logger.ErrorContext(ctx, "Signup failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to create account")
		}
		return
	}

	metrics.Get().SignupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "created")))
	api.WriteJSONResponse(w, r, http.StatusCreated, CreateUserResponse{ID: id})
}

// Verify handles POST /users/{id}/verify.
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "Verify")
	defer span.End()

	// A malformed id can never match an unverified account; same outcome
	// as an unknown one.
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
		return
	}

	var req VerifyRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.accountService.VerifyAccount(ctx, id, req.Email, req.Pin, req.Password)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
			return
		}
		h.logger.ErrorContext(ctx, "Verification failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to verify account")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, VerifyResponse{Token: token})
}

// VerifyByLink handles GET /enduser-verify/{email}/{pin}. It always renders
// an HTML page with status 200 so the link leaks nothing about account
// existence.
func (h *AccountHandler) VerifyByLink(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "VerifyByLink")
	defer span.End()

	email := chi.URLParam(r, "email")
	pin := chi.URLParam(r, "pin")

	page := struct {
		Title   string
		Message string
	}{
		Title:   "Email verified",
		Message: "Your email address has been verified. You can close this tab and log in.",
	}
	if err := h.accountService.VerifyByLink(ctx, email, pin); err != nil {
		h.logger.InfoContext(ctx, "Link verification failed", slog.Any("error", err))
		page.Title = "Verification failed"
		page.Message = "This verification link is invalid or has already been used."
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := verifyPageTmpl.Execute(w, page); err != nil {
		h.logger.ErrorContext(ctx, "Failed to render verification page", slog.Any("error", err))
	}
}

// Login handles POST /users/login.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "Login")
	defer span.End()

	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.accountService.Login(ctx, req.Email, req.Password)
	if err != nil {
		status := "error"
		switch {
		case errors.Is(err, api.ErrUnauthenticated):
			status = "rejected"
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Login failed")
		case errors.Is(err, api.ErrForbidden):
			status = "unverified"
			api.ErrorResponse(w, r, http.StatusForbidden, "Your email not verified")
		default:
			h.logger.ErrorContext(ctx, "Login failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to log in")
		}
		metrics.Get().LoginRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
		return
	}

	metrics.Get().LoginRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	api.WriteJSONResponse(w, r, http.StatusOK, LoginResponse{
		Token: result.Token,
		ID:    result.ID,
		Name:  result.Name,
	})
}

// ResetPassword handles POST /users/{id}/reset-password. The account is
// identified by the email in the body; the path id only keeps the route
// shape consistent.
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "ResetPassword")
	defer span.End()

	var req ResetPasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	generated, err := h.accountService.ResetPassword(ctx, req.Email, req.Password, req.NewPassword)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
			return
		}
		h.logger.ErrorContext(ctx, "Password reset failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to reset password")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, ResetPasswordResponse{PasswordGenerated: generated})
}

// ResetPin handles POST /users/{id}/reset-pin.
func (h *AccountHandler) ResetPin(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "ResetPin")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req ResetPinRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.accountService.ResetPin(ctx, id, req.Email, req.Password); err != nil {
		switch {
		case errors.Is(err, api.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusBadRequest, "No user found with this id, email and password combination")
		case errors.Is(err, api.ErrConflict):
			api.ErrorResponse(w, r, http.StatusBadRequest, "User has already verified email")
		case errors.Is(err, api.ErrExpiredChallenge):
			api.ErrorResponse(w, r, http.StatusBadRequest, "Verification period expired")
		default:
			h.logger.ErrorContext(ctx, "Pin reset failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to reset verification code")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{Success: true, Message: "New verification code sent"})
}

// GetProfile handles GET /users/{id} (authenticated).
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "GetProfile")
	defer span.End()

	user, ok := h.authorizedPathUser(w, r)
	if !ok {
		return
	}

	profile, err := h.accountService.GetProfile(ctx, user.ID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
			return
		}
		h.logger.ErrorContext(ctx, "Profile lookup failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to fetch profile")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, ProfileResponse{Name: profile.Name})
}

// Play handles POST /users/{id}/play/{serverAddress} (authenticated).
func (h *AccountHandler) Play(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "Play")
	defer span.End()

	user, ok := h.authorizedPathUser(w, r)
	if !ok {
		return
	}

	serverAddress := chi.URLParam(r, "serverAddress")
	session, err := h.accountService.Play(ctx, user.ID, serverAddress)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
			return
		}
		h.logger.ErrorContext(ctx, "Session binding failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to start session")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, PlayResponse{Session: session})
}

// GetSessionUser handles GET /servers/{serverAddress}/sessions/{session}.
// Game servers call this to check who is joining.
func (h *AccountHandler) GetSessionUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("AccountHandler").Start(r.Context(), "GetSessionUser")
	defer span.End()

	serverAddress := chi.URLParam(r, "address")
	session := chi.URLParam(r, "session")

	id, err := h.accountService.FindUserBySession(ctx, serverAddress, session)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.ErrorContext(ctx, "Session resolution failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to resolve session")
		return
	}

	var resp SessionUserResponse
	resp.User.ID = id
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}

// authorizedPathUser enforces that the authenticated user matches the {id}
// path parameter and writes the error response itself when it does not.
func (h *AccountHandler) authorizedPathUser(w http.ResponseWriter, r *http.Request) (*AuthUser, bool) {
	user, ok := GetAuthUserFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}

	pathID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || pathID != user.ID {
		api.ErrorResponse(w, r, http.StatusForbidden, "Token doesn't match user id")
		return nil, false
	}
	return user, true
}
