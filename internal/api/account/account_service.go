package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scamphub/scamp-backend/internal/api"
	"github.com/scamphub/scamp-backend/internal/hash"
	"github.com/scamphub/scamp-backend/internal/mail"
)

var _ AccountService = (*AccountServiceImpl)(nil)

// AccountService drives the account lifecycle: signup, email verification,
// login, credential resets and game session handling.
type AccountService interface {
	// CreateAccount registers a new unverified account and dispatches the
	// verification email. Returns ValidationErrors or api.ErrConflict.
	CreateAccount(ctx context.Context, name, email, password string) (uuid.UUID, error)

	// VerifyAccount confirms the email of account id using pin + password
	// and returns a ready-to-use bearer token. api.ErrNotFound when no
	// unverified row matches.
	VerifyAccount(ctx context.Context, id uuid.UUID, email, pin, password string) (string, error)

	// VerifyByLink confirms an email from the link in the signup mail,
	// proving possession of the pin alone.
	VerifyByLink(ctx context.Context, email, pin string) error

	// Login checks credentials and returns a bearer token.
	// api.ErrUnauthenticated on bad credentials, api.ErrForbidden when the
	// email is not verified yet.
	Login(ctx context.Context, email, password string) (*LoginResult, error)

	// ResetPassword changes the password of a verified account. With an
	// empty newPassword a fresh one is generated and only delivered by
	// email; the returned bool reports that case.
	ResetPassword(ctx context.Context, email, password, newPassword string) (bool, error)

	// ResetPin reissues the verification pin for an unverified account.
	ResetPin(ctx context.Context, id uuid.UUID, email, password string) error

	// GetProfile returns the account's own profile.
	GetProfile(ctx context.Context, id uuid.UUID) (*User, error)

	// Play issues a session token and binds the user to a game server.
	Play(ctx context.Context, id uuid.UUID, serverAddress string) (string, error)

	// FindUserBySession resolves a (server address, session token) pair to
	// the bound user id. Results are cached briefly because game servers
	// poll this on every join.
	FindUserBySession(ctx context.Context, serverAddress, session string) (uuid.UUID, error)
}

type AccountServiceImpl struct {
	logger             *slog.Logger
	repo               UserRepo
	hasher             *hash.Hasher
	tokens             *TokenService
	mailer             mail.Mailer
	verificationExpiry time.Duration
	sessionCache       *cache.Cache

	// dispatch runs mail delivery off the request path; tests swap it for
	// a synchronous version.
	dispatch func(name string, fn func() error)
}

func NewAccountService(
	repo UserRepo,
	hasher *hash.Hasher,
	tokens *TokenService,
	mailer mail.Mailer,
	verificationExpiry time.Duration,
	sessionCacheTTL time.Duration,
	logger *slog.Logger,
) *AccountServiceImpl {
	s := &AccountServiceImpl{
		logger:             logger,
		repo:               repo,
		hasher:             hasher,
		tokens:             tokens,
		mailer:             mailer,
		verificationExpiry: verificationExpiry,
		sessionCache:       cache.New(sessionCacheTTL, 2*sessionCacheTTL),
	}
	s.dispatch = func(name string, fn func() error) {
		go func() {
			if err := fn(); err != nil {
				logger.Error("Mail dispatch failed", slog.String("mail", name), slog.Any("error", err))
			}
		}()
	}
	return s
}

func (s *AccountServiceImpl) CreateAccount(ctx context.Context, name, email, password string) (uuid.UUID, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "CreateAccount", trace.WithAttributes(
		attribute.String("user.name", name),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CreateAccount"), slog.String("email", email))

	if errs := ValidateNewAccount(name, email, password); len(errs) > 0 {
		span.SetStatus(codes.Error, "Validation failed")
		return uuid.Nil, errs
	}

	pin := newPin()
	params := CreateUserParams{
		Name:           name,
		Email:          email,
		PasswordDigest: s.hasher.Hash(password, email),
		PinDigest:      s.hasher.Hash(pin, email),
		PinSentAt:      time.Now(),
	}

	id, err := s.repo.CreateUser(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Create failed")
		return uuid.Nil, err
	}

	s.dispatch("signup", func() error {
		return s.mailer.SendSignupVerifyPin(email, name, pin)
	})

	l.InfoContext(ctx, "Account created", slog.String("userID", id.String()))
	span.SetStatus(codes.Ok, "Account created")
	return id, nil
}

func (s *AccountServiceImpl) VerifyAccount(ctx context.Context, id uuid.UUID, email, pin, password string) (string, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "VerifyAccount", trace.WithAttributes(
		attribute.String("user.id", id.String()),
	))
	defer span.End()

	pinDigest := s.hasher.Hash(pin, email)
	passwordDigest := s.hasher.Hash(password, email)

	affected, err := s.repo.MarkEmailVerified(ctx, id, pinDigest, &passwordDigest)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Verify failed")
		return "", err
	}
	if affected == 0 {
		span.SetStatus(codes.Error, "No matching unverified account")
		return "", fmt.Errorf("no unverified account matches id, pin and password: %w", api.ErrNotFound)
	}

	s.dispatch("signup-success", func() error {
		return s.mailer.SendSignupSuccess(email)
	})

	token, err := s.tokens.Issue(id, email, true, []api.Role{api.RoleUser})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Token issue failed")
		return "", err
	}

	s.logger.InfoContext(ctx, "Email verified", slog.String("userID", id.String()))
	span.SetStatus(codes.Ok, "Email verified")
	return token, nil
}

func (s *AccountServiceImpl) VerifyByLink(ctx context.Context, email, pin string) error {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "VerifyByLink")
	defer span.End()

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "User lookup failed")
		return err
	}

	affected, err := s.repo.MarkEmailVerified(ctx, user.ID, s.hasher.Hash(pin, email), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Verify failed")
		return err
	}
	if affected == 0 {
		span.SetStatus(codes.Error, "No matching unverified account")
		return fmt.Errorf("no unverified account matches email and pin: %w", api.ErrNotFound)
	}

	s.dispatch("signup-success", func() error {
		return s.mailer.SendSignupSuccess(email)
	})

	s.logger.InfoContext(ctx, "Email verified via link", slog.String("userID", user.ID.String()))
	span.SetStatus(codes.Ok, "Email verified")
	return nil
}

func (s *AccountServiceImpl) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "Login")
	defer span.End()

	l := s.logger.With(slog.String("method", "Login"), slog.String("email", email))

	user, err := s.repo.GetUserByCredentials(ctx, email, s.hasher.Hash(password, email))
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			l.WarnContext(ctx, "Login failed: bad credentials")
			span.SetStatus(codes.Error, "Bad credentials")
			return nil, fmt.Errorf("login failed: %w", api.ErrUnauthenticated)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "User lookup failed")
		return nil, err
	}

	if !user.HasVerifiedEmail {
		l.WarnContext(ctx, "Login blocked: email not verified", slog.String("userID", user.ID.String()))
		span.SetStatus(codes.Error, "Email not verified")
		return nil, fmt.Errorf("email not verified: %w", api.ErrForbidden)
	}

	token, err := s.tokens.Issue(user.ID, user.Email, user.HasVerifiedEmail, user.Roles)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Token issue failed")
		return nil, err
	}

	l.InfoContext(ctx, "Login successful", slog.String("userID", user.ID.String()))
	span.SetStatus(codes.Ok, "Login successful")
	return &LoginResult{Token: token, ID: user.ID, Name: user.Name}, nil
}

func (s *AccountServiceImpl) ResetPassword(ctx context.Context, email, password, newPassword string) (bool, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "ResetPassword")
	defer span.End()

	l := s.logger.With(slog.String("method", "ResetPassword"), slog.String("email", email))

	generated := newPassword == ""
	if generated {
		newPassword = newGeneratedPassword()
	}

	// When the caller supplies its own new password it has to prove
	// knowledge of the current one. The generated flow is the "I forgot my
	// password" path and matches on email alone.
	var oldDigest *string
	if !generated {
		d := s.hasher.Hash(password, email)
		oldDigest = &d
	}

	affected, err := s.repo.UpdatePasswordDigest(ctx, email, oldDigest, s.hasher.Hash(newPassword, email))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Password update failed")
		return false, err
	}
	if affected == 0 {
		span.SetStatus(codes.Error, "No matching verified account")
		return false, fmt.Errorf("no verified account matches email and password: %w", api.ErrNotFound)
	}

	name := email
	if user, lookupErr := s.repo.GetUserByEmail(ctx, email); lookupErr == nil {
		name = user.Name
	}

	plaintext := newPassword
	s.dispatch("reset-password", func() error {
		return s.mailer.SendResetPassword(email, name, plaintext)
	})

	l.InfoContext(ctx, "Password reset", slog.Bool("generated", generated))
	span.SetStatus(codes.Ok, "Password reset")
	return generated, nil
}

func (s *AccountServiceImpl) ResetPin(ctx context.Context, id uuid.UUID, email, password string) error {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "ResetPin", trace.WithAttributes(
		attribute.String("user.id", id.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "ResetPin"), slog.String("userID", id.String()))

	user, err := s.repo.GetUserByIDEmailPassword(ctx, id, email, s.hasher.Hash(password, email))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "User lookup failed")
		return err
	}

	if user.HasVerifiedEmail {
		span.SetStatus(codes.Error, "Already verified")
		return fmt.Errorf("user has already verified email: %w", api.ErrConflict)
	}
	if time.Since(user.VerificationPinSentAt) > s.verificationExpiry {
		span.SetStatus(codes.Error, "Pin expired")
		return fmt.Errorf("verification period expired: %w", api.ErrExpiredChallenge)
	}

	pin := newPin()
	if err := s.repo.ReplacePin(ctx, id, s.hasher.Hash(pin, email), time.Now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Pin replacement failed")
		return err
	}

	s.dispatch("signup-reset-pin", func() error {
		return s.mailer.SendSignupResetPin(email, user.Name, pin)
	})

	l.InfoContext(ctx, "Verification pin reissued")
	span.SetStatus(codes.Ok, "Pin reissued")
	return nil
}

func (s *AccountServiceImpl) GetProfile(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "GetProfile", trace.WithAttributes(
		attribute.String("user.id", id.String()),
	))
	defer span.End()

	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "User lookup failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Profile fetched")
	return user, nil
}

func (s *AccountServiceImpl) Play(ctx context.Context, id uuid.UUID, serverAddress string) (string, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "Play", trace.WithAttributes(
		attribute.String("user.id", id.String()),
		attribute.String("server.address", serverAddress),
	))
	defer span.End()

	session := newSessionToken()
	if err := s.repo.BindSession(ctx, id, serverAddress, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Session binding failed")
		return "", err
	}

	s.sessionCache.Set(sessionCacheKey(serverAddress, session), id, cache.DefaultExpiration)

	s.logger.InfoContext(ctx, "Session issued",
		slog.String("userID", id.String()), slog.String("server", serverAddress))
	span.SetStatus(codes.Ok, "Session issued")
	return session, nil
}

func (s *AccountServiceImpl) FindUserBySession(ctx context.Context, serverAddress, session string) (uuid.UUID, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "FindUserBySession", trace.WithAttributes(
		attribute.String("server.address", serverAddress),
	))
	defer span.End()

	key := sessionCacheKey(serverAddress, session)
	if cached, ok := s.sessionCache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		span.SetStatus(codes.Ok, "Session resolved from cache")
		return cached.(uuid.UUID), nil
	}

	id, err := s.repo.GetIDByServerAndSession(ctx, serverAddress, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Session resolution failed")
		return uuid.Nil, err
	}

	s.sessionCache.Set(key, id, cache.DefaultExpiration)
	span.SetStatus(codes.Ok, "Session resolved")
	return id, nil
}

func sessionCacheKey(serverAddress, session string) string {
	return serverAddress + "|" + session
}
