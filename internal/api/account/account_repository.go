package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/scamphub/scamp-backend/internal/api"
)

// Signup conflicts carry which unique constraint fired so the handler can
// keep the legacy error messages. Both match api.ErrConflict.
var (
	ErrEmailTaken = fmt.Errorf("the specified e-mail address already exists: %w", api.ErrConflict)
	ErrNameTaken  = fmt.Errorf("a user with the same name already exists: %w", api.ErrConflict)
)

// CreateUserParams bundles the columns needed for a signup insert.
type CreateUserParams struct {
	Name           string
	Email          string
	PasswordDigest string
	PinDigest      string
	PinSentAt      time.Time
}

// UserRepo defines the contract for account persistence. Conditional updates
// return the affected row count so the service can tell "no matching row"
// apart from an infrastructure failure.
type UserRepo interface {
	// CreateUser inserts a new unverified account and returns its id.
	// Returns api.ErrConflict when the email or name is already taken.
	CreateUser(ctx context.Context, params CreateUserParams) (uuid.UUID, error)

	// GetUserByID retrieves an account by its unique ID.
	// Returns api.ErrNotFound if no such account exists.
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByCredentials retrieves the account matching both email and
	// password digest, or api.ErrNotFound.
	GetUserByCredentials(ctx context.Context, email, passwordDigest string) (*User, error)

	// GetUserByIDEmailPassword retrieves the account matching all three of
	// id, email and password digest, or api.ErrNotFound.
	GetUserByIDEmailPassword(ctx context.Context, id uuid.UUID, email, passwordDigest string) (*User, error)

	// MarkEmailVerified flips has_verified_email on the row matching id and
	// pin digest (and password digest when non-nil). Rows already verified
	// never match.
	MarkEmailVerified(ctx context.Context, id uuid.UUID, pinDigest string, passwordDigest *string) (int64, error)

	// UpdatePasswordDigest replaces the password digest on the verified row
	// matching email (and the old digest when non-nil).
	UpdatePasswordDigest(ctx context.Context, email string, oldPasswordDigest *string, newDigest string) (int64, error)

	// ReplacePin stores a fresh verification pin digest and its issue time.
	ReplacePin(ctx context.Context, id uuid.UUID, pinDigest string, sentAt time.Time) error

	// BindSession records which game server and session token the user is
	// currently playing on, replacing any previous binding.
	BindSession(ctx context.Context, id uuid.UUID, serverAddress, session string) error

	// GetIDByServerAndSession resolves a (server address, session token)
	// pair to the bound user id, or api.ErrNotFound.
	GetIDByServerAndSession(ctx context.Context, serverAddress, session string) (uuid.UUID, error)
}

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

var _ UserRepo = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	logger *slog.Logger
	db     DB
}

func NewPostgresUserRepo(db DB, logger *slog.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{
		logger: logger,
		db:     db,
	}
}

const userColumns = `id, name, email, password_digest, has_verified_email,
       verification_pin_digest, verification_pin_sent_at, roles,
       current_server_address, current_session, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var roles []string
	var pinSentAt *time.Time
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordDigest, &u.HasVerifiedEmail,
		&u.VerificationPinDigest, &pinSentAt, &roles,
		&u.CurrentServerAddress, &u.CurrentSession, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pinSentAt != nil {
		u.VerificationPinSentAt = *pinSentAt
	}
	u.Roles = make([]api.Role, len(roles))
	for i, role := range roles {
		u.Roles[i] = api.Role(role)
	}
	return &u, nil
}

func (r *PostgresUserRepo) CreateUser(ctx context.Context, params CreateUserParams) (uuid.UUID, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "CreateUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "CreateUser"), slog.String("email", params.Email))

	query := `
		INSERT INTO users (name, email, password_digest, verification_pin_digest, verification_pin_sent_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query,
		params.Name, params.Email, params.PasswordDigest, params.PinDigest, params.PinSentAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			span.SetStatus(codes.Error, "Unique constraint violated")
			l.WarnContext(ctx, "Signup conflict", slog.String("constraint", pgErr.ConstraintName))
			if pgErr.ConstraintName == "users_name_key" {
				return uuid.Nil, ErrNameTaken
			}
			return uuid.Nil, ErrEmailTaken
		}
		l.ErrorContext(ctx, "Failed to insert user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return uuid.Nil, fmt.Errorf("database error creating user: %w", err)
	}

	l.InfoContext(ctx, "User created", slog.String("userID", id.String()))
	span.SetStatus(codes.Ok, "User created")
	return id, nil
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUserByID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", id.String()),
	))
	defer span.End()

	user, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user not found: %w", api.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user: %w", err)
	}
	span.SetStatus(codes.Ok, "User fetched")
	return user, nil
}

func (r *PostgresUserRepo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUserByEmail", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	user, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user not found: %w", api.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user: %w", err)
	}
	span.SetStatus(codes.Ok, "User fetched")
	return user, nil
}

func (r *PostgresUserRepo) GetUserByCredentials(ctx context.Context, email, passwordDigest string) (*User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUserByCredentials", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	user, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND password_digest = $2`,
		email, passwordDigest))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Credentials did not match")
			return nil, fmt.Errorf("no user with matching credentials: %w", api.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user: %w", err)
	}
	span.SetStatus(codes.Ok, "User fetched")
	return user, nil
}

func (r *PostgresUserRepo) GetUserByIDEmailPassword(ctx context.Context, id uuid.UUID, email, passwordDigest string) (*User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUserByIDEmailPassword", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", id.String()),
	))
	defer span.End()

	user, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND email = $2 AND password_digest = $3`,
		id, email, passwordDigest))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Credentials did not match")
			return nil, fmt.Errorf("no user with matching id and credentials: %w", api.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user: %w", err)
	}
	span.SetStatus(codes.Ok, "User fetched")
	return user, nil
}

func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID, pinDigest string, passwordDigest *string) (int64, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "MarkEmailVerified", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", id.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "MarkEmailVerified"), slog.String("userID", id.String()))

	// The password digest predicate is optional: the email link flow proves
	// possession of the pin alone.
	query := `
		UPDATE users
		SET has_verified_email = TRUE, verification_pin_digest = '', updated_at = $4
		WHERE id = $1
		  AND has_verified_email = FALSE
		  AND verification_pin_digest = $2
		  AND ($3::text IS NULL OR password_digest = $3)`

	tag, err := r.db.Exec(ctx, query, id, pinDigest, passwordDigest, time.Now())
	if err != nil {
		l.ErrorContext(ctx, "Failed to execute verify update", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return 0, fmt.Errorf("database error verifying email: %w", err)
	}

	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "No matching unverified row")
	} else {
		l.InfoContext(ctx, "Email marked verified")
		span.SetStatus(codes.Ok, "Email verified")
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresUserRepo) UpdatePasswordDigest(ctx context.Context, email string, oldPasswordDigest *string, newDigest string) (int64, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "UpdatePasswordDigest", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "UpdatePasswordDigest"))

	query := `
		UPDATE users
		SET password_digest = $3, updated_at = $4
		WHERE email = $1
		  AND has_verified_email = TRUE
		  AND ($2::text IS NULL OR password_digest = $2)`

	tag, err := r.db.Exec(ctx, query, email, oldPasswordDigest, newDigest, time.Now())
	if err != nil {
		l.ErrorContext(ctx, "Failed to execute password update", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return 0, fmt.Errorf("database error updating password: %w", err)
	}

	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "No matching verified row")
	} else {
		l.InfoContext(ctx, "Password digest updated")
		span.SetStatus(codes.Ok, "Password updated")
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresUserRepo) ReplacePin(ctx context.Context, id uuid.UUID, pinDigest string, sentAt time.Time) error {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "ReplacePin", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", id.String()),
	))
	defer span.End()

	query := `
		UPDATE users
		SET verification_pin_digest = $2, verification_pin_sent_at = $3, updated_at = $4
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, pinDigest, sentAt, time.Now())
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to replace pin", slog.Any("error", err), slog.String("userID", id.String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("database error replacing pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("user not found for pin replacement: %w", api.ErrNotFound)
	}
	span.SetStatus(codes.Ok, "Pin replaced")
	return nil
}

func (r *PostgresUserRepo) BindSession(ctx context.Context, id uuid.UUID, serverAddress, session string) error {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "BindSession", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", id.String()),
		attribute.String("server.address", serverAddress),
	))
	defer span.End()

	query := `
		UPDATE users
		SET current_server_address = $2, current_session = $3, updated_at = $4
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, serverAddress, session, time.Now())
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to bind session", slog.Any("error", err), slog.String("userID", id.String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("database error binding session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("user not found for session binding: %w", api.ErrNotFound)
	}
	span.SetStatus(codes.Ok, "Session bound")
	return nil
}

func (r *PostgresUserRepo) GetIDByServerAndSession(ctx context.Context, serverAddress, session string) (uuid.UUID, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetIDByServerAndSession", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
		attribute.String("server.address", serverAddress),
	))
	defer span.End()

	var id uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT id FROM users WHERE current_server_address = $1 AND current_session = $2`,
		serverAddress, session).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Session not found")
			return uuid.Nil, fmt.Errorf("no user bound to this server and session: %w", api.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return uuid.Nil, fmt.Errorf("database error resolving session: %w", err)
	}
	span.SetStatus(codes.Ok, "Session resolved")
	return id, nil
}
