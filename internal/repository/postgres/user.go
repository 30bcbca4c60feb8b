package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/domain"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/repository"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/database"
	apperrors "github.com/iamrehman16/DataTricks-Team-Server/pkg/errors"
)

const userColumns = `id, email, name, password_hash, is_verified, otp, otp_expires_at, refresh_token, created_at, updated_at`

// UserRepository implements repository.UserRepository on PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	ctx, end := database.TraceQuery(ctx, "CreateUser", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		nullableString(u.Name),
		u.PasswordHash,
		u.IsVerified,
		u.OTP,
		u.OTPExpiresAt,
		u.RefreshToken,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, "GetUserByID", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, "GetUserByEmail", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// SetRefreshToken overwrites the stored refresh token.
func (r *UserRepository) SetRefreshToken(ctx context.Context, userID, token string) error {
	return r.execOne(ctx, "SetRefreshToken",
		`UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id = $3`,
		token, now(), userID)
}

// ClearRefreshToken nulls the stored refresh token.
func (r *UserRepository) ClearRefreshToken(ctx context.Context, userID string) error {
	return r.execOne(ctx, "ClearRefreshToken",
		`UPDATE users SET refresh_token = NULL, updated_at = $1 WHERE id = $2`,
		now(), userID)
}

// SetOTP replaces the pending code. It never touches a verified row, so a
// resend racing a successful verification cannot undo it.
func (r *UserRepository) SetOTP(ctx context.Context, userID, otp string, expiresAt time.Time) error {
	return r.execOne(ctx, "SetOTP",
		`UPDATE users SET otp = $1, otp_expires_at = $2, updated_at = $3 WHERE id = $4 AND is_verified = FALSE`,
		otp, expiresAt, now(), userID)
}

// MarkVerified completes verification in a single write. The row must still
// hold the code that was checked.
func (r *UserRepository) MarkVerified(ctx context.Context, userID, otp string) error {
	return r.execOne(ctx, "MarkVerified",
		`UPDATE users SET is_verified = TRUE, otp = NULL, otp_expires_at = NULL, updated_at = $1 WHERE id = $2 AND is_verified = FALSE AND otp = $3`,
		now(), userID, otp)
}

// UpdateProfile writes the changed columns and returns the row as stored.
// Verification columns are written only together with a new email.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, change repository.ProfileChange) (*domain.User, error) {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if change.Name != nil {
		set("name", nullableString(*change.Name))
	}
	if change.Email != nil {
		set("email", *change.Email)
		set("is_verified", false)
		set("otp", change.OTP)
		set("otp_expires_at", change.OTPExpiresAt)
	}
	set("updated_at", now())
	args = append(args, userID)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)
	return r.scanUser(ctx, "UpdateProfile", query, args...)
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "DeleteUser", `DELETE FROM users WHERE id = $1`, id)
}

// execOne runs a statement that must touch exactly one row.
func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...any) (err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("email already in use")
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user not found")
	}
	return nil
}

func (r *UserRepository) scanUser(ctx context.Context, op, query string, args ...any) (_ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	var (
		u    domain.User
		name *string
	)
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&name,
		&u.PasswordHash,
		&u.IsVerified,
		&u.OTP,
		&u.OTPExpiresAt,
		&u.RefreshToken,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("user not found")
		}
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("email already in use")
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if name != nil {
		u.Name = *name
	}
	return &u, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func now() time.Time {
	return time.Now().UTC()
}

// isUniqueViolation reports a PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
