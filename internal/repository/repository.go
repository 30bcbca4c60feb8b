package repository

import (
	"context"
	"time"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/domain"
)

// SessionStore is the account-row view the auth flows need. Lookups return
// apperrors.ErrNotFound when no account matches.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// SetRefreshToken overwrites the stored refresh token unconditionally.
	SetRefreshToken(ctx context.Context, userID, token string) error

	// ClearRefreshToken sets the stored refresh token to NULL.
	ClearRefreshToken(ctx context.Context, userID string) error
}

// ProfileChange lists the columns a profile write touches; nil fields keep
// their stored value. Setting Email also stores OTP and OTPExpiresAt and
// returns the account to PendingVerification.
type ProfileChange struct {
	Name         *string
	Email        *string
	OTP          string
	OTPExpiresAt time.Time
}

// UserRepository is the full account store.
type UserRepository interface {
	SessionStore

	// Create inserts a new account. A taken email yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, user *domain.User) error

	// SetOTP replaces the code and expiry of a pending account. A verified
	// or missing account yields apperrors.ErrNotFound and is left unchanged.
	SetOTP(ctx context.Context, userID, otp string, expiresAt time.Time) error

	// MarkVerified sets is_verified and clears the code and expiry in one
	// write, provided the account is still pending with code otp. Otherwise
	// it yields apperrors.ErrNotFound.
	MarkVerified(ctx context.Context, userID, otp string) error

	// UpdateProfile writes only the columns named in change and returns the
	// stored row.
	UpdateProfile(ctx context.Context, userID string, change ProfileChange) (*domain.User, error)

	// Delete removes the account.
	Delete(ctx context.Context, id string) error
}
