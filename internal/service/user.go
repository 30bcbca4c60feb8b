package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/auth"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/domain"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/mail"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/repository"
	apperrors "github.com/iamrehman16/DataTricks-Team-Server/pkg/errors"
)

// UserService serves profile reads and writes for the authenticated user.
type UserService struct {
	users  repository.UserRepository
	otp    *auth.OTPGenerator
	mailer Mailer
	events EventPublisher
	from   string
	logger *slog.Logger
}

// NewUserService creates a UserService.
func NewUserService(
	users repository.UserRepository,
	otp *auth.OTPGenerator,
	mailer Mailer,
	events EventPublisher,
	mailFrom string,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:  users,
		otp:    otp,
		mailer: mailer,
		events: events,
		from:   mailFrom,
		logger: logger,
	}
}

// UpdateProfileInput lists the fields a user may change. Nil means keep.
type UpdateProfileInput struct {
	Name  *string
	Email *string
}

// GetProfile returns the account for userID.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// UpdateProfile applies input. Changing the email sends the account back to
// PendingVerification with a new code mailed to the new address; any other
// edit leaves the verification state as stored.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*domain.User, error) {
	if input.Name == nil && input.Email == nil {
		return nil, apperrors.InvalidInput("update data is required")
	}

	current, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	var change repository.ProfileChange
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		change.Name = &name
	}

	if input.Email != nil {
		email := domain.NormalizeEmail(*input.Email)
		if !domain.ValidEmail(email) {
			return nil, apperrors.InvalidInput("email is not a valid address")
		}
		if email != current.Email {
			code, expiresAt, err := s.otp.Issue()
			if err != nil {
				return nil, apperrors.Internal(err)
			}
			change.Email = &email
			change.OTP = code
			change.OTPExpiresAt = expiresAt
		}
	}

	if change.Name == nil && change.Email == nil {
		return current, nil
	}

	user, err := s.users.UpdateProfile(ctx, current.ID, change)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	if change.Email != nil {
		s.mailer.Enqueue(ctx, mail.OTPMessage(s.from, user.Email, change.OTP, s.otp.TTL()))
		s.logger.InfoContext(ctx, "email changed, verification required",
			slog.String("user_id", user.ID),
		)
	}

	s.logger.InfoContext(ctx, "profile updated",
		slog.String("user_id", user.ID),
		slog.String("state", string(user.State())),
	)
	return user, nil
}

// DeleteAccount removes the account for userID.
func (s *UserService) DeleteAccount(ctx context.Context, userID string) error {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user not found")
		}
		return fmt.Errorf("delete user: %w", err)
	}

	if err := s.events.PublishUserDeleted(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.deleted event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	record("delete_account", "success")
	s.logger.InfoContext(ctx, "user deleted", slog.String("user_id", user.ID))
	return nil
}
