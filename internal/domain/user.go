package domain

import (
	"regexp"
	"strings"
	"time"
)

// User is one account row. Secret fields never serialize.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name,omitempty"`
	PasswordHash string     `json:"-"`
	IsVerified   bool       `json:"isVerified"`
	OTP          *string    `json:"-"`
	OTPExpiresAt *time.Time `json:"-"`
	RefreshToken *string    `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// AccountState is the verification lifecycle of an account.
type AccountState string

const (
	StatePendingVerification AccountState = "pending_verification"
	StateVerified            AccountState = "verified"
)

// State reports where the account is in its lifecycle.
func (u *User) State() AccountState {
	if u.IsVerified {
		return StateVerified
	}
	return StatePendingVerification
}

// SetOTP stores a pending code together with its expiry.
func (u *User) SetOTP(code string, expiresAt time.Time) {
	u.OTP = &code
	u.OTPExpiresAt = &expiresAt
	u.IsVerified = false
}

// MarkVerified flips the account to verified and drops the pending code.
func (u *User) MarkVerified() {
	u.IsVerified = true
	u.OTP = nil
	u.OTPExpiresAt = nil
}

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// NormalizeEmail trims and lower-cases an address before lookup or storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether a normalized address has a plausible shape.
func ValidEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

const (
	MinPasswordLength = 6
	// MaxPasswordLength is bcrypt's input limit; longer inputs would be truncated.
	MaxPasswordLength = 72
	MinNameLength     = 2
	MaxNameLength     = 100
)
