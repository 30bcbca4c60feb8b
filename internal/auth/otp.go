package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"
)

// OTPLength is the number of digits in a verification code.
const OTPLength = 6

// DefaultOTPTTL is how long a code stays valid after issue.
const DefaultOTPTTL = 15 * time.Minute

// OTPResult is the outcome of checking a submitted code.
type OTPResult int

const (
	OTPValid OTPResult = iota
	OTPMismatch
	OTPExpired
)

func (r OTPResult) String() string {
	switch r {
	case OTPValid:
		return "valid"
	case OTPMismatch:
		return "mismatch"
	case OTPExpired:
		return "expired"
	default:
		return "unknown"
	}
}

var otpSpan = big.NewInt(900000)

// OTPGenerator issues and checks six-digit codes.
type OTPGenerator struct {
	ttl  time.Duration
	rand io.Reader
	now  func() time.Time
}

// NewOTPGenerator creates a generator reading from crypto/rand.
func NewOTPGenerator(ttl time.Duration) *OTPGenerator {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	return &OTPGenerator{ttl: ttl, rand: rand.Reader, now: time.Now}
}

// WithClock replaces the time source.
func (g *OTPGenerator) WithClock(now func() time.Time) *OTPGenerator {
	g.now = now
	return g
}

// TTL is the validity window of issued codes.
func (g *OTPGenerator) TTL() time.Duration {
	return g.ttl
}

// Generate returns a code uniform over [100000, 999999].
func (g *OTPGenerator) Generate() (string, error) {
	n, err := rand.Int(g.rand, otpSpan)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Issue returns a fresh code and its expiry.
func (g *OTPGenerator) Issue() (string, time.Time, error) {
	code, err := g.Generate()
	if err != nil {
		return "", time.Time{}, err
	}
	return code, g.ExpiryFrom(g.now()), nil
}

// ExpiryFrom returns the expiry for a code issued at now.
func (g *OTPGenerator) ExpiryFrom(now time.Time) time.Time {
	return now.Add(g.ttl).UTC()
}

// Validate checks submitted against the stored code and expiry using the
// generator's clock.
func (g *OTPGenerator) Validate(submitted string, stored *string, expiresAt *time.Time) OTPResult {
	return ValidateOTP(submitted, stored, expiresAt, g.now())
}

// ValidateOTP compares the code first, then the expiry. A missing stored code
// or expiry is a mismatch.
func ValidateOTP(submitted string, stored *string, expiresAt *time.Time, now time.Time) OTPResult {
	if stored == nil || expiresAt == nil {
		return OTPMismatch
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(*stored)) != 1 {
		return OTPMismatch
	}
	if now.After(*expiresAt) {
		return OTPExpired
	}
	return OTPValid
}
