// Package otp issues and verifies short-lived numeric codes for login and
// credential recovery.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/plantkeep/cmms/libs/delivery"
	"github.com/plantkeep/cmms/services/auth/internal/notify"
	"github.com/plantkeep/cmms/services/auth/internal/storage"
	"github.com/plantkeep/cmms/services/auth/internal/telemetry"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5
	codeDigits         = 6
)

var (
	// ErrInvalidOrExpired means no usable code exists for the target.
	ErrInvalidOrExpired = errors.New("otp: invalid or expired")
	// ErrInvalidCode means a code exists but the submitted digits differ.
	ErrInvalidCode = errors.New("otp: invalid code")
	// ErrTooManyAttempts means the current code hit the attempt cutoff.
	ErrTooManyAttempts = errors.New("otp: too many attempts")
)

type Store interface {
	GetUserByContact(ctx context.Context, contact string) (*storage.User, error)
	CreateOneTimeCode(ctx context.Context, code *storage.OneTimeCode) error
	LatestActiveCode(ctx context.Context, target string, purpose storage.Purpose, now time.Time) (*storage.OneTimeCode, error)
	IncrementCodeAttempts(ctx context.Context, id uuid.UUID) (int, error)
	ConsumeCode(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type Options struct {
	TTL time.Duration
	// MaxAttempts is the mismatch count after which a code stops verifying.
	// Zero disables the cutoff.
	MaxAttempts int
	Clock       Clock
	Generate    func() (string, error)
	Metrics     *telemetry.Metrics
}

type Issuer struct {
	store       Store
	sender      notify.Sender
	logger      *slog.Logger
	ttl         time.Duration
	maxAttempts int
	clock       Clock
	generate    func() (string, error)
	metrics     *telemetry.Metrics
}

func NewIssuer(store Store, sender notify.Sender, logger *slog.Logger, opts Options) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Generate == nil {
		opts.Generate = GenerateCode
	}
	return &Issuer{
		store:       store,
		sender:      sender,
		logger:      logger,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		clock:       opts.Clock,
		generate:    opts.Generate,
		metrics:     opts.Metrics,
	}
}

// Issue creates and delivers a code when contact belongs to a user. Unknown
// contacts and delivery failures both return nil so callers cannot tell them
// apart from success.
func (i *Issuer) Issue(ctx context.Context, contact string, purpose storage.Purpose) error {
	target := storage.NormalizeContact(contact)
	channel := storage.ChannelFor(target)

	user, err := i.store.GetUserByContact(ctx, target)
	if errors.Is(err, storage.ErrNotFound) {
		i.logger.InfoContext(ctx, "otp requested for unknown contact",
			slog.String("contact", target), slog.String("purpose", string(purpose)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}

	code, err := i.generate()
	if err != nil {
		return err
	}

	now := i.clock.Now()
	userID := user.ID
	row := &storage.OneTimeCode{
		UserID:    &userID,
		Target:    target,
		Channel:   channel,
		Purpose:   purpose,
		CodeHash:  HashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.CreateOneTimeCode(ctx, row); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	i.metrics.CodeIssued(string(purpose), string(channel))

	msg := delivery.Message{
		Contact: target,
		Channel: string(channel),
		Purpose: string(purpose),
		Kind:    delivery.KindCode,
		Ref:     row.ID.String(),
		Secret:  code,
	}
	if err := i.sender.Send(ctx, msg); err != nil {
		i.logger.ErrorContext(ctx, "otp delivery failed",
			slog.String("user_id", user.ID.String()),
			slog.String("channel", string(channel)),
			slog.Any("error", err))
	}
	return nil
}

// Verify checks code against the latest active code for (contact, purpose)
// and consumes it on match. The consumed row is returned so callers can act
// on its owner.
func (i *Issuer) Verify(ctx context.Context, contact string, purpose storage.Purpose, code string) (*storage.OneTimeCode, error) {
	target := storage.NormalizeContact(contact)
	now := i.clock.Now()

	row, err := i.store.LatestActiveCode(ctx, target, purpose, now)
	if errors.Is(err, storage.ErrNotFound) {
		i.metrics.CodeVerified(string(purpose), "expired")
		return nil, ErrInvalidOrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}

	if i.maxAttempts > 0 && row.Attempts >= i.maxAttempts {
		i.metrics.CodeVerified(string(purpose), "locked")
		return nil, ErrTooManyAttempts
	}

	if !CodeEqual(HashCode(code), row.CodeHash) {
		attempts, err := i.store.IncrementCodeAttempts(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("count attempt: %w", err)
		}
		i.metrics.CodeVerified(string(purpose), "mismatch")
		if i.maxAttempts > 0 && attempts >= i.maxAttempts {
			i.logger.WarnContext(ctx, "otp attempt cutoff reached",
				slog.String("code_id", row.ID.String()), slog.Int("attempts", attempts))
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidCode
	}

	ok, err := i.store.ConsumeCode(ctx, row.ID, now)
	if err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if !ok {
		i.metrics.CodeVerified(string(purpose), "raced")
		return nil, ErrInvalidOrExpired
	}
	row.ConsumedAt = &now
	i.metrics.CodeVerified(string(purpose), "success")
	return row, nil
}

// GenerateCode returns a uniformly random zero-padded 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// CodeEqual compares two code hashes in constant time.
func CodeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
