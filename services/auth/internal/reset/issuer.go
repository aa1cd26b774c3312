// Package reset issues single-use opaque tokens for link-based password and
// PIN recovery.
package reset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/plantkeep/cmms/libs/delivery"
	"github.com/plantkeep/cmms/services/auth/internal/notify"
	"github.com/plantkeep/cmms/services/auth/internal/security"
	"github.com/plantkeep/cmms/services/auth/internal/storage"
	"github.com/plantkeep/cmms/services/auth/internal/telemetry"
)

const DefaultTTL = time.Hour

// ErrNotFound covers unknown, expired, consumed and wrong-purpose tokens.
var ErrNotFound = errors.New("reset: token not found")

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	CreateResetToken(ctx context.Context, token *storage.ResetToken) error
	ConsumeResetToken(ctx context.Context, tokenHash string, purpose storage.Purpose, now time.Time) (uuid.UUID, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type Options struct {
	TTL time.Duration
	// LinkBaseURL is the page that accepts ?token=&type=. When empty the
	// bare token is delivered.
	LinkBaseURL string
	Clock       Clock
	Tokens      security.TokenGenerator
	Metrics     *telemetry.Metrics
}

type Issuer struct {
	store    Store
	sender   notify.Sender
	logger   *slog.Logger
	ttl      time.Duration
	linkBase string
	clock    Clock
	tokens   security.TokenGenerator
	metrics  *telemetry.Metrics
}

func NewIssuer(store Store, sender notify.Sender, logger *slog.Logger, opts Options) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Tokens == nil {
		opts.Tokens = security.DefaultTokenGenerator{}
	}
	return &Issuer{
		store:    store,
		sender:   sender,
		logger:   logger,
		ttl:      opts.TTL,
		linkBase: opts.LinkBaseURL,
		clock:    opts.Clock,
		tokens:   opts.Tokens,
		metrics:  opts.Metrics,
	}
}

// Issue stores the hash of a fresh token for userID and returns the
// plaintext.
func (i *Issuer) Issue(ctx context.Context, userID uuid.UUID, purpose storage.Purpose) (string, error) {
	token, _, err := i.issue(ctx, userID, purpose)
	return token, err
}

func (i *Issuer) issue(ctx context.Context, userID uuid.UUID, purpose storage.Purpose) (string, *storage.ResetToken, error) {
	token, hash, err := i.tokens.New()
	if err != nil {
		return "", nil, err
	}
	now := i.clock.Now()
	row := &storage.ResetToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.CreateResetToken(ctx, row); err != nil {
		return "", nil, fmt.Errorf("store reset token: %w", err)
	}
	i.metrics.ResetToken(string(purpose), "issued")
	return token, row, nil
}

// Request issues a token for the account behind email and emails the link.
// Unknown addresses and delivery failures return nil.
func (i *Issuer) Request(ctx context.Context, email string, purpose storage.Purpose) error {
	email = storage.NormalizeContact(email)
	user, err := i.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		i.logger.InfoContext(ctx, "reset requested for unknown email",
			slog.String("contact", email), slog.String("purpose", string(purpose)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup email: %w", err)
	}

	token, row, err := i.issue(ctx, user.ID, purpose)
	if err != nil {
		return err
	}

	msg := delivery.Message{
		Contact: email,
		Channel: delivery.ChannelEmail,
		Purpose: string(purpose),
		Kind:    delivery.KindResetLink,
		Ref:     row.ID.String(),
		Secret:  token,
		Link:    i.link(token, purpose),
	}
	if err := i.sender.Send(ctx, msg); err != nil {
		i.logger.ErrorContext(ctx, "reset link delivery failed",
			slog.String("user_id", user.ID.String()), slog.Any("error", err))
	}
	return nil
}

// Redeem consumes token for purpose and returns its owner.
func (i *Issuer) Redeem(ctx context.Context, token string, purpose storage.Purpose) (uuid.UUID, error) {
	userID, err := i.store.ConsumeResetToken(ctx, security.HashToken(token), purpose, i.clock.Now())
	if errors.Is(err, storage.ErrNotFound) {
		i.metrics.ResetToken(string(purpose), "rejected")
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume reset token: %w", err)
	}
	i.metrics.ResetToken(string(purpose), "redeemed")
	return userID, nil
}

func (i *Issuer) link(token string, purpose storage.Purpose) string {
	if i.linkBase == "" {
		return ""
	}
	u, err := url.Parse(i.linkBase)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("type", string(purpose))
	u.RawQuery = q.Encode()
	return u.String()
}
