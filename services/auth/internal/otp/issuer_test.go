package otp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/plantkeep/cmms/libs/delivery"
	"github.com/plantkeep/cmms/services/auth/internal/storage"
)

type memStore struct {
	mu    sync.Mutex
	users []*storage.User
	codes []*storage.OneTimeCode
}

func (m *memStore) GetUserByContact(_ context.Context, contact string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.EmailAddress() == contact || u.PhoneNumber() == contact {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) CreateOneTimeCode(_ context.Context, code *storage.OneTimeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code.ID = uuid.New()
	m.codes = append(m.codes, code)
	return nil
}

func (m *memStore) LatestActiveCode(_ context.Context, target string, purpose storage.Purpose, now time.Time) (*storage.OneTimeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *storage.OneTimeCode
	for _, c := range m.codes {
		if c.Target != target || c.Purpose != purpose || c.ConsumedAt != nil || !c.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) IncrementCodeAttempts(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ID == id {
			c.Attempts++
			return c.Attempts, nil
		}
	}
	return 0, storage.ErrNotFound
}

func (m *memStore) ConsumeCode(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ID == id && c.ConsumedAt == nil && c.ExpiresAt.After(now) {
			c.ConsumedAt = &now
			return true, nil
		}
	}
	return false, nil
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type recordingSender struct {
	sent []delivery.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg delivery.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func strPtr(s string) *string { return &s }

func setup(maxAttempts int) (*Issuer, *memStore, *recordingSender, *fakeClock) {
	store := &memStore{users: []*storage.User{
		{ID: uuid.New(), Phone: strPtr("+15550001"), Role: "technician"},
		{ID: uuid.New(), Email: strPtr("planner@plantkeep.io"), Role: "planner"},
	}}
	sender := &recordingSender{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	codes := []string{"111111", "222222", "333333"}
	next := 0
	issuer := NewIssuer(store, sender, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), Options{
		MaxAttempts: maxAttempts,
		Clock:       clock,
		Generate: func() (string, error) {
			c := codes[next%len(codes)]
			next++
			return c, nil
		},
	})
	return issuer, store, sender, clock
}

func TestIssueStoresHashAndDelivers(t *testing.T) {
	issuer, store, sender, clock := setup(DefaultMaxAttempts)

	if err := issuer.Issue(context.Background(), "+1 555-0001", storage.PurposeLogin); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(store.codes) != 1 {
		t.Fatalf("expected one stored code, got %d", len(store.codes))
	}
	row := store.codes[0]
	if row.CodeHash == "111111" || row.CodeHash != HashCode("111111") {
		t.Fatalf("expected hashed code to be stored")
	}
	if row.Target != "+15550001" || row.Channel != storage.ChannelPhone {
		t.Fatalf("unexpected target %q channel %q", row.Target, row.Channel)
	}
	if !row.ExpiresAt.Equal(clock.now.Add(DefaultTTL)) {
		t.Fatalf("expected 5 minute expiry, got %v", row.ExpiresAt)
	}
	if len(sender.sent) != 1 || sender.sent[0].Secret != "111111" || sender.sent[0].Channel != delivery.ChannelPhone {
		t.Fatalf("unexpected delivery %+v", sender.sent)
	}
	if sender.sent[0].Ref != row.ID.String() {
		t.Fatalf("expected message ref %s, got %q", row.ID, sender.sent[0].Ref)
	}
}

func TestIssueUnknownContactCreatesNothing(t *testing.T) {
	issuer, store, sender, _ := setup(DefaultMaxAttempts)

	if err := issuer.Issue(context.Background(), "ghost@plantkeep.io", storage.PurposeLogin); err != nil {
		t.Fatalf("expected success for unknown contact, got %v", err)
	}
	if len(store.codes) != 0 || len(sender.sent) != 0 {
		t.Fatalf("expected no code and no delivery, got %d codes %d sends", len(store.codes), len(sender.sent))
	}
}

func TestIssueSwallowsDeliveryFailure(t *testing.T) {
	issuer, store, sender, _ := setup(DefaultMaxAttempts)
	sender.err = errors.New("gateway down")

	if err := issuer.Issue(context.Background(), "Planner@PlantKeep.io", storage.PurposePassword); err != nil {
		t.Fatalf("expected delivery failure to be hidden, got %v", err)
	}
	if len(store.codes) != 1 || store.codes[0].Channel != storage.ChannelEmail || store.codes[0].Target != "planner@plantkeep.io" {
		t.Fatalf("expected stored email code, got %+v", store.codes)
	}
}

func TestVerifyConsumesOnce(t *testing.T) {
	issuer, _, _, _ := setup(DefaultMaxAttempts)
	ctx := context.Background()
	_ = issuer.Issue(ctx, "+15550001", storage.PurposeLogin)

	row, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "111111")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if row.UserID == nil || row.ConsumedAt == nil {
		t.Fatalf("expected owning user and consumed timestamp")
	}

	if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "111111"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected second verify to fail with ErrInvalidOrExpired, got %v", err)
	}
}

func TestVerifyRejectsAfterExpiry(t *testing.T) {
	issuer, _, _, clock := setup(DefaultMaxAttempts)
	ctx := context.Background()
	_ = issuer.Issue(ctx, "+15550001", storage.PurposeLogin)

	clock.now = clock.now.Add(DefaultTTL)
	if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "111111"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected expired code to be rejected, got %v", err)
	}
}

func TestVerifyIsScopedByPurpose(t *testing.T) {
	issuer, _, _, _ := setup(DefaultMaxAttempts)
	ctx := context.Background()
	_ = issuer.Issue(ctx, "+15550001", storage.PurposePin)

	if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "111111"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected PIN code to be unusable for LOGIN, got %v", err)
	}
}

func TestVerifyUsesLatestCode(t *testing.T) {
	issuer, _, _, clock := setup(DefaultMaxAttempts)
	ctx := context.Background()
	_ = issuer.Issue(ctx, "+15550001", storage.PurposeLogin)
	clock.now = clock.now.Add(time.Minute)
	_ = issuer.Issue(ctx, "+15550001", storage.PurposeLogin)

	if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "111111"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected older code to be rejected, got %v", err)
	}
	if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "222222"); err != nil {
		t.Fatalf("expected latest code to verify, got %v", err)
	}
}

func TestMismatchIncrementsAttempts(t *testing.T) {
	issuer, store, _, _ := setup(DefaultMaxAttempts)
	ctx := context.Background()
	_ = issuer.Issue(ctx, "+15550001", storage.PurposeLogin)

	for i := 0; i < 2; i++ {
		if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "999999"); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("expected ErrInvalidCode, got %v", err)
		}
	}
	if store.codes[0].Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", store.codes[0].Attempts)
	}
	if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "111111"); err != nil {
		t.Fatalf("expected correct code to still verify, got %v", err)
	}
}

func TestAttemptCutoff(t *testing.T) {
	issuer, _, _, _ := setup(3)
	ctx := context.Background()
	_ = issuer.Issue(ctx, "+15550001", storage.PurposeLogin)

	var err error
	for i := 0; i < 3; i++ {
		_, err = issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "000000")
	}
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected cutoff on third mismatch, got %v", err)
	}
	if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "111111"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected locked code to reject the correct digits, got %v", err)
	}
}

func TestAttemptCutoffDisabled(t *testing.T) {
	issuer, _, _, _ := setup(0)
	ctx := context.Background()
	_ = issuer.Issue(ctx, "+15550001", storage.PurposeLogin)

	for i := 0; i < 10; i++ {
		if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "000000"); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("expected ErrInvalidCode without cutoff, got %v", err)
		}
	}
	if _, err := issuer.Verify(ctx, "+15550001", storage.PurposeLogin, "111111"); err != nil {
		t.Fatalf("expected verify to succeed, got %v", err)
	}
}

func TestGenerateCodeFormat(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !re.MatchString(code) {
			t.Fatalf("unexpected code %q", code)
		}
	}
}
