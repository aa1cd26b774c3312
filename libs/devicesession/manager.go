package devicesession

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/plantkeep/cmms/libs/auth"
	"github.com/plantkeep/cmms/libs/authclient"
)

// API is the subset of the Credential API the device uses.
// *authclient.Client satisfies it.
type API interface {
	RequestOTP(ctx context.Context, contact, purpose string) error
	VerifyOTP(ctx context.Context, contact, purpose, code string) (*authclient.Tokens, error)
	HasPin(ctx context.Context, contact string) (bool, error)
	LoginWithPin(ctx context.Context, contact, pin string) (*authclient.Tokens, error)
	SetPin(ctx context.Context, accessToken, newPin string) error
	RefreshToken(ctx context.Context, refreshToken string) (*authclient.Tokens, error)
	RegisterPushToken(ctx context.Context, accessToken, token, platform string) error
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the session of one device. All transitions are serialized;
// network calls run while the lock is held, so a second action waits for
// the first to finish.
type Manager struct {
	mu     sync.Mutex
	api    API
	store  Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	state           State
	data            Persisted
	pendingContact  string
	pendingRemember bool

	push sync.WaitGroup
}

func NewManager(api API, store Store, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		api:    api,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		state:  StateLoggedOut,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AccessToken returns the cached access token while Authenticated or
// PinSetupRequired, and "" otherwise.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated && m.state != StatePinSetupRequired {
		return ""
	}
	return m.data.AccessToken
}

// LastContact is the contact the PIN gate unlocks for.
func (m *Manager) LastContact() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.LastContact
}

// Start restores persisted state and picks the initial screen. A configured
// PIN always wins over cached tokens.
func (m *Manager) Start(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.store.Load()
	if err != nil {
		return m.state, err
	}
	m.data = data

	if m.data.PinConfigured && m.data.LastContact != "" {
		return m.transition(StatePinLocked), nil
	}
	if m.data.AccessToken == "" {
		return m.transition(StateLoggedOut), nil
	}

	now := m.now()
	exp, err := tokenExpiry(m.data.AccessToken)
	if err != nil || !now.Before(exp) {
		m.logger.Info("cached access token unusable", "error", err)
		return m.logoutLocked()
	}
	if m.idleExpired(now) {
		m.logger.Info("session idle too long")
		return m.logoutLocked()
	}
	return m.enterAuthenticated(ctx)
}

// SubmitContact starts sign-in. A contact with a PIN goes straight to the PIN
// gate unless recovery was forced by ForgotPin; everything else gets a code.
func (m *Manager) SubmitContact(ctx context.Context, contact string, rememberMe bool) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateLoggedOut && m.state != StateAwaitingOtp {
		return m.state, ErrInvalidState
	}
	contact = auth.NormalizeContact(contact)
	if contact == "" {
		return m.state, ErrInvalidState
	}

	if !m.data.ForceOtp {
		callCtx, cancel := m.callContext(ctx)
		hasPin, err := m.api.HasPin(callCtx, contact)
		cancel()
		if err != nil {
			m.logger.Warn("has-pin lookup failed", "error", err)
			return m.state, ErrUnavailable
		}
		if hasPin {
			m.data.LastContact = contact
			m.data.PinConfigured = true
			m.data.RememberMe = rememberMe
			m.data.clearTokens()
			if err := m.save(); err != nil {
				return m.state, err
			}
			return m.transition(StatePinLocked), nil
		}
	}

	callCtx, cancel := m.callContext(ctx)
	err := m.api.RequestOTP(callCtx, contact, authclient.PurposeLogin)
	cancel()
	if err != nil {
		m.logger.Warn("otp request failed", "error", err)
		return m.state, ErrUnavailable
	}

	m.pendingContact = contact
	m.pendingRemember = rememberMe
	return m.transition(StateAwaitingOtp), nil
}

// VerifyCode redeems the code sent by SubmitContact.
func (m *Manager) VerifyCode(ctx context.Context, code string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingOtp {
		return m.state, ErrInvalidState
	}

	callCtx, cancel := m.callContext(ctx)
	tokens, err := m.api.VerifyOTP(callCtx, m.pendingContact, authclient.PurposeLogin, strings.TrimSpace(code))
	cancel()
	if err != nil {
		if errors.Is(err, authclient.ErrInvalidCode) || errors.Is(err, authclient.ErrInvalidRequest) {
			return m.state, ErrInvalidCode
		}
		m.logger.Warn("otp verification failed", "error", err)
		return m.state, ErrUnavailable
	}
	if tokens == nil || tokens.AccessToken == "" {
		return m.state, ErrUnavailable
	}

	m.data.AccessToken = tokens.AccessToken
	m.data.RefreshToken = tokens.RefreshToken
	m.data.LastContact = m.pendingContact
	m.data.RememberMe = m.pendingRemember
	m.pendingContact = ""

	m.data.ForceOtp = false

	// A PIN that survived ForgotPin still counts; SetPin replaces it from
	// Authenticated.
	if tokens.HasPin == nil || !*tokens.HasPin {
		m.data.PinConfigured = false
		m.data.LastActivity = m.now()
		if err := m.save(); err != nil {
			return m.state, err
		}
		return m.transition(StatePinSetupRequired), nil
	}

	m.data.PinConfigured = true
	return m.enterAuthenticated(ctx)
}

// SetPin stores a new PIN for the signed-in user. It completes PIN setup and
// also serves as "change PIN" while Authenticated.
func (m *Manager) SetPin(ctx context.Context, pin string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePinSetupRequired && m.state != StateAuthenticated {
		return m.state, ErrInvalidState
	}
	if !validPin(pin) {
		return m.state, ErrInvalidPin
	}

	callCtx, cancel := m.callContext(ctx)
	err := m.api.SetPin(callCtx, m.data.AccessToken, pin)
	cancel()
	if err != nil {
		if errors.Is(err, authclient.ErrUnauthorized) {
			return m.state, ErrSessionExpired
		}
		if errors.Is(err, authclient.ErrInvalidRequest) {
			return m.state, ErrInvalidPin
		}
		m.logger.Warn("set pin failed", "error", err)
		return m.state, ErrUnavailable
	}

	m.data.PinConfigured = true
	m.data.ForceOtp = false
	return m.enterAuthenticated(ctx)
}

// Unlock signs in with the PIN for the last-used contact.
func (m *Manager) Unlock(ctx context.Context, pin string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePinLocked {
		return m.state, ErrInvalidState
	}
	if !validPin(pin) {
		return m.state, ErrWrongPin
	}

	callCtx, cancel := m.callContext(ctx)
	tokens, err := m.api.LoginWithPin(callCtx, m.data.LastContact, pin)
	cancel()
	if err != nil {
		if errors.Is(err, authclient.ErrUnauthorized) || errors.Is(err, authclient.ErrInvalidRequest) {
			return m.state, ErrWrongPin
		}
		m.logger.Warn("pin login failed", "error", err)
		return m.state, ErrUnavailable
	}

	if tokens == nil || tokens.AccessToken == "" {
		return m.state, ErrUnavailable
	}

	m.data.AccessToken = tokens.AccessToken
	m.data.RefreshToken = tokens.RefreshToken
	return m.enterAuthenticated(ctx)
}

// ForgotPin drops the local PIN and forces the next sign-in through a code,
// even though the server still has the old PIN until a new one is set.
func (m *Manager) ForgotPin() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePinLocked {
		return m.state, ErrInvalidState
	}
	m.data.PinConfigured = false
	m.data.ForceOtp = true
	m.data.clearTokens()
	if err := m.save(); err != nil {
		return m.state, err
	}
	return m.transition(StateLoggedOut), nil
}

// Logout clears tokens and keeps the PIN, so a configured device returns to
// the PIN gate.
func (m *Manager) Logout() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logoutLocked()
}

// ChangeUser forgets everything about the current user.
func (m *Manager) ChangeUser() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = Persisted{}
	m.pendingContact = ""
	if err := m.save(); err != nil {
		return m.state, err
	}
	return m.transition(StateLoggedOut), nil
}

// Touch records user activity. An Authenticated session that sat idle past
// the inactivity timeout is logged out instead.
func (m *Manager) Touch() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAuthenticated {
		return m.state, nil
	}
	now := m.now()
	if m.idleExpired(now) {
		m.logger.Info("session idle too long")
		return m.logoutLocked()
	}
	m.data.LastActivity = now
	return m.state, m.save()
}

// RefreshAccessToken trades the refresh token for a new access token after
// the caller saw a 401. A rejected refresh token ends the session.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data.RefreshToken == "" || (m.state != StateAuthenticated && m.state != StatePinSetupRequired) {
		return "", ErrSessionExpired
	}

	callCtx, cancel := m.callContext(ctx)
	tokens, err := m.api.RefreshToken(callCtx, m.data.RefreshToken)
	cancel()
	if err != nil {
		if errors.Is(err, authclient.ErrUnauthorized) {
			if _, logoutErr := m.logoutLocked(); logoutErr != nil {
				return "", logoutErr
			}
			return "", ErrSessionExpired
		}
		m.logger.Warn("token refresh failed", "error", err)
		return "", ErrUnavailable
	}

	m.data.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		m.data.RefreshToken = tokens.RefreshToken
	}
	if err := m.save(); err != nil {
		return "", err
	}
	return m.data.AccessToken, nil
}

// Wait blocks until background push registrations have finished.
func (m *Manager) Wait() {
	m.push.Wait()
}

func (m *Manager) logoutLocked() (State, error) {
	m.data.clearTokens()
	m.pendingContact = ""
	if err := m.save(); err != nil {
		return m.state, err
	}
	if m.data.PinConfigured && m.data.LastContact != "" {
		return m.transition(StatePinLocked), nil
	}
	return m.transition(StateLoggedOut), nil
}

func (m *Manager) enterAuthenticated(ctx context.Context) (State, error) {
	m.data.LastActivity = m.now()
	if err := m.save(); err != nil {
		return m.state, err
	}
	state := m.transition(StateAuthenticated)
	m.registerPush(ctx, m.data.AccessToken)
	return state, nil
}

func (m *Manager) registerPush(ctx context.Context, accessToken string) {
	if m.cfg.PushToken == "" || accessToken == "" {
		return
	}
	m.push.Add(1)
	go func() {
		defer m.push.Done()
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
		defer cancel()
		if err := m.api.RegisterPushToken(callCtx, accessToken, m.cfg.PushToken, m.cfg.Platform); err != nil {
			m.logger.Warn("push token registration failed", "error", err)
		}
	}()
}

func (m *Manager) idleExpired(now time.Time) bool {
	if m.data.RememberMe || m.cfg.InactivityTimeout <= 0 || m.data.LastActivity.IsZero() {
		return false
	}
	return now.Sub(m.data.LastActivity) > m.cfg.InactivityTimeout
}

func (m *Manager) transition(next State) State {
	if next != m.state {
		m.logger.Debug("session transition", "from", m.state, "to", next)
	}
	m.state = next
	return next
}

func (m *Manager) save() error {
	return m.store.Save(m.data)
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.CallTimeout)
}

func validPin(pin string) bool {
	if len(pin) < 4 || len(pin) > 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
