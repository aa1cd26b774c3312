// Package devicesession drives the sign-in lifecycle of a single device:
// contact entry, one-time code, PIN setup, PIN unlock and logout.
package devicesession

import (
	"errors"
	"time"
)

type State string

const (
	StateLoggedOut        State = "LoggedOut"
	StateAwaitingOtp      State = "AwaitingOtp"
	StatePinSetupRequired State = "PinSetupRequired"
	StateAuthenticated    State = "Authenticated"
	StatePinLocked        State = "PinLocked"
)

func (s State) String() string { return string(s) }

// Errors returned to the UI. They never carry server detail.
var (
	ErrInvalidCode    = errors.New("invalid code")
	ErrWrongPin       = errors.New("wrong PIN")
	ErrInvalidPin     = errors.New("PIN must be 4 to 8 digits")
	ErrUnavailable    = errors.New("service unavailable, try again")
	ErrSessionExpired = errors.New("session expired")
	ErrInvalidState   = errors.New("action not allowed in current state")
)

// Persisted is everything that survives a restart.
type Persisted struct {
	PinConfigured bool      `json:"pinConfigured"`
	LastContact   string    `json:"lastContact,omitempty"`
	ForceOtp      bool      `json:"forceOtp"`
	AccessToken   string    `json:"accessToken,omitempty"`
	RefreshToken  string    `json:"refreshToken,omitempty"`
	LastActivity  time.Time `json:"lastActivity,omitempty"`
	RememberMe    bool      `json:"rememberMe"`
}

func (p *Persisted) clearTokens() {
	p.AccessToken = ""
	p.RefreshToken = ""
}

type Config struct {
	// InactivityTimeout logs out an idle session unless RememberMe was set.
	// Zero disables the check.
	InactivityTimeout time.Duration
	CallTimeout       time.Duration
	PushToken         string
	Platform          string
}

const (
	DefaultInactivityTimeout = 30 * time.Minute
	DefaultCallTimeout       = 15 * time.Second
)

func DefaultConfig() Config {
	return Config{
		InactivityTimeout: DefaultInactivityTimeout,
		CallTimeout:       DefaultCallTimeout,
	}
}
