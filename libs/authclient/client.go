// Package authclient calls the Credential API and the push-token endpoint on
// behalf of a device.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	PurposeLogin    = "LOGIN"
	PurposePassword = "PASSWORD"
	PurposePin      = "PIN"
)

const defaultTimeout = 15 * time.Second

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidCode    = errors.New("invalid or expired code")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
)

var codeErrors = map[string]error{
	"INVALID_REQUEST":         ErrInvalidRequest,
	"UNAUTHORIZED":            ErrUnauthorized,
	"INVALID_OR_EXPIRED_CODE": ErrInvalidCode,
	"INVALID_TOKEN":           ErrInvalidToken,
	"NOT_FOUND":               ErrNotFound,
	"RATE_LIMITED":            ErrRateLimited,
}

// APIError is a non-2xx response. It matches the sentinel for its code with
// errors.Is.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("authclient: status %d", e.Status)
	}
	return fmt.Sprintf("authclient: %s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if err, ok := codeErrors[e.Code]; ok {
		return err
	}
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	HasPin       *bool  `json:"hasPin,omitempty"`
}

type Permissions struct {
	Granted []string `json:"granted"`
	Revoked []string `json:"revoked"`
}

type Profile struct {
	ID          string      `json:"id"`
	Email       *string     `json:"email"`
	Phone       *string     `json:"phone"`
	Role        string      `json:"role"`
	DisplayName string      `json:"displayName"`
	HasPin      bool        `json:"hasPin"`
	Permissions Permissions `json:"permissions"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Login(ctx context.Context, email, password string) (*Tokens, error) {
	var out Tokens
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken exchanges a refresh token for a new access token. The
// returned Tokens carries no refresh token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	var out Tokens
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh-token", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/auth/profile", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RequestOTP(ctx context.Context, contact, purpose string) error {
	body := map[string]string{"contact": contact, "type": purpose}
	return c.do(ctx, http.MethodPost, "/auth/request-otp", "", body, nil)
}

// VerifyOTP returns tokens for LOGIN codes and nil tokens for the other
// purposes.
func (c *Client) VerifyOTP(ctx context.Context, contact, purpose, code string) (*Tokens, error) {
	var out Tokens
	body := map[string]string{"contact": contact, "type": purpose, "code": code}
	if err := c.do(ctx, http.MethodPost, "/auth/verify-otp", "", body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) HasPin(ctx context.Context, contact string) (bool, error) {
	var out struct {
		HasPin bool `json:"hasPin"`
	}
	path := "/auth/has-pin?" + url.Values{"contact": {contact}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return false, err
	}
	return out.HasPin, nil
}

func (c *Client) LoginWithPin(ctx context.Context, contact, pin string) (*Tokens, error) {
	var out Tokens
	body := map[string]string{"contact": contact, "pin": pin}
	if err := c.do(ctx, http.MethodPost, "/auth/login-pin", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetPin(ctx context.Context, accessToken, newPin string) error {
	body := map[string]string{"newPin": newPin}
	return c.do(ctx, http.MethodPost, "/auth/set-pin", accessToken, body, nil)
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/request-password-reset", "", map[string]string{"email": email}, nil)
}

func (c *Client) RequestPinReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/request-pin-reset", "", map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	body := map[string]string{"token": token, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/auth/reset-password", "", body, nil)
}

func (c *Client) ResetPin(ctx context.Context, token, newPin string) error {
	body := map[string]string{"token": token, "newPin": newPin}
	return c.do(ctx, http.MethodPost, "/auth/reset-pin", "", body, nil)
}

func (c *Client) ResetPasswordOTP(ctx context.Context, contact, code, newPassword string) error {
	body := map[string]string{"contact": contact, "code": code, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/auth/reset-password-otp", "", body, nil)
}

func (c *Client) ResetPinOTP(ctx context.Context, contact, code, newPin string) error {
	body := map[string]string{"contact": contact, "code": code, "newPin": newPin}
	return c.do(ctx, http.MethodPost, "/auth/reset-pin-otp", "", body, nil)
}

// RegisterPushToken hands the device's push address to the notification
// service.
func (c *Client) RegisterPushToken(ctx context.Context, accessToken, token, platform string) error {
	body := map[string]string{"token": token, "platform": platform}
	return c.do(ctx, http.MethodPost, "/notifications/push-token", accessToken, body, nil)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("authclient: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("authclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("authclient: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && json.Unmarshal(raw, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
