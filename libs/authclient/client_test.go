package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]string
}

func newServer(t *testing.T, status int, response any, headers map[string]string) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL + "/"), rec
}

func TestLogin(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, map[string]any{
		"accessToken": "a", "refreshToken": "r", "tokenType": "Bearer", "expiresIn": 3600,
	}, nil)

	tokens, err := client.Login(context.Background(), "demo@plantkeep.io", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, "a", tokens.AccessToken)
	assert.Equal(t, "r", tokens.RefreshToken)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/auth/login", rec.path)
	assert.Equal(t, "secret-pass", rec.body["password"])
}

func TestLoginUnauthorized(t *testing.T) {
	client, _ := newServer(t, http.StatusUnauthorized, map[string]string{
		"code": "UNAUTHORIZED", "message": "invalid email or password",
	}, nil)

	_, err := client.Login(context.Background(), "demo@plantkeep.io", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid email or password", apiErr.Message)
}

func TestVerifyOTPLoginReturnsTokens(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, map[string]any{
		"accessToken": "a", "refreshToken": "r", "tokenType": "Bearer", "expiresIn": 3600, "hasPin": false,
	}, nil)

	tokens, err := client.VerifyOTP(context.Background(), "+15550001", PurposeLogin, "123456")
	require.NoError(t, err)
	require.NotNil(t, tokens)
	require.NotNil(t, tokens.HasPin)
	assert.False(t, *tokens.HasPin)
	assert.Equal(t, "LOGIN", rec.body["type"])
	assert.Equal(t, "123456", rec.body["code"])
}

func TestVerifyOTPNonLoginReturnsNilTokens(t *testing.T) {
	client, _ := newServer(t, http.StatusOK, map[string]bool{"success": true}, nil)

	tokens, err := client.VerifyOTP(context.Background(), "+15550001", PurposePin, "123456")
	require.NoError(t, err)
	assert.Nil(t, tokens)
}

func TestVerifyOTPInvalidCode(t *testing.T) {
	client, _ := newServer(t, http.StatusBadRequest, map[string]string{
		"code": "INVALID_OR_EXPIRED_CODE", "message": "invalid or expired code",
	}, nil)

	_, err := client.VerifyOTP(context.Background(), "+15550001", PurposeLogin, "000000")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestHasPinEncodesContact(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, map[string]bool{"hasPin": true}, nil)

	hasPin, err := client.HasPin(context.Background(), "+15550002")
	require.NoError(t, err)
	assert.True(t, hasPin)
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "contact=%2B15550002", rec.query)
}

func TestSetPinSendsBearer(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, map[string]bool{"success": true}, nil)

	require.NoError(t, client.SetPin(context.Background(), "access-1", "2468"))
	assert.Equal(t, "Bearer access-1", rec.auth)
	assert.Equal(t, "/auth/set-pin", rec.path)
	assert.Equal(t, "2468", rec.body["newPin"])
}

func TestRegisterPushToken(t *testing.T) {
	client, rec := newServer(t, http.StatusNoContent, nil, nil)

	require.NoError(t, client.RegisterPushToken(context.Background(), "access-1", "push-abc", "android"))
	assert.Equal(t, "/notifications/push-token", rec.path)
	assert.Equal(t, "android", rec.body["platform"])
	assert.Equal(t, "Bearer access-1", rec.auth)
}

func TestResetCalls(t *testing.T) {
	cases := []struct {
		name string
		call func(*Client) error
		path string
	}{
		{"request password reset", func(c *Client) error { return c.RequestPasswordReset(context.Background(), "a@b.io") }, "/auth/request-password-reset"},
		{"request pin reset", func(c *Client) error { return c.RequestPinReset(context.Background(), "a@b.io") }, "/auth/request-pin-reset"},
		{"reset password", func(c *Client) error { return c.ResetPassword(context.Background(), "tok", "new-password") }, "/auth/reset-password"},
		{"reset pin", func(c *Client) error { return c.ResetPin(context.Background(), "tok", "1234") }, "/auth/reset-pin"},
		{"reset password otp", func(c *Client) error {
			return c.ResetPasswordOTP(context.Background(), "+15550001", "123456", "new-password")
		}, "/auth/reset-password-otp"},
		{"reset pin otp", func(c *Client) error { return c.ResetPinOTP(context.Background(), "+15550001", "123456", "1234") }, "/auth/reset-pin-otp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, rec := newServer(t, http.StatusOK, map[string]bool{"success": true}, nil)
			require.NoError(t, tc.call(client))
			assert.Equal(t, tc.path, rec.path)
		})
	}
}

func TestResetInvalidToken(t *testing.T) {
	client, _ := newServer(t, http.StatusBadRequest, map[string]string{"code": "INVALID_TOKEN", "message": "invalid or expired token"}, nil)

	err := client.ResetPassword(context.Background(), "tok", "new-password")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	client, _ := newServer(t, http.StatusTooManyRequests, map[string]string{"code": "RATE_LIMITED", "message": "too many requests"},
		map[string]string{"Retry-After": "7"})

	err := client.RequestOTP(context.Background(), "+15550001", PurposeLogin)
	require.ErrorIs(t, err, ErrRateLimited)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
}

func TestBareUnauthorizedStatus(t *testing.T) {
	client, _ := newServer(t, http.StatusUnauthorized, "nope", nil)

	_, err := client.Profile(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTransportFailure(t *testing.T) {
	client := New("http://127.0.0.1:1")
	err := client.RequestOTP(context.Background(), "+15550001", PurposeLogin)
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
