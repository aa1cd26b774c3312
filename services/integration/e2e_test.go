package integration

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plantkeep/cmms/libs/authclient"
	"github.com/plantkeep/cmms/libs/devicesession"
	"github.com/plantkeep/cmms/services/testutil"
)

// These tests run against a live auth service seeded by cmd/seed.

func authURL() string {
	if v := os.Getenv("CMMS_AUTH_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func TestE2EPasswordLogin(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run")
	}
	waitForAuth(t)

	ctx := context.Background()
	client := authclient.New(authURL())

	tokens, err := client.Login(ctx, testutil.DemoEmail, testutil.DemoPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}

	t.Run("GET /auth/profile", func(t *testing.T) {
		profile, err := client.Profile(ctx, tokens.AccessToken)
		if err != nil {
			t.Fatalf("profile failed: %v", err)
		}
		if profile.ID != testutil.DemoUserID.String() {
			t.Fatalf("expected demo user id, got %s", profile.ID)
		}
		if profile.Permissions.Granted == nil || profile.Permissions.Revoked == nil {
			t.Fatal("permission lists should never be null")
		}
	})

	t.Run("POST /auth/refresh-token", func(t *testing.T) {
		refreshed, err := client.RefreshToken(ctx, tokens.RefreshToken)
		if err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if refreshed.AccessToken == "" || refreshed.RefreshToken != "" {
			t.Fatalf("expected only an access token, got %+v", refreshed)
		}
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		if _, err := client.Profile(ctx, tokens.RefreshToken); !errors.Is(err, authclient.ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := client.Login(ctx, testutil.DemoEmail, "not-the-password"); !errors.Is(err, authclient.ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	})

	t.Run("request-otp for unknown contact still succeeds", func(t *testing.T) {
		if err := client.RequestOTP(ctx, "nobody@plantkeep.io", authclient.PurposeLogin); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
	})
}

func TestE2EDevicePinUnlock(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run")
	}
	waitForAuth(t)

	ctx := context.Background()
	client := authclient.New(authURL())
	store := devicesession.NewFileStore(filepath.Join(t.TempDir(), "device.json"))
	manager := devicesession.NewManager(client, store, devicesession.DefaultConfig(), nil)

	if _, err := manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	state, err := manager.SubmitContact(ctx, testutil.SupervisorPhone, false)
	if err != nil {
		t.Fatalf("submit contact: %v", err)
	}
	if state != devicesession.StatePinLocked {
		t.Fatalf("expected PinLocked for a contact with a PIN, got %s", state)
	}

	state, err = manager.Unlock(ctx, "0000")
	if !errors.Is(err, devicesession.ErrWrongPin) || state != devicesession.StatePinLocked {
		t.Fatalf("expected wrong PIN and PinLocked, got %v %s", err, state)
	}

	state, err = manager.Unlock(ctx, testutil.SupervisorPin)
	if err != nil || state != devicesession.StateAuthenticated {
		t.Fatalf("expected Authenticated, got %v %s", err, state)
	}

	profile, err := client.Profile(ctx, manager.AccessToken())
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !profile.HasPin {
		t.Fatal("supervisor should have a PIN")
	}
}

func waitForAuth(t *testing.T) {
	t.Helper()

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(authURL() + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	t.Fatal("auth service not ready within timeout")
}
