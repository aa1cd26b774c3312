package devicesession

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device", "session.json")
	store := NewFileStore(path)

	empty, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Persisted{}, empty)

	want := Persisted{
		PinConfigured: true,
		LastContact:   "+15550002",
		AccessToken:   "a",
		RefreshToken:  "r",
		LastActivity:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		RememberMe:    true,
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := tokenExpiry(signToken(exp))
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))

	_, err = tokenExpiry("not.a.jwt")
	assert.Error(t, err)
}
