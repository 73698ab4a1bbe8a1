package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxdigest/internal/google"
)

func TestNewValkeyStore_RequiresURL(t *testing.T) {
	_, err := NewValkeyStore(ValkeyConfig{})
	assert.EqualError(t, err, "valkey URL is required")
}

// TestValkeyStore_Live runs against a real server when VALKEY_URL is set.
func TestValkeyStore_Live(t *testing.T) {
	url := os.Getenv("VALKEY_URL")
	if url == "" {
		t.Skip("VALKEY_URL not set")
	}

	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := NewValkeyStore(ValkeyConfig{
		URL:           url,
		Password:      os.Getenv("VALKEY_PASSWORD"),
		KeyPrefix:     "inboxdigest-test:" + uuid.NewString() + ":",
		TTL:           time.Minute,
		EncryptionKey: key,
	})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	sess := &Session{
		ID:           uuid.NewString(),
		Profile:      &google.Profile{Provider: google.ProviderName, ID: "42", DisplayName: "Ada"},
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Profile.DisplayName)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.True(t, sess.Expiry.Equal(got.Expiry))

	removed, err := store.Delete(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Delete(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValkeyStore_Live_Cleanup(t *testing.T) {
	url := os.Getenv("VALKEY_URL")
	if url == "" {
		t.Skip("VALKEY_URL not set")
	}

	var expired int
	store, err := NewValkeyStore(ValkeyConfig{
		URL:       url,
		Password:  os.Getenv("VALKEY_PASSWORD"),
		KeyPrefix: "inboxdigest-test:" + uuid.NewString() + ":",
		TTL:       time.Minute,
		OnExpire:  func(n int) { expired += n },
	})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Session{ID: "a"}))
	require.NoError(t, store.Save(ctx, &Session{ID: "b"}))

	n, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, expired)

	removed, err := store.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, removed, "expired sessions are not counted twice")
}
