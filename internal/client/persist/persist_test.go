package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

func sampleSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		User: &models.User{
			ID:              uuid.New(),
			Role:            models.RoleFree,
			LinkedProviders: []models.Provider{models.ProviderEmail},
			PrimaryEmail:    "snap@example.com",
			CreatedAt:       now.Add(-time.Hour),
		},
		SessionExpiresAt: now.Add(12 * time.Hour),
		SavedAt:          now,
	}
}

func TestSnapshotUsable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, sampleSnapshot(now).Usable(now))

	expired := sampleSnapshot(now)
	expired.SessionExpiresAt = now.Add(-time.Minute)
	assert.False(t, expired.Usable(now))

	noUser := sampleSnapshot(now)
	noUser.User = nil
	assert.False(t, noUser.Usable(now))

	var nilSnap *Snapshot
	assert.False(t, nilSnap.Usable(now))
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "session.json")
	store := NewFileStore(path)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	snap := sampleSnapshot(now)
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.User.ID, got.User.ID)
	assert.Equal(t, "snap@example.com", got.User.PrimaryEmail)
	assert.True(t, snap.SessionExpiresAt.Equal(got.SessionExpiresAt))
}

func TestFileStoreCorruptFileTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestFileStoreClearIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)

	require.NoError(t, store.Clear(ctx), "clearing a missing file is fine")

	require.NoError(t, store.Save(ctx, sampleSnapshot(time.Now())))
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

// The snapshot schema has no field that could carry a credential; this pins
// the written JSON down so a regression shows up as a test failure, not a
// leaked token.
func TestFileStoreNeverWritesTokenMaterial(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(ctx, sampleSnapshot(time.Now())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for key := range raw {
		assert.NotContains(t, key, "token")
		assert.NotContains(t, key, "Token")
	}
	assert.NotContains(t, string(data), "accessToken")
	assert.NotContains(t, string(data), "refreshToken")
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	snap := sampleSnapshot(now)
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.User.ID, got.User.ID)

	// Returned snapshot is a copy.
	got.Anonymous = true
	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, again.Anonymous)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStoreLoadDelayHonorsContext(t *testing.T) {
	store := NewMemoryStore()
	store.LoadDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
