package pg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
	"github.com/teamsync/core/test/util"
)

func TestCredentialStore_RoundTrip(t *testing.T) {
	db := util.SetupTestDatabase(t)
	creds := NewPGCredentialStore(db)
	ctx := context.Background()

	c := &models.Credential{
		UserID:         "user-1",
		Service:        models.ServiceIssues,
		AccessToken:    "at-1",
		RefreshToken:   "rt-1",
		TokenExpiresAt: time.Now().Add(time.Hour),
		AuthType:       models.AuthTypeOAuthSecret,
		Scopes:         []string{"read:jira-work", "offline_access"},
		Metadata:       map[string]string{models.CredMetaSiteID: "site-123"},
	}
	require.NoError(t, creds.Upsert(ctx, c))

	got, err := creds.Get(ctx, "user-1", models.ServiceIssues)
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, models.AuthTypeOAuthSecret, got.AuthType)
	assert.Equal(t, "site-123", got.Metadata[models.CredMetaSiteID])
	assert.False(t, got.ConnectedAt.IsZero())
}

func TestCredentialStore_GetMissing(t *testing.T) {
	db := util.SetupTestDatabase(t)
	creds := NewPGCredentialStore(db)

	_, err := creds.Get(context.Background(), "user-1", models.ServiceCalendar)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredentialStore_UpdateTokensKeepsRefreshWhenEmpty(t *testing.T) {
	db := util.SetupTestDatabase(t)
	creds := NewPGCredentialStore(db)
	ctx := context.Background()

	require.NoError(t, creds.Upsert(ctx, &models.Credential{
		UserID: "user-1", Service: models.ServiceCalendar,
		AccessToken: "at-old", RefreshToken: "rt-old",
		AuthType: models.AuthTypeOAuthPKCE,
	}))

	// Provider response without a rotated refresh token.
	require.NoError(t, creds.UpdateTokens(ctx, "user-1", models.ServiceCalendar,
		"at-new", "", time.Now().Add(time.Hour)))

	got, err := creds.Get(ctx, "user-1", models.ServiceCalendar)
	require.NoError(t, err)
	assert.Equal(t, "at-new", got.AccessToken)
	assert.Equal(t, "rt-old", got.RefreshToken)

	// Rotated refresh token replaces the stored one.
	require.NoError(t, creds.UpdateTokens(ctx, "user-1", models.ServiceCalendar,
		"at-newer", "rt-new", time.Now().Add(time.Hour)))
	got, err = creds.Get(ctx, "user-1", models.ServiceCalendar)
	require.NoError(t, err)
	assert.Equal(t, "rt-new", got.RefreshToken)
}

func TestCredentialStore_DeleteAndList(t *testing.T) {
	db := util.SetupTestDatabase(t)
	creds := NewPGCredentialStore(db)
	ctx := context.Background()

	for _, svc := range []models.Service{models.ServiceCalendar, models.ServiceCode} {
		require.NoError(t, creds.Upsert(ctx, &models.Credential{
			UserID: "user-1", Service: svc,
			AccessToken: "tok", AuthType: models.AuthTypePersonalToken,
		}))
	}

	list, err := creds.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, creds.Delete(ctx, "user-1", models.ServiceCalendar))
	_, err = creds.Get(ctx, "user-1", models.ServiceCalendar)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Deleting an absent row is not an error.
	assert.NoError(t, creds.Delete(ctx, "user-1", models.ServiceCalendar))
}

func TestCodeChunkStore_BatchAndRetention(t *testing.T) {
	db := util.SetupTestDatabase(t)
	chunks := NewPGCodeChunkStore(db)
	ctx := context.Background()

	repo := models.Repository{Owner: "acme", Name: "web"}
	batch := []*models.CodeChunk{
		{UserID: "user-1", Repo: repo, FilePath: "auth/login.go", ChunkType: "function", ChunkName: "Login", StartLine: 10, EndLine: 60, Language: "go"},
		{UserID: "user-1", Repo: repo, FilePath: "auth/login.go", ChunkType: "function", ChunkName: "Logout", StartLine: 62, EndLine: 90, Language: "go"},
		{UserID: "user-1", Repo: models.Repository{Owner: "acme", Name: "api"}, FilePath: "main.go", ChunkType: "function", ChunkName: "main", StartLine: 1, EndLine: 40, Language: "go"},
	}
	require.NoError(t, chunks.UpsertBatch(ctx, batch))
	// Re-indexing the same spans is idempotent.
	require.NoError(t, chunks.UpsertBatch(ctx, batch))

	repos, err := chunks.ListRepositories(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []models.Repository{
		{Owner: "acme", Name: "api"},
		{Owner: "acme", Name: "web"},
	}, repos)

	n, err := chunks.DeleteRepository(ctx, "user-1", repo)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = chunks.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
