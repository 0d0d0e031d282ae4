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

func testIssueUpdate(userID, key string) *models.Update {
	return &models.Update{
		UserID:      userID,
		UpdateType:  models.UpdateTypeIssueUpdated,
		ExternalID:  key,
		Title:       "Fix login flow",
		Description: "Session cookie drops on redirect",
		Author:      "lin",
		Status:      "In Progress",
		Priority:    "High",
		Project:     "WEB",
	}
}

func TestUpdateStore_UpsertRegeneratesContentText(t *testing.T) {
	db := util.SetupTestDatabase(t)
	updates := NewPGUpdateStore(db)
	ctx := context.Background()

	u := testIssueUpdate("user-1", "WEB-42")
	created, err := updates.Upsert(ctx, u)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, u.ContentText, "WEB-42")
	assert.Contains(t, u.ContentText, "Fix login flow")

	u2 := testIssueUpdate("user-1", "WEB-42")
	u2.Status = "Done"
	created, err = updates.Upsert(ctx, u2)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := updates.List(ctx, "user-1", models.UpdateFilter{ExternalIDs: []string{"WEB-42"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].ContentText, "Done")
	assert.NotContains(t, got[0].ContentText, "In Progress")
}

func TestUpdateStore_LinkedMeetingSurvivesReingest(t *testing.T) {
	db := util.SetupTestDatabase(t)
	meetings := NewPGMeetingStore(db)
	updates := NewPGUpdateStore(db)
	ctx := context.Background()

	m := testMeeting("user-1", "ext-1")
	_, err := meetings.Upsert(ctx, m)
	require.NoError(t, err)

	u := testIssueUpdate("user-1", "WEB-7")
	_, err = updates.Upsert(ctx, u)
	require.NoError(t, err)
	require.NoError(t, updates.SetLinkedMeeting(ctx, "user-1", u.ID, m.ID))

	// Provider re-ingest carries no link; the stored one survives.
	again := testIssueUpdate("user-1", "WEB-7")
	_, err = updates.Upsert(ctx, again)
	require.NoError(t, err)

	got, err := updates.List(ctx, "user-1", models.UpdateFilter{ExternalIDs: []string{"WEB-7"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LinkedMeetingID)
	assert.Equal(t, m.ID, *got[0].LinkedMeetingID)
}

func TestUpdateStore_AddLinkedKeysSurvivesReingest(t *testing.T) {
	db := util.SetupTestDatabase(t)
	updates := NewPGUpdateStore(db)
	ctx := context.Background()

	u := testIssueUpdate("user-1", "WEB-9")
	_, err := updates.Upsert(ctx, u)
	require.NoError(t, err)

	require.NoError(t, updates.AddLinkedKeys(ctx, "user-1", u.ID, []string{"org/repo#3"}))
	// Duplicates are dropped, new keys appended.
	require.NoError(t, updates.AddLinkedKeys(ctx, "user-1", u.ID, []string{"org/repo#3", "org/repo@abc"}))

	// Issue re-ingest carries no keys; the back-references survive.
	_, err = updates.Upsert(ctx, testIssueUpdate("user-1", "WEB-9"))
	require.NoError(t, err)

	got, err := updates.List(ctx, "user-1", models.UpdateFilter{ExternalIDs: []string{"WEB-9"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"org/repo#3", "org/repo@abc"}, got[0].LinkedExternalKeys)

	err = updates.AddLinkedKeys(ctx, "user-1", 99999, []string{"x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateStore_DeleteMissing(t *testing.T) {
	db := util.SetupTestDatabase(t)
	updates := NewPGUpdateStore(db)
	ctx := context.Background()

	for _, key := range []string{"WEB-1", "WEB-2", "WEB-3"} {
		_, err := updates.Upsert(ctx, testIssueUpdate("user-1", key))
		require.NoError(t, err)
	}
	// Code rows are outside the reconciled types and must survive.
	pr := &models.Update{
		UserID: "user-1", UpdateType: models.UpdateTypeCodePR,
		ExternalID: "org/repo#12", Title: "Add retry",
	}
	_, err := updates.Upsert(ctx, pr)
	require.NoError(t, err)

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	deleted, total, err := updates.DeleteMissing(ctx, "user-1",
		models.IssueUpdateTypes, from, to, []string{"WEB-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, int64(3), total)

	remaining, err := updates.List(ctx, "user-1", models.UpdateFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	ids := []string{remaining[0].ExternalID, remaining[1].ExternalID}
	assert.ElementsMatch(t, []string{"WEB-2", "org/repo#12"}, ids)
}

func TestUpdateStore_ListSearchAndTypes(t *testing.T) {
	db := util.SetupTestDatabase(t)
	updates := NewPGUpdateStore(db)
	ctx := context.Background()

	_, err := updates.Upsert(ctx, testIssueUpdate("user-1", "WEB-1"))
	require.NoError(t, err)
	commit := &models.Update{
		UserID: "user-1", UpdateType: models.UpdateTypeCodeCommit,
		ExternalID: "deadbeef", Title: "refactor session store",
		LinkedExternalKeys: []string{"WEB-1"},
	}
	_, err = updates.Upsert(ctx, commit)
	require.NoError(t, err)

	byType, err := updates.List(ctx, "user-1", models.UpdateFilter{
		Types: []models.UpdateType{models.UpdateTypeCodeCommit},
	})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "deadbeef", byType[0].ExternalID)

	// Substring match is case-insensitive and hits linked keys too.
	bySearch, err := updates.List(ctx, "user-1", models.UpdateFilter{Search: "web-1"})
	require.NoError(t, err)
	assert.Len(t, bySearch, 2)
}

func TestUpdateStore_DeleteOlderThan(t *testing.T) {
	db := util.SetupTestDatabase(t)
	updates := NewPGUpdateStore(db)
	ctx := context.Background()

	_, err := updates.Upsert(ctx, testIssueUpdate("user-1", "WEB-1"))
	require.NoError(t, err)

	n, err := updates.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = updates.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
