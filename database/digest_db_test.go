package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-mailer/models"
)

func TestDigestPreferenceRoundTrip(t *testing.T) {
	db := newTestDB(t)
	_, forumID, _ := seedForum(t, db)
	user := seedUser(t, db, "alice")
	ddb := NewDigestDB(db)

	_, found, err := ddb.Preference(user, forumID)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, ddb.SetPreference(user, forumID, models.DigestFull))
	mode, found, err := ddb.Preference(user, forumID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.DigestFull, mode)

	// Overwrite, not duplicate.
	require.NoError(t, ddb.SetPreference(user, forumID, models.DigestSubjects))
	mode, found, err = ddb.Preference(user, forumID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.DigestSubjects, mode)

	// Setting the sentinel removes the override.
	require.NoError(t, ddb.SetPreference(user, forumID, models.DigestUseDefault))
	_, found, err = ddb.Preference(user, forumID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDigestPreferenceRejectsInvalidMode(t *testing.T) {
	db := newTestDB(t)
	_, forumID, _ := seedForum(t, db)
	user := seedUser(t, db, "alice")

	err := NewDigestDB(db).SetPreference(user, forumID, models.DigestMode(7))
	require.Error(t, err)
}

func TestDigestPreferenceToleratesStoredSentinel(t *testing.T) {
	db := newTestDB(t)
	_, forumID, _ := seedForum(t, db)
	user := seedUser(t, db, "alice")
	other := seedUser(t, db, "bob")
	ddb := NewDigestDB(db)

	// Imported data may carry the sentinel as a stored row.
	_, err := db.Exec("INSERT INTO digest_preferences (user_id, forum_id, mail_digest) VALUES (?, ?, -1)", user, forumID)
	require.NoError(t, err)
	require.NoError(t, ddb.SetPreference(other, forumID, models.DigestFull))

	_, found, err := ddb.Preference(user, forumID)
	require.NoError(t, err)
	assert.False(t, found)

	prefs, err := ddb.PreferencesForForum(forumID)
	require.NoError(t, err)
	assert.NotContains(t, prefs, user)
	assert.Equal(t, models.DigestFull, prefs[other])
}

func TestDigestQueueOrderAndDrain(t *testing.T) {
	db := newTestDB(t)
	ddb := NewDigestDB(db)

	// Insert out of order; EntriesBefore must come back grouped by user,
	// then discussion, then post.
	for _, e := range []models.DigestQueueEntry{
		{UserID: 2, DiscussionID: 1, PostID: 9, Timestamp: 100},
		{UserID: 1, DiscussionID: 2, PostID: 5, Timestamp: 100},
		{UserID: 1, DiscussionID: 1, PostID: 7, Timestamp: 100},
		{UserID: 1, DiscussionID: 1, PostID: 3, Timestamp: 100},
		{UserID: 1, DiscussionID: 1, PostID: 4, Timestamp: 500},
	} {
		entry := e
		require.NoError(t, ddb.Enqueue(&entry))
	}

	entries, err := ddb.EntriesBefore(200)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, int64(3), entries[0].PostID)
	assert.Equal(t, int64(7), entries[1].PostID)
	assert.Equal(t, int64(5), entries[2].PostID)
	assert.Equal(t, int64(2), entries[3].UserID)

	require.NoError(t, ddb.PurgeUser(1, 200))
	size, err := ddb.QueueSize()
	require.NoError(t, err)
	assert.Equal(t, int64(2), size) // user 2's entry plus user 1's later one

	deleted, err := ddb.DeleteOlderThan(600)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
