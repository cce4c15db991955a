package database

import (
	"database/sql"
	"errors"
	"fmt"

	"forum-mailer/models"
)

// DigestDB handles digest preferences and the digest queue.
type DigestDB struct {
	db *sql.DB
}

// NewDigestDB creates a new digest store.
func NewDigestDB(db *sql.DB) *DigestDB {
	return &DigestDB{db: db}
}

// SetPreference stores a per-forum digest override. Invalid modes are
// rejected before anything is persisted; the use-default sentinel deletes
// the override instead of storing it.
func (ddb *DigestDB) SetPreference(userID, forumID int64, mode models.DigestMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid digest mode %d", mode)
	}
	if mode == models.DigestUseDefault {
		if _, err := ddb.db.Exec(
			"DELETE FROM digest_preferences WHERE user_id = ? AND forum_id = ?",
			userID, forumID); err != nil {
			return fmt.Errorf("failed to delete digest preference: %w", err)
		}
		return nil
	}
	if _, err := ddb.db.Exec(`
        INSERT INTO digest_preferences (user_id, forum_id, mail_digest)
        VALUES (?, ?, ?)
        ON CONFLICT(user_id, forum_id) DO UPDATE SET mail_digest = excluded.mail_digest`,
		userID, forumID, mode); err != nil {
		return fmt.Errorf("failed to store digest preference: %w", err)
	}
	return nil
}

// Preference returns the stored override for one (user, forum), or
// found=false when no override exists. A stored use-default sentinel is
// reported as absent; callers fall back to the user's global default.
func (ddb *DigestDB) Preference(userID, forumID int64) (models.DigestMode, bool, error) {
	var mode models.DigestMode
	err := ddb.db.QueryRow(
		"SELECT mail_digest FROM digest_preferences WHERE user_id = ? AND forum_id = ?",
		userID, forumID).Scan(&mode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DigestUseDefault, false, nil
		}
		return models.DigestUseDefault, false, fmt.Errorf("failed to query digest preference: %w", err)
	}
	if mode == models.DigestUseDefault {
		return models.DigestUseDefault, false, nil
	}
	return mode, true, nil
}

// PreferencesForForum bulk-loads all overrides of a forum as
// userID -> mode, skipping stored use-default sentinels.
func (ddb *DigestDB) PreferencesForForum(forumID int64) (map[int64]models.DigestMode, error) {
	rows, err := ddb.db.Query(
		"SELECT user_id, mail_digest FROM digest_preferences WHERE forum_id = ?", forumID)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest preferences of forum %d: %w", forumID, err)
	}
	defer rows.Close()

	prefs := make(map[int64]models.DigestMode)
	for rows.Next() {
		var userID int64
		var mode models.DigestMode
		if err := rows.Scan(&userID, &mode); err != nil {
			return nil, fmt.Errorf("failed to scan digest preference: %w", err)
		}
		if mode == models.DigestUseDefault {
			continue
		}
		prefs[userID] = mode
	}
	return prefs, rows.Err()
}

// Enqueue defers a post into a user's next digest.
func (ddb *DigestDB) Enqueue(e *models.DigestQueueEntry) error {
	res, err := ddb.db.Exec(`
        INSERT INTO digest_queue (user_id, discussion_id, post_id, timestamp)
        VALUES (?, ?, ?, ?)`,
		e.UserID, e.DiscussionID, e.PostID, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to enqueue digest entry: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// EntriesBefore returns queue entries older than the cutoff, ordered by
// user, then discussion, then post id ascending. That is the order digests
// are composed in.
func (ddb *DigestDB) EntriesBefore(cutoff int64) ([]models.DigestQueueEntry, error) {
	rows, err := ddb.db.Query(`
        SELECT id, user_id, discussion_id, post_id, timestamp
        FROM digest_queue WHERE timestamp < ?
        ORDER BY user_id, discussion_id, post_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest queue: %w", err)
	}
	defer rows.Close()

	var entries []models.DigestQueueEntry
	for rows.Next() {
		var e models.DigestQueueEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.DiscussionID, &e.PostID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan digest entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurgeUser deletes one user's queue entries older than the cutoff. The
// digest dispatcher purges before composing, so a failed compose for one
// user can never double-deliver on the next run.
func (ddb *DigestDB) PurgeUser(userID, cutoff int64) error {
	if _, err := ddb.db.Exec(
		"DELETE FROM digest_queue WHERE user_id = ? AND timestamp < ?",
		userID, cutoff); err != nil {
		return fmt.Errorf("failed to purge digest queue of user %d: %w", userID, err)
	}
	return nil
}

// DeleteOlderThan unconditionally removes stale entries, protecting the
// queue against permanently stuck rows from abandoned digest runs.
func (ddb *DigestDB) DeleteOlderThan(cutoff int64) (int64, error) {
	res, err := ddb.db.Exec("DELETE FROM digest_queue WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale digest entries: %w", err)
	}
	return res.RowsAffected()
}

// QueueSize returns the number of pending digest entries.
func (ddb *DigestDB) QueueSize() (int64, error) {
	var count int64
	if err := ddb.db.QueryRow("SELECT COUNT(*) FROM digest_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count digest queue: %w", err)
	}
	return count, nil
}
