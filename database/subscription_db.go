package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// SubscriptionDB handles forum-level subscriptions and per-discussion
// overrides. Policy (forced/disallowed modes, purges) lives in the
// subscription resolver; this store is plain CRUD.
type SubscriptionDB struct {
	db *sql.DB
}

// NewSubscriptionDB creates a new subscription store.
func NewSubscriptionDB(db *sql.DB) *SubscriptionDB {
	return &SubscriptionDB{db: db}
}

// Add inserts a forum-level subscription; duplicates are no-ops.
func (sdb *SubscriptionDB) Add(userID, forumID int64) error {
	if _, err := sdb.db.Exec(
		"INSERT OR IGNORE INTO forum_subscriptions (user_id, forum_id) VALUES (?, ?)",
		userID, forumID); err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// AddAll subscribes every given user in one transaction, skipping users
// already subscribed. Used on the transition into initial mode.
func (sdb *SubscriptionDB) AddAll(forumID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	tx, err := sdb.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin subscription transaction: %w", err)
	}
	stmt, err := tx.Prepare("INSERT OR IGNORE INTO forum_subscriptions (user_id, forum_id) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare subscription insert: %w", err)
	}
	defer stmt.Close()

	for _, uid := range userIDs {
		if _, err := stmt.Exec(uid, forumID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to subscribe user %d: %w", uid, err)
		}
	}
	return tx.Commit()
}

// Remove deletes the forum-level subscription together with the user's
// discussion overrides in that forum.
func (sdb *SubscriptionDB) Remove(userID, forumID int64) error {
	if _, err := sdb.db.Exec(
		"DELETE FROM forum_subscriptions WHERE user_id = ? AND forum_id = ?",
		userID, forumID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if _, err := sdb.db.Exec(`
        DELETE FROM discussion_subscriptions
        WHERE user_id = ? AND discussion_id IN (SELECT id FROM discussions WHERE forum_id = ?)`,
		userID, forumID); err != nil {
		return fmt.Errorf("failed to delete discussion overrides: %w", err)
	}
	return nil
}

// Exists reports whether a forum-level subscription row is present.
func (sdb *SubscriptionDB) Exists(userID, forumID int64) (bool, error) {
	var count int
	err := sdb.db.QueryRow(
		"SELECT COUNT(*) FROM forum_subscriptions WHERE user_id = ? AND forum_id = ?",
		userID, forumID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query subscription: %w", err)
	}
	return count > 0, nil
}

// SubscriberIDs returns all users holding a forum-level subscription row.
func (sdb *SubscriptionDB) SubscriberIDs(forumID int64) ([]int64, error) {
	rows, err := sdb.db.Query(
		"SELECT user_id FROM forum_subscriptions WHERE forum_id = ? ORDER BY user_id", forumID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers of forum %d: %w", forumID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RemoveAllExcept purges every subscription of a forum apart from the given
// users. Used when subscriptions become disallowed: managers keep theirs.
func (sdb *SubscriptionDB) RemoveAllExcept(forumID int64, keep []int64) error {
	query := "DELETE FROM forum_subscriptions WHERE forum_id = ?"
	args := []interface{}{forumID}
	if len(keep) > 0 {
		query += fmt.Sprintf(" AND user_id NOT IN (%s)", placeholders(len(keep)))
		args = append(args, int64Args(keep)...)
	}
	if _, err := sdb.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to purge subscriptions of forum %d: %w", forumID, err)
	}
	return nil
}

// SetDiscussionPreference stores a per-discussion override. Preference is
// models.DiscussionUnsubscribed or the Unix time of subscribing.
func (sdb *SubscriptionDB) SetDiscussionPreference(userID, discussionID, preference int64) error {
	if _, err := sdb.db.Exec(`
        INSERT INTO discussion_subscriptions (user_id, discussion_id, preference)
        VALUES (?, ?, ?)
        ON CONFLICT(user_id, discussion_id) DO UPDATE SET preference = excluded.preference`,
		userID, discussionID, preference); err != nil {
		return fmt.Errorf("failed to store discussion preference: %w", err)
	}
	return nil
}

// RemoveDiscussionPreference deletes a per-discussion override, restoring
// the forum-level behaviour for that discussion.
func (sdb *SubscriptionDB) RemoveDiscussionPreference(userID, discussionID int64) error {
	if _, err := sdb.db.Exec(
		"DELETE FROM discussion_subscriptions WHERE user_id = ? AND discussion_id = ?",
		userID, discussionID); err != nil {
		return fmt.Errorf("failed to delete discussion preference: %w", err)
	}
	return nil
}

// DiscussionPreference returns the override for one (user, discussion), or
// found=false when no override exists.
func (sdb *SubscriptionDB) DiscussionPreference(userID, discussionID int64) (preference int64, found bool, err error) {
	err = sdb.db.QueryRow(
		"SELECT preference FROM discussion_subscriptions WHERE user_id = ? AND discussion_id = ?",
		userID, discussionID).Scan(&preference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query discussion preference: %w", err)
	}
	return preference, true, nil
}

// DiscussionPreferencesForForum bulk-loads all overrides within a forum as
// userID -> discussionID -> preference. The dispatcher fetches this once per
// forum per pass.
func (sdb *SubscriptionDB) DiscussionPreferencesForForum(forumID int64) (map[int64]map[int64]int64, error) {
	rows, err := sdb.db.Query(`
        SELECT ds.user_id, ds.discussion_id, ds.preference
        FROM discussion_subscriptions ds
        JOIN discussions d ON d.id = ds.discussion_id
        WHERE d.forum_id = ?`, forumID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussion overrides of forum %d: %w", forumID, err)
	}
	defer rows.Close()

	prefs := make(map[int64]map[int64]int64)
	for rows.Next() {
		var userID, discussionID, preference int64
		if err := rows.Scan(&userID, &discussionID, &preference); err != nil {
			return nil, fmt.Errorf("failed to scan discussion override: %w", err)
		}
		if prefs[userID] == nil {
			prefs[userID] = make(map[int64]int64)
		}
		prefs[userID][discussionID] = preference
	}
	return prefs, rows.Err()
}
