package database

import (
	"database/sql"
	"errors"
	"fmt"

	"forum-mailer/models"
)

// ReadDB handles read-record persistence. The batching and tracking policy
// live in the tracker package; this store executes the raw two-phase writes.
type ReadDB struct {
	db *sql.DB
}

// NewReadDB creates a new read-record store.
func NewReadDB(db *sql.DB) *ReadDB {
	return &ReadDB{db: db}
}

// InsertMissing creates read records for the given posts where none exist
// yet. Posts modified before oldCutoff are skipped: old posts are read by
// definition and must never grow a record, which bounds table growth.
// Duplicate inserts for the same (user, post) are no-ops, not errors.
func (rdb *ReadDB) InsertMissing(userID int64, postIDs []int64, now, oldCutoff int64) error {
	if len(postIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
        INSERT OR IGNORE INTO forum_read (user_id, post_id, discussion_id, forum_id, first_read, last_read)
        SELECT ?, p.id, p.discussion_id, d.forum_id, ?, ?
        FROM posts p
        JOIN discussions d ON d.id = p.discussion_id
        WHERE p.id IN (%s) AND p.modified >= ?`, placeholders(len(postIDs)))
	args := append([]interface{}{userID, now, now}, int64Args(postIDs)...)
	args = append(args, oldCutoff)
	if _, err := rdb.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to insert read records for user %d: %w", userID, err)
	}
	return nil
}

// UpdateLastRead bumps the last-read time of all matching records.
func (rdb *ReadDB) UpdateLastRead(userID int64, postIDs []int64, now int64) error {
	if len(postIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		"UPDATE forum_read SET last_read = ? WHERE user_id = ? AND post_id IN (%s)",
		placeholders(len(postIDs)))
	args := append([]interface{}{now, userID}, int64Args(postIDs)...)
	if _, err := rdb.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update last read for user %d: %w", userID, err)
	}
	return nil
}

// Exists reports whether a read record is present for (user, post).
func (rdb *ReadDB) Exists(userID, postID int64) (bool, error) {
	var count int
	err := rdb.db.QueryRow(
		"SELECT COUNT(*) FROM forum_read WHERE user_id = ? AND post_id = ?",
		userID, postID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query read record: %w", err)
	}
	return count > 0, nil
}

// Get retrieves the read record for (user, post).
func (rdb *ReadDB) Get(userID, postID int64) (*models.ReadRecord, error) {
	var r models.ReadRecord
	err := rdb.db.QueryRow(`
        SELECT id, user_id, post_id, discussion_id, forum_id, first_read, last_read
        FROM forum_read WHERE user_id = ? AND post_id = ?`, userID, postID).
		Scan(&r.ID, &r.UserID, &r.PostID, &r.DiscussionID, &r.ForumID, &r.FirstRead, &r.LastRead)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query read record: %w", err)
	}
	return &r, nil
}

// UnreadPostIDs returns the posts of a forum the user has not read yet:
// modified within the retention window and without a read record. A
// non-negative groupID restricts the result to that group's discussions
// plus the all-participants ones.
func (rdb *ReadDB) UnreadPostIDs(userID, forumID, groupID, oldCutoff int64) ([]int64, error) {
	query := `
        SELECT p.id FROM posts p
        JOIN discussions d ON d.id = p.discussion_id
        LEFT JOIN forum_read r ON r.user_id = ? AND r.post_id = p.id
        WHERE d.forum_id = ? AND p.modified >= ? AND r.id IS NULL`
	args := []interface{}{userID, forumID, oldCutoff}
	if groupID >= 0 {
		query += " AND d.group_id IN (?, ?)"
		args = append(args, groupID, models.GroupEveryone)
	}
	query += " ORDER BY p.id"

	return rdb.queryIDs(query, args...)
}

// UnreadDiscussionPostIDs is UnreadPostIDs scoped to one discussion.
func (rdb *ReadDB) UnreadDiscussionPostIDs(userID, discussionID, oldCutoff int64) ([]int64, error) {
	return rdb.queryIDs(`
        SELECT p.id FROM posts p
        LEFT JOIN forum_read r ON r.user_id = ? AND r.post_id = p.id
        WHERE p.discussion_id = ? AND p.modified >= ? AND r.id IS NULL
        ORDER BY p.id`, userID, discussionID, oldCutoff)
}

// CountUnreadInForum counts unread posts within the retention window.
// When restrictGroups is set, only discussions open to everyone or to one
// of the given groups are counted (separate-groups mode).
func (rdb *ReadDB) CountUnreadInForum(userID, forumID, oldCutoff int64, restrictGroups bool, groupIDs []int64) (int, error) {
	query := `
        SELECT COUNT(p.id) FROM posts p
        JOIN discussions d ON d.id = p.discussion_id
        LEFT JOIN forum_read r ON r.user_id = ? AND r.post_id = p.id
        WHERE d.forum_id = ? AND p.modified >= ? AND r.id IS NULL`
	args := []interface{}{userID, forumID, oldCutoff}
	if restrictGroups {
		query += fmt.Sprintf(" AND d.group_id IN (?%s)",
			commaPrefixed(len(groupIDs)))
		args = append(args, models.GroupEveryone)
		args = append(args, int64Args(groupIDs)...)
	}

	var count int
	if err := rdb.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread posts in forum %d: %w", forumID, err)
	}
	return count, nil
}

// DeleteOlderThan purges read records whose post was last modified before
// the cutoff. Those posts are implicitly read from then on.
func (rdb *ReadDB) DeleteOlderThan(modifiedCutoff int64) (int64, error) {
	res, err := rdb.db.Exec(
		"DELETE FROM forum_read WHERE post_id IN (SELECT id FROM posts WHERE modified < ?)",
		modifiedCutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old read records: %w", err)
	}
	return res.RowsAffected()
}

func (rdb *ReadDB) queryIDs(query string, args ...interface{}) ([]int64, error) {
	rows, err := rdb.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query post ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// commaPrefixed returns ",?,?,...,?" for n extra parameters.
func commaPrefixed(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ",?"
	}
	return out
}
