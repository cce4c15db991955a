package database

import (
	"database/sql"
	"errors"
	"fmt"

	"forum-mailer/models"
)

// PostDB handles post and discussion persistence.
type PostDB struct {
	db *sql.DB
}

// NewPostDB creates a new post store.
func NewPostDB(db *sql.DB) *PostDB {
	return &PostDB{db: db}
}

const postColumns = "id, discussion_id, parent_id, author_id, subject, message, created, modified, mailed, mail_now"

func scanPost(row interface{ Scan(...interface{}) error }) (*models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.DiscussionID, &p.ParentID, &p.AuthorID, &p.Subject,
		&p.Message, &p.Created, &p.Modified, &p.Mailed, &p.MailNow)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPost retrieves a single post by id.
func (pdb *PostDB) GetPost(id int64) (*models.Post, error) {
	row := pdb.db.QueryRow("SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query post %d: %w", id, err)
	}
	return p, nil
}

// InsertPost saves a post and fills in its generated id.
func (pdb *PostDB) InsertPost(p *models.Post) error {
	res, err := pdb.db.Exec(`
        INSERT INTO posts (discussion_id, parent_id, author_id, subject, message, created, modified, mailed, mail_now)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.DiscussionID, p.ParentID, p.AuthorID, p.Subject, p.Message,
		p.Created, p.Modified, p.Mailed, p.MailNow)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted post id: %w", err)
	}
	return nil
}

// CollectUnmailed selects posts eligible for immediate notification: status
// pending and created within [start, end), or flagged mail-now regardless of
// the window. With timed posts enabled, the discussion's visibility window
// must be open at now, and the lower bound relaxes to also pick up older
// posts whose discussion only opened at or after start (they were hidden on
// every earlier pass, so the window never covered them). Ordered by
// modification time ascending so replies are delivered after the posts they
// answer (In-Reply-To chains rely on this).
func (pdb *PostDB) CollectUnmailed(start, end, now int64, timedPosts bool) ([]models.Post, error) {
	query := `
        SELECT p.id, p.discussion_id, p.parent_id, p.author_id, p.subject,
               p.message, p.created, p.modified, p.mailed, p.mail_now
        FROM posts p
        JOIN discussions d ON d.id = p.discussion_id
        WHERE p.mailed = ?`
	var args []interface{}

	if timedPosts {
		query += `
          AND (((p.created >= ? OR d.time_start >= ?) AND p.created < ?) OR p.mail_now = 1)
          AND d.time_start < ?
          AND (d.time_end = 0 OR d.time_end > ?)`
		args = []interface{}{models.MailedPending, start, start, end, now, now}
	} else {
		query += `
          AND ((p.created >= ? AND p.created < ?) OR p.mail_now = 1)`
		args = []interface{}{models.MailedPending, start, end}
	}

	query += " ORDER BY p.modified ASC"

	rows, err := pdb.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmailed posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unmailed post: %w", err)
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// MarkMailed transitions posts out of pending. Only posts still pending are
// touched, so a status set by a concurrent pass is never overwritten.
func (pdb *PostDB) MarkMailed(ids []int64, status models.MailedStatus) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("UPDATE posts SET mailed = ? WHERE mailed = ? AND id IN (%s)", placeholders(len(ids)))
	args := append([]interface{}{status, models.MailedPending}, int64Args(ids)...)
	if _, err := pdb.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to mark %d posts as mailed: %w", len(ids), err)
	}
	return nil
}

// AncestorChain returns the ids of the post's ancestors, oldest first, not
// including the post itself. The whole discussion's parent links are loaded
// into an adjacency map and walked iteratively; very long threads must not
// recurse.
func (pdb *PostDB) AncestorChain(postID int64) ([]int64, error) {
	rows, err := pdb.db.Query(`
        SELECT id, parent_id FROM posts
        WHERE discussion_id = (SELECT discussion_id FROM posts WHERE id = ?)`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussion posts for %d: %w", postID, err)
	}
	defer rows.Close()

	parents := make(map[int64]int64)
	for rows.Next() {
		var id, parent int64
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan parent link: %w", err)
		}
		parents[id] = parent
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, ok := parents[postID]; !ok {
		return nil, ErrNotFound
	}

	var chain []int64
	seen := map[int64]bool{postID: true}
	for id := parents[postID]; id != 0; id = parents[id] {
		if seen[id] {
			// Corrupted parent links could form a cycle.
			break
		}
		seen[id] = true
		chain = append(chain, id)
	}

	// Walked child-to-parent; reverse to oldest first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// UserHasPosted reports whether the user has any post in the discussion.
// Q&A forums only notify users about replies in discussions they posted in.
func (pdb *PostDB) UserHasPosted(discussionID, userID int64) (bool, error) {
	var count int
	err := pdb.db.QueryRow(
		"SELECT COUNT(*) FROM posts WHERE discussion_id = ? AND author_id = ?",
		discussionID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query posts of user %d in discussion %d: %w", userID, discussionID, err)
	}
	return count > 0, nil
}
