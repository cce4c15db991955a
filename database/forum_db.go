package database

import (
	"database/sql"
	"errors"
	"fmt"

	"forum-mailer/models"
)

// ForumDB handles forum, discussion and course lookups.
type ForumDB struct {
	db *sql.DB
}

// NewForumDB creates a new forum store.
func NewForumDB(db *sql.DB) *ForumDB {
	return &ForumDB{db: db}
}

// GetForum retrieves a forum by id.
func (fdb *ForumDB) GetForum(id int64) (*models.Forum, error) {
	var f models.Forum
	err := fdb.db.QueryRow(`
        SELECT id, course_id, name, type, subscription_mode, tracking_type, group_mode
        FROM forums WHERE id = ?`, id).
		Scan(&f.ID, &f.CourseID, &f.Name, &f.Type, &f.SubscriptionMode, &f.TrackingType, &f.GroupMode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query forum %d: %w", id, err)
	}
	return &f, nil
}

// GetDiscussion retrieves a discussion by id.
func (fdb *ForumDB) GetDiscussion(id int64) (*models.Discussion, error) {
	var d models.Discussion
	err := fdb.db.QueryRow(`
        SELECT id, forum_id, name, group_id, author_id, pinned, time_start, time_end, first_post_id
        FROM discussions WHERE id = ?`, id).
		Scan(&d.ID, &d.ForumID, &d.Name, &d.GroupID, &d.AuthorID, &d.Pinned,
			&d.TimeStart, &d.TimeEnd, &d.FirstPostID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query discussion %d: %w", id, err)
	}
	return &d, nil
}

// GetCourse retrieves a course by id.
func (fdb *ForumDB) GetCourse(id int64) (*models.Course, error) {
	var c models.Course
	err := fdb.db.QueryRow("SELECT id, short_name, full_name FROM courses WHERE id = ?", id).
		Scan(&c.ID, &c.ShortName, &c.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query course %d: %w", id, err)
	}
	return &c, nil
}

// ListForums returns all forums of a course.
func (fdb *ForumDB) ListForums(courseID int64) ([]models.Forum, error) {
	rows, err := fdb.db.Query(`
        SELECT id, course_id, name, type, subscription_mode, tracking_type, group_mode
        FROM forums WHERE course_id = ? ORDER BY id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query forums of course %d: %w", courseID, err)
	}
	defer rows.Close()

	var forums []models.Forum
	for rows.Next() {
		var f models.Forum
		if err := rows.Scan(&f.ID, &f.CourseID, &f.Name, &f.Type,
			&f.SubscriptionMode, &f.TrackingType, &f.GroupMode); err != nil {
			return nil, fmt.Errorf("failed to scan forum: %w", err)
		}
		forums = append(forums, f)
	}
	return forums, rows.Err()
}

// CreateCourse inserts a course and fills in its id.
func (fdb *ForumDB) CreateCourse(c *models.Course) error {
	res, err := fdb.db.Exec("INSERT INTO courses (short_name, full_name) VALUES (?, ?)",
		c.ShortName, c.FullName)
	if err != nil {
		return fmt.Errorf("failed to insert course: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// CreateForum inserts a forum and fills in its id.
func (fdb *ForumDB) CreateForum(f *models.Forum) error {
	res, err := fdb.db.Exec(`
        INSERT INTO forums (course_id, name, type, subscription_mode, tracking_type, group_mode)
        VALUES (?, ?, ?, ?, ?, ?)`,
		f.CourseID, f.Name, f.Type, f.SubscriptionMode, f.TrackingType, f.GroupMode)
	if err != nil {
		return fmt.Errorf("failed to insert forum: %w", err)
	}
	f.ID, err = res.LastInsertId()
	return err
}

// SetSubscriptionMode updates the stored subscription mode of a forum. The
// side effects of a mode change live in the subscription resolver.
func (fdb *ForumDB) SetSubscriptionMode(forumID int64, mode models.SubscriptionMode) error {
	res, err := fdb.db.Exec("UPDATE forums SET subscription_mode = ? WHERE id = ?", mode, forumID)
	if err != nil {
		return fmt.Errorf("failed to update subscription mode of forum %d: %w", forumID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateDiscussion inserts a discussion and fills in its id.
func (fdb *ForumDB) CreateDiscussion(d *models.Discussion) error {
	res, err := fdb.db.Exec(`
        INSERT INTO discussions (forum_id, name, group_id, author_id, pinned, time_start, time_end, first_post_id)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ForumID, d.Name, d.GroupID, d.AuthorID, d.Pinned, d.TimeStart, d.TimeEnd, d.FirstPostID)
	if err != nil {
		return fmt.Errorf("failed to insert discussion: %w", err)
	}
	d.ID, err = res.LastInsertId()
	return err
}

// SetFirstPost records the root post of a discussion after the authoring
// flow created it.
func (fdb *ForumDB) SetFirstPost(discussionID, postID int64) error {
	if _, err := fdb.db.Exec("UPDATE discussions SET first_post_id = ? WHERE id = ?", postID, discussionID); err != nil {
		return fmt.Errorf("failed to set first post of discussion %d: %w", discussionID, err)
	}
	return nil
}
