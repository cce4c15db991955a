package database

import (
	"database/sql"
	"errors"
	"fmt"

	"forum-mailer/models"
)

// UserDB handles user, enrolment and group membership lookups.
type UserDB struct {
	db *sql.DB
}

// NewUserDB creates a new user store.
func NewUserDB(db *sql.DB) *UserDB {
	return &UserDB{db: db}
}

// GetUser retrieves a user by id. Deleted users are reported as not found;
// mailing must never target them.
func (udb *UserDB) GetUser(id int64) (*models.User, error) {
	var u models.User
	err := udb.db.QueryRow(`
        SELECT id, username, email, first_name, last_name, mail_digest, deleted, description, city, country
        FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
			&u.MailDigest, &u.Deleted, &u.Description, &u.City, &u.Country)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user %d: %w", id, err)
	}
	if u.Deleted {
		return nil, ErrNotFound
	}
	return &u, nil
}

// CreateUser inserts a user and fills in the generated id.
func (udb *UserDB) CreateUser(u *models.User) error {
	res, err := udb.db.Exec(`
        INSERT INTO users (username, email, first_name, last_name, mail_digest, deleted, description, city, country)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.FirstName, u.LastName, u.MailDigest, u.Deleted,
		u.Description, u.City, u.Country)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// SetMailDigest updates the user's global digest default.
func (udb *UserDB) SetMailDigest(userID int64, mode models.DigestMode) error {
	if !mode.Valid() || mode == models.DigestUseDefault {
		return fmt.Errorf("invalid digest mode %d for user default", mode)
	}
	if _, err := udb.db.Exec("UPDATE users SET mail_digest = ? WHERE id = ?", mode, userID); err != nil {
		return fmt.Errorf("failed to update digest default of user %d: %w", userID, err)
	}
	return nil
}

// Enrol adds a user to a course.
func (udb *UserDB) Enrol(userID, courseID int64) error {
	if _, err := udb.db.Exec(
		"INSERT OR IGNORE INTO enrolments (user_id, course_id) VALUES (?, ?)",
		userID, courseID); err != nil {
		return fmt.Errorf("failed to enrol user %d in course %d: %w", userID, courseID, err)
	}
	return nil
}

// EnrolledUserIDs returns the ids of all non-deleted users enrolled in a
// course.
func (udb *UserDB) EnrolledUserIDs(courseID int64) ([]int64, error) {
	rows, err := udb.db.Query(`
        SELECT e.user_id FROM enrolments e
        JOIN users u ON u.id = e.user_id
        WHERE e.course_id = ? AND u.deleted = 0
        ORDER BY e.user_id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrolments of course %d: %w", courseID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan enrolment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddGroupMember puts a user into a group.
func (udb *UserDB) AddGroupMember(groupID, userID int64) error {
	if _, err := udb.db.Exec(
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)",
		groupID, userID); err != nil {
		return fmt.Errorf("failed to add user %d to group %d: %w", userID, groupID, err)
	}
	return nil
}

// IsGroupMember reports whether the user belongs to the group.
func (udb *UserDB) IsGroupMember(groupID, userID int64) (bool, error) {
	var count int
	err := udb.db.QueryRow(
		"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?",
		groupID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query group membership: %w", err)
	}
	return count > 0, nil
}

// UserGroupIDs returns the groups of the user within a course.
func (udb *UserDB) UserGroupIDs(userID, courseID int64) ([]int64, error) {
	rows, err := udb.db.Query(`
        SELECT g.id FROM groups g
        JOIN group_members m ON m.group_id = g.id
        WHERE m.user_id = ? AND g.course_id = ?`, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups of user %d: %w", userID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateGroup inserts a group and fills in its id.
func (udb *UserDB) CreateGroup(courseID int64, name string) (int64, error) {
	res, err := udb.db.Exec("INSERT INTO groups (course_id, name) VALUES (?, ?)", courseID, name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert group: %w", err)
	}
	return res.LastInsertId()
}

// TrackingDisabled reports whether the user opted out of read tracking for
// the forum. Only meaningful when the forum's tracking type is optional.
func (udb *UserDB) TrackingDisabled(userID, forumID int64) (bool, error) {
	var count int
	err := udb.db.QueryRow(
		"SELECT COUNT(*) FROM tracking_prefs WHERE user_id = ? AND forum_id = ?",
		userID, forumID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query tracking preference: %w", err)
	}
	return count > 0, nil
}

// StopTracking records a per-forum tracking opt-out.
func (udb *UserDB) StopTracking(userID, forumID int64) error {
	if _, err := udb.db.Exec(
		"INSERT OR IGNORE INTO tracking_prefs (user_id, forum_id) VALUES (?, ?)",
		userID, forumID); err != nil {
		return fmt.Errorf("failed to store tracking opt-out: %w", err)
	}
	return nil
}

// StartTracking removes a per-forum tracking opt-out.
func (udb *UserDB) StartTracking(userID, forumID int64) error {
	if _, err := udb.db.Exec(
		"DELETE FROM tracking_prefs WHERE user_id = ? AND forum_id = ?",
		userID, forumID); err != nil {
		return fmt.Errorf("failed to remove tracking opt-out: %w", err)
	}
	return nil
}
