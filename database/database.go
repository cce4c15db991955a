package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // Import the SQLite3 driver
)

// ErrNotFound is returned when a referenced entity does not exist. During
// batch processing a stale reference is an expected outcome, not a failure.
var ErrNotFound = errors.New("not found")

// InitDB initializes the database connection. It takes the database path as
// input and creates the schema if it does not exist yet.
func InitDB(dbPath string) (*sql.DB, error) {
	// Ensure the directory for the database file exists.
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open the SQLite database. It will be created if it doesn't exist.
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Ping the database to verify the connection.
	if err = db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("Successfully connected to the database at", dbPath)
	return db, nil
}

// createTables creates all tables and indexes if they don't exist.
func createTables(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS courses (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        short_name TEXT NOT NULL,
        full_name TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        email TEXT NOT NULL,
        first_name TEXT NOT NULL DEFAULT '',
        last_name TEXT NOT NULL DEFAULT '',
        mail_digest INTEGER NOT NULL DEFAULT 0,
        deleted INTEGER NOT NULL DEFAULT 0,
        description TEXT NOT NULL DEFAULT '',
        city TEXT NOT NULL DEFAULT '',
        country TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS enrolments (
        user_id INTEGER NOT NULL,
        course_id INTEGER NOT NULL,
        PRIMARY KEY (user_id, course_id)
    );

    CREATE TABLE IF NOT EXISTS groups (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        course_id INTEGER NOT NULL,
        name TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS group_members (
        group_id INTEGER NOT NULL,
        user_id INTEGER NOT NULL,
        PRIMARY KEY (group_id, user_id)
    );

    CREATE TABLE IF NOT EXISTS forums (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        course_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        type TEXT NOT NULL DEFAULT 'general',
        subscription_mode INTEGER NOT NULL DEFAULT 0,
        tracking_type INTEGER NOT NULL DEFAULT 1,
        group_mode INTEGER NOT NULL DEFAULT 0
    );

    CREATE TABLE IF NOT EXISTS discussions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        forum_id INTEGER NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        group_id INTEGER NOT NULL DEFAULT -1,
        author_id INTEGER NOT NULL DEFAULT 0,
        pinned INTEGER NOT NULL DEFAULT 0,
        time_start INTEGER NOT NULL DEFAULT 0,
        time_end INTEGER NOT NULL DEFAULT 0,
        first_post_id INTEGER NOT NULL DEFAULT 0
    );

    CREATE TABLE IF NOT EXISTS posts (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        discussion_id INTEGER NOT NULL,
        parent_id INTEGER NOT NULL DEFAULT 0,
        author_id INTEGER NOT NULL,
        subject TEXT NOT NULL DEFAULT '',
        message TEXT NOT NULL DEFAULT '',
        created INTEGER NOT NULL,
        modified INTEGER NOT NULL,
        mailed INTEGER NOT NULL DEFAULT 0,
        mail_now INTEGER NOT NULL DEFAULT 0
    );

    CREATE TABLE IF NOT EXISTS forum_subscriptions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        forum_id INTEGER NOT NULL,
        UNIQUE (user_id, forum_id)
    );

    CREATE TABLE IF NOT EXISTS discussion_subscriptions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        discussion_id INTEGER NOT NULL,
        preference INTEGER NOT NULL DEFAULT 0,
        UNIQUE (user_id, discussion_id)
    );

    CREATE TABLE IF NOT EXISTS digest_preferences (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        forum_id INTEGER NOT NULL,
        mail_digest INTEGER NOT NULL DEFAULT -1,
        UNIQUE (user_id, forum_id)
    );

    CREATE TABLE IF NOT EXISTS digest_queue (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        discussion_id INTEGER NOT NULL,
        post_id INTEGER NOT NULL,
        timestamp INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS forum_read (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        post_id INTEGER NOT NULL,
        discussion_id INTEGER NOT NULL,
        forum_id INTEGER NOT NULL,
        first_read INTEGER NOT NULL,
        last_read INTEGER NOT NULL,
        UNIQUE (user_id, post_id)
    );

    CREATE TABLE IF NOT EXISTS tracking_prefs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        forum_id INTEGER NOT NULL,
        UNIQUE (user_id, forum_id)
    );

    CREATE INDEX IF NOT EXISTS idx_posts_mailed ON posts(mailed, created);
    CREATE INDEX IF NOT EXISTS idx_posts_discussion ON posts(discussion_id);
    CREATE INDEX IF NOT EXISTS idx_discussions_forum ON discussions(forum_id);
    CREATE INDEX IF NOT EXISTS idx_read_user_post ON forum_read(user_id, post_id);
    CREATE INDEX IF NOT EXISTS idx_read_post ON forum_read(post_id);
    CREATE INDEX IF NOT EXISTS idx_queue_user ON digest_queue(user_id, timestamp);
    CREATE INDEX IF NOT EXISTS idx_queue_timestamp ON digest_queue(timestamp);
    CREATE INDEX IF NOT EXISTS idx_subscriptions_forum ON forum_subscriptions(forum_id);
    `

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema statements: %w", err)
	}
	return nil
}

// placeholders returns "?,?,...,?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	p := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			p = append(p, ',')
		}
		p = append(p, '?')
	}
	return string(p)
}

// int64Args converts ids to driver arguments.
func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
