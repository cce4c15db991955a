package models

// DigestMode is a per-user or per-forum mail digest preference.
type DigestMode int

const (
	// DigestUseDefault is the per-forum sentinel meaning "use the user's
	// global default". It should not normally be stored, but stored values
	// are tolerated and treated as an absent override.
	DigestUseDefault DigestMode = -1
	// DigestOff sends one email per post immediately.
	DigestOff DigestMode = 0
	// DigestFull defers posts into one daily email with complete bodies.
	DigestFull DigestMode = 1
	// DigestSubjects defers posts into one daily email of subjects only.
	DigestSubjects DigestMode = 2
)

// Valid reports whether the mode is acceptable on a user-facing set
// operation.
func (m DigestMode) Valid() bool {
	switch m {
	case DigestUseDefault, DigestOff, DigestFull, DigestSubjects:
		return true
	}
	return false
}

// Deferred reports whether posts should be queued for the daily digest
// instead of mailed immediately.
func (m DigestMode) Deferred() bool {
	return m == DigestFull || m == DigestSubjects
}

// DigestPreference is a per-(user, forum) digest override.
type DigestPreference struct {
	ID         int64      `db:"id"`
	UserID     int64      `db:"user_id"`
	ForumID    int64      `db:"forum_id"`
	MailDigest DigestMode `db:"mail_digest"`
}

// DigestQueueEntry defers one post for one user into the next daily digest.
type DigestQueueEntry struct {
	ID           int64 `db:"id"`
	UserID       int64 `db:"user_id"`
	DiscussionID int64 `db:"discussion_id"`
	PostID       int64 `db:"post_id"`
	Timestamp    int64 `db:"timestamp"`
}
