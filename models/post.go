package models

// MailedStatus is the immediate-notification lifecycle flag of a post.
// It transitions pending -> success|error exactly once per mailing pass;
// a post is never re-mailed after leaving pending.
type MailedStatus int

const (
	MailedPending MailedStatus = 0
	MailedSuccess MailedStatus = 1
	MailedError   MailedStatus = 2
)

// GroupEveryone marks a discussion visible to all participants.
const GroupEveryone int64 = -1

// Post represents a single forum post. The message body is opaque to this
// service; rendering happens in the host system.
type Post struct {
	ID           int64        `db:"id"`
	DiscussionID int64        `db:"discussion_id"`
	ParentID     int64        `db:"parent_id"` // 0 = discussion root
	AuthorID     int64        `db:"author_id"`
	Subject      string       `db:"subject"`
	Message      string       `db:"message"`
	Created      int64        `db:"created"`  // Unix timestamp
	Modified     int64        `db:"modified"` // Unix timestamp
	Mailed       MailedStatus `db:"mailed"`
	MailNow      bool         `db:"mail_now"` // bypass the editing grace window
}

// Discussion is a thread within a forum, rooted at its first post.
type Discussion struct {
	ID          int64  `db:"id"`
	ForumID     int64  `db:"forum_id"`
	Name        string `db:"name"`
	GroupID     int64  `db:"group_id"` // GroupEveryone = no restriction
	AuthorID    int64  `db:"author_id"`
	Pinned      bool   `db:"pinned"`
	TimeStart   int64  `db:"time_start"` // 0 = unbounded
	TimeEnd     int64  `db:"time_end"`   // 0 = unbounded
	FirstPostID int64  `db:"first_post_id"`
}

// VisibleAt reports whether the discussion's timed window is open at the
// given time.
func (d *Discussion) VisibleAt(now int64) bool {
	if d.TimeStart != 0 && d.TimeStart > now {
		return false
	}
	if d.TimeEnd != 0 && d.TimeEnd <= now {
		return false
	}
	return true
}
