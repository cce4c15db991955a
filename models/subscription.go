package models

// Subscription is a forum-level subscription record.
type Subscription struct {
	ID      int64 `db:"id"`
	UserID  int64 `db:"user_id"`
	ForumID int64 `db:"forum_id"`
}

// DiscussionUnsubscribed is the preference value marking an explicit
// per-discussion unsubscribe.
const DiscussionUnsubscribed int64 = -1

// DiscussionSubscription is a per-discussion override of the forum-level
// subscription. Preference is either DiscussionUnsubscribed or the Unix
// time the user subscribed; posts created before that time are not mailed
// to the user.
type DiscussionSubscription struct {
	ID           int64 `db:"id"`
	UserID       int64 `db:"user_id"`
	DiscussionID int64 `db:"discussion_id"`
	Preference   int64 `db:"preference"`
}

// ReadRecord tracks that a user has read a post. At most one record exists
// per (user, post); records are purged once the post ages past the
// retention window, after which the post counts as read implicitly.
type ReadRecord struct {
	ID           int64 `db:"id"`
	UserID       int64 `db:"user_id"`
	PostID       int64 `db:"post_id"`
	DiscussionID int64 `db:"discussion_id"`
	ForumID      int64 `db:"forum_id"`
	FirstRead    int64 `db:"first_read"`
	LastRead     int64 `db:"last_read"`
}
