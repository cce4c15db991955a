// Package tracker records and queries per-user read state of forum posts.
// Posts older than the retention window count as read without a record;
// records for such posts are never created and existing ones are purged,
// which keeps the read table bounded.
package tracker

import (
	"time"

	"forum-mailer/database"
	"forum-mailer/models"
)

// ChunkSize bounds the id list of a single read-record write.
const ChunkSize = 200

// Tracker implements read tracking on top of the stores.
type Tracker struct {
	reads  *database.ReadDB
	forums *database.ForumDB
	users  *database.UserDB

	oldPostDays   int
	forcedAllowed bool // site-level switch honoring forced tracking mode

	// Now is the clock used for cutoffs and timestamps; tests override it.
	Now func() time.Time
}

// New creates a tracker.
func New(reads *database.ReadDB, forums *database.ForumDB, users *database.UserDB, oldPostDays int, forcedAllowed bool) *Tracker {
	return &Tracker{
		reads:         reads,
		forums:        forums,
		users:         users,
		oldPostDays:   oldPostDays,
		forcedAllowed: forcedAllowed,
		Now:           time.Now,
	}
}

// OldCutoff returns the Unix time before which posts are implicitly read.
func (t *Tracker) OldCutoff() int64 {
	return t.Now().Unix() - int64(t.oldPostDays)*86400
}

// Tracked reports whether read tracking applies for the user on this forum.
// Forced mode only binds when the site allows it; otherwise it degrades to
// optional, where a per-forum opt-out disables tracking.
func (t *Tracker) Tracked(userID int64, forum *models.Forum) (bool, error) {
	switch forum.TrackingType {
	case models.TrackingOff:
		return false, nil
	case models.TrackingForced:
		if t.forcedAllowed {
			return true, nil
		}
	}
	disabled, err := t.users.TrackingDisabled(userID, forum.ID)
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

// IsPostRead reports whether the post counts as read for the user: true
// once the post aged past the retention window, or when a read record
// exists.
func (t *Tracker) IsPostRead(userID int64, post *models.Post) (bool, error) {
	if post.Modified < t.OldCutoff() {
		return true, nil
	}
	return t.reads.Exists(userID, post.ID)
}

// MarkPostsRead records the given posts as read for the user. Two phases
// per chunk: insert records that don't exist yet (skipping old posts), then
// bump last-read on all matching records. Idempotent: repeating the call
// leaves one record per post with an updated last-read time.
func (t *Tracker) MarkPostsRead(userID int64, postIDs []int64) error {
	if len(postIDs) == 0 {
		return nil
	}
	now := t.Now().Unix()
	cutoff := t.OldCutoff()

	for start := 0; start < len(postIDs); start += ChunkSize {
		end := start + ChunkSize
		if end > len(postIDs) {
			end = len(postIDs)
		}
		chunk := postIDs[start:end]
		if err := t.reads.InsertMissing(userID, chunk, now, cutoff); err != nil {
			return err
		}
		if err := t.reads.UpdateLastRead(userID, chunk, now); err != nil {
			return err
		}
	}
	return nil
}

// MarkPostRead marks a single post.
func (t *Tracker) MarkPostRead(userID, postID int64) error {
	return t.MarkPostsRead(userID, []int64{postID})
}

// MarkForumRead marks every unread post of the forum. A non-negative
// groupID restricts the sweep to that group's discussions plus the
// all-participants ones.
func (t *Tracker) MarkForumRead(userID, forumID, groupID int64) error {
	ids, err := t.reads.UnreadPostIDs(userID, forumID, groupID, t.OldCutoff())
	if err != nil {
		return err
	}
	return t.MarkPostsRead(userID, ids)
}

// MarkDiscussionRead marks every unread post of the discussion.
func (t *Tracker) MarkDiscussionRead(userID, discussionID int64) error {
	ids, err := t.reads.UnreadDiscussionPostIDs(userID, discussionID, t.OldCutoff())
	if err != nil {
		return err
	}
	return t.MarkPostsRead(userID, ids)
}

// CleanOldRecords purges read records of posts past the retention window.
func (t *Tracker) CleanOldRecords() (int64, error) {
	return t.reads.DeleteOlderThan(t.OldCutoff())
}

// CountUnreadInForum counts the user's unread posts in a forum. Untracked
// forums report zero. With separate groups, only discussions visible to the
// user are counted unless accessAllGroups is set.
func (t *Tracker) CountUnreadInForum(userID int64, forum *models.Forum, accessAllGroups bool) (int, error) {
	tracked, err := t.Tracked(userID, forum)
	if err != nil {
		return 0, err
	}
	if !tracked {
		return 0, nil
	}

	restrict := forum.GroupMode == models.GroupsSeparate && !accessAllGroups
	var groupIDs []int64
	if restrict {
		groupIDs, err = t.users.UserGroupIDs(userID, forum.CourseID)
		if err != nil {
			return 0, err
		}
	}
	return t.reads.CountUnreadInForum(userID, forum.ID, t.OldCutoff(), restrict, groupIDs)
}

// CountUnreadInCourse returns unread counts per forum of a course, omitting
// forums without unread posts.
func (t *Tracker) CountUnreadInCourse(userID, courseID int64, accessAllGroups bool) (map[int64]int, error) {
	forums, err := t.forums.ListForums(courseID)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int)
	for i := range forums {
		n, err := t.CountUnreadInForum(userID, &forums[i], accessAllGroups)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			counts[forums[i].ID] = n
		}
	}
	return counts, nil
}
