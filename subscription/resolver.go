// Package subscription decides, for a forum/discussion/user triple, whether
// a notification should be sent, and applies the side effects of forum
// subscription-mode changes.
package subscription

import (
	"fmt"
	"log"

	"forum-mailer/database"
	"forum-mailer/models"
)

// ManageChecker answers whether a user may manage subscriptions of a forum.
// Users with this capability keep their subscription when a forum becomes
// disallowed.
type ManageChecker interface {
	CanManageSubscriptions(userID, forumID int64) bool
}

// Resolver implements the subscription state machine on top of the stores.
type Resolver struct {
	subs   *database.SubscriptionDB
	forums *database.ForumDB
	users  *database.UserDB
	manage ManageChecker
}

// NewResolver creates a resolver. manage may be nil, in which case nobody
// is exempt from the disallowed-mode purge.
func NewResolver(subs *database.SubscriptionDB, forums *database.ForumDB, users *database.UserDB, manage ManageChecker) *Resolver {
	return &Resolver{subs: subs, forums: forums, users: users, manage: manage}
}

// IsSubscribed reports whether the user is notified about a post in the
// given discussion of the forum. discussionID may be 0 for a forum-level
// check; postCreated may be 0 to skip the subscribed-after-creation gate.
func (r *Resolver) IsSubscribed(userID int64, forum *models.Forum, discussionID, postCreated int64) (bool, error) {
	switch forum.SubscriptionMode {
	case models.SubscriptionDisallow:
		return false, nil
	case models.SubscriptionForce:
		return true, nil
	}

	if discussionID != 0 {
		preference, found, err := r.subs.DiscussionPreference(userID, discussionID)
		if err != nil {
			return false, err
		}
		if found {
			return discussionDecision(preference, postCreated), nil
		}
	}

	return r.subs.Exists(userID, forum.ID)
}

// discussionDecision applies a per-discussion override. A subscription made
// after the post was created does not cover that post: the user opted into
// the discussion's future, not its past.
func discussionDecision(preference, postCreated int64) bool {
	if preference == models.DiscussionUnsubscribed {
		return false
	}
	if postCreated != 0 && preference > postCreated {
		return false
	}
	return true
}

// Subscribe adds a forum-level subscription. Rejected when the forum
// disallows subscriptions.
func (r *Resolver) Subscribe(userID int64, forum *models.Forum) error {
	if forum.SubscriptionMode == models.SubscriptionDisallow {
		return fmt.Errorf("subscriptions are disallowed on forum %d", forum.ID)
	}
	return r.subs.Add(userID, forum.ID)
}

// Unsubscribe removes a forum-level subscription. On a forced forum the
// attempt is ignored: every enrolled user stays notified.
func (r *Resolver) Unsubscribe(userID int64, forum *models.Forum) error {
	if forum.SubscriptionMode == models.SubscriptionForce {
		log.Printf("Ignoring unsubscribe attempt by user %d on forced forum %d", userID, forum.ID)
		return nil
	}
	return r.subs.Remove(userID, forum.ID)
}

// SubscribeToDiscussion records a per-discussion subscribe at the given
// time. Posts created before now stay excluded for this user.
func (r *Resolver) SubscribeToDiscussion(userID, discussionID, now int64) error {
	return r.subs.SetDiscussionPreference(userID, discussionID, now)
}

// UnsubscribeFromDiscussion records a per-discussion unsubscribe, which
// overrides a forum-level subscription for that discussion only.
func (r *Resolver) UnsubscribeFromDiscussion(userID, discussionID int64) error {
	return r.subs.SetDiscussionPreference(userID, discussionID, models.DiscussionUnsubscribed)
}

// SetMode changes the subscription mode of a forum and applies the
// transition side effects: entering initial mode subscribes every enrolled
// user once; entering disallowed mode purges existing subscriptions except
// those of users who can manage the forum's subscriptions.
func (r *Resolver) SetMode(forum *models.Forum, mode models.SubscriptionMode) error {
	if err := r.forums.SetSubscriptionMode(forum.ID, mode); err != nil {
		return err
	}
	forum.SubscriptionMode = mode

	switch mode {
	case models.SubscriptionInitial:
		userIDs, err := r.users.EnrolledUserIDs(forum.CourseID)
		if err != nil {
			return err
		}
		if err := r.subs.AddAll(forum.ID, userIDs); err != nil {
			return err
		}
		log.Printf("Subscribed %d enrolled users to forum %d on transition to initial mode", len(userIDs), forum.ID)
	case models.SubscriptionDisallow:
		keep, err := r.managerIDs(forum.ID)
		if err != nil {
			return err
		}
		if err := r.subs.RemoveAllExcept(forum.ID, keep); err != nil {
			return err
		}
	}
	return nil
}

// managerIDs filters the forum's current subscribers down to those allowed
// to manage subscriptions.
func (r *Resolver) managerIDs(forumID int64) ([]int64, error) {
	if r.manage == nil {
		return nil, nil
	}
	subscribers, err := r.subs.SubscriberIDs(forumID)
	if err != nil {
		return nil, err
	}
	var keep []int64
	for _, uid := range subscribers {
		if r.manage.CanManageSubscriptions(uid, forumID) {
			keep = append(keep, uid)
		}
	}
	return keep, nil
}

// ForumState is the bulk-fetched subscription state of one forum for one
// mailing pass: who is subscribed at forum level, which discussion
// overrides exist, and the union of users that could receive anything.
// Read-only after LoadForumState.
type ForumState struct {
	Mode       models.SubscriptionMode
	ForumLevel map[int64]bool
	Overrides  map[int64]map[int64]int64 // userID -> discussionID -> preference
	Recipients map[int64]bool            // forum-level plus discussion-only subscribers
}

// LoadForumState bulk-fetches the state the dispatcher needs to evaluate
// every recipient of a forum without further queries. For forced forums the
// subscriber set is the course enrolment.
func (r *Resolver) LoadForumState(forum *models.Forum) (*ForumState, error) {
	state := &ForumState{
		Mode:       forum.SubscriptionMode,
		ForumLevel: make(map[int64]bool),
		Overrides:  make(map[int64]map[int64]int64),
		Recipients: make(map[int64]bool),
	}

	if forum.SubscriptionMode == models.SubscriptionDisallow {
		return state, nil
	}

	var ids []int64
	var err error
	if forum.SubscriptionMode == models.SubscriptionForce {
		ids, err = r.users.EnrolledUserIDs(forum.CourseID)
	} else {
		ids, err = r.subs.SubscriberIDs(forum.ID)
	}
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		state.ForumLevel[id] = true
		state.Recipients[id] = true
	}

	state.Overrides, err = r.subs.DiscussionPreferencesForForum(forum.ID)
	if err != nil {
		return nil, err
	}

	// A discussion-level subscribe can reach users without a forum-level
	// row; they are recipients for that discussion only.
	for uid, prefs := range state.Overrides {
		for _, preference := range prefs {
			if preference != models.DiscussionUnsubscribed {
				state.Recipients[uid] = true
				break
			}
		}
	}
	return state, nil
}

// Subscribed evaluates one (user, discussion, post) against the bulk state,
// mirroring Resolver.IsSubscribed.
func (s *ForumState) Subscribed(userID, discussionID, postCreated int64) bool {
	if s.Mode == models.SubscriptionDisallow {
		return false
	}
	if s.Mode == models.SubscriptionForce {
		return s.ForumLevel[userID]
	}
	if prefs, ok := s.Overrides[userID]; ok {
		if preference, ok := prefs[discussionID]; ok {
			return discussionDecision(preference, postCreated)
		}
	}
	return s.ForumLevel[userID]
}
