// Package mailer implements the notification pipeline: the per-post
// immediate mailing pass and the daily digest batch.
package mailer

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"forum-mailer/config"
	"forum-mailer/database"
	"forum-mailer/models"
	"forum-mailer/subscription"
	"forum-mailer/tracker"
	"forum-mailer/utils"
)

// recipientBudget is the soft wall-clock ceiling for one recipient's
// processing. Exceeding it only logs; the pass keeps going and relies on
// idempotent mailed-status for safe resumption if killed externally.
const recipientBudget = 120 * time.Second

// PostOutcome counts the delivery results of one post across recipients.
type PostOutcome struct {
	Sent   int
	Failed int
}

// PassSummary is the result of one mailing pass.
type PassSummary struct {
	Start   int64
	End     int64
	Posts   int
	Sent    int
	Failed  int
	Queued  int // deferred into digests
	Skipped int // posts dropped for missing referenced entities
	PerPost map[int64]*PostOutcome
}

// Dispatcher runs the immediate notification pass.
type Dispatcher struct {
	cfg      *config.Config
	stores   *database.Stores
	resolver *subscription.Resolver
	tracker  *tracker.Tracker
	status   *database.StatusManager

	transport Transport
	renderer  Renderer
	caps      Capability
	composer  *Composer

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(cfg *config.Config, stores *database.Stores, resolver *subscription.Resolver,
	trk *tracker.Tracker, status *database.StatusManager,
	transport Transport, renderer Renderer, caps Capability,
) *Dispatcher {
	if caps == nil {
		caps = PermissiveCapability{}
	}
	return &Dispatcher{
		cfg:       cfg,
		stores:    stores,
		resolver:  resolver,
		tracker:   trk,
		status:    status,
		transport: transport,
		renderer:  renderer,
		caps:      caps,
		composer: &Composer{
			SiteName: cfg.SiteName,
			Host:     cfg.SiteHost,
			From:     cfg.SMTP.From,
			ReplyTo:  cfg.ReplyTo,
		},
		Now: time.Now,
	}
}

// passContext is the per-pass working set: entity caches built once,
// read-only while recipients are processed, discarded with the pass.
type passContext struct {
	discussions map[int64]*models.Discussion
	forums      map[int64]*models.Forum
	courses     map[int64]*models.Course
	forumStates map[int64]*subscription.ForumState
	digestPrefs map[int64]map[int64]models.DigestMode
	userCache   *UserCache
	hasPosted   map[int64]map[int64]bool // discussionID -> userID -> posted
	groupMember map[int64]map[int64]bool // groupID -> userID -> member
}

// Run executes one mailing pass: collect unmailed posts, pre-mark them,
// then walk every candidate recipient through the guard chain.
func (d *Dispatcher) Run() (*PassSummary, error) {
	now := d.Now()
	end := now.Unix() - int64(d.cfg.MaxEditingTime.Seconds())
	earliest := end - int64(d.cfg.CollectWindow.Seconds())
	start := d.status.LastMailWindowEnd()
	if start < earliest {
		// Never reach further back than the collect window, even after
		// long downtime; ancient posts must not trigger a mail storm.
		start = earliest
	}

	summary := &PassSummary{Start: start, End: end, PerPost: make(map[int64]*PostOutcome)}

	posts, err := d.stores.Posts.CollectUnmailed(start, end, now.Unix(), d.cfg.EnableTimedPosts)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		d.finishPass(end, summary)
		return summary, nil
	}
	log.Printf("Mailing pass found %d unmailed posts in window [%d, %d)", len(posts), start, end)

	// Mark everything as mailed before sending. Deliberate trade-off: if
	// this pass dies mid-send, some posts are marked sent without being
	// delivered. The alternative, marking after send, risks delivering
	// posts twice on resumption, which is judged worse than a missed
	// notification. Do not "fix" this into mark-after-send.
	ids := make([]int64, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
	}
	if err := d.stores.Posts.MarkMailed(ids, models.MailedSuccess); err != nil {
		return nil, err
	}

	pass, posts := d.buildPassContext(posts, summary)
	summary.Posts = len(posts)

	recipients := d.collectRecipients(pass)
	for _, userID := range recipients {
		d.processRecipient(pass, posts, userID, summary)
	}

	d.finishPass(end, summary)
	return summary, nil
}

// buildPassContext loads every referenced discussion, forum and course once
// and drops posts whose references are stale. A missing entity skips that
// post with a logged reason; it never aborts the pass.
func (d *Dispatcher) buildPassContext(posts []models.Post, summary *PassSummary) (*passContext, []models.Post) {
	pass := &passContext{
		discussions: make(map[int64]*models.Discussion),
		forums:      make(map[int64]*models.Forum),
		courses:     make(map[int64]*models.Course),
		forumStates: make(map[int64]*subscription.ForumState),
		digestPrefs: make(map[int64]map[int64]models.DigestMode),
		userCache:   NewUserCache(d.stores.Users, d.cfg.CacheThreshold),
		hasPosted:   make(map[int64]map[int64]bool),
		groupMember: make(map[int64]map[int64]bool),
	}

	kept := posts[:0]
	for i := range posts {
		p := &posts[i]
		disc, ok := pass.discussions[p.DiscussionID]
		if !ok {
			var err error
			disc, err = d.stores.Forums.GetDiscussion(p.DiscussionID)
			if err != nil {
				d.skipPost(summary, p.ID, fmt.Sprintf("discussion %d: %v", p.DiscussionID, err))
				continue
			}
			pass.discussions[p.DiscussionID] = disc
		}
		forum, ok := pass.forums[disc.ForumID]
		if !ok {
			var err error
			forum, err = d.stores.Forums.GetForum(disc.ForumID)
			if err != nil {
				d.skipPost(summary, p.ID, fmt.Sprintf("forum %d: %v", disc.ForumID, err))
				continue
			}
			pass.forums[disc.ForumID] = forum
		}
		if _, ok := pass.courses[forum.CourseID]; !ok {
			course, err := d.stores.Forums.GetCourse(forum.CourseID)
			if err != nil {
				d.skipPost(summary, p.ID, fmt.Sprintf("course %d: %v", forum.CourseID, err))
				continue
			}
			pass.courses[forum.CourseID] = course
		}
		if _, ok := pass.forumStates[forum.ID]; !ok {
			state, err := d.resolver.LoadForumState(forum)
			if err != nil {
				d.skipPost(summary, p.ID, fmt.Sprintf("subscriptions of forum %d: %v", forum.ID, err))
				continue
			}
			pass.forumStates[forum.ID] = state

			prefs, err := d.stores.Digests.PreferencesForForum(forum.ID)
			if err != nil {
				d.skipPost(summary, p.ID, fmt.Sprintf("digest preferences of forum %d: %v", forum.ID, err))
				continue
			}
			pass.digestPrefs[forum.ID] = prefs
		}
		kept = append(kept, *p)
	}
	return pass, kept
}

func (d *Dispatcher) skipPost(summary *PassSummary, postID int64, reason string) {
	summary.Skipped++
	utils.Warn("Dispatcher", "SkipPost", fmt.Sprintf("post %d skipped: %s", postID, reason))
}

// collectRecipients unions the candidate recipients of all involved forums,
// sorted for deterministic processing order.
func (d *Dispatcher) collectRecipients(pass *passContext) []int64 {
	set := make(map[int64]bool)
	for _, state := range pass.forumStates {
		for uid := range state.Recipients {
			set[uid] = true
		}
	}
	ids := make([]int64, 0, len(set))
	for uid := range set {
		ids = append(ids, uid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// processRecipient walks every collected post through the guard chain for
// one recipient and sends or queues what passes. Auto-mark-read writes are
// staged and flushed in one batched call at the end of the recipient.
func (d *Dispatcher) processRecipient(pass *passContext, posts []models.Post, userID int64, summary *PassSummary) {
	began := time.Now()

	recipient, err := pass.userCache.Get(userID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			utils.Error("Dispatcher", "LoadRecipient", fmt.Sprintf("user %d: %v", userID, err))
		}
		return
	}

	var markRead []int64
	for i := range posts {
		p := &posts[i]
		disc := pass.discussions[p.DiscussionID]
		forum := pass.forums[disc.ForumID]
		state := pass.forumStates[forum.ID]

		// Guards in fixed order; the first failing one wins.

		// 1. The user must be a candidate recipient of this forum at all.
		if !state.Recipients[userID] {
			continue
		}

		// 2-3. Forum/discussion subscription, including the
		// subscribed-after-creation gate.
		if !state.Subscribed(userID, disc.ID, p.Created) {
			continue
		}

		// 4. Q&A forums: no reply notifications in discussions the user
		// never posted in; the root post is exempt.
		if forum.Type == models.ForumTypeQAndA && p.ID != disc.FirstPostID {
			posted, err := d.userHasPosted(pass, disc.ID, userID)
			if err != nil {
				utils.Error("Dispatcher", "QandACheck", err.Error())
				continue
			}
			if !posted {
				continue
			}
		}

		// 5. Group-restricted discussions need membership or an override.
		if disc.GroupID != models.GroupEveryone && !d.caps.AccessAllGroups(userID, forum.CourseID) {
			member, err := d.isGroupMember(pass, disc.GroupID, userID)
			if err != nil {
				utils.Error("Dispatcher", "GroupCheck", err.Error())
				continue
			}
			if !member {
				continue
			}
		}

		// 6. The host's visibility predicate.
		if !d.caps.CanViewPost(userID, p, disc, forum) {
			continue
		}

		// 7. Digest preference: deferred posts go to the queue, not out.
		mode := resolveDigestMode(pass.digestPrefs[forum.ID], userID, recipient.MailDigest)
		if mode.Deferred() {
			entry := &models.DigestQueueEntry{
				UserID:       userID,
				DiscussionID: disc.ID,
				PostID:       p.ID,
				Timestamp:    d.Now().Unix(),
			}
			if err := d.stores.Digests.Enqueue(entry); err != nil {
				utils.Error("Dispatcher", "QueueDigest", err.Error())
				continue
			}
			summary.Queued++
			continue
		}

		// 8. Compose and send.
		sent := d.sendPost(pass, p, disc, forum, recipient, summary)
		if sent && !d.cfg.ManualMarkRead {
			tracked, err := d.tracker.Tracked(userID, forum)
			if err == nil && tracked {
				markRead = append(markRead, p.ID)
			}
		}
	}

	if len(markRead) > 0 {
		if err := d.tracker.MarkPostsRead(userID, markRead); err != nil {
			utils.Error("Dispatcher", "MarkRead", fmt.Sprintf("user %d: %v", userID, err))
		}
	}

	if elapsed := time.Since(began); elapsed > recipientBudget {
		utils.Warn("Dispatcher", "TimeBudget",
			fmt.Sprintf("user %d took %s, over the %s per-recipient budget", userID, elapsed, recipientBudget))
	}
}

// sendPost renders, composes and dispatches one notification. Failures are
// counted and logged; the mailed status stays success per the pre-mark
// design, so failures surface in the run summary only.
func (d *Dispatcher) sendPost(pass *passContext, p *models.Post, disc *models.Discussion,
	forum *models.Forum, recipient *models.User, summary *PassSummary,
) bool {
	author, err := pass.userCache.Get(p.AuthorID)
	if err != nil {
		utils.Warn("Dispatcher", "LoadAuthor", fmt.Sprintf("post %d author %d: %v", p.ID, p.AuthorID, err))
		return false
	}
	course := pass.courses[forum.CourseID]

	ancestors, err := d.stores.Posts.AncestorChain(p.ID)
	if err != nil {
		// References are an enhancement; thread without them.
		ancestors = nil
	}

	plain, html := d.renderer.RenderPost(RenderContext{
		Course:     course,
		Forum:      forum,
		Discussion: disc,
		Post:       p,
		Author:     author,
		Recipient:  recipient,
		CanReply:   forum.Type != models.ForumTypeNews,
	})
	msg := d.composer.ComposePost(course, forum, disc, p, author, recipient, ancestors, plain, html)

	outcome := summary.PerPost[p.ID]
	if outcome == nil {
		outcome = &PostOutcome{}
		summary.PerPost[p.ID] = outcome
	}
	if err := d.transport.Send(msg); err != nil {
		outcome.Failed++
		summary.Failed++
		utils.Error("Dispatcher", "Send", fmt.Sprintf("post %d to user %d: %v", p.ID, recipient.ID, err))
		return false
	}
	outcome.Sent++
	summary.Sent++
	return true
}

func (d *Dispatcher) userHasPosted(pass *passContext, discussionID, userID int64) (bool, error) {
	if byUser, ok := pass.hasPosted[discussionID]; ok {
		if posted, ok := byUser[userID]; ok {
			return posted, nil
		}
	} else {
		pass.hasPosted[discussionID] = make(map[int64]bool)
	}
	posted, err := d.stores.Posts.UserHasPosted(discussionID, userID)
	if err != nil {
		return false, err
	}
	pass.hasPosted[discussionID][userID] = posted
	return posted, nil
}

func (d *Dispatcher) isGroupMember(pass *passContext, groupID, userID int64) (bool, error) {
	if byUser, ok := pass.groupMember[groupID]; ok {
		if member, ok := byUser[userID]; ok {
			return member, nil
		}
	} else {
		pass.groupMember[groupID] = make(map[int64]bool)
	}
	member, err := d.stores.Users.IsGroupMember(groupID, userID)
	if err != nil {
		return false, err
	}
	pass.groupMember[groupID][userID] = member
	return member, nil
}

// resolveDigestMode applies the preference chain: per-forum override if
// present, otherwise the user's global default. A stored use-default
// sentinel was already filtered out by the store.
func resolveDigestMode(forumPrefs map[int64]models.DigestMode, userID int64, userDefault models.DigestMode) models.DigestMode {
	if forumPrefs != nil {
		if mode, ok := forumPrefs[userID]; ok {
			return mode
		}
	}
	if userDefault == models.DigestUseDefault {
		return models.DigestOff
	}
	return userDefault
}

func (d *Dispatcher) finishPass(end int64, summary *PassSummary) {
	d.status.SetLastMailWindowEnd(end)
	if err := d.status.Save(); err != nil {
		utils.Error("Dispatcher", "SaveStatus", err.Error())
	}
	utils.Info("Dispatcher", "PassSummary", fmt.Sprintf(
		"posts=%d sent=%d failed=%d queued=%d skipped=%d",
		summary.Posts, summary.Sent, summary.Failed, summary.Queued, summary.Skipped))
}
