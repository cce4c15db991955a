package mailer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"forum-mailer/config"
	"forum-mailer/database"
	"forum-mailer/models"
	"forum-mailer/subscription"
	"forum-mailer/tracker"
	"forum-mailer/utils"
)

// digestBudget is the soft wall-clock ceiling for one digest run.
const digestBudget = 300 * time.Second

// DigestSummary is the result of one digest run.
type DigestSummary struct {
	DigestTime int64
	Users      int
	Sent       int
	Failed     int
	Posts      int
	Skipped    int
}

// Digester drains the digest queue into one mail per user, once per day
// after the configured local hour.
type Digester struct {
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

// NewDigester creates a digest dispatcher.
func NewDigester(cfg *config.Config, stores *database.Stores, resolver *subscription.Resolver,
	trk *tracker.Tracker, status *database.StatusManager,
	transport Transport, renderer Renderer, caps Capability,
) *Digester {
	if caps == nil {
		caps = PermissiveCapability{}
	}
	return &Digester{
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

// Run sends digests if today's send time has been reached and no digest has
// gone out for it yet. Calling it more often than once a day is the
// expected mode; at most one invocation per day does work.
func (dg *Digester) Run() (*DigestSummary, error) {
	now := dg.Now()
	loc, err := dg.cfg.Location()
	if err != nil {
		return nil, err
	}
	local := now.In(loc)
	digestTime := time.Date(local.Year(), local.Month(), local.Day(),
		dg.cfg.DigestHour, 0, 0, 0, loc).Unix()

	if now.Unix() < digestTime {
		return &DigestSummary{DigestTime: digestTime}, nil
	}
	if dg.status.LastDigestRun() >= digestTime {
		return &DigestSummary{DigestTime: digestTime}, nil
	}

	summary := &DigestSummary{DigestTime: digestTime}
	began := time.Now()

	entries, err := dg.stores.Digests.EntriesBefore(digestTime)
	if err != nil {
		return nil, err
	}

	pass := &passContext{
		discussions: make(map[int64]*models.Discussion),
		forums:      make(map[int64]*models.Forum),
		courses:     make(map[int64]*models.Course),
		digestPrefs: make(map[int64]map[int64]models.DigestMode),
		userCache:   NewUserCache(dg.stores.Users, dg.cfg.CacheThreshold),
	}

	// EntriesBefore is ordered by user first, so one linear sweep yields
	// contiguous per-user runs.
	for i := 0; i < len(entries); {
		j := i
		for j < len(entries) && entries[j].UserID == entries[i].UserID {
			j++
		}
		dg.digestUser(pass, entries[i].UserID, entries[i:j], digestTime, summary)
		i = j
	}

	dg.status.SetLastDigestRun(digestTime)
	if err := dg.status.Save(); err != nil {
		utils.Error("Digester", "SaveStatus", err.Error())
	}

	if elapsed := time.Since(began); elapsed > digestBudget {
		utils.Warn("Digester", "TimeBudget",
			fmt.Sprintf("digest run took %s, over the %s budget", elapsed, digestBudget))
	}
	utils.Info("Digester", "RunSummary", fmt.Sprintf(
		"users=%d sent=%d failed=%d posts=%d skipped=%d",
		summary.Users, summary.Sent, summary.Failed, summary.Posts, summary.Skipped))
	return summary, nil
}

// digestUser composes and sends one user's digest from their queue run.
// The queue is purged before composing, so a failed send loses this digest
// rather than repeating it tomorrow.
func (dg *Digester) digestUser(pass *passContext, userID int64, entries []models.DigestQueueEntry,
	digestTime int64, summary *DigestSummary,
) {
	summary.Users++

	if err := dg.stores.Digests.PurgeUser(userID, digestTime); err != nil {
		utils.Error("Digester", "PurgeQueue", fmt.Sprintf("user %d: %v", userID, err))
		return
	}

	recipient, err := pass.userCache.Get(userID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			utils.Error("Digester", "LoadRecipient", fmt.Sprintf("user %d: %v", userID, err))
		}
		summary.Skipped += len(entries)
		return
	}

	var plain, html strings.Builder
	included := 0
	var markByForum map[*models.Forum][]int64

	var curDiscussion int64 = -1
	for _, e := range entries {
		disc, forum, course, ok := dg.resolveEntry(pass, &e)
		if !ok {
			summary.Skipped++
			continue
		}
		// A queued post may have left its discussion's timed window.
		if dg.cfg.EnableTimedPosts && !disc.VisibleAt(digestTime) {
			summary.Skipped++
			continue
		}
		post, err := dg.stores.Posts.GetPost(e.PostID)
		if err != nil {
			utils.Warn("Digester", "LoadPost", fmt.Sprintf("post %d: %v", e.PostID, err))
			summary.Skipped++
			continue
		}
		// Visibility can have changed since the post was queued.
		if !dg.caps.CanViewPost(userID, post, disc, forum) {
			summary.Skipped++
			continue
		}
		author, err := pass.userCache.Get(post.AuthorID)
		if err != nil {
			utils.Warn("Digester", "LoadAuthor", fmt.Sprintf("user %d: %v", post.AuthorID, err))
			summary.Skipped++
			continue
		}

		if e.DiscussionID != curDiscussion {
			curDiscussion = e.DiscussionID
			hp, hh := dg.renderer.RenderDigestHeader(course, forum, disc)
			plain.WriteString(hp)
			html.WriteString(hh)
		}

		full := dg.digestIsFull(pass, userID, forum, recipient)
		pp, ph := dg.renderer.RenderDigestPost(RenderContext{
			Course:     course,
			Forum:      forum,
			Discussion: disc,
			Post:       post,
			Author:     author,
			Recipient:  recipient,
			CanReply:   forum.Type != models.ForumTypeNews,
		}, full)
		plain.WriteString(pp)
		html.WriteString(ph)
		included++

		if !dg.cfg.ManualMarkRead {
			tracked, err := dg.tracker.Tracked(userID, forum)
			if err == nil && tracked {
				if markByForum == nil {
					markByForum = make(map[*models.Forum][]int64)
				}
				markByForum[forum] = append(markByForum[forum], post.ID)
			}
		}
	}

	if included == 0 {
		return
	}
	summary.Posts += included

	msg := dg.composer.ComposeDigest(recipient, digestTime, plain.String(), html.String())
	if err := dg.transport.Send(msg); err != nil {
		summary.Failed++
		utils.Error("Digester", "Send", fmt.Sprintf("digest to user %d: %v", userID, err))
		return
	}
	summary.Sent++

	for _, ids := range markByForum {
		if err := dg.tracker.MarkPostsRead(userID, ids); err != nil {
			utils.Error("Digester", "MarkRead", fmt.Sprintf("user %d: %v", userID, err))
		}
	}
}

func (dg *Digester) resolveEntry(pass *passContext, e *models.DigestQueueEntry) (*models.Discussion, *models.Forum, *models.Course, bool) {
	disc, ok := pass.discussions[e.DiscussionID]
	if !ok {
		var err error
		disc, err = dg.stores.Forums.GetDiscussion(e.DiscussionID)
		if err != nil {
			utils.Warn("Digester", "LoadDiscussion", fmt.Sprintf("discussion %d: %v", e.DiscussionID, err))
			return nil, nil, nil, false
		}
		pass.discussions[e.DiscussionID] = disc
	}
	forum, ok := pass.forums[disc.ForumID]
	if !ok {
		var err error
		forum, err = dg.stores.Forums.GetForum(disc.ForumID)
		if err != nil {
			utils.Warn("Digester", "LoadForum", fmt.Sprintf("forum %d: %v", disc.ForumID, err))
			return nil, nil, nil, false
		}
		pass.forums[disc.ForumID] = forum
	}
	course, ok := pass.courses[forum.CourseID]
	if !ok {
		var err error
		course, err = dg.stores.Forums.GetCourse(forum.CourseID)
		if err != nil {
			utils.Warn("Digester", "LoadCourse", fmt.Sprintf("course %d: %v", forum.CourseID, err))
			return nil, nil, nil, false
		}
		pass.courses[forum.CourseID] = course
	}
	return disc, forum, course, true
}

// digestIsFull resolves whether this user gets full posts or subjects only
// in this forum. An off preference at digest time still gets full posts;
// the entry was queued under a deferred preference and must not be lost.
func (dg *Digester) digestIsFull(pass *passContext, userID int64, forum *models.Forum, recipient *models.User) bool {
	prefs, ok := pass.digestPrefs[forum.ID]
	if !ok {
		var err error
		prefs, err = dg.stores.Digests.PreferencesForForum(forum.ID)
		if err != nil {
			utils.Warn("Digester", "LoadPreferences", fmt.Sprintf("forum %d: %v", forum.ID, err))
			prefs = nil
		}
		pass.digestPrefs[forum.ID] = prefs
	}
	mode := resolveDigestMode(prefs, userID, recipient.MailDigest)
	return mode != models.DigestSubjects
}
