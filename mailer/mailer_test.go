package mailer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-mailer/config"
	"forum-mailer/database"
	"forum-mailer/models"
	"forum-mailer/subscription"
	"forum-mailer/tracker"
)

var testNow = time.Unix(1_700_000_000, 0) // 2023-11-14 22:13:20 UTC

type fakeTransport struct {
	sent []*Message
	fail map[string]bool // recipient addresses that error out
}

func (ft *fakeTransport) Send(msg *Message) error {
	if ft.fail[msg.To] {
		return assert.AnError
	}
	ft.sent = append(ft.sent, msg)
	return nil
}

func (ft *fakeTransport) to() []string {
	var out []string
	for _, m := range ft.sent {
		out = append(out, m.To)
	}
	return out
}

// groupStrict behaves like the permissive oracle except that nobody may
// bypass group restrictions.
type groupStrict struct{ PermissiveCapability }

func (groupStrict) AccessAllGroups(int64, int64) bool { return false }

type fixture struct {
	cfg       *config.Config
	stores    *database.Stores
	resolver  *subscription.Resolver
	tracker   *tracker.Tracker
	status    *database.StatusManager
	transport *fakeTransport

	course *models.Course
	forum  *models.Forum
	disc   *models.Discussion
	author int64
}

func newFixture(t *testing.T) *fixture {
	return newForumFixture(t, models.ForumTypeGeneral)
}

func newForumFixture(t *testing.T, forumType models.ForumType) *fixture {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		cfg: &config.Config{
			SiteName:        "Test Site",
			SiteHost:        "forum.example.org",
			SiteTimezone:    "UTC",
			OldPostDays:     14,
			DigestHour:      17,
			MaxEditingTime:  30 * time.Minute,
			CollectWindow:   48 * time.Hour,
			CacheThreshold:  5000,
			StaleDigestDays: 7,
			SMTP:            config.SMTPConfig{From: "noreply@example.org"},
		},
		stores:    database.NewStores(db),
		status:    database.NewStatusManager(filepath.Join(t.TempDir(), "status.json")),
		transport: &fakeTransport{fail: make(map[string]bool)},
	}
	require.NoError(t, f.cfg.Validate())

	f.resolver = subscription.NewResolver(f.stores.Subscriptions, f.stores.Forums, f.stores.Users, nil)
	f.tracker = tracker.New(f.stores.Reads, f.stores.Forums, f.stores.Users, f.cfg.OldPostDays, true)
	f.tracker.Now = func() time.Time { return testNow }

	f.course = &models.Course{ShortName: "GO101", FullName: "Introduction to Go"}
	require.NoError(t, f.stores.Forums.CreateCourse(f.course))

	f.forum = &models.Forum{
		CourseID:         f.course.ID,
		Name:             "General",
		Type:             forumType,
		SubscriptionMode: models.SubscriptionChoose,
		TrackingType:     models.TrackingOptional,
	}
	require.NoError(t, f.stores.Forums.CreateForum(f.forum))

	f.disc = &models.Discussion{ForumID: f.forum.ID, Name: "Topic", GroupID: models.GroupEveryone}
	require.NoError(t, f.stores.Forums.CreateDiscussion(f.disc))

	f.author = f.addUser(t, "author", models.DigestOff)
	return f
}

func (f *fixture) addUser(t *testing.T, name string, digest models.DigestMode) int64 {
	t.Helper()
	u := &models.User{
		Username:   name,
		Email:      name + "@example.org",
		FirstName:  name,
		LastName:   "Tester",
		MailDigest: digest,
	}
	require.NoError(t, f.stores.Users.CreateUser(u))
	require.NoError(t, f.stores.Users.Enrol(u.ID, f.course.ID))
	return u.ID
}

func (f *fixture) addSubscriber(t *testing.T, name string, digest models.DigestMode) int64 {
	t.Helper()
	id := f.addUser(t, name, digest)
	require.NoError(t, f.stores.Subscriptions.Add(id, f.forum.ID))
	return id
}

// addPost creates a mailable post: old enough to clear the editing grace
// window, young enough for the collect window.
func (f *fixture) addPost(t *testing.T, subject string) *models.Post {
	t.Helper()
	return f.addPostAt(t, subject, testNow.Unix()-3600)
}

func (f *fixture) addPostAt(t *testing.T, subject string, created int64) *models.Post {
	t.Helper()
	p := &models.Post{
		DiscussionID: f.disc.ID,
		AuthorID:     f.author,
		Subject:      subject,
		Message:      "body of " + subject,
		Created:      created,
		Modified:     created,
	}
	require.NoError(t, f.stores.Posts.InsertPost(p))
	return p
}

func (f *fixture) dispatcher(caps Capability) *Dispatcher {
	d := NewDispatcher(f.cfg, f.stores, f.resolver, f.tracker, f.status,
		f.transport, &TextRenderer{}, caps)
	d.Now = func() time.Time { return testNow }
	return d
}

func TestRunSendsToSubscriber(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, "alice", models.DigestOff)
	p := f.addPost(t, "hello")

	summary, err := f.dispatcher(nil).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Posts)
	assert.Equal(t, 1, summary.Sent)
	assert.Zero(t, summary.Failed)

	require.Len(t, f.transport.sent, 1)
	msg := f.transport.sent[0]
	assert.Equal(t, "alice@example.org", msg.To)
	assert.Equal(t, "GO101: hello", msg.Subject)
	assert.Contains(t, msg.PlainBody, "body of hello")

	got, err := f.stores.Posts.GetPost(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MailedSuccess, got.Mailed)
}

func TestRunDoesNotResendOnSecondPass(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, "alice", models.DigestOff)
	f.addPost(t, "hello")

	d := f.dispatcher(nil)
	_, err := d.Run()
	require.NoError(t, err)

	summary, err := d.Run()
	require.NoError(t, err)
	assert.Zero(t, summary.Posts)
	assert.Len(t, f.transport.sent, 1)
}

func TestRunRespectsEditingGraceWindow(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, "alice", models.DigestOff)
	fresh := f.addPostAt(t, "still editable", testNow.Unix()-60)

	summary, err := f.dispatcher(nil).Run()
	require.NoError(t, err)
	assert.Zero(t, summary.Posts)
	assert.Empty(t, f.transport.sent)

	got, err := f.stores.Posts.GetPost(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MailedPending, got.Mailed)
}

func TestRunMailNowBypassesWindow(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, "alice", models.DigestOff)

	ancient := &models.Post{
		DiscussionID: f.disc.ID,
		AuthorID:     f.author,
		Subject:      "urgent",
		Message:      "now",
		Created:      testNow.Unix() - 60*86400,
		Modified:     testNow.Unix() - 60*86400,
		MailNow:      true,
	}
	require.NoError(t, f.stores.Posts.InsertPost(ancient))

	summary, err := f.dispatcher(nil).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
}

func TestRunQueuesDeferredUsers(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, "daily", models.DigestFull)
	immediate := f.addSubscriber(t, "eager", models.DigestOff)
	p := f.addPost(t, "hello")

	summary, err := f.dispatcher(nil).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Queued)
	assert.Equal(t, []string{"eager@example.org"}, f.transport.to())

	entries, err := f.stores.Digests.EntriesBefore(testNow.Unix() + 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, p.ID, entries[0].PostID)
	assert.NotEqual(t, immediate, entries[0].UserID)
}

func TestRunHonorsPerForumDigestOverride(t *testing.T) {
	f := newFixture(t)
	alice := f.addSubscriber(t, "alice", models.DigestOff)
	require.NoError(t, f.stores.Digests.SetPreference(alice, f.forum.ID, models.DigestSubjects))
	f.addPost(t, "hello")

	summary, err := f.dispatcher(nil).Run()
	require.NoError(t, err)
	assert.Zero(t, summary.Sent)
	assert.Equal(t, 1, summary.Queued)
}

func TestRunQandAGuard(t *testing.T) {
	f := newForumFixture(t, models.ForumTypeQAndA)
	lurker := f.addSubscriber(t, "lurker", models.DigestOff)
	answerer := f.addSubscriber(t, "answerer", models.DigestOff)

	root := f.addPostAt(t, "the question", testNow.Unix()-7200)
	require.NoError(t, f.stores.Forums.SetFirstPost(f.disc.ID, root.ID))

	answer := &models.Post{
		DiscussionID: f.disc.ID,
		ParentID:     root.ID,
		AuthorID:     answerer,
		Subject:      "an answer",
		Message:      "because",
		Created:      testNow.Unix() - 3600,
		Modified:     testNow.Unix() - 3600,
	}
	require.NoError(t, f.stores.Posts.InsertPost(answer))

	d := f.dispatcher(nil)
	summary, err := d.Run()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Posts)

	var lurkerSubjects, answererSubjects []string
	for _, m := range f.transport.sent {
		switch m.To {
		case "lurker@example.org":
			lurkerSubjects = append(lurkerSubjects, m.Subject)
		case "answerer@example.org":
			answererSubjects = append(answererSubjects, m.Subject)
		}
	}
	// The question reaches everyone; the answer only those who posted.
	assert.Equal(t, []string{"GO101: the question"}, lurkerSubjects)
	assert.ElementsMatch(t, []string{"GO101: the question", "GO101: an answer"}, answererSubjects)
	_ = lurker
}

func TestRunGroupRestriction(t *testing.T) {
	f := newFixture(t)
	member := f.addSubscriber(t, "member", models.DigestOff)
	f.addSubscriber(t, "outsider", models.DigestOff)

	groupID, err := f.stores.Users.CreateGroup(f.course.ID, "blue")
	require.NoError(t, err)
	require.NoError(t, f.stores.Users.AddGroupMember(groupID, member))

	restricted := &models.Discussion{ForumID: f.forum.ID, Name: "blue only", GroupID: groupID}
	require.NoError(t, f.stores.Forums.CreateDiscussion(restricted))
	p := &models.Post{
		DiscussionID: restricted.ID,
		AuthorID:     f.author,
		Subject:      "group news",
		Message:      "members only",
		Created:      testNow.Unix() - 3600,
		Modified:     testNow.Unix() - 3600,
	}
	require.NoError(t, f.stores.Posts.InsertPost(p))

	summary, err := f.dispatcher(groupStrict{}).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, []string{"member@example.org"}, f.transport.to())
}

func TestRunCountsSendFailures(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, "alice", models.DigestOff)
	f.addSubscriber(t, "broken", models.DigestOff)
	f.transport.fail["broken@example.org"] = true
	p := f.addPost(t, "hello")

	d := f.dispatcher(nil)
	summary, err := d.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.PerPost[p.ID].Sent)
	assert.Equal(t, 1, summary.PerPost[p.ID].Failed)

	// The post was marked before sending; a later pass does not retry.
	summary, err = d.Run()
	require.NoError(t, err)
	assert.Zero(t, summary.Posts)
}

func TestRunAutoMarksRead(t *testing.T) {
	f := newFixture(t)
	alice := f.addSubscriber(t, "alice", models.DigestOff)
	p := f.addPost(t, "hello")

	_, err := f.dispatcher(nil).Run()
	require.NoError(t, err)

	read, err := f.stores.Reads.Exists(alice, p.ID)
	require.NoError(t, err)
	assert.True(t, read)
}

func TestRunManualMarkReadLeavesPostsUnread(t *testing.T) {
	f := newFixture(t)
	f.cfg.ManualMarkRead = true
	alice := f.addSubscriber(t, "alice", models.DigestOff)
	p := f.addPost(t, "hello")

	_, err := f.dispatcher(nil).Run()
	require.NoError(t, err)
	require.Len(t, f.transport.sent, 1)

	read, err := f.stores.Reads.Exists(alice, p.ID)
	require.NoError(t, err)
	assert.False(t, read)
}

func TestRunSkipsPostWithStaleForumReference(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(t, "alice", models.DigestOff)
	ok := f.addPost(t, "good")

	stale := &models.Discussion{ForumID: 9999, Name: "stale", GroupID: models.GroupEveryone}
	require.NoError(t, f.stores.Forums.CreateDiscussion(stale))
	orphan := &models.Post{
		DiscussionID: stale.ID,
		AuthorID:     f.author,
		Subject:      "orphan",
		Message:      "no home",
		Created:      testNow.Unix() - 3600,
		Modified:     testNow.Unix() - 3600,
	}
	require.NoError(t, f.stores.Posts.InsertPost(orphan))

	summary, err := f.dispatcher(nil).Run()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Posts)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.PerPost[ok.ID].Sent)
}

func TestRunAdvancesWindow(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher(nil)

	_, err := d.Run()
	require.NoError(t, err)

	end := testNow.Unix() - int64(f.cfg.MaxEditingTime.Seconds())
	assert.Equal(t, end, f.status.LastMailWindowEnd())
}

func TestRunThreadsReplies(t *testing.T) {
	f := newFixture(t)
	alice := f.addSubscriber(t, "alice", models.DigestOff)

	root := f.addPostAt(t, "the root", testNow.Unix()-7200)
	reply := &models.Post{
		DiscussionID: f.disc.ID,
		ParentID:     root.ID,
		AuthorID:     f.author,
		Subject:      "re: the root",
		Message:      "reply",
		Created:      testNow.Unix() - 3600,
		Modified:     testNow.Unix() - 3600,
	}
	require.NoError(t, f.stores.Posts.InsertPost(reply))

	_, err := f.dispatcher(nil).Run()
	require.NoError(t, err)
	require.Len(t, f.transport.sent, 2)

	first, second := f.transport.sent[0], f.transport.sent[1]
	assert.Equal(t, "GO101: the root", first.Subject)
	assert.Equal(t, MessageID(root.ID, alice, f.cfg.SiteHost), second.Headers["In-Reply-To"])
	assert.Equal(t, MessageID(root.ID, alice, f.cfg.SiteHost), second.Headers["References"])
}
