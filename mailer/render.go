package mailer

import (
	"fmt"
	"strings"
	"time"

	"forum-mailer/models"
)

// RenderContext carries everything a renderer needs for one post and one
// recipient.
type RenderContext struct {
	Course     *models.Course
	Forum      *models.Forum
	Discussion *models.Discussion
	Post       *models.Post
	Author     *models.User
	Recipient  *models.User
	CanReply   bool
}

// Renderer produces the mail bodies. The host system normally plugs in its
// own HTML renderer; this service only selects the variant.
type Renderer interface {
	// RenderPost renders a single-post notification.
	RenderPost(ctx RenderContext) (plain, html string)
	// RenderDigestPost renders one post inside a digest discussion block,
	// either with the full body or subject-only.
	RenderDigestPost(ctx RenderContext, full bool) (plain, html string)
	// RenderDigestHeader renders the heading of a digest discussion block.
	RenderDigestHeader(course *models.Course, forum *models.Forum, discussion *models.Discussion) (plain, html string)
}

// TextRenderer is the built-in plain renderer. It emits no real HTML; the
// HTML variant is the escaped plain text, good enough for a default.
type TextRenderer struct {
	SiteName string
}

func (r *TextRenderer) RenderPost(ctx RenderContext) (string, string) {
	var b strings.Builder
	if r.SiteName != "" {
		fmt.Fprintf(&b, "%s\n", r.SiteName)
	}
	fmt.Fprintf(&b, "%s -> %s -> %s\n", ctx.Course.ShortName, ctx.Forum.Name, ctx.Discussion.Name)
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 60))
	fmt.Fprintf(&b, "%s\n", ctx.Post.Subject)
	fmt.Fprintf(&b, "by %s on %s\n\n", ctx.Author.FullName(), formatTime(ctx.Post.Created))
	fmt.Fprintf(&b, "%s\n", ctx.Post.Message)
	if ctx.CanReply {
		fmt.Fprintf(&b, "\n%s\nReply to this post in %s.\n", strings.Repeat("-", 60), ctx.Forum.Name)
	}
	plain := b.String()
	return plain, htmlEscape(plain)
}

func (r *TextRenderer) RenderDigestPost(ctx RenderContext, full bool) (string, string) {
	var b strings.Builder
	if full {
		fmt.Fprintf(&b, "%s\nby %s on %s\n\n%s\n",
			ctx.Post.Subject, ctx.Author.FullName(), formatTime(ctx.Post.Created), ctx.Post.Message)
	} else {
		fmt.Fprintf(&b, "%s (by %s)\n", ctx.Post.Subject, ctx.Author.FullName())
	}
	plain := b.String()
	return plain, htmlEscape(plain)
}

func (r *TextRenderer) RenderDigestHeader(course *models.Course, forum *models.Forum, discussion *models.Discussion) (string, string) {
	plain := fmt.Sprintf("%s\n%s -> %s -> %s\n\n",
		strings.Repeat("=", 60), course.ShortName, forum.Name, discussion.Name)
	return plain, htmlEscape(plain)
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("Mon, 2 Jan 2006 15:04 MST")
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return "<pre>" + s + "</pre>"
}
