package mailer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"sort"

	"forum-mailer/models"
)

// Message is a composed notification ready for the transport.
type Message struct {
	From      string // address
	FromName  string // display name
	To        string
	Subject   string
	PlainBody string
	HTMLBody  string
	Headers   map[string]string
}

// MessageID builds the stable message id for (post, recipient). The same
// pair always yields the same id, so a re-sent notification is deduplicated
// by the recipient's mail client rather than by us.
func MessageID(postID, recipientID int64, host string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%dto%d", postID, recipientID)))
	return fmt.Sprintf("<%s@%s>", hex.EncodeToString(sum[:]), host)
}

// DigestMessageID builds the message id of a daily digest.
func DigestMessageID(digestTime, recipientID int64, host string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("digest%dto%d", digestTime, recipientID)))
	return fmt.Sprintf("<%s@%s>", hex.EncodeToString(sum[:]), host)
}

// Composer assembles message headers the way threaded mail clients expect.
type Composer struct {
	SiteName string
	Host     string
	From     string // sender address used on all outgoing mail
	ReplyTo  string // optional
}

// ComposePost builds the notification for one post and one recipient,
// wiring In-Reply-To and References from the post's ancestor chain so the
// mail threads under the messages it answers.
func (c *Composer) ComposePost(course *models.Course, forum *models.Forum, discussion *models.Discussion,
	post *models.Post, author, recipient *models.User, ancestors []int64, plain, html string,
) *Message {
	headers := map[string]string{
		"Message-ID": MessageID(post.ID, recipient.ID, c.Host),
		"List-Id":    fmt.Sprintf("%q <%d.forum.%s>", forum.Name, forum.ID, c.Host),
		"Precedence": "Bulk",
	}
	if post.ParentID != 0 {
		headers["In-Reply-To"] = MessageID(post.ParentID, recipient.ID, c.Host)
	}
	if len(ancestors) > 0 {
		refs := ""
		for i, id := range ancestors {
			if i > 0 {
				refs += " "
			}
			refs += MessageID(id, recipient.ID, c.Host)
		}
		headers["References"] = refs
	}
	if c.ReplyTo != "" {
		headers["Reply-To"] = c.ReplyTo
	}

	return &Message{
		From:      c.From,
		FromName:  author.FullName(),
		To:        recipient.Email,
		Subject:   fmt.Sprintf("%s: %s", course.ShortName, post.Subject),
		PlainBody: plain,
		HTMLBody:  html,
		Headers:   headers,
	}
}

// ComposeDigest builds the single daily digest message for a recipient.
func (c *Composer) ComposeDigest(recipient *models.User, digestTime int64, plain, html string) *Message {
	headers := map[string]string{
		"Message-ID": DigestMessageID(digestTime, recipient.ID, c.Host),
		"Precedence": "Bulk",
	}
	if c.ReplyTo != "" {
		headers["Reply-To"] = c.ReplyTo
	}
	return &Message{
		From:      c.From,
		FromName:  c.SiteName,
		To:        recipient.Email,
		Subject:   fmt.Sprintf("%s: forum digest", c.SiteName),
		PlainBody: plain,
		HTMLBody:  html,
		Headers:   headers,
	}
}

const mimeBoundary = "----forum-mailer-alt"

// Bytes serializes the message into wire form for the SMTP transport.
func (m *Message) Bytes() []byte {
	var b bytes.Buffer

	from := m.From
	if m.FromName != "" {
		// QEncoding leaves plain ASCII names untouched; those still need
		// the quoting, anything encoded must not get it.
		name := mime.QEncoding.Encode("utf-8", m.FromName)
		if name == m.FromName {
			name = fmt.Sprintf("%q", name)
		}
		from = fmt.Sprintf("%s <%s>", name, m.From)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))

	// Deterministic header order keeps the output reproducible.
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, m.Headers[k])
	}

	if m.HTMLBody == "" {
		fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(m.PlainBody)
		return b.Bytes()
	}

	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", mimeBoundary, m.PlainBody)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", mimeBoundary, m.HTMLBody)
	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	return b.Bytes()
}
