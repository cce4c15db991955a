package mailer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"forum-mailer/models"
)

func renderContext() RenderContext {
	return RenderContext{
		Course:     &models.Course{ShortName: "GO101"},
		Forum:      &models.Forum{Name: "General"},
		Discussion: &models.Discussion{Name: "Week 1"},
		Post:       &models.Post{Subject: "hello", Message: "world", Created: 1_700_000_000},
		Author:     &models.User{FirstName: "Ada", LastName: "Lovelace"},
		Recipient:  &models.User{FirstName: "Bob"},
	}
}

func TestTextRendererSiteName(t *testing.T) {
	r := &TextRenderer{SiteName: "Example Campus"}
	plain, html := r.RenderPost(renderContext())
	assert.True(t, strings.HasPrefix(plain, "Example Campus\n"))
	assert.Contains(t, html, "Example Campus")

	bare := &TextRenderer{}
	plain, _ = bare.RenderPost(renderContext())
	assert.True(t, strings.HasPrefix(plain, "GO101 -> General -> Week 1\n"))
}
