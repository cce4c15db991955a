package mailer

import (
	"forum-mailer/models"
)

// Capability is the host system's permission oracle. The mailer only asks
// yes/no questions; how the answer is computed is the host's business.
type Capability interface {
	// CanViewPost reports whether the user may see the post at all.
	CanViewPost(userID int64, post *models.Post, discussion *models.Discussion, forum *models.Forum) bool
	// AccessAllGroups reports whether the user may ignore group
	// restrictions in the course.
	AccessAllGroups(userID, courseID int64) bool
	// CanManageSubscriptions reports whether the user may manage
	// subscriptions of the forum.
	CanManageSubscriptions(userID, forumID int64) bool
}

// PermissiveCapability allows everything. It is the default when the host
// does not plug in a real oracle.
type PermissiveCapability struct{}

func (PermissiveCapability) CanViewPost(int64, *models.Post, *models.Discussion, *models.Forum) bool {
	return true
}

func (PermissiveCapability) AccessAllGroups(int64, int64) bool { return true }

func (PermissiveCapability) CanManageSubscriptions(int64, int64) bool { return true }
