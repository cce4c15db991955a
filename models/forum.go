package models

// ForumType determines the posting and notification rules of a forum.
type ForumType string

const (
	ForumTypeGeneral  ForumType = "general"
	ForumTypeEachUser ForumType = "eachuser"
	ForumTypeSingle   ForumType = "single"
	ForumTypeQAndA    ForumType = "qanda"
	ForumTypeBlog     ForumType = "blog"
	ForumTypeNews     ForumType = "news"
	ForumTypeSocial   ForumType = "social"
)

// SubscriptionMode controls who receives notifications for a forum.
type SubscriptionMode int

const (
	// SubscriptionChoose lets each user decide per forum.
	SubscriptionChoose SubscriptionMode = 0
	// SubscriptionForce notifies every enrolled user; unsubscribing is ignored.
	SubscriptionForce SubscriptionMode = 1
	// SubscriptionInitial subscribes everyone once, then behaves like choose.
	SubscriptionInitial SubscriptionMode = 2
	// SubscriptionDisallow sends no notifications regardless of preference.
	SubscriptionDisallow SubscriptionMode = 3
)

// TrackingType controls per-post read tracking for a forum.
type TrackingType int

const (
	TrackingOff      TrackingType = 0
	TrackingOptional TrackingType = 1
	TrackingForced   TrackingType = 2
)

// GroupMode controls group visibility of discussions within a forum.
type GroupMode int

const (
	GroupsNone     GroupMode = 0
	GroupsSeparate GroupMode = 1
	GroupsVisible  GroupMode = 2
)

// Forum is a top-level discussion container inside a course.
type Forum struct {
	ID               int64            `db:"id"`
	CourseID         int64            `db:"course_id"`
	Name             string           `db:"name"`
	Type             ForumType        `db:"type"`
	SubscriptionMode SubscriptionMode `db:"subscription_mode"`
	TrackingType     TrackingType     `db:"tracking_type"`
	GroupMode        GroupMode        `db:"group_mode"`
}
