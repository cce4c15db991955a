package database

import "database/sql"

// Stores bundles all stores over one connection, so wiring the dispatchers
// stays short.
type Stores struct {
	Posts         *PostDB
	Forums        *ForumDB
	Users         *UserDB
	Subscriptions *SubscriptionDB
	Digests       *DigestDB
	Reads         *ReadDB
}

// NewStores creates every store on the given connection.
func NewStores(db *sql.DB) *Stores {
	return &Stores{
		Posts:         NewPostDB(db),
		Forums:        NewForumDB(db),
		Users:         NewUserDB(db),
		Subscriptions: NewSubscriptionDB(db),
		Digests:       NewDigestDB(db),
		Reads:         NewReadDB(db),
	}
}
