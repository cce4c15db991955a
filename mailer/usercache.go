package mailer

import (
	"forum-mailer/database"
	"forum-mailer/models"
)

// UserCache caches minimized user records for the duration of one
// dispatcher pass. Full records are kept only for the first threshold
// distinct users; beyond that each lookup re-fetches, trading a database
// round trip for bounded memory on very large recipient sets. A cache is
// constructed fresh per pass and discarded afterwards.
type UserCache struct {
	store     *database.UserDB
	threshold int
	users     map[int64]*models.User
}

// NewUserCache creates a per-pass cache.
func NewUserCache(store *database.UserDB, threshold int) *UserCache {
	return &UserCache{
		store:     store,
		threshold: threshold,
		users:     make(map[int64]*models.User),
	}
}

// Get returns the minimized record for a user, loading it when absent.
// Returns database.ErrNotFound for unknown or deleted users.
func (c *UserCache) Get(id int64) (*models.User, error) {
	if u, ok := c.users[id]; ok {
		return u, nil
	}
	u, err := c.store.GetUser(id)
	if err != nil {
		return nil, err
	}
	m := u.Minimize()
	if len(c.users) < c.threshold {
		c.users[id] = m
	}
	return m, nil
}

// Len reports how many records are currently cached.
func (c *UserCache) Len() int {
	return len(c.users)
}
