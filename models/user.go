package models

// User is the recipient/author record used during mailing passes. Only the
// fields needed for composing and addressing mail are kept; Minimize strips
// the rest so cached copies stay small.
type User struct {
	ID         int64      `db:"id"`
	Username   string     `db:"username"`
	Email      string     `db:"email"`
	FirstName  string     `db:"first_name"`
	LastName   string     `db:"last_name"`
	MailDigest DigestMode `db:"mail_digest"` // per-user default digest mode
	Deleted    bool       `db:"deleted"`

	// Profile fields, not needed for mailing.
	Description string `db:"description"`
	City        string `db:"city"`
	Country     string `db:"country"`
}

// FullName returns the display name used in From headers.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Minimize drops profile fields so long mailing passes don't hold full
// records for thousands of users.
func (u *User) Minimize() *User {
	m := *u
	m.Description = ""
	m.City = ""
	m.Country = ""
	return &m
}

// Course is the minimal course record needed for subjects and list headers.
type Course struct {
	ID        int64  `db:"id"`
	ShortName string `db:"short_name"`
	FullName  string `db:"full_name"`
}
