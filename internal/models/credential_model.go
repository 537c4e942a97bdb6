package models

import (
	"time"
)

// Credential is a user's LinkedIn connection. Version increases on every
// token write so refresh write-backs can detect concurrent changes.
type Credential struct {
	UserID       int64     `db:"user_id" json:"user_id"`
	MemberURN    string    `db:"member_urn" json:"member_urn"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	Version      int64     `db:"version" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ExpiredAt reports whether the access token must not be used at t.
func (c *Credential) ExpiredAt(t time.Time) bool {
	return !c.ExpiresAt.After(t)
}

type Session struct {
	UserID    int64
	ExpiresAt time.Time
}
