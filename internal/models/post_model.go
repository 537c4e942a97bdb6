package models

import "time"

type ScheduledPost struct {
	ID             int64      `db:"id" json:"id"`
	UserID         int64      `db:"user_id" json:"user_id"`
	Content        string     `db:"content" json:"content"`
	ImageURL       string     `db:"image_url" json:"image_url"`
	ScheduledAt    time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Timezone       string     `db:"timezone" json:"timezone"`
	Status         string     `db:"status" json:"status"` // pending, published, failed
	PlatformPostID string     `db:"platform_post_id" json:"platform_post_id"`
	ErrorMessage   string     `db:"error_message" json:"error_message"`
	PublishedAt    *time.Time `db:"published_at" json:"published_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusPending   = "pending"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// Editable reports whether the owner may still change the post.
func (p *ScheduledPost) Editable() bool {
	return p.Status == PostStatusPending || p.Status == PostStatusFailed
}

// Resubmit moves a failed post back to pending and drops the previous
// attempt's diagnostics.
func (p *ScheduledPost) Resubmit() {
	p.Status = PostStatusPending
	p.ErrorMessage = ""
	p.PlatformPostID = ""
	p.PublishedAt = nil
}

// Clone returns a copy that shares no pointers with p.
func (p *ScheduledPost) Clone() *ScheduledPost {
	c := *p
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// EngagementMetrics are the reaction counts of a published post.
type EngagementMetrics struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
}
