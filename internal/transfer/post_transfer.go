package transfer

// CreatePostRequest accepts either ScheduledDatetime, or ScheduledDate
// together with ScheduledTime. ScheduledAt is an absolute instant, read as
// UTC when it has no zone designator, and wins over the local fields.
type CreatePostRequest struct {
	Content           string `json:"content"`
	ScheduledAt       string `json:"scheduled_at"`
	ScheduledDatetime string `json:"scheduled_datetime"`
	ScheduledDate     string `json:"scheduled_date"`
	ScheduledTime     string `json:"scheduled_time"`
	Timezone          string `json:"timezone"`
	ImageURL          string `json:"image_url"`
}

// UpdatePostRequest fields left nil are not changed. Status may only be
// "pending", which re-submits a failed post.
type UpdatePostRequest struct {
	Content           *string `json:"content"`
	ScheduledAt       *string `json:"scheduled_at"`
	ScheduledDatetime *string `json:"scheduled_datetime"`
	Timezone          *string `json:"timezone"`
	ImageURL          *string `json:"image_url"`
	Status            *string `json:"status"`
}

type PublishNowRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
	Timezone string `json:"timezone"`
}

type PostResponse struct {
	ID                int64  `json:"id"`
	Content           string `json:"content"`
	ScheduledDatetime string `json:"scheduled_datetime"`
	Timezone          string `json:"timezone"`
	LocalDate         string `json:"local_date"`
	LocalTime         string `json:"local_time"`
	Status            string `json:"status"`
	ErrorMessage      string `json:"error_message,omitempty"`
	LinkedInPostID    string `json:"linkedin_post_id,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
	PublishedAt       string `json:"published_at,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type GeneratePostRequest struct {
	Topic    string `json:"topic"`
	Tone     string `json:"tone"`
	Audience string `json:"audience"`
	URL      string `json:"url"`
}

type GeneratePostResponse struct {
	Post string `json:"post"`
}

type EngagementResponse struct {
	PostID         int64  `json:"post_id"`
	LinkedInPostID string `json:"linkedin_post_id"`
	Likes          int    `json:"likes"`
	Comments       int    `json:"comments"`
}

type MediaUploadResponse struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}
