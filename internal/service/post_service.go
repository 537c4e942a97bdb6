package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/linkedin-scheduler/internal/localtime"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/internal/repository"
	"github.com/maheshrc27/linkedin-scheduler/internal/transfer"
)

// MaxContentLength is LinkedIn's share commentary limit in characters.
const MaxContentLength = 3000

const (
	publishNowTimeout = 30 * time.Second
	recordTimeout     = 10 * time.Second
)

// Waker is told about every instant a post becomes due.
type Waker interface {
	WakeAt(ctx context.Context, at time.Time) error
}

type PostService interface {
	Create(ctx context.Context, userID int64, req *transfer.CreatePostRequest) (*transfer.PostResponse, error)
	Get(ctx context.Context, userID, postID int64) (*transfer.PostResponse, error)
	List(ctx context.Context, userID int64) ([]*transfer.PostResponse, error)
	Update(ctx context.Context, userID, postID int64, req *transfer.UpdatePostRequest) (*transfer.PostResponse, error)
	Remove(ctx context.Context, userID, postID int64) error
	PublishNow(ctx context.Context, userID int64, req *transfer.PublishNowRequest) (*transfer.PostResponse, error)
	Engagement(ctx context.Context, userID, postID int64) (*transfer.EngagementResponse, error)
}

type postService struct {
	posts           repository.ScheduledPostRepository
	publisher       Publisher
	waker           Waker
	defaultTimezone string
}

// NewPostService builds the post service. waker may be nil.
func NewPostService(
	posts repository.ScheduledPostRepository,
	publisher Publisher,
	waker Waker,
	defaultTimezone string) PostService {
	if defaultTimezone == "" {
		defaultTimezone = "Asia/Kolkata"
	}
	return &postService{
		posts:           posts,
		publisher:       publisher,
		waker:           waker,
		defaultTimezone: defaultTimezone,
	}
}

func (s *postService) Create(ctx context.Context, userID int64, req *transfer.CreatePostRequest) (*transfer.PostResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request body is empty", models.ErrValidation)
	}

	content, err := validateContent(req.Content)
	if err != nil {
		return nil, err
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = s.defaultTimezone
	}

	var scheduledAt time.Time
	switch {
	case req.ScheduledAt != "":
		if _, err = localtime.LoadZone(timezone); err == nil {
			scheduledAt, err = localtime.ParseInstant(req.ScheduledAt)
		}
	case req.ScheduledDatetime != "":
		scheduledAt, err = localtime.ParseLocalDateTime(req.ScheduledDatetime, timezone)
	case req.ScheduledDate != "" || req.ScheduledTime != "":
		scheduledAt, err = localtime.ToAbsolute(req.ScheduledDate, req.ScheduledTime, timezone)
	default:
		err = fmt.Errorf("%w: scheduled_datetime is required", models.ErrInvalidDateTime)
	}
	if err != nil {
		return nil, err
	}

	post := &models.ScheduledPost{
		UserID:      userID,
		Content:     content,
		ImageURL:    strings.TrimSpace(req.ImageURL),
		ScheduledAt: scheduledAt,
		Timezone:    timezone,
		Status:      models.PostStatusPending,
	}

	if _, err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("error creating scheduled post: %w", err)
	}

	s.wake(ctx, post)
	return toPostResponse(post), nil
}

func (s *postService) Get(ctx context.Context, userID, postID int64) (*transfer.PostResponse, error) {
	post, err := s.owned(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	return toPostResponse(post), nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*transfer.PostResponse, error) {
	posts, err := s.posts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*transfer.PostResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPostResponse(p))
	}
	return out, nil
}

// Update edits a pending or failed post. A failed post goes back to pending,
// with its error cleared, when it is re-submitted or its schedule changes.
func (s *postService) Update(ctx context.Context, userID, postID int64, req *transfer.UpdatePostRequest) (*transfer.PostResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request body is empty", models.ErrValidation)
	}

	var content string
	if req.Content != nil {
		c, err := validateContent(*req.Content)
		if err != nil {
			return nil, err
		}
		content = c
	}

	if req.Status != nil && *req.Status != models.PostStatusPending {
		return nil, fmt.Errorf("%w: status can only be set to %q", models.ErrValidation, models.PostStatusPending)
	}

	var rescheduled bool
	updated, err := s.posts.Update(ctx, postID, userID, func(p *models.ScheduledPost) error {
		if req.Content != nil {
			p.Content = content
		}
		if req.ImageURL != nil {
			p.ImageURL = strings.TrimSpace(*req.ImageURL)
		}

		timezone := p.Timezone
		if req.Timezone != nil {
			timezone = strings.TrimSpace(*req.Timezone)
			if timezone == "" {
				timezone = s.defaultTimezone
			}
			if _, err := localtime.LoadZone(timezone); err != nil {
				return err
			}
		}

		var (
			at  time.Time
			set bool
			err error
		)
		switch {
		case req.ScheduledAt != nil:
			at, err = localtime.ParseInstant(*req.ScheduledAt)
			set = true
		case req.ScheduledDatetime != nil:
			at, err = localtime.ParseLocalDateTime(*req.ScheduledDatetime, timezone)
			set = true
		}
		if err != nil {
			return err
		}
		if set {
			rescheduled = !at.Equal(p.ScheduledAt)
			p.ScheduledAt = at
		}
		p.Timezone = timezone

		if p.Status == models.PostStatusFailed && (rescheduled || req.Status != nil) {
			p.Resubmit()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status == models.PostStatusPending {
		s.wake(ctx, updated)
	}
	return toPostResponse(updated), nil
}

// PublishNow publishes straight away and stores the post with its outcome.
// The stored post is never pending, so no tick can publish it again. A
// failed post can be re-submitted like any other.
func (s *postService) PublishNow(ctx context.Context, userID int64, req *transfer.PublishNowRequest) (*transfer.PostResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request body is empty", models.ErrValidation)
	}

	content, err := validateContent(req.Content)
	if err != nil {
		return nil, err
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = s.defaultTimezone
	}
	if _, err := localtime.LoadZone(timezone); err != nil {
		return nil, err
	}

	post := &models.ScheduledPost{
		UserID:      userID,
		Content:     content,
		ImageURL:    strings.TrimSpace(req.ImageURL),
		ScheduledAt: time.Now().UTC(),
		Timezone:    timezone,
	}

	pctx, cancel := context.WithTimeout(ctx, publishNowTimeout)
	linkedInPostID, pubErr := s.publisher.Publish(pctx, userID, Share{Content: post.Content, ImageURL: post.ImageURL})
	cancel()

	if pubErr != nil {
		post.Status = models.PostStatusFailed
		post.ErrorMessage = pubErr.Error()
	} else {
		publishedAt := time.Now().UTC()
		post.Status = models.PostStatusPublished
		post.PlatformPostID = linkedInPostID
		post.PublishedAt = &publishedAt
	}

	// The outcome is stored even if the caller went away after publishing.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := s.posts.Create(rctx, post); err != nil {
		slog.Error("failed to record published post",
			slog.Int64("user_id", userID),
			slog.String("linkedin_post_id", linkedInPostID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("error recording post: %w", err)
	}

	if pubErr != nil {
		return nil, pubErr
	}
	return toPostResponse(post), nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	return s.posts.Remove(ctx, postID, userID)
}

func (s *postService) Engagement(ctx context.Context, userID, postID int64) (*transfer.EngagementResponse, error) {
	post, err := s.owned(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != models.PostStatusPublished || post.PlatformPostID == "" {
		return nil, fmt.Errorf("%w: post %d is not published", models.ErrInvalidState, postID)
	}

	m, err := s.publisher.Engagement(ctx, userID, post.PlatformPostID)
	if err != nil {
		return nil, err
	}
	return &transfer.EngagementResponse{
		PostID:         post.ID,
		LinkedInPostID: post.PlatformPostID,
		Likes:          m.Likes,
		Comments:       m.Comments,
	}, nil
}

func (s *postService) owned(ctx context.Context, userID, postID int64) (*models.ScheduledPost, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, models.ErrNotFound
	}
	return post, nil
}

// wake never fails the request: polling picks the post up regardless.
func (s *postService) wake(ctx context.Context, post *models.ScheduledPost) {
	if s.waker == nil {
		return
	}
	if err := s.waker.WakeAt(ctx, post.ScheduledAt); err != nil {
		slog.Warn("failed to schedule wakeup",
			slog.Int64("post_id", post.ID),
			slog.String("error", err.Error()))
	}
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: content cannot be empty", models.ErrValidation)
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLength {
		return "", fmt.Errorf("%w: content is %d characters, limit is %d", models.ErrValidation, n, MaxContentLength)
	}
	return content, nil
}

func toPostResponse(p *models.ScheduledPost) *transfer.PostResponse {
	resp := &transfer.PostResponse{
		ID:                p.ID,
		Content:           p.Content,
		ScheduledDatetime: localtime.FormatInstant(p.ScheduledAt),
		Timezone:          p.Timezone,
		Status:            p.Status,
		ErrorMessage:      p.ErrorMessage,
		LinkedInPostID:    p.PlatformPostID,
		ImageURL:          p.ImageURL,
		CreatedAt:         localtime.FormatInstant(p.CreatedAt),
		UpdatedAt:         localtime.FormatInstant(p.UpdatedAt),
	}
	if p.PublishedAt != nil {
		resp.PublishedAt = localtime.FormatInstant(*p.PublishedAt)
	}

	// Stored timezones were validated on write.
	if date, err := localtime.ToDisplay(p.ScheduledAt, p.Timezone, localtime.GranularityDate); err == nil {
		resp.LocalDate = date
	}
	if clock, err := localtime.ToDisplay(p.ScheduledAt, p.Timezone, localtime.GranularityTime); err == nil {
		resp.LocalTime = clock
	}
	return resp
}
