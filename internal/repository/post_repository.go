package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
)

// ScheduledPostRepository is the durable store of scheduled posts.
// MarkPublished and MarkFailed only apply to pending posts; a missing post
// is treated as already resolved and yields no error.
type ScheduledPostRepository interface {
	Create(ctx context.Context, post *models.ScheduledPost) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error)
	Update(ctx context.Context, id, userID int64, mutate func(*models.ScheduledPost) error) (*models.ScheduledPost, error)
	Remove(ctx context.Context, id, userID int64) error
	ListDue(ctx context.Context, asOf time.Time) ([]*models.ScheduledPost, error)
	MarkPublished(ctx context.Context, id int64, platformPostID string) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
}

const postColumns = `id, user_id, content, image_url, scheduled_at, timezone, status,
	platform_post_id, error_message, published_at, created_at, updated_at`

type scheduledPostRepository struct {
	db *sqlx.DB
}

func NewScheduledPostRepository(db *sqlx.DB) ScheduledPostRepository {
	return &scheduledPostRepository{db: db}
}

func (r *scheduledPostRepository) Create(ctx context.Context, post *models.ScheduledPost) (int64, error) {
	query := `
		INSERT INTO scheduled_posts (user_id, content, image_url, scheduled_at, timezone, status,
			platform_post_id, error_message, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	status := post.Status
	if status == "" {
		status = models.PostStatusPending
	}

	row := r.db.QueryRowxContext(ctx, query,
		post.UserID,
		post.Content,
		post.ImageURL,
		post.ScheduledAt.UTC(),
		post.Timezone,
		status,
		post.PlatformPostID,
		post.ErrorMessage,
		post.PublishedAt,
	)
	if err := row.Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt); err != nil {
		return 0, fmt.Errorf("insert scheduled post: %w", err)
	}

	post.Status = status
	post.ScheduledAt = post.ScheduledAt.UTC()
	return post.ID, nil
}

func (r *scheduledPostRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = $1`
	if err := r.db.GetContext(ctx, &post, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get scheduled post %d: %w", id, err)
	}
	return normalizePost(&post), nil
}

func (r *scheduledPostRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	var posts []*models.ScheduledPost
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE user_id = $1 ORDER BY scheduled_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &posts, query, userID); err != nil {
		return nil, fmt.Errorf("list scheduled posts: %w", err)
	}
	for _, p := range posts {
		normalizePost(p)
	}
	return posts, nil
}

func (r *scheduledPostRepository) Update(ctx context.Context, id, userID int64, mutate func(*models.ScheduledPost) error) (*models.ScheduledPost, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var current models.ScheduledPost
	err = tx.GetContext(ctx, &current, `SELECT `+postColumns+` FROM scheduled_posts WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("lock scheduled post %d: %w", id, err)
	}
	normalizePost(&current)

	next, err := applyMutation(&current, userID, mutate)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE scheduled_posts
		SET content = $2,
			image_url = $3,
			scheduled_at = $4,
			timezone = $5,
			status = $6,
			platform_post_id = $7,
			error_message = $8,
			published_at = $9,
			updated_at = $10
		WHERE id = $1
	`
	_, err = tx.ExecContext(ctx, query,
		id,
		next.Content,
		next.ImageURL,
		next.ScheduledAt,
		next.Timezone,
		next.Status,
		next.PlatformPostID,
		next.ErrorMessage,
		next.PublishedAt,
		next.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update scheduled post %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

func (r *scheduledPostRepository) Remove(ctx context.Context, id, userID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete scheduled post %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *scheduledPostRepository) ListDue(ctx context.Context, asOf time.Time) ([]*models.ScheduledPost, error) {
	var posts []*models.ScheduledPost
	query := `SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &posts, query, models.PostStatusPending, asOf.UTC()); err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	for _, p := range posts {
		normalizePost(p)
	}
	return posts, nil
}

func (r *scheduledPostRepository) MarkPublished(ctx context.Context, id int64, platformPostID string) error {
	now := time.Now().UTC()
	query := `
		UPDATE scheduled_posts
		SET status = $2, platform_post_id = $3, error_message = '', published_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query, id, models.PostStatusPublished, platformPostID, now, models.PostStatusPending)
	if err != nil {
		return fmt.Errorf("mark post %d published: %w", id, err)
	}
	return r.checkTransition(ctx, id, result)
}

func (r *scheduledPostRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE scheduled_posts
		SET status = $2, error_message = $3, platform_post_id = '', updated_at = $4
		WHERE id = $1 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query, id, models.PostStatusFailed, errorMessage, time.Now().UTC(), models.PostStatusPending)
	if err != nil {
		return fmt.Errorf("mark post %d failed: %w", id, err)
	}
	return r.checkTransition(ctx, id, result)
}

// checkTransition tells apart a deleted post (resolved, nil) from one that
// already left pending (ErrInvalidState).
func (r *scheduledPostRepository) checkTransition(ctx context.Context, id int64, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var status string
	err = r.db.GetContext(ctx, &status, `SELECT status FROM scheduled_posts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check post %d status: %w", id, err)
	}
	return fmt.Errorf("%w: post %d is %s", models.ErrInvalidState, id, status)
}

// applyMutation runs mutate on a copy of current and enforces the edit rules
// shared by every store implementation.
func applyMutation(current *models.ScheduledPost, userID int64, mutate func(*models.ScheduledPost) error) (*models.ScheduledPost, error) {
	if current.UserID != userID {
		return nil, fmt.Errorf("%w: post %d belongs to another user", models.ErrConflict, current.ID)
	}
	if current.Status == models.PostStatusPublished {
		return nil, fmt.Errorf("%w: post %d is already published", models.ErrInvalidState, current.ID)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	if next.ID != current.ID || next.UserID != current.UserID {
		return nil, fmt.Errorf("%w: id and owner are immutable", models.ErrInvalidState)
	}
	switch next.Status {
	case models.PostStatusPending, models.PostStatusFailed:
	default:
		return nil, fmt.Errorf("%w: cannot set status %q by edit", models.ErrInvalidState, next.Status)
	}
	next.ScheduledAt = next.ScheduledAt.UTC()
	return next, nil
}

func normalizePost(p *models.ScheduledPost) *models.ScheduledPost {
	p.ScheduledAt = p.ScheduledAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if p.PublishedAt != nil {
		t := p.PublishedAt.UTC()
		p.PublishedAt = &t
	}
	return p
}
