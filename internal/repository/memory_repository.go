package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/linkedin-scheduler/internal/models"
)

// MemoryScheduledPostRepository keeps posts in process memory. It is used by
// the memory storage driver and by tests.
type MemoryScheduledPostRepository struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*models.ScheduledPost
	now    func() time.Time
}

func NewMemoryScheduledPostRepository() *MemoryScheduledPostRepository {
	return &MemoryScheduledPostRepository{
		posts: make(map[int64]*models.ScheduledPost),
		now:   time.Now,
	}
}

var _ ScheduledPostRepository = (*MemoryScheduledPostRepository)(nil)

func (r *MemoryScheduledPostRepository) Create(_ context.Context, post *models.ScheduledPost) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := r.now().UTC()

	post.ID = r.nextID
	if post.Status == "" {
		post.Status = models.PostStatusPending
	}
	post.ScheduledAt = post.ScheduledAt.UTC()
	post.CreatedAt = now
	post.UpdatedAt = now

	r.posts[post.ID] = post.Clone()
	return post.ID, nil
}

func (r *MemoryScheduledPostRepository) GetByID(_ context.Context, id int64) (*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryScheduledPostRepository) ListByUserID(_ context.Context, userID int64) ([]*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(func(p *models.ScheduledPost) bool { return p.UserID == userID }), nil
}

func (r *MemoryScheduledPostRepository) Update(_ context.Context, id, userID int64, mutate func(*models.ScheduledPost) error) (*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.posts[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	next, err := applyMutation(current, userID, mutate)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = r.now().UTC()

	r.posts[id] = next
	return next.Clone(), nil
}

func (r *MemoryScheduledPostRepository) Remove(_ context.Context, id, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok || p.UserID != userID {
		return models.ErrNotFound
	}
	delete(r.posts, id)
	return nil
}

func (r *MemoryScheduledPostRepository) ListDue(_ context.Context, asOf time.Time) ([]*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(func(p *models.ScheduledPost) bool {
		return p.Status == models.PostStatusPending && !p.ScheduledAt.After(asOf)
	}), nil
}

func (r *MemoryScheduledPostRepository) MarkPublished(_ context.Context, id int64, platformPostID string) error {
	return r.transition(id, func(p *models.ScheduledPost, now time.Time) {
		p.Status = models.PostStatusPublished
		p.PlatformPostID = platformPostID
		p.ErrorMessage = ""
		p.PublishedAt = &now
	})
}

func (r *MemoryScheduledPostRepository) MarkFailed(_ context.Context, id int64, errorMessage string) error {
	return r.transition(id, func(p *models.ScheduledPost, _ time.Time) {
		p.Status = models.PostStatusFailed
		p.PlatformPostID = ""
		p.ErrorMessage = errorMessage
	})
}

func (r *MemoryScheduledPostRepository) transition(id int64, apply func(*models.ScheduledPost, time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return nil
	}
	if p.Status != models.PostStatusPending {
		return fmt.Errorf("%w: post %d is %s", models.ErrInvalidState, id, p.Status)
	}

	now := r.now().UTC()
	apply(p, now)
	p.UpdatedAt = now
	return nil
}

// collect must be called with mu held.
func (r *MemoryScheduledPostRepository) collect(keep func(*models.ScheduledPost) bool) []*models.ScheduledPost {
	var out []*models.ScheduledPost
	for _, p := range r.posts {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

// MemoryCredentialRepository keeps credentials in process memory.
type MemoryCredentialRepository struct {
	mu    sync.Mutex
	creds map[int64]models.Credential
	now   func() time.Time
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		creds: make(map[int64]models.Credential),
		now:   time.Now,
	}
}

var _ CredentialRepository = (*MemoryCredentialRepository)(nil)

func (r *MemoryCredentialRepository) Get(_ context.Context, userID int64) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.creds[userID]
	if !ok {
		return nil, models.ErrNotConnected
	}
	return &c, nil
}

func (r *MemoryCredentialRepository) Put(_ context.Context, cred *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	cred.ExpiresAt = cred.ExpiresAt.UTC()
	cred.UpdatedAt = now

	if existing, ok := r.creds[cred.UserID]; ok {
		cred.Version = existing.Version + 1
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.Version = 1
		cred.CreatedAt = now
	}

	r.creds[cred.UserID] = *cred
	return nil
}

func (r *MemoryCredentialRepository) ReplaceTokens(_ context.Context, cred *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.creds[cred.UserID]
	if !ok {
		return models.ErrNotConnected
	}
	if existing.Version != cred.Version {
		return fmt.Errorf("%w: credential for user %d changed concurrently", models.ErrConflict, cred.UserID)
	}

	existing.AccessToken = cred.AccessToken
	if cred.RefreshToken != "" {
		existing.RefreshToken = cred.RefreshToken
	}
	existing.ExpiresAt = cred.ExpiresAt.UTC()
	existing.Version++
	existing.UpdatedAt = r.now().UTC()
	r.creds[cred.UserID] = existing

	cred.Version = existing.Version
	cred.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *MemoryCredentialRepository) Remove(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.creds, userID)
	return nil
}

func (r *MemoryCredentialRepository) ListExpiring(_ context.Context, before time.Time) ([]*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Credential
	for _, c := range r.creds {
		if !c.ExpiresAt.After(before) {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}
