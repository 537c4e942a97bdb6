package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/maheshrc27/linkedin-scheduler/internal/metrics"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/internal/repository"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTokenLifetime = 60 * 24 * time.Hour
	refreshTimeout       = 30 * time.Second
)

// Publisher publishes shares on behalf of a user, refreshing an expired
// access token first. At most one refresh per user is in flight.
type Publisher interface {
	Publish(ctx context.Context, userID int64, share Share) (string, error)
	EnsureFresh(ctx context.Context, userID int64, leeway time.Duration) error
	Engagement(ctx context.Context, userID int64, platformPostID string) (*models.EngagementMetrics, error)
}

type publisher struct {
	creds    repository.CredentialRepository
	linkedin LinkedInService
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
	flights  singleflight.Group
}

type PublisherOption func(*publisher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *publisher) { p.now = now }
}

func NewPublisher(
	creds repository.CredentialRepository,
	li LinkedInService,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	opts ...PublisherOption) Publisher {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &publisher{
		creds:    creds,
		linkedin: li,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *publisher) Publish(ctx context.Context, userID int64, share Share) (string, error) {
	cred, err := p.usableCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.linkedin.PublishShare(ctx, cred.AccessToken, cred.MemberURN, share)
}

func (p *publisher) EnsureFresh(ctx context.Context, userID int64, leeway time.Duration) error {
	cred, err := p.creds.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !cred.ExpiredAt(p.now().Add(leeway)) {
		return nil
	}
	_, err = p.refresh(ctx, userID, leeway)
	return err
}

func (p *publisher) Engagement(ctx context.Context, userID int64, platformPostID string) (*models.EngagementMetrics, error) {
	cred, err := p.usableCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.linkedin.SocialActions(ctx, cred.AccessToken, platformPostID)
}

// usableCredential returns a credential whose access token has not expired.
func (p *publisher) usableCredential(ctx context.Context, userID int64) (*models.Credential, error) {
	cred, err := p.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cred.ExpiredAt(p.now()) {
		return cred, nil
	}
	return p.refresh(ctx, userID, 0)
}

// refresh joins or starts the user's refresh flight. The flight re-reads the
// credential, so a caller arriving after a finished refresh reuses its result
// instead of redeeming the refresh token again.
func (p *publisher) refresh(ctx context.Context, userID int64, leeway time.Duration) (*models.Credential, error) {
	key := strconv.FormatInt(userID, 10)

	ch := p.flights.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return p.doRefresh(fctx, userID, leeway)
	})

	select {
	case <-ctx.Done():
		return nil, &models.PublishError{Message: fmt.Sprintf("waiting for token refresh: %v", ctx.Err())}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Credential), nil
	}
}

func (p *publisher) doRefresh(ctx context.Context, userID int64, leeway time.Duration) (*models.Credential, error) {
	cred, err := p.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if !cred.ExpiredAt(now.Add(leeway)) {
		return cred, nil
	}

	log := p.logger.With(slog.Int64("user_id", userID))

	if cred.RefreshToken == "" {
		p.metrics.RecordTokenRefresh("unavailable")
		log.Warn("access token expired and no refresh token is stored")
		return nil, fmt.Errorf("%w: no refresh token", models.ErrCredentialExpired)
	}

	token, err := p.linkedin.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		p.metrics.RecordTokenRefresh("failure")
		log.Warn("token refresh failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", models.ErrCredentialExpired, err)
	}

	next := *cred
	next.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		next.RefreshToken = token.RefreshToken
	}
	next.ExpiresAt = tokenExpiry(token, now)

	if err := p.creds.ReplaceTokens(ctx, &next); err != nil {
		p.metrics.RecordTokenRefresh("conflict")
		log.Warn("token write-back rejected", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", models.ErrCredentialExpired, err)
	}

	p.metrics.RecordTokenRefresh("success")
	log.Info("access token refreshed", slog.Time("expires_at", next.ExpiresAt))
	return &next, nil
}
