// Package scheduler publishes due posts on a fixed cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maheshrc27/linkedin-scheduler/internal/metrics"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/internal/repository"
	"github.com/maheshrc27/linkedin-scheduler/internal/service"
)

const (
	defaultInterval       = time.Minute
	defaultConcurrency    = 4
	defaultPublishTimeout = 30 * time.Second
	markTimeout           = 10 * time.Second
	cancelGrace           = 5 * time.Second
)

// ErrTickInProgress is returned by Tick while another tick is running.
var ErrTickInProgress = errors.New("scheduler tick already in progress")

// Publisher is the part of service.Publisher the loop needs.
type Publisher interface {
	Publish(ctx context.Context, userID int64, share service.Share) (string, error)
}

type Options struct {
	Interval       time.Duration
	Concurrency    int
	PublishTimeout time.Duration
	Now            func() time.Time
}

// TickResult summarizes one pass over the due posts.
type TickResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Due       int
	Published int
	Failed    int
	// Resolved counts posts another writer had already moved out of pending.
	Resolved int
	// Deferred counts posts left pending because the tick was cancelled
	// before their outcome was known. The next tick picks them up.
	Deferred int
}

type Loop struct {
	posts     repository.ScheduledPostRepository
	publisher Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	interval       time.Duration
	concurrency    int
	publishTimeout time.Duration
	now            func() time.Time

	running sync.Mutex
	kick    chan struct{}

	mu   sync.Mutex
	last *TickResult
}

func NewLoop(
	posts repository.ScheduledPostRepository,
	publisher Publisher,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		posts:          posts,
		publisher:      publisher,
		metrics:        m,
		logger:         logger,
		interval:       opts.Interval,
		concurrency:    opts.Concurrency,
		publishTimeout: opts.PublishTimeout,
		now:            opts.Now,
		kick:           make(chan struct{}, 1),
	}
}

// Run ticks once immediately, then every interval and on every Kick, until
// ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("scheduler started",
		slog.Duration("interval", l.interval),
		slog.Int("concurrency", l.concurrency))

	l.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			l.runTick(ctx)
		case <-l.kick:
			l.runTick(ctx)
		}
	}
}

// Kick requests an extra tick. Kicks that arrive before the loop gets to
// them collapse into one.
func (l *Loop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// LastTick returns the most recent finished tick, if any.
func (l *Loop) LastTick() (TickResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return TickResult{}, false
	}
	return *l.last, true
}

func (l *Loop) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := l.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		l.logger.Error("scheduler tick failed", slog.String("error", err.Error()))
	}
}

// Tick publishes every post due at the current instant. It returns
// ErrTickInProgress without doing anything if a tick is already running.
func (l *Loop) Tick(ctx context.Context) (TickResult, error) {
	if !l.running.TryLock() {
		l.metrics.RecordTickSkipped()
		l.logger.Warn("previous tick still running, skipping")
		return TickResult{}, ErrTickInProgress
	}
	defer l.running.Unlock()

	res := TickResult{ID: uuid.NewString(), StartedAt: l.now().UTC()}
	log := l.logger.With(slog.String("tick_id", res.ID))

	due, err := l.posts.ListDue(ctx, res.StartedAt)
	if err != nil {
		return res, fmt.Errorf("error listing due posts: %w", err)
	}
	res.Due = len(due)

	if len(due) > 0 {
		log.Info("publishing due posts", slog.Int("due", len(due)))
	}

	outcomes := make(chan outcome, len(due))
	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup

dispatch:
	for i, p := range due {
		if ctx.Err() != nil {
			res.Deferred += len(due) - i
			break
		}
		select {
		case <-ctx.Done():
			res.Deferred += len(due) - i
			break dispatch
		case sem <- struct{}{}:
		}
		// Both cases may have been ready.
		if ctx.Err() != nil {
			<-sem
			res.Deferred += len(due) - i
			break
		}
		wg.Add(1)

		go func(p *models.ScheduledPost) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes <- l.process(ctx, log, p)
		}(p)
	}
	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		switch o {
		case outcomePublished:
			res.Published++
		case outcomeFailed:
			res.Failed++
		case outcomeResolved:
			res.Resolved++
		case outcomeDeferred:
			res.Deferred++
		}
	}

	res.Duration = l.now().UTC().Sub(res.StartedAt)
	l.metrics.RecordTick(res.Duration, res.Due)

	if res.Due > 0 {
		log.Info("tick finished",
			slog.Int("published", res.Published),
			slog.Int("failed", res.Failed),
			slog.Int("resolved", res.Resolved),
			slog.Int("deferred", res.Deferred),
			slog.Duration("duration", res.Duration))
	}

	l.mu.Lock()
	l.last = &res
	l.mu.Unlock()
	return res, nil
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeFailed
	outcomeResolved
	outcomeDeferred
	outcomeError
)

// process publishes one post and records the result. Nothing that happens
// here escapes to the other posts of the tick.
func (l *Loop) process(ctx context.Context, log *slog.Logger, p *models.ScheduledPost) outcome {
	log = log.With(slog.Int64("post_id", p.ID), slog.Int64("user_id", p.UserID))

	postID, pubErr := l.publish(ctx, p)

	// A failure caused by the tick being cancelled says nothing about the
	// post, so it stays pending for the next tick.
	if pubErr != nil && ctx.Err() != nil {
		log.Info("tick cancelled, post left pending", slog.String("error", pubErr.Error()))
		return outcomeDeferred
	}

	// A success is written even when ctx was cancelled mid-publish.
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	var markErr error
	if pubErr == nil {
		markErr = l.posts.MarkPublished(mctx, p.ID, postID)
	} else {
		markErr = l.posts.MarkFailed(mctx, p.ID, pubErr.Error())
	}

	switch {
	case errors.Is(markErr, models.ErrInvalidState):
		log.Warn("post was resolved elsewhere, result dropped", slog.String("error", markErr.Error()))
		return outcomeResolved
	case markErr != nil:
		log.Error("error recording publish result", slog.String("error", markErr.Error()))
		return outcomeError
	case pubErr != nil:
		reason := models.FailureReason(pubErr)
		l.metrics.RecordFailed(reason)
		log.Warn("post failed",
			slog.String("reason", reason),
			slog.String("error", pubErr.Error()))
		return outcomeFailed
	default:
		l.metrics.RecordPublished()
		log.Info("post published", slog.String("linkedin_post_id", postID))
		return outcomePublished
	}
}

type publishResult struct {
	id  string
	err error
}

// publish bounds a single attempt by publishTimeout even if the publisher
// does not honor its context, and turns a panic into an error.
func (l *Loop) publish(ctx context.Context, p *models.ScheduledPost) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, l.publishTimeout)
	defer cancel()

	done := make(chan publishResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- publishResult{err: fmt.Errorf("panic while publishing: %v", r)}
			}
		}()
		id, err := l.publisher.Publish(pctx, p.UserID, service.Share{
			Content:  p.Content,
			ImageURL: p.ImageURL,
		})
		done <- publishResult{id: id, err: err}
	}()

	select {
	case r := <-done:
		return r.id, r.err
	case <-pctx.Done():
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			return "", &models.PublishError{Message: fmt.Sprintf("request timed out after %s", l.publishTimeout)}
		}
	}

	// Cancelled: give the publisher a moment to report a request that may
	// already have gone through.
	select {
	case r := <-done:
		return r.id, r.err
	case <-time.After(cancelGrace):
		return "", &models.PublishError{Message: pctx.Err().Error()}
	}
}
