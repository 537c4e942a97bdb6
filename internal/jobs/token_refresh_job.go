package job

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/internal/repository"
	"github.com/robfig/cron/v3"
)

const (
	defaultRefreshLeeway      = 30 * time.Minute
	defaultRefreshConcurrency = 10
	refreshRunTimeout         = 5 * time.Minute
)

// Refresher is the part of service.Publisher the job needs.
type Refresher interface {
	EnsureFresh(ctx context.Context, userID int64, leeway time.Duration) error
}

// TokenRefreshJob refreshes access tokens shortly before they expire, so a
// publish rarely has to wait on the token endpoint.
type TokenRefreshJob struct {
	creds       repository.CredentialRepository
	refresher   Refresher
	leeway      time.Duration
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

type RefreshResult struct {
	Checked int
	Failed  int
}

func NewTokenRefreshJob(
	creds repository.CredentialRepository,
	refresher Refresher,
	leeway time.Duration,
	logger *slog.Logger) *TokenRefreshJob {
	if leeway <= 0 {
		leeway = defaultRefreshLeeway
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenRefreshJob{
		creds:       creds,
		refresher:   refresher,
		leeway:      leeway,
		concurrency: defaultRefreshConcurrency,
		now:         time.Now,
		logger:      logger,
	}
}

func (c *TokenRefreshJob) RefreshTokens(ctx context.Context) RefreshResult {
	var res RefreshResult

	expiring, err := c.creds.ListExpiring(ctx, c.now().Add(c.leeway))
	if err != nil {
		c.logger.Error("error listing expiring credentials", slog.String("error", err.Error()))
		return res
	}

	var checked, failed atomic.Int32
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, c.concurrency)

	for _, cred := range expiring {
		if cred.RefreshToken == "" {
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(cred *models.Credential) {
			defer wg.Done()
			defer func() { <-semaphore }()

			checked.Add(1)
			if err := c.refresher.EnsureFresh(ctx, cred.UserID, c.leeway); err != nil {
				failed.Add(1)
				c.logger.Warn("unable to refresh linkedin token",
					slog.Int64("user_id", cred.UserID),
					slog.String("error", err.Error()))
			}
		}(cred)
	}
	wg.Wait()

	res.Checked = int(checked.Load())
	res.Failed = int(failed.Load())
	if res.Checked > 0 {
		c.logger.Info("token refresh run finished",
			slog.Int("checked", res.Checked),
			slog.Int("failed", res.Failed))
	}
	return res
}

// Schedule registers the job on a new cron runner. Runs never overlap and a
// panic in one run does not stop the runner.
func (c *TokenRefreshJob) Schedule(spec string) (*cron.Cron, error) {
	logger := cronLogger{c.logger}
	runner := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := runner.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshRunTimeout)
		defer cancel()
		c.RefreshTokens(ctx)
	})
	if err != nil {
		return nil, err
	}
	return runner, nil
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err.Error())...)
}
