// Package metrics collects the scheduler's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is what the scheduler, publisher and refresh job record
// into.
type MetricsCollector interface {
	RecordPublished()
	RecordFailed(reason string)
	RecordTick(duration time.Duration, due int)
	RecordTickSkipped()
	RecordTokenRefresh(result string)
	RecordHTTPStatus(statusCode int)
}

type Collector struct {
	published    prometheus.Counter
	failed       *prometheus.CounterVec
	tickDuration prometheus.Histogram
	duePosts     prometheus.Gauge
	tickSkipped  prometheus.Counter
	tokenRefresh *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
}

// NewCollector registers the metrics in reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkedin_scheduler_posts_published_total",
			Help: "Scheduled posts published to LinkedIn.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkedin_scheduler_posts_failed_total",
			Help: "Scheduled posts marked failed, by reason.",
		}, []string{"reason"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkedin_scheduler_tick_duration_seconds",
			Help:    "Duration of a scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		duePosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkedin_scheduler_due_posts",
			Help: "Posts found due by the most recent tick.",
		}),
		tickSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkedin_scheduler_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running.",
		}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkedin_scheduler_token_refresh_total",
			Help: "LinkedIn token refresh attempts, by result.",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkedin_scheduler_linkedin_http_status_total",
			Help: "LinkedIn API responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.published,
		c.failed,
		c.tickDuration,
		c.duePosts,
		c.tickSkipped,
		c.tokenRefresh,
		c.httpStatus,
	)

	return c
}

func (c *Collector) RecordPublished() {
	c.published.Inc()
}

func (c *Collector) RecordFailed(reason string) {
	c.failed.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordTick(duration time.Duration, due int) {
	c.tickDuration.Observe(duration.Seconds())
	c.duePosts.Set(float64(due))
}

func (c *Collector) RecordTickSkipped() {
	c.tickSkipped.Inc()
}

func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordPublished() {}
func (Nop) RecordFailed(string) {}
func (Nop) RecordTick(time.Duration, int) {}
func (Nop) RecordTickSkipped() {}
func (Nop) RecordTokenRefresh(string) {}
func (Nop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
