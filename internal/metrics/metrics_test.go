package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPublished_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPublished()
	c.RecordPublished()

	if got := testutil.ToFloat64(c.published); got != 2 {
		t.Errorf("published = %v, want 2", got)
	}
}

func TestRecordFailed_LabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFailed("rejected")
	c.RecordFailed("rejected")
	c.RecordFailed("transport")

	if got := testutil.ToFloat64(c.failed.WithLabelValues("rejected")); got != 2 {
		t.Errorf("failed{rejected} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.failed.WithLabelValues("transport")); got != 1 {
		t.Errorf("failed{transport} = %v, want 1", got)
	}
}

func TestRecordTick_SetsDueGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTick(150*time.Millisecond, 3)
	c.RecordTick(10*time.Millisecond, 1)

	if got := testutil.ToFloat64(c.duePosts); got != 1 {
		t.Errorf("due gauge = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "linkedin_scheduler_tick_duration_seconds" {
			if n := mf.GetMetric()[0].GetHistogram().GetSampleCount(); n != 2 {
				t.Errorf("tick samples = %d, want 2", n)
			}
			return
		}
	}
	t.Error("tick duration histogram not found")
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTPStatus(201)
	c.RecordTokenRefresh("success")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`linkedin_scheduler_linkedin_http_status_total{status_code="201"} 1`,
		`linkedin_scheduler_token_refresh_total{result="success"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	var m MetricsCollector = Nop{}
	m.RecordPublished()
	m.RecordFailed("x")
	m.RecordTick(time.Second, 0)
	m.RecordTickSkipped()
	m.RecordTokenRefresh("failure")
	m.RecordHTTPStatus(500)
}
