package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.EventPublished("x", 1)
	c.EventDispatched("x", 0)
	c.HandlerFailed("x", "h")
	c.SetActiveJobs(3)
	c.JobFired()
	c.JobRejected()
	c.Reconciled("completed")
	c.DownloadSubmitted()
	c.DownloadDropped()
	c.DownloadFinished("m3u8", nil)
}

func TestCountersIncrement(t *testing.T) {
	c := New()
	c.EventPublished("subscription_triggered", 2)
	c.EventPublished("subscription_triggered", 3)
	c.DownloadDropped()
	c.DownloadFinished("m3u8", errors.New("boom"))
	c.SetActiveJobs(4)

	if got := testutil.ToFloat64(c.eventsPublished.WithLabelValues("subscription_triggered")); got != 2 {
		t.Fatalf("events published = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.busQueueDepth); got != 3 {
		t.Fatalf("queue depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.downloadsDropped); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.downloads.WithLabelValues("m3u8", "error")); got != 1 {
		t.Fatalf("failed downloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.jobsActive); got != 4 {
		t.Fatalf("active jobs = %v, want 4", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	c := New()
	c.JobFired()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ptauto_job_fires_total 1") {
		t.Fatalf("metrics output missing job fires:\n%s", rec.Body.String())
	}
}
