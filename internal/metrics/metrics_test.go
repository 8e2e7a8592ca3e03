package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecording(t *testing.T) {
	m := New()

	m.RunStarted()
	m.ExamFinished("compiled")
	m.ExamFinished("compiled")
	m.ExamFinished("failed")
	m.ObserveStage("compile", 2*time.Second)
	m.RunCompleted("completed_with_errors", time.Minute)

	if got := testutil.ToFloat64(m.runsStarted); got != 1 {
		t.Errorf("runs started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.exams.WithLabelValues("compiled")); got != 2 {
		t.Errorf("compiled exams = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.activeRuns); got != 0 {
		t.Errorf("active runs = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.runsCompleted.WithLabelValues("completed_with_errors")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RunStarted()
	m.ExamFinished("compiled")
	m.ObserveStage("render", time.Millisecond)
	m.RunCompleted("completed", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RunStarted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "crammer_runs_started_total 1") {
		t.Errorf("metrics output missing run counter:\n%s", body)
	}
}
