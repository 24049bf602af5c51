package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBytesBySource(t *testing.T) {
	before := testutil.ToFloat64(bytesServedTotal.WithLabelValues(SourceCache))
	RecordBytes(SourceCache, 512)
	RecordBytes(SourceCache, 0)
	after := testutil.ToFloat64(bytesServedTotal.WithLabelValues(SourceCache))
	if after-before != 512 {
		t.Fatalf("expected 512 cache bytes, got %v", after-before)
	}
}

func TestRecordReadAndDuplicate(t *testing.T) {
	before := testutil.ToFloat64(readsTotal.WithLabelValues("completed"))
	RecordRead("completed", 10*time.Millisecond)
	if got := testutil.ToFloat64(readsTotal.WithLabelValues("completed")) - before; got != 1 {
		t.Fatalf("expected one completed read, got %v", got)
	}

	dupBefore := testutil.ToFloat64(duplicateReadsTotal)
	RecordDuplicateRead()
	if got := testutil.ToFloat64(duplicateReadsTotal) - dupBefore; got != 1 {
		t.Fatalf("expected one duplicate read, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	SetSessions(3)
	RecordRemoteFetch(0, time.Millisecond)
	RecordRemoteFetch(206, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"any_stream_sessions_active 3",
		`any_stream_remote_fetch_duration_seconds_count{status="error"}`,
		`any_stream_remote_fetch_duration_seconds_count{status="206"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
