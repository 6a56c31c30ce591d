package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestStatsUpdaterCounters(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	for _, m := range DefaultMetrics {
		su.RegisterMetric(m)
	}
	su.Run()
	defer su.Stop()

	su.Incr(ActiveConnections)
	su.Incr(ActiveConnections)
	su.Decr(ActiveConnections)
	su.Add(ExpiredMessages, 5)

	read := func() map[string]any {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
		var out map[string]any
		json.Unmarshal(rr.Body.Bytes(), &out)
		return out
	}

	assert.Eventually(t, func() bool {
		out := read()
		return out[ActiveConnections] == float64(1) && out[ExpiredMessages] == float64(5)
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, read(), "Uptime")
}

func TestStatsUpdaterStopUnblocksSenders(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric(MessagesSent)
	su.Stop()
	su.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1024; i++ {
			su.Incr(MessagesSent)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Incr blocked after Stop")
	}
}
