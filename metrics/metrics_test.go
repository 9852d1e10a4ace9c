package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.RecordRequest(200)
	c.RecordRequest(204)
	c.RecordRequest(401)
	c.RecordRequest(0)
	c.RecordRetry()
	c.RecordRefresh("granted")
	c.RecordRefresh("denied")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("transport_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues("granted")))

	_, err = NewCollector(reg)
	assert.Error(t, err, "duplicate registration must fail")
}

func TestRefreshFailureSpikeAlert(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	c, err := NewCollector(nil,
		WithAlert(func(e AlertEvent) {
			mu.Lock()
			alerts = append(alerts, e)
			mu.Unlock()
		}),
		WithRefreshFailureThreshold(3, time.Minute),
	)
	require.NoError(t, err)

	c.RecordRefresh("indeterminate")
	c.RecordRefresh("indeterminate")
	c.RecordRefresh("granted")
	mu.Lock()
	assert.Empty(t, alerts, "no alert below threshold")
	mu.Unlock()

	c.RecordRefresh("indeterminate")
	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRefreshFailureSpike, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Count)
	mu.Unlock()
}

func TestRefreshFailureWindowExpiry(t *testing.T) {
	var alerts int
	now := time.Now()
	c, err := NewCollector(nil,
		WithAlert(func(AlertEvent) { alerts++ }),
		WithRefreshFailureThreshold(2, time.Minute),
	)
	require.NoError(t, err)
	c.now = func() time.Time { return now }

	c.RecordRefresh("indeterminate")
	now = now.Add(2 * time.Minute)
	c.RecordRefresh("indeterminate")
	assert.Zero(t, alerts, "failures outside the window do not count")
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordRequest(500)
	c.RecordRetry()
	c.RecordRefresh("indeterminate")
}
