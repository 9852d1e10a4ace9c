// Package metrics exports request and refresh counters and raises an alert
// when refresh failures spike.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertRefreshFailureSpike AlertType = "refresh_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultRefreshFailureWindow    = 5 * time.Minute
	defaultRefreshFailureThreshold = 5
)

// Collector records client-side counters. A nil *Collector is valid and
// records nothing.
type Collector struct {
	requests  *prometheus.CounterVec
	retries   prometheus.Counter
	refreshes *prometheus.CounterVec

	mu               sync.Mutex
	refreshFailures  []time.Time
	failureWindow    time.Duration
	failureThreshold int
	alertFn          AlertFunc
	now              func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithAlert sets the callback for anomaly alerts.
func WithAlert(fn AlertFunc) Option {
	return func(c *Collector) {
		c.alertFn = fn
	}
}

// WithRefreshFailureThreshold overrides the indeterminate-refresh alert window.
func WithRefreshFailureThreshold(threshold int, window time.Duration) Option {
	return func(c *Collector) {
		c.failureThreshold = threshold
		c.failureWindow = window
	}
}

// NewCollector creates the counters and registers them with reg.
// A nil reg skips registration.
func NewCollector(reg prometheus.Registerer, opts ...Option) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authclient",
			Name:      "requests_total",
			Help:      "API responses received, by status class.",
		}, []string{"class"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authclient",
			Name:      "retries_total",
			Help:      "Requests retried after a granted refresh.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authclient",
			Name:      "refresh_total",
			Help:      "Refresh exchanges, by outcome.",
		}, []string{"outcome"}),
		failureWindow:    defaultRefreshFailureWindow,
		failureThreshold: defaultRefreshFailureThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if reg != nil {
		for _, col := range []prometheus.Collector{c.requests, c.retries, c.refreshes} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// RecordRequest counts one response by its status class ("2xx", "4xx", ...).
// Status 0 is counted as a transport error.
func (c *Collector) RecordRequest(status int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(statusClass(status)).Inc()
}

// RecordRetry counts one retried request.
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

// RecordRefresh counts one refresh exchange by outcome and feeds the
// failure-spike detector for indeterminate outcomes.
func (c *Collector) RecordRefresh(outcome string) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(outcome).Inc()
	if outcome == "indeterminate" {
		c.recordRefreshFailure()
	}
}

func (c *Collector) recordRefreshFailure() {
	if c.alertFn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.refreshFailures = append(c.refreshFailures, now)
	c.refreshFailures = trimWindow(c.refreshFailures, now, c.failureWindow)

	if len(c.refreshFailures) >= c.failureThreshold {
		c.alertFn(AlertEvent{
			Type:      AlertRefreshFailureSpike,
			Message:   "indeterminate refresh rate exceeds threshold",
			Count:     len(c.refreshFailures),
			Threshold: c.failureThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		c.refreshFailures = c.refreshFailures[:0]
	}
}

func statusClass(status int) string {
	if status <= 0 {
		return "transport_error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
