// Package circuitbreaker tracks the health of upstream chat endpoints.
//
// Each model resolves to a single base URL, so an open circuit is advisory:
// the client warns and sends anyway, and /health reports the state.
package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the circuit state of one endpoint
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// EndpointHealth is a point-in-time view of one upstream base URL
type EndpointHealth struct {
	URL                 string    `json:"url"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Successes           int       `json:"successes"`
	Failures            int       `json:"failures"`
	LastStatus          int       `json:"last_status,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	RetryAt             time.Time `json:"retry_at,omitempty"`
	SuccessRate         float64   `json:"success_rate"`
}

// Config controls circuit breaker behavior
type Config struct {
	FailureThreshold   int           `json:"failure_threshold"`    // Consecutive failures before opening
	BackoffDuration    time.Duration `json:"backoff_duration"`     // Backoff added per failure at or over the threshold
	MaxBackoffDuration time.Duration `json:"max_backoff_duration"` // Cap on the backoff
}

// DefaultConfig returns the defaults used when the environment sets nothing
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   2,
		BackoffDuration:    30 * time.Second,
		MaxBackoffDuration: 5 * time.Minute,
	}
}

type endpoint struct {
	consecutive int
	successes   int
	failures    int
	lastStatus  int
	lastError   string
	lastFailure time.Time
	lastSuccess time.Time
	open        bool
	retryAt     time.Time
}

// HealthManager records upstream outcomes per endpoint. Safe for concurrent use.
type HealthManager struct {
	config    Config
	mu        sync.RWMutex
	endpoints map[string]*endpoint
	now       func() time.Time
	log       *logrus.Entry
}

// NewHealthManager creates a new health manager
func NewHealthManager(config Config) *HealthManager {
	return &HealthManager{
		config:    config,
		endpoints: make(map[string]*endpoint),
		now:       time.Now,
		log:       logrus.WithField("component", "circuit_breaker"),
	}
}

// Track registers endpoints so they show up in Snapshot before their first request
func (hm *HealthManager) Track(urls ...string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	for _, url := range urls {
		hm.lookup(url)
	}
}

// Allow reports whether the circuit admits a request: closed, or open past its retry time
func (hm *HealthManager) Allow(url string) bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	e, ok := hm.endpoints[url]
	if !ok || !e.open {
		return true
	}
	return !hm.now().Before(e.retryAt)
}

// Observe records the outcome of one upstream request.
// A transport error or a 5xx status is a failure, anything else a success.
func (hm *HealthManager) Observe(url string, status int, err error) {
	if err != nil || status >= 500 {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		hm.recordFailure(url, status, reason)
		return
	}
	hm.recordSuccess(url, status)
}

func (hm *HealthManager) recordFailure(url string, status int, reason string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	e := hm.lookup(url)
	now := hm.now()
	e.consecutive++
	e.failures++
	e.lastStatus = status
	e.lastError = reason
	e.lastFailure = now

	fields := logrus.Fields{"endpoint": url, "status": status, "failures": e.consecutive}
	if e.consecutive < hm.config.FailureThreshold {
		hm.log.WithFields(fields).Warnf("⚠️ Upstream failure %d/%d", e.consecutive, hm.config.FailureThreshold)
		return
	}

	over := e.consecutive - hm.config.FailureThreshold + 1
	backoff := min(hm.config.BackoffDuration*time.Duration(over), hm.config.MaxBackoffDuration)
	e.open = true
	e.retryAt = now.Add(backoff)
	hm.log.WithFields(fields).Errorf("🚨 Circuit opened, retry in %v", backoff)
}

func (hm *HealthManager) recordSuccess(url string, status int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	e := hm.lookup(url)
	e.successes++
	e.lastStatus = status
	e.lastError = ""
	e.lastSuccess = hm.now()

	if e.open {
		hm.log.WithField("endpoint", url).Info("✅ Circuit closed")
	}
	e.open = false
	e.consecutive = 0
	e.retryAt = time.Time{}
}

// Endpoint returns the current view of one endpoint
func (hm *HealthManager) Endpoint(url string) (EndpointHealth, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	e, ok := hm.endpoints[url]
	if !ok {
		return EndpointHealth{URL: url, State: StateClosed, SuccessRate: 0.5}, false
	}
	return hm.view(url, e), true
}

// Snapshot returns every tracked endpoint, ordered by URL
func (hm *HealthManager) Snapshot() []EndpointHealth {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	out := make([]EndpointHealth, 0, len(hm.endpoints))
	for url, e := range hm.endpoints {
		out = append(out, hm.view(url, e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// lookup returns the record for url, creating it. Caller holds the write lock.
func (hm *HealthManager) lookup(url string) *endpoint {
	e, ok := hm.endpoints[url]
	if !ok {
		e = &endpoint{}
		hm.endpoints[url] = e
	}
	return e
}

func (hm *HealthManager) view(url string, e *endpoint) EndpointHealth {
	state := StateClosed
	if e.open {
		state = StateOpen
		if !hm.now().Before(e.retryAt) {
			state = StateHalfOpen
		}
	}

	rate := 0.5
	if total := e.successes + e.failures; total > 0 {
		rate = float64(e.successes) / float64(total)
	}

	return EndpointHealth{
		URL:                 url,
		State:               state,
		ConsecutiveFailures: e.consecutive,
		Successes:           e.successes,
		Failures:            e.failures,
		LastStatus:          e.lastStatus,
		LastError:           e.lastError,
		LastFailure:         e.lastFailure,
		LastSuccess:         e.lastSuccess,
		RetryAt:             e.retryAt,
		SuccessRate:         rate,
	}
}
