package metrics

import (
	"sync/atomic"
	"time"
)

// ID identifies a specific counter or histogram slot.
type ID uint16

const (
	// LoginSuccess counts successful credential logins.
	LoginSuccess ID = iota
	// LoginFailure counts rejected credential logins.
	LoginFailure
	// LoginRateLimited counts logins blocked by the limiter.
	LoginRateLimited
	// RegisterSuccess counts created accounts.
	RegisterSuccess
	// RegisterDuplicate counts registrations rejected as duplicates.
	RegisterDuplicate
	// RefreshSuccess counts successful refresh rotations.
	RefreshSuccess
	// RefreshFailure counts rejected refresh attempts.
	RefreshFailure
	// RefreshReuseDetected counts refresh calls that presented an
	// already-rotated token.
	RefreshReuseDetected
	// RefreshRateLimited counts refreshes blocked by the limiter.
	RefreshRateLimited
	// AuthorizeFailure counts access tokens rejected on the hot path.
	AuthorizeFailure
	// SessionCreated counts registry entries created by login.
	SessionCreated
	// SessionRevoked counts registry entries revoked for any reason.
	SessionRevoked
	// Logout counts logout calls that reached the registry.
	Logout
	// LogoutAll counts whole-account revocations.
	LogoutAll
	// StoreRetry counts store operations retried after a retryable failure.
	StoreRetry
	// AuthorizeLatency is the histogram slot for access-token verification.
	AuthorizeLatency

	idCount
)

var idNames = [idCount]string{
	LoginSuccess:         "login_success",
	LoginFailure:         "login_failure",
	LoginRateLimited:     "login_rate_limited",
	RegisterSuccess:      "register_success",
	RegisterDuplicate:    "register_duplicate",
	RefreshSuccess:       "refresh_success",
	RefreshFailure:       "refresh_failure",
	RefreshReuseDetected: "refresh_reuse_detected",
	RefreshRateLimited:   "refresh_rate_limited",
	AuthorizeFailure:     "authorize_failure",
	SessionCreated:       "session_created",
	SessionRevoked:       "session_revoked",
	Logout:               "logout",
	LogoutAll:            "logout_all",
	StoreRetry:           "store_retry",
	AuthorizeLatency:     "authorize_latency",
}

// String returns the stable snake_case name of the slot.
func (id ID) String() string {
	if id < idCount {
		return idNames[id]
	}
	return "unknown"
}

// Config controls metric collection.
type Config struct {
	Enabled       bool
	EnableLatency bool
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and an optional latency histogram.
// A nil or disabled Metrics is safe to use; all operations become no-ops.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [idCount]paddedCounter
	latency       [histBucketCount]uint64
}

// Snapshot is a point-in-time deep copy of all metrics.
type Snapshot struct {
	Counters map[ID]uint64
	Latency  []uint64
}

// New creates a [Metrics] instance. When cfg.Enabled is false all
// operations are no-ops.
func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatency,
	}
}

// Enabled reports whether collection is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records an authorize-path latency sample.
func (m *Metrics) Observe(d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	atomic.AddUint64(&m.latency[bucketIndex(d)], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a deep copy of all counters and the latency histogram.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{Counters: map[ID]uint64{}}
	}

	s := Snapshot{Counters: make(map[ID]uint64, int(idCount))}
	for id := ID(0); id < idCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency[i])
		}
		s.Latency = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
