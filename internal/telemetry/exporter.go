package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"user-service/internal/metrics"
)

const namePrefix = "user_service.auth."

var counterNames = map[metrics.ID]string{
	metrics.LoginSuccess:         "login_success",
	metrics.LoginFailure:         "login_failure",
	metrics.LoginRateLimited:     "login_rate_limited",
	metrics.RegisterSuccess:      "register_success",
	metrics.RegisterDuplicate:    "register_duplicate",
	metrics.RefreshSuccess:       "refresh_success",
	metrics.RefreshFailure:       "refresh_failure",
	metrics.RefreshReuseDetected: "refresh_reuse_detected",
	metrics.RefreshRateLimited:   "refresh_rate_limited",
	metrics.AuthorizeFailure:     "authorize_failure",
	metrics.SessionCreated:       "session_created",
	metrics.SessionRevoked:       "session_revoked",
	metrics.Logout:               "logout",
	metrics.LogoutAll:            "logout_all",
	metrics.StoreRetry:           "store_retry",
}

// SnapshotFunc supplies the current counter values at collection time.
type SnapshotFunc func() metrics.Snapshot

// Exporter is a registered observable bridge. Close to unregister.
type Exporter struct {
	registration metric.Registration
}

// Register creates one observable counter per engine counter on the
// meter and wires a single callback that reads a snapshot per
// collection cycle.
func Register(meter metric.Meter, snapshot SnapshotFunc) (*Exporter, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot func required")
	}

	instruments := make(map[metrics.ID]metric.Int64ObservableCounter, len(counterNames))
	observables := make([]metric.Observable, 0, len(counterNames))

	for id, name := range counterNames {
		counter, err := meter.Int64ObservableCounter(namePrefix + name)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", name, err)
		}
		instruments[id] = counter
		observables = append(observables, counter)
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snap := snapshot()
		for id, instrument := range instruments {
			observer.ObserveInt64(instrument, int64(snap.Counters[id]))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register metrics callback: %w", err)
	}

	return &Exporter{registration: registration}, nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
