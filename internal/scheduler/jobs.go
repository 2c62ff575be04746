package scheduler

import (
	"context"
	"time"
)

// These constructors give each of spec.md's named periodic duties — backup,
// validation, metrics, health check, email digest — their own named
// IntervalScheduler. The actual effect (tar plumbing, plan validation rules,
// metrics sink, health probe, digest composition) is owner-defined and
// supplied by the caller; the scheduler's job is only the shouldRun/run
// timing contract and its persisted last-run marker.

// NewBackupScheduler periodically snapshots durable state. backupFn is
// responsible for the actual archive; out of scope here per spec.md's
// non-goals around backup/restore tar plumbing.
func NewBackupScheduler(stateDir string, interval time.Duration, backupFn func(ctx context.Context) error) *IntervalScheduler {
	return NewIntervalScheduler("backup", interval, stateDir, backupFn)
}

// NewValidationScheduler periodically checks plan/state file consistency.
func NewValidationScheduler(stateDir string, interval time.Duration, validateFn func(ctx context.Context) error) *IntervalScheduler {
	return NewIntervalScheduler("validation", interval, stateDir, validateFn)
}

// NewMetricsScheduler periodically flushes accumulated counters to whatever
// sink metricsFn writes to (an OTel exporter, a file, a remote endpoint).
func NewMetricsScheduler(stateDir string, interval time.Duration, metricsFn func(ctx context.Context) error) *IntervalScheduler {
	return NewIntervalScheduler("metrics", interval, stateDir, metricsFn)
}

// NewHealthCheckScheduler periodically probes collaborator subsystems
// (relay reachability, broker provider readiness) and records the result.
func NewHealthCheckScheduler(stateDir string, interval time.Duration, checkFn func(ctx context.Context) error) *IntervalScheduler {
	return NewIntervalScheduler("health_check", interval, stateDir, checkFn)
}

// NewEmailDigestScheduler periodically composes and sends an activity
// digest. digestFn owns templating and delivery; credential stores are
// out of scope here per spec.md's non-goals.
func NewEmailDigestScheduler(stateDir string, interval time.Duration, digestFn func(ctx context.Context) error) *IntervalScheduler {
	return NewIntervalScheduler("email_digest", interval, stateDir, digestFn)
}
