// Package recovery implements the Recovery Coordinator component (spec
// §4.8, C8): error classification, a circuit breaker over per-drive I/O
// operations, exponential-backoff retry, and degraded-mode fallback when
// a drive's hardware health no longer supports the requested algorithm.
//
// Grounded on the Rust original's RecoveryCoordinator
// (error/recovery_coordinator.rs) for the classify -> determine-action ->
// retry/heal/degrade control flow, but the hand-rolled CircuitBreaker it
// used is replaced with github.com/sony/gobreaker (present in the
// retrieval pack's CodeMonkeyCybersecurity-eos go.mod): gobreaker's
// half-open probe state machine is exactly the "resume traffic
// cautiously after a cooldown" behavior recovery_coordinator.rs
// implemented by hand.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"

	"wipecore/internal/wipeerr"
)

// Action is the recovery action the coordinator decided to take after a
// classified failure.
type Action string

const (
	ActionRetry     Action = "retry"
	ActionSkip      Action = "skip"
	ActionAbort     Action = "abort"
	ActionDegrade   Action = "degrade"
	ActionAltIO     Action = "alternative_io"
)

// DegradedMode narrows what the engine will still attempt once a drive
// has shown it cannot sustain the original plan.
type DegradedMode string

const (
	DegradeNone         DegradedMode = ""
	DegradeSkipBadSpans DegradedMode = "skip_bad_spans"
	DegradeSinglePass   DegradedMode = "single_pass_only"
	DegradeReducedSpeed DegradedMode = "reduced_speed"
)

// Classify maps a raw I/O error into the coarse class the spec's error
// kinds already encode via wipeerr sentinels, falling back to
// ClassHardware for anything unrecognized (fail closed, not open: an
// unrecognized error gets the more cautious treatment).
func Classify(err error) wipeerr.Class {
	switch {
	case err == nil:
		return wipeerr.ClassTransient
	case isAny(err, wipeerr.ErrDeviceUnavailable):
		return wipeerr.ClassTransient
	case isAny(err, wipeerr.ErrBadSectorsExceedTolerance):
		return wipeerr.ClassBadSector
	case isAny(err, wipeerr.ErrFrozen, wipeerr.ErrHiddenAreaPolicyViolation):
		return wipeerr.ClassHardware
	case isAny(err, wipeerr.ErrFatalBusError, wipeerr.ErrResumeIncompatible, wipeerr.ErrSignatureUnavailable,
		wipeerr.ErrEntropyFailure, wipeerr.ErrThermalCritical, wipeerr.ErrInterrupted):
		return wipeerr.ClassFatal
	default:
		return wipeerr.ClassHardware
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// BackoffSchedule returns the delay before attempt N (0-indexed) for a
// class of error; fatal and bad-sector classes never retry.
func BackoffSchedule(class wipeerr.Class, attempt int) (time.Duration, bool) {
	switch class {
	case wipeerr.ClassTransient:
		d := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
		if d > 10*time.Second {
			d = 10 * time.Second
		}
		return d, true
	case wipeerr.ClassHardware:
		d := time.Duration(1<<uint(attempt)) * time.Second
		if d > 30*time.Second {
			d = 30 * time.Second
		}
		return d, attempt < 3
	default:
		return 0, false
	}
}

// Coordinator wraps per-drive I/O operations in a circuit breaker and
// drives the retry/degrade decision loop.
type Coordinator struct {
	devicePath   string
	breaker      *gobreaker.CircuitBreaker
	maxRetries   int
	degradedMode DegradedMode
}

// Config tunes the coordinator's circuit breaker.
type Config struct {
	MaxRetries       int
	BreakerThreshold float64 // failure ratio that trips the breaker open
	BreakerCooldown  time.Duration
}

// New constructs a Coordinator scoped to one device path.
func New(devicePath string, cfg Config) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 0.5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("wipe-io:%s", devicePath),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 4 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerThreshold
		},
	}

	return &Coordinator{
		devicePath: devicePath,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		maxRetries: cfg.MaxRetries,
	}
}

// Execute runs op under the circuit breaker with class-driven retry and
// backoff. It returns the last error if retries are exhausted, the
// breaker trips open, or the error class is non-retryable.
func (c *Coordinator) Execute(ctx context.Context, op func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, op()
		})
		if err == nil {
			return nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return fmt.Errorf("circuit breaker open for %s: %w", c.devicePath, err)
		}

		lastErr = err
		class := Classify(err)
		delay, retryable := BackoffSchedule(class, attempt)
		if !retryable || attempt >= c.maxRetries {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return errors.Mark(fmt.Errorf("%s: %w", c.devicePath, ctx.Err()), wipeerr.ErrInterrupted)
		case <-time.After(delay):
		}
	}
}

// Degrade records that the coordinator is operating in a reduced mode; it
// returns nothing. The caller (orchestrator) consults
// DegradedMode to decide whether to keep going or abort.
func (c *Coordinator) Degrade(mode DegradedMode) {
	c.degradedMode = mode
}

// DegradedMode reports the coordinator's current degraded mode, or
// DegradeNone if operating normally.
func (c *Coordinator) DegradedMode() DegradedMode {
	return c.degradedMode
}

// Reset clears the circuit breaker's failure counts, used after a
// successful resume to give the drive a clean slate.
func (c *Coordinator) Reset() {
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: c.breaker.Name()})
}
