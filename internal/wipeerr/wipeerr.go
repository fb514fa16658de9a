// Package wipeerr defines the error kinds surfaced to callers of the wipe
// engine (spec §7) as cockroachdb/errors sentinels, so every component can
// classify a failure with errors.Is instead of string matching.
package wipeerr

import "github.com/cockroachdb/errors"

var (
	// ErrDeviceUnavailable means the device path could not be opened or no
	// longer responds to commands.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrFrozen means the drive is ATA security-frozen and no unfreeze
	// strategy succeeded.
	ErrFrozen = errors.New("drive permanently frozen")

	// ErrHiddenAreaPolicyViolation means a hidden-area operation was
	// requested that the configured policy refuses (e.g. DCO removal under
	// RemoveTemp).
	ErrHiddenAreaPolicyViolation = errors.New("hidden area policy violation")

	// ErrEntropyFailure means the DRBG failed a continuous health test and
	// entered the failed state.
	ErrEntropyFailure = errors.New("entropy source failure")

	// ErrBadSectorsExceedTolerance means the bad-sector fraction exceeded
	// the configured tolerance.
	ErrBadSectorsExceedTolerance = errors.New("bad sector fraction exceeds tolerance")

	// ErrThermalCritical means the drive crossed the critical temperature
	// threshold and the wipe was aborted.
	ErrThermalCritical = errors.New("thermal critical threshold exceeded")

	// ErrVerificationFailed means the verifier's confidence score or
	// verdict did not satisfy the plan's minimum.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrVerificationUnreliable means the pre-wipe capability test failed
	// to detect deliberately-planted known data; the wipe is refused
	// before any destructive write.
	ErrVerificationUnreliable = errors.New("verifier failed pre-wipe capability test")

	// ErrRecoveryOracleFoundData means the recovery-simulation oracle
	// reported one or more recoverable files after an L4 verification.
	ErrRecoveryOracleFoundData = errors.New("recovery oracle found recoverable data")

	// ErrInterrupted means the operation was cancelled by the caller
	// before completion; a checkpoint was left in a valid state.
	ErrInterrupted = errors.New("wipe interrupted")

	// ErrResumeIncompatible means a checkpoint exists for the device but
	// its algorithm plan hash does not match the requested plan.
	ErrResumeIncompatible = errors.New("checkpoint incompatible with requested plan")

	// ErrSignatureUnavailable means no signing key was supplied to the
	// certificate issuer.
	ErrSignatureUnavailable = errors.New("signing key unavailable")

	// ErrFatalBusError means a protocol violation or bus-level fault that
	// cannot be retried occurred.
	ErrFatalBusError = errors.New("fatal bus error")
)

// Class is the coarse error classification used by the recovery
// coordinator (spec §4.8/§7).
type Class string

const (
	ClassTransient Class = "transient"
	ClassHardware  Class = "hardware"
	ClassBadSector Class = "bad_sector"
	ClassFatal     Class = "fatal"
)

// WithFingerprint annotates err with the drive fingerprint, pass index and
// byte offset at which it occurred, as spec §7 requires for every
// terminal, user-visible error.
func WithFingerprint(err error, fingerprint string, pass int, offset uint64) error {
	if err == nil {
		return nil
	}
	return errors.WithDetail(err, errors.Newf("drive=%s pass=%d offset=%d", fingerprint, pass, offset).Error())
}
