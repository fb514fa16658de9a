package wipeerr

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestSentinels_AreDistinctAndSelfIdentifying(t *testing.T) {
	sentinels := []error{
		ErrDeviceUnavailable, ErrFrozen, ErrHiddenAreaPolicyViolation,
		ErrEntropyFailure, ErrBadSectorsExceedTolerance, ErrThermalCritical,
		ErrVerificationFailed, ErrVerificationUnreliable, ErrRecoveryOracleFoundData,
		ErrInterrupted, ErrResumeIncompatible, ErrSignatureUnavailable, ErrFatalBusError,
	}

	for i, s := range sentinels {
		assert.True(t, errors.Is(s, s))
		for j, other := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(s, other), "%v should not match %v", s, other)
		}
	}
}

func TestSentinels_SurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("while probing drive: %w", ErrDeviceUnavailable)
	assert.True(t, errors.Is(wrapped, ErrDeviceUnavailable))
}

func TestWithFingerprint_NilErrorStaysNil(t *testing.T) {
	assert.NoError(t, WithFingerprint(nil, "abc123", 2, 4096))
}

func TestWithFingerprint_PreservesSentinelIdentity(t *testing.T) {
	annotated := WithFingerprint(ErrFatalBusError, "drive-fp", 1, 8192)
	assert.True(t, errors.Is(annotated, ErrFatalBusError))
}

func TestWithFingerprint_AttachesDetailToErrorOutput(t *testing.T) {
	annotated := WithFingerprint(ErrThermalCritical, "drive-xyz", 3, 1024)
	full := fmt.Sprintf("%+v", annotated)
	assert.Contains(t, full, "drive-xyz")
	assert.Contains(t, full, "pass=3")
	assert.Contains(t, full, "offset=1024")
}

func TestClass_Constants(t *testing.T) {
	assert.Equal(t, Class("transient"), ClassTransient)
	assert.Equal(t, Class("hardware"), ClassHardware)
	assert.Equal(t, Class("bad_sector"), ClassBadSector)
	assert.Equal(t, Class("fatal"), ClassFatal)
}
