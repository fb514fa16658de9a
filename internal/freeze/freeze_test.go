package freeze

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecore/internal/wipeerr"
)

type fakeStrategy struct {
	name        string
	risk        uint8
	compatible  bool
	available   bool
	result      Result
	execErr     error
}

func (f *fakeStrategy) Name() string                       { return f.name }
func (f *fakeStrategy) Description() string                { return f.name }
func (f *fakeStrategy) RiskLevel() uint8                    { return f.risk }
func (f *fakeStrategy) EstimatedDuration() time.Duration     { return time.Second }
func (f *fakeStrategy) CompatibleWith(Reason) bool           { return f.compatible }
func (f *fakeStrategy) Available() bool                      { return f.available }
func (f *fakeStrategy) Execute(string, Reason) (Result, error) {
	if f.execErr != nil {
		return Result{}, f.execErr
	}
	return f.result, nil
}

// withConfirmedProbe stubs probeFreeze to avoid shelling out to smartctl in
// tests and restores the real Detect afterward.
func withConfirmedProbe(t *testing.T, state State, err error) {
	t.Helper()
	orig := probeFreeze
	probeFreeze = func(string) (State, Reason, error) { return state, ReasonUnknown, err }
	t.Cleanup(func() { probeFreeze = orig })
}

func TestUnfreeze_StopsAtFirstSuccess(t *testing.T) {
	withConfirmedProbe(t, StateUnfrozen, nil)

	first := &fakeStrategy{name: "first", compatible: true, available: true, result: Result{Success: false}}
	second := &fakeStrategy{name: "second", compatible: true, available: true, result: Result{Success: true, Message: "ok"}}
	third := &fakeStrategy{name: "third", compatible: true, available: true, result: Result{Success: true, Message: "never tried"}}

	m := New(first, second, third)
	state, res, err := m.Unfreeze("/dev/fake", ReasonUnknown)
	require.NoError(t, err)
	assert.Equal(t, StateUnfrozen, state)
	assert.Equal(t, "ok", res.Message)
}

func TestUnfreeze_SkipsIncompatibleAndUnavailableStrategies(t *testing.T) {
	withConfirmedProbe(t, StateUnfrozen, nil)

	incompatible := &fakeStrategy{name: "incompatible", compatible: false, available: true, result: Result{Success: true}}
	unavailable := &fakeStrategy{name: "unavailable", compatible: true, available: false, result: Result{Success: true}}
	viable := &fakeStrategy{name: "viable", compatible: true, available: true, result: Result{Success: true, Message: "viable ran"}}

	m := New(incompatible, unavailable, viable)
	state, res, err := m.Unfreeze("/dev/fake", ReasonUnknown)
	require.NoError(t, err)
	assert.Equal(t, StateUnfrozen, state)
	assert.Equal(t, "viable ran", res.Message)
}

func TestUnfreeze_DoesNotTrustSelfReportedSuccessWithoutReprobe(t *testing.T) {
	withConfirmedProbe(t, StateFrozen, nil)

	lying := &fakeStrategy{name: "lying", compatible: true, available: true, result: Result{Success: true, Message: "lying"}}

	m := New(lying)
	state, _, err := m.Unfreeze("/dev/fake", ReasonUnknown)
	require.Error(t, err)
	assert.Equal(t, StatePermanentlyFrozen, state)
	assert.True(t, errors.Is(err, wipeerr.ErrFrozen))
}

func TestUnfreeze_FallsThroughToNextStrategyWhenReprobeDisagrees(t *testing.T) {
	orig := probeFreeze
	calls := 0
	probeFreeze = func(string) (State, Reason, error) {
		calls++
		if calls == 1 {
			return StateFrozen, ReasonUnknown, nil
		}
		return StateUnfrozen, ReasonUnknown, nil
	}
	t.Cleanup(func() { probeFreeze = orig })

	lying := &fakeStrategy{name: "lying", compatible: true, available: true, result: Result{Success: true, Message: "lying"}}
	truthful := &fakeStrategy{name: "truthful", compatible: true, available: true, result: Result{Success: true, Message: "truthful"}}

	m := New(lying, truthful)
	state, res, err := m.Unfreeze("/dev/fake", ReasonUnknown)
	require.NoError(t, err)
	assert.Equal(t, StateUnfrozen, state)
	assert.Equal(t, "truthful", res.Message)
}

func TestUnfreeze_AllExhaustedReturnsPermanentlyFrozen(t *testing.T) {
	a := &fakeStrategy{name: "a", compatible: true, available: true, result: Result{Success: false, Message: "a failed"}}
	b := &fakeStrategy{name: "b", compatible: true, available: true, result: Result{Success: false, Message: "b failed"}}

	m := New(a, b)
	state, _, err := m.Unfreeze("/dev/fake", ReasonUnknown)
	require.Error(t, err)
	assert.Equal(t, StatePermanentlyFrozen, state)
	assert.True(t, errors.Is(err, wipeerr.ErrFrozen))
}

func TestUnfreeze_NoCompatibleStrategyReturnsPermanentlyFrozen(t *testing.T) {
	a := &fakeStrategy{name: "a", compatible: false, available: true}
	m := New(a)

	state, _, err := m.Unfreeze("/dev/fake", ReasonUnknown)
	require.Error(t, err)
	assert.Equal(t, StatePermanentlyFrozen, state)
	assert.True(t, errors.Is(err, wipeerr.ErrFrozen))
}

func TestDefaultStrategies_OrderedByAscendingRisk(t *testing.T) {
	strategies := DefaultStrategies()
	require.Len(t, strategies, 6)

	var prev uint8
	for i, s := range strategies {
		if i > 0 {
			assert.GreaterOrEqual(t, s.RiskLevel(), prev, "strategy %s out of risk order", s.Name())
		}
		prev = s.RiskLevel()
	}
}

func TestParseFreezeStatus_DetectsFrozenKeyWithOrWithoutSpace(t *testing.T) {
	frozen, reason := parseFreezeStatus([]byte(`{"ata_security":{"frozen":true}}`))
	assert.True(t, frozen)
	assert.Equal(t, ReasonUnknown, reason)

	frozen, _ = parseFreezeStatus([]byte(`{"ata_security": {"frozen": true}}`))
	assert.True(t, frozen)
}

func TestParseFreezeStatus_NotFrozenWhenFrozenIsFalse(t *testing.T) {
	frozen, _ := parseFreezeStatus([]byte(`{"ata_security":{"frozen":false}}`))
	assert.False(t, frozen)
}

func TestIndexOf_FindsSubstring(t *testing.T) {
	assert.Equal(t, 3, indexOf("abcdef", "def"))
	assert.Equal(t, 0, indexOf("abcdef", "abc"))
	assert.Equal(t, -1, indexOf("abcdef", "xyz"))
}

func TestContainsKey_WrapsIndexOf(t *testing.T) {
	assert.True(t, containsKey([]byte("hello world"), "world"))
	assert.False(t, containsKey([]byte("hello world"), "mars"))
}
