package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecore/internal/rng"
)

func TestPlan_PassCounts(t *testing.T) {
	cases := []struct {
		alg   Algorithm
		count int
	}{
		{AlgorithmZero, 1},
		{AlgorithmRandom, 1},
		{AlgorithmDoD, 3},
		{AlgorithmGutmann, 35},
		{AlgorithmDelegated, 1},
	}
	for _, c := range cases {
		passes, err := Plan(c.alg)
		require.NoError(t, err)
		assert.Len(t, passes, c.count, "algorithm %s", c.alg)
		assert.Equal(t, c.count, PassCount(c.alg))
	}
}

func TestPlan_UnknownAlgorithm(t *testing.T) {
	_, err := Plan(Algorithm("not-a-real-algorithm"))
	assert.Error(t, err)
}

func TestPlan_DoDAlternatesRandomAndConstant(t *testing.T) {
	passes, err := Plan(AlgorithmDoD)
	require.NoError(t, err)
	require.Len(t, passes, 3)
	assert.Equal(t, PassRandom, passes[0].Kind)
	assert.Equal(t, PassConstant, passes[1].Kind)
	assert.Equal(t, PassRandom, passes[2].Kind)
	assert.Equal(t, []byte{0x00}, passes[1].Bytes)
}

func TestPlan_GutmannEveryPassIndexed(t *testing.T) {
	passes, err := Plan(AlgorithmGutmann)
	require.NoError(t, err)
	for i, p := range passes {
		assert.Equal(t, i, p.Index)
		if p.Kind == PassConstant {
			assert.NotEmpty(t, p.Bytes)
		}
	}
}

func TestStream_FillConstant_IsPhaseAlignedAcrossResume(t *testing.T) {
	spec := PassSpec{Kind: PassConstant, Bytes: []byte{0xAA, 0xBB, 0xCC}}
	s := NewStream(spec, nil)

	full := make([]byte, 9)
	require.NoError(t, s.Fill(full, 0))

	// Filling the back half of the buffer starting at offset 5 must
	// reproduce exactly what an uninterrupted fill would have put there.
	resumed := make([]byte, 4)
	require.NoError(t, s.Fill(resumed, 5))
	assert.Equal(t, full[5:9], resumed)
}

func TestStream_FillConstant_SingleByteSequence(t *testing.T) {
	spec := PassSpec{Kind: PassConstant, Bytes: []byte{0x00}}
	s := NewStream(spec, nil)
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xFF
	}
	require.NoError(t, s.Fill(buf, 1234))
	for _, b := range buf {
		assert.Equal(t, byte(0x00), b)
	}
}

func TestStream_FillRandom_RequiresDRBG(t *testing.T) {
	s := NewStream(PassSpec{Kind: PassRandom}, nil)
	err := s.Fill(make([]byte, 16), 0)
	assert.Error(t, err)
}

func TestStream_FillRandom_UsesDRBG(t *testing.T) {
	drbg, err := rng.New(0)
	require.NoError(t, err)
	s := NewStream(PassSpec{Kind: PassRandom}, drbg)
	buf := make([]byte, 64)
	require.NoError(t, s.Fill(buf, 0))

	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	assert.False(t, allZero, "random fill should not produce an all-zero buffer")
}

func TestStream_FillDelegated_AlwaysErrors(t *testing.T) {
	s := NewStream(PassSpec{Kind: PassDelegated}, nil)
	assert.Error(t, s.Fill(make([]byte, 8), 0))
}
