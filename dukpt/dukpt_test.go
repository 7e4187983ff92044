package dukpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIPEKAndKSN(t *testing.T) ([]byte, [10]byte) {
	t.Helper()
	bdk := make([]byte, 16)
	for i := range bdk {
		bdk[i] = byte(i + 1)
	}
	var ksn [10]byte
	copy(ksn[:8], []byte{0xFF, 0xFF, 0x98, 0x76, 0x54, 0x32, 0x10, 0xE0})

	ipek, err := DeriveIPEKFromBDK(bdk, ksn)
	require.NoError(t, err)
	require.Len(t, ipek, 16)
	return ipek, ksn
}

func TestInitializeAndFirstKey(t *testing.T) {
	ipek, ksn := testIPEKAndKSN(t)

	var s State
	require.NoError(t, s.Initialize(ipek, ksn))

	key, outKSN, remaining, err := s.NextKey(VariantPIN)
	require.NoError(t, err)
	assert.Len(t, key, 16)
	assert.Equal(t, uint32(1), counterOf(outKSN))
	assert.GreaterOrEqual(t, remaining, 0)
}

func TestCounterMonotonicAcrossCalls(t *testing.T) {
	ipek, ksn := testIPEKAndKSN(t)
	var s State
	require.NoError(t, s.Initialize(ipek, ksn))

	var last uint32
	for i := 0; i < 25; i++ {
		_, outKSN, _, err := s.NextKey(VariantDATA)
		require.NoError(t, err)
		c := counterOf(outKSN)
		assert.Greater(t, c, last)
		last = c
	}
}

func TestVariantsProduceDifferentKeys(t *testing.T) {
	ipek, ksn := testIPEKAndKSN(t)

	var sPIN, sMAC State
	require.NoError(t, sPIN.Initialize(append([]byte{}, ipek...), ksn))
	require.NoError(t, sMAC.Initialize(append([]byte{}, ipek...), ksn))

	pinKey, _, _, err := sPIN.NextKey(VariantPIN)
	require.NoError(t, err)
	macKey, _, _, err := sMAC.NextKey(VariantMAC)
	require.NoError(t, err)

	assert.NotEqual(t, pinKey, macKey)
}

func TestDestroyZeroesAndBlocksFurtherUse(t *testing.T) {
	ipek, ksn := testIPEKAndKSN(t)
	var s State
	require.NoError(t, s.Initialize(ipek, ksn))

	s.Destroy()
	assert.True(t, s.destroyed)

	_, _, _, err := s.NextKey(VariantPIN)
	assert.ErrorIs(t, err, ErrDestroyed)

	err = s.Initialize(ipek, ksn)
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestNextValidCounterSkipsHighPopcount(t *testing.T) {
	// 0x1FFFFF has 21 one-bits, far above the 10-bit cap; walking forward
	// from 0 must never land on a counter with more than 10 one-bits.
	c := uint32(0)
	for i := 0; i < 2000; i++ {
		next, ok := nextValidCounter(c)
		require.True(t, ok)
		assert.LessOrEqual(t, popcount21(next), 10)
		c = next
	}
}

func TestPopcount21IgnoresHighBits(t *testing.T) {
	assert.Equal(t, 0, popcount21(1<<21))
	assert.Equal(t, 0, popcount21(0))
	assert.Equal(t, 21, popcount21(maxCounter-1))
}

func TestDeriveIPEKFromBDKDeterministic(t *testing.T) {
	ipek1, ksn := testIPEKAndKSN(t)
	bdk := make([]byte, 16)
	for i := range bdk {
		bdk[i] = byte(i + 1)
	}
	ipek2, err := DeriveIPEKFromBDK(bdk, ksn)
	require.NoError(t, err)
	assert.Equal(t, ipek1, ipek2)
}

func TestInitializeWithHighBitSetInitialCounter(t *testing.T) {
	bdk := make([]byte, 16)
	for i := range bdk {
		bdk[i] = byte(i + 1)
	}
	var ksn [10]byte
	copy(ksn[:8], []byte{0xFF, 0xFF, 0x98, 0x76, 0x54, 0x32, 0x10, 0xE0})
	setCounter(&ksn, 1<<20)

	ipek, err := DeriveIPEKFromBDK(bdk, ksn)
	require.NoError(t, err)

	var s State
	require.NoError(t, s.Initialize(ipek, ksn))
	assert.True(t, s.futureKeys[20].present)

	key, outKSN, _, err := s.NextKey(VariantPIN)
	require.NoError(t, err)
	assert.Len(t, key, 16)
	assert.Greater(t, counterOf(outKSN), uint32(1<<20))
}

func TestExhaustionAfterMaxCounter(t *testing.T) {
	ipek, ksn := testIPEKAndKSN(t)
	var s State
	require.NoError(t, s.Initialize(ipek, ksn))
	s.counter = maxCounter - 1

	_, _, _, err := s.NextKey(VariantPIN)
	assert.ErrorIs(t, err, ErrExhausted)
}
