package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softpos-oss/l2engine/tlv"
)

func TestApplyTerminalRiskManagementFloorLimit(t *testing.T) {
	data := NewCardData()
	require.NoError(t, ApplyTerminalRiskManagement(data, 10000, TRMConfig{FloorLimit: 5000}))
	assert.True(t, data.TVR().IsSet(3, tlv.TVRFloorLimitExceeded))
}

func TestApplyTerminalRiskManagementUnderFloorLimit(t *testing.T) {
	data := NewCardData()
	require.NoError(t, ApplyTerminalRiskManagement(data, 1000, TRMConfig{FloorLimit: 5000}))
	assert.False(t, data.TVR().IsSet(3, tlv.TVRFloorLimitExceeded))
}

func TestApplyTerminalRiskManagementContactlessLimit(t *testing.T) {
	data := NewCardData()
	require.NoError(t, ApplyTerminalRiskManagement(data, 10000, TRMConfig{ContactlessTransactionLimit: 5000}))
	assert.True(t, data.TVR().IsSet(3, tlv.TVRUpperConsecutiveOfflineExceeded))
}

func TestApplyTerminalRiskManagementForceOnline(t *testing.T) {
	data := NewCardData()
	require.NoError(t, ApplyTerminalRiskManagement(data, 100, TRMConfig{ForceOnline: true}))
	assert.True(t, data.TVR().IsSet(3, tlv.TVRMerchantForcedOnline))
}

func TestApplyTerminalRiskManagementMarksTSI(t *testing.T) {
	data := NewCardData()
	require.NoError(t, ApplyTerminalRiskManagement(data, 100, TRMConfig{}))
	assert.NotZero(t, data.TSI().Bytes()[0]&tlv.TSITerminalRiskMgmtPerformed)
}

func TestRandomSelectionHitZeroPercentNeverHits(t *testing.T) {
	hit, err := randomSelectionHit(0)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRandomSelectionHitHighPercentUsuallyHits(t *testing.T) {
	hits := 0
	for i := 0; i < 50; i++ {
		hit, err := randomSelectionHit(99)
		require.NoError(t, err)
		if hit {
			hits++
		}
	}
	assert.Greater(t, hits, 0)
}
