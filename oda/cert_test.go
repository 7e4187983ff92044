package oda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCertExpired(t *testing.T) {
	// 0625 = June 2025, BCD.
	expiry := [2]byte{0x06, 0x25}
	assert.False(t, certExpired(expiry, time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)))
	assert.True(t, certExpired(expiry, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCertExpiredTreatsMalformedMonthAsNonExpiring(t *testing.T) {
	assert.False(t, certExpired([2]byte{0x00, 0x25}, time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
}
