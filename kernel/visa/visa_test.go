package visa

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/softpos-oss/l2engine/kernel"
)

func TestBuildQualifiersOnlineCapableClearsOfflineOnly(t *testing.T) {
	b := Brand{}
	q := b.BuildQualifiers(kernel.TransactionContext{OnlineCapable: true, Amount: 100, CVMRequiredLimit: 5000})
	ttq := q[kernel.TagTTQ]
	assert.Equal(t, byte(0x80), ttq[0])
}

func TestBuildQualifiersOfflineOnlySetsBit(t *testing.T) {
	b := Brand{}
	q := b.BuildQualifiers(kernel.TransactionContext{OnlineCapable: false})
	ttq := q[kernel.TagTTQ]
	assert.Equal(t, byte(0x88), ttq[0])
}

func TestBuildQualifiersAboveLimitSetsOnlineAndCVM(t *testing.T) {
	b := Brand{}
	q := b.BuildQualifiers(kernel.TransactionContext{Amount: 10000, CVMRequiredLimit: 5000})
	ttq := q[kernel.TagTTQ]
	assert.Equal(t, byte(0xC0), ttq[1])
}

func TestBuildQualifiersCDCVMBit(t *testing.T) {
	b := Brand{}
	q := b.BuildQualifiers(kernel.TransactionContext{CDCVMPerformed: true})
	ttq := q[kernel.TagTTQ]
	assert.Equal(t, byte(0x80), ttq[2])
}

func TestUseFastDDA(t *testing.T) {
	assert.True(t, Brand{}.UseFastDDA())
}
