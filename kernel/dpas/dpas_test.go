package dpas

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/softpos-oss/l2engine/kernel"
)

func TestBuildQualifiersAnalogousToVisa(t *testing.T) {
	b := Brand{}
	q := b.BuildQualifiers(kernel.TransactionContext{Amount: 10000, CVMRequiredLimit: 100})
	ttq := q[kernel.TagTTQ]
	assert.Equal(t, byte(0xC0), ttq[1])
}

func TestCAKeyRID(t *testing.T) {
	assert.Equal(t, []string{"A000000152", "A000000324"}, Brand{}.CAKeyRIDs())
}
