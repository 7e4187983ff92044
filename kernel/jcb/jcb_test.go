package jcb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/softpos-oss/l2engine/kernel"
)

func TestCAKeyRID(t *testing.T) {
	assert.Equal(t, []string{"A000000065"}, Brand{}.CAKeyRIDs())
}

func TestBuildQualifiersOfflineOnlyBit(t *testing.T) {
	b := Brand{}
	q := b.BuildQualifiers(kernel.TransactionContext{OnlineCapable: false})
	ttq := q[kernel.TagTTQ]
	assert.Equal(t, byte(0x88), ttq[0])
}
