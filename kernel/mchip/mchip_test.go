package mchip

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/softpos-oss/l2engine/kernel"
)

func TestBuildQualifiersContactlessAndOnline(t *testing.T) {
	b := Brand{}
	q := b.BuildQualifiers(kernel.TransactionContext{OnlineCapable: true})
	tip := q[TagTIP]
	assert.Equal(t, byte(0xC0), tip[0])
}

func TestBuildQualifiersIncludesMagStripeFallback(t *testing.T) {
	b := Brand{}
	q := b.BuildQualifiers(kernel.TransactionContext{MagStripeFallbackAVN: []byte{0x00, 0x01}})
	assert.Equal(t, []byte{0x00, 0x01}, q[TagMagStripeAVN])
}

func TestTrack2InsertionOffset(t *testing.T) {
	_, present := Track2InsertionOffset(nil)
	assert.False(t, present)

	punatc := []byte{0, 0, 0, 0x80, 11, 0, 0, 0}
	offset, present := Track2InsertionOffset(punatc)
	assert.True(t, present)
	assert.Equal(t, 11, offset)
}
