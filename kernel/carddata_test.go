package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/softpos-oss/l2engine/tlv"
)

func TestCardDataSetIsFirstWins(t *testing.T) {
	data := NewCardData()
	data.Set(TagPAN, []byte{0x01})
	data.Set(TagPAN, []byte{0x02})
	assert.Equal(t, []byte{0x01}, data.MustGet(TagPAN))
}

func TestCardDataMustGetMissingReturnsNil(t *testing.T) {
	data := NewCardData()
	assert.Nil(t, data.MustGet(TagPAN))
}

func TestAbsorbNodesStoresPrimitivesOnly(t *testing.T) {
	data := NewCardData()
	nodes := []tlv.Node{
		{Tag: 0x70, Primitive: false, Children: []tlv.Node{
			{Tag: TagPAN, Primitive: true, Value: []byte{0x12, 0x34}},
			{Tag: TagTrack2, Primitive: true, Value: []byte{0x56}},
		}},
	}
	data.AbsorbNodes(nodes)
	assert.Equal(t, []byte{0x12, 0x34}, data.MustGet(TagPAN))
	assert.Equal(t, []byte{0x56}, data.MustGet(TagTrack2))
	_, ok := data.Get(0x70)
	assert.False(t, ok, "constructed tag 70 itself is never stored")
}

func TestTVRAndTSIAccessorsShareState(t *testing.T) {
	data := NewCardData()
	data.TVR().Set(0, tlv.TVROfflineDataAuthNotPerformed)
	assert.True(t, data.TVR().IsSet(0, tlv.TVROfflineDataAuthNotPerformed))
	data.TSI().Set(0, tlv.TSICVMPerformed)
	assert.NotZero(t, data.TSI().Bytes()[0]&tlv.TSICVMPerformed)
}
