package transceiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusWordClassification(t *testing.T) {
	assert.True(t, SWSuccess.IsSuccess())
	assert.True(t, StatusWord(0x6283).IsWarning())
	assert.True(t, StatusWord(0x6300).IsWarning())
	assert.False(t, StatusWord(0x9000).IsWarning())
	assert.True(t, SWSecurityNotSatisfied.IsSecurityDecline())
	assert.True(t, SWFileInvalid.IsSecurityDecline())
	assert.False(t, SWFileNotFound.IsSecurityDecline())
}

func TestSelectBytes(t *testing.T) {
	cmd := Select([]byte{0xA0, 0x00, 0x00, 0x00, 0x03})
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00, 0x05, 0xA0, 0x00, 0x00, 0x00, 0x03, 0x00}, cmd.Bytes())
}

func TestReadRecordP2Encoding(t *testing.T) {
	cmd := ReadRecord(0x02, 0x01)
	assert.Equal(t, byte(0x14), cmd.P2) // (2<<3)|0x04
}

func TestGenerateACBuildsCDABit(t *testing.T) {
	cmd := GenerateAC(GenACRequestARQC|GenACCDABit, []byte{0x01, 0x02})
	assert.Equal(t, byte(0x90), cmd.P1)
	assert.Equal(t, []byte{0x01, 0x02}, cmd.Data)
}
