package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGPOResponseFormat1(t *testing.T) {
	body := []byte{0x80, 0x06, 0x38, 0x00, 0x08, 0x01, 0x01, 0x00}
	result, err := ParseGPOResponse(body)
	require.NoError(t, err)
	assert.Equal(t, [2]byte{0x38, 0x00}, result.AIP)
	assert.Equal(t, []byte{0x08, 0x01, 0x01, 0x00}, result.AFL)
}

func TestParseGPOResponseFormat2(t *testing.T) {
	body := []byte{
		0x77, 0x0F,
		0x82, 0x02, 0x38, 0x00,
		0x94, 0x04, 0x08, 0x01, 0x01, 0x00,
		0x9F, 0x6C, 0x02, 0x80, 0x00,
	}
	result, err := ParseGPOResponse(body)
	require.NoError(t, err)
	assert.Equal(t, [2]byte{0x38, 0x00}, result.AIP)
	assert.Equal(t, []byte{0x08, 0x01, 0x01, 0x00}, result.AFL)
	assert.Equal(t, []byte{0x80, 0x00}, result.CTQ)
}

func TestParseGPOResponseFormat2CapturesSDAD(t *testing.T) {
	body := []byte{
		0x77, 0x11,
		0x82, 0x02, 0x38, 0x00,
		0x94, 0x04, 0x08, 0x01, 0x01, 0x00,
		0x9F, 0x4B, 0x04, 0xAA, 0xBB, 0xCC, 0xDD,
	}
	result, err := ParseGPOResponse(body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, result.SDAD)
}

func TestParseGPOResponseEmpty(t *testing.T) {
	_, err := ParseGPOResponse(nil)
	assert.ErrorIs(t, err, ErrGPOEmpty)
}

func TestParseGPOResponseMissingAFL(t *testing.T) {
	body := []byte{0x77, 0x04, 0x82, 0x02, 0x38, 0x00}
	_, err := ParseGPOResponse(body)
	assert.ErrorIs(t, err, ErrGPOMissingAIPOrAFL)
}
