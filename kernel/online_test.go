package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softpos-oss/l2engine/internal/cryptoprim"
)

func TestBuildAuthorizationRequestFieldsFromCardData(t *testing.T) {
	data := NewCardData()
	data.Set(TagPAN, []byte{0x12, 0x34})
	data.Set(TagTrack2, []byte{0x11})
	data.Set(TagPANSequenceNumber, []byte{0x00})
	data.Set(TagCVMResults, []byte{0x1F, 0x00, 0x02})
	data.Set(TagAmountAuthorized, []byte{0x00, 0x00, 0x00, 0x00, 0x25, 0x00})
	data.Set(TagAmountOther, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	data.Set(TagTerminalCountryCode, []byte{0x08, 0x40})
	data.Set(TagTransactionCurrency, []byte{0x08, 0x40})
	data.Set(TagTransactionDate, []byte{0x26, 0x03, 0x05})
	data.Set(0x9F21, []byte{0x10, 0x00, 0x00})
	data.Set(TagTransactionType, []byte{0x00})
	data.Set(TagUnpredictableNumber, []byte{0x01, 0x02, 0x03, 0x04})

	ac := GenerateACResult{AC: []byte{0xAA, 0xBB}, CID: 0x80, ATC: []byte{0x00, 0x01}, IAD: []byte{0x06}}
	req := BuildAuthorizationRequest(data, ac, [2]byte{0x38, 0x00}, []byte{0xA0, 0x00, 0x00, 0x00, 0x03})

	assert.Equal(t, "1234", req.PAN)
	assert.Equal(t, "aabb", req.ApplicationCryptogram)
	assert.Equal(t, "80", req.CID)
	assert.Equal(t, "3800", req.AIP)
}

func threeDESKey() []byte {
	return []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
}

func TestVerifyIssuerAuthenticationMethod1(t *testing.T) {
	key := threeDESKey()
	arqc := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	arc := []byte{0x30, 0x30}
	padded := make([]byte, 8)
	copy(padded, arqc)
	input := make([]byte, 8)
	copy(input, padded)
	for i := range arc {
		input[i] ^= arc[i]
	}
	arpc, err := cryptoprim.RetailMAC(key, input)
	require.NoError(t, err)

	data := NewCardData()
	ok, err := VerifyIssuerAuthentication(data, key, arqc, OnlineResponse{ARC: arc, ARPC: arpc}, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, data.TVR().IsSet(4, 1<<6))
}

func TestVerifyIssuerAuthenticationMethod1Mismatch(t *testing.T) {
	key := threeDESKey()
	arqc := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	data := NewCardData()
	ok, err := VerifyIssuerAuthentication(data, key, arqc, OnlineResponse{ARC: []byte{0x30, 0x30}, ARPC: []byte{0, 0, 0, 0, 0, 0, 0, 0}}, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, data.TVR().IsSet(4, 1<<6))
}

func TestVerifyIssuerAuthenticationMethod2(t *testing.T) {
	key := threeDESKey()
	arqc := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	csu := []byte{0x00, 0x00, 0x00, 0x00}
	expected, err := cryptoprim.ComputeARPCMethod2(key, arqc, csu)
	require.NoError(t, err)

	data := NewCardData()
	ok, err := VerifyIssuerAuthentication(data, key, arqc, OnlineResponse{CSU: csu, ARPC: expected}, true)
	require.NoError(t, err)
	assert.True(t, ok)
}
