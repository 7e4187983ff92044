package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBCDAmountEncoding(t *testing.T) {
	assert.Equal(t, [6]byte{0x00, 0x00, 0x00, 0x12, 0x34, 0x56}, bcdAmount(123456))
	assert.Equal(t, [6]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, bcdAmount(0))
}

func TestBCDDateAndTimeEncoding(t *testing.T) {
	ts := time.Date(2026, time.March, 5, 14, 30, 9, 0, time.UTC)
	assert.Equal(t, [3]byte{0x26, 0x03, 0x05}, bcdDate(ts))
	assert.Equal(t, [3]byte{0x14, 0x30, 0x09}, bcdTime(ts))
}

func TestBuildTerminalDataSeedsFixedTags(t *testing.T) {
	data := NewCardData()
	in := TerminalInput{
		AmountAuthorized: 2500,
		TransactionType:  0x00,
		CountryCode:      [2]byte{0x08, 0x40},
		CurrencyCode:     [2]byte{0x08, 0x40},
		TerminalType:     0x22,
		Capabilities:     [3]byte{0xE0, 0xA8, 0x00},
		AdditionalCaps:   [5]byte{0x00, 0x00, 0x00, 0x00, 0x00},
		Now:              time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, BuildTerminalData(data, in))

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x25, 0x00}, data.MustGet(TagAmountAuthorized))
	assert.Equal(t, []byte{0x22}, data.MustGet(TagTerminalType))
	assert.Len(t, data.MustGet(TagUnpredictableNumber), 4)
}

func TestBuildTerminalDataDefaultsNow(t *testing.T) {
	data := NewCardData()
	require.NoError(t, BuildTerminalData(data, TerminalInput{}))
	assert.NotNil(t, data.MustGet(TagTransactionDate))
}
