package oda

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectMode(t *testing.T) {
	assert.Equal(t, ModeCDA, SelectMode([2]byte{0x01, 0x00}, false))
	assert.Equal(t, ModeDDA, SelectMode([2]byte{0x20, 0x00}, false))
	assert.Equal(t, ModeFDDA, SelectMode([2]byte{0x20, 0x00}, true))
	assert.Equal(t, ModeSDA, SelectMode([2]byte{0x40, 0x00}, false))
	assert.Equal(t, ModeNone, SelectMode([2]byte{0x00, 0x00}, false))
}

func TestSelectModePrefersCDAOverDDA(t *testing.T) {
	assert.Equal(t, ModeCDA, SelectMode([2]byte{0x21, 0x00}, false))
}
