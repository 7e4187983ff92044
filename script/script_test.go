package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/transceiver"
)

type fakeCard struct {
	responses []transceiver.ResponseAPDU
	calls     int
}

func (f *fakeCard) Transceive(ctx context.Context, cmd transceiver.CommandAPDU) (transceiver.ResponseAPDU, error) {
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeCard) Present() bool { return true }

func buildScriptTLV(cmds ...[]byte) []byte {
	var inner []tlv.Node
	for _, c := range cmds {
		inner = append(inner, tlv.Node{Tag: 0x86, Value: c, Primitive: true})
	}
	return tlv.Encode(inner)
}

func TestParseScript71ExtractsCommands(t *testing.T) {
	raw := buildScriptTLV([]byte{0x00, 0x24, 0x00, 0x00}, []byte{0x00, 0x24, 0x00, 0x01})
	cmds, err := ParseScript71(raw)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, byte(0x24), cmds[0].APDU[1])
}

func TestExecutePreACAbortsOn6985(t *testing.T) {
	cmds := []Command{
		{Index: 0, APDU: []byte{0x00, 0x24, 0x00, 0x00}},
		{Index: 1, APDU: []byte{0x00, 0x24, 0x00, 0x01}},
	}
	card := &fakeCard{responses: []transceiver.ResponseAPDU{
		{SW: transceiver.SWConditionsNotSat},
		{SW: transceiver.SWSuccess},
	}}
	aborted := false
	results := ExecutePreAC(context.Background(), card, cmds, nil, func() { aborted = true })
	assert.Len(t, results, 1)
	assert.True(t, aborted)
	assert.True(t, results[0].Aborted)
}

func TestExecutePostACNeverAborts(t *testing.T) {
	cmds := []Command{
		{Index: 0, APDU: []byte{0x00, 0x24, 0x00, 0x00}},
		{Index: 1, APDU: []byte{0x00, 0x24, 0x00, 0x01}},
	}
	card := &fakeCard{responses: []transceiver.ResponseAPDU{
		{SW: transceiver.SWConditionsNotSat},
		{SW: transceiver.SWSuccess},
	}}
	results := ExecutePostAC(context.Background(), card, cmds, nil)
	assert.Len(t, results, 2)
}
