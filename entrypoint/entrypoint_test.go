package entrypoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softpos-oss/l2engine/kernel/mchip"
	"github.com/softpos-oss/l2engine/kernel/visa"
	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/transceiver"
)

func directoryEntry(aid []byte, label string, priority byte) tlv.Node {
	return tlv.Node{Tag: tagDirectoryEntry, Children: []tlv.Node{
		{Tag: tagADFName, Primitive: true, Value: aid},
		{Tag: tagApplicationLbl, Primitive: true, Value: []byte(label)},
		{Tag: tagApplicationPrio, Primitive: true, Value: []byte{priority}},
	}}
}

func ppseResponse(entries ...tlv.Node) []byte {
	return tlv.Encode([]tlv.Node{{Tag: tagFCITemplate, Children: []tlv.Node{
		{Tag: tagFCIProprietary, Children: []tlv.Node{
			{Tag: tagIssuerDiscData, Children: entries},
		}},
	}}})
}

func TestParsePPSEResponseOrdersByPriority(t *testing.T) {
	visaAID := []byte{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10}
	mchipAID := []byte{0xA0, 0x00, 0x00, 0x00, 0x04, 0x10, 0x10}
	body := ppseResponse(
		directoryEntry(mchipAID, "Mastercard", 2),
		directoryEntry(visaAID, "Visa", 1),
	)
	entries, err := ParsePPSEResponse(body)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, visaAID, entries[0].AID)
	assert.Equal(t, "Visa", entries[0].Label)
	assert.Equal(t, mchipAID, entries[1].AID)
}

func TestParsePPSEResponseMissingDirectoryErrors(t *testing.T) {
	body := tlv.Encode([]tlv.Node{{Tag: tagFCITemplate, Children: []tlv.Node{
		{Tag: tagFCIProprietary, Children: nil},
	}}})
	_, err := ParsePPSEResponse(body)
	assert.Error(t, err)
}

func TestParsePPSEResponseEntriesWithoutPriorityKeepCardOrder(t *testing.T) {
	aidA := []byte{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10}
	aidB := []byte{0xA0, 0x00, 0x00, 0x00, 0x04, 0x10, 0x10}
	entryA := tlv.Node{Tag: tagDirectoryEntry, Children: []tlv.Node{
		{Tag: tagADFName, Primitive: true, Value: aidA},
	}}
	entryB := tlv.Node{Tag: tagDirectoryEntry, Children: []tlv.Node{
		{Tag: tagADFName, Primitive: true, Value: aidB},
	}}
	body := ppseResponse(entryA, entryB)
	entries, err := ParsePPSEResponse(body)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, aidA, entries[0].AID)
	assert.Equal(t, aidB, entries[1].AID)
}

func TestRegistryMatchResolvesByAID(t *testing.T) {
	reg := NewRegistry(visa.Brand{}, mchip.Brand{})
	brand, ok := reg.Match([]byte{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10})
	require.True(t, ok)
	assert.Equal(t, "visa-qvsdc", brand.Name())

	_, ok = reg.Match([]byte{0xA0, 0x00, 0x00, 0x00, 0x99, 0x99, 0x99})
	assert.False(t, ok)
}

type fakePPSECard struct {
	responses []transceiver.ResponseAPDU
	calls     int
}

func (f *fakePPSECard) Transceive(ctx context.Context, cmd transceiver.CommandAPDU) (transceiver.ResponseAPDU, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		return transceiver.ResponseAPDU{SW: transceiver.SWConditionsNotSat}, nil
	}
	return f.responses[idx], nil
}

func (f *fakePPSECard) Present() bool { return true }

func TestBuildCandidateListFiltersUnsupportedAndPreservesPriority(t *testing.T) {
	visaAID := []byte{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10}
	unknownAID := []byte{0xA0, 0x00, 0x00, 0x00, 0x99, 0x99, 0x99}
	body := ppseResponse(
		directoryEntry(unknownAID, "Unknown", 1),
		directoryEntry(visaAID, "Visa", 2),
	)
	card := &fakePPSECard{responses: []transceiver.ResponseAPDU{{SW: transceiver.SWSuccess, Data: body}}}
	reg := NewRegistry(visa.Brand{})

	candidates, err := BuildCandidateList(context.Background(), card, reg)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, visaAID, candidates[0].Entry.AID)
	assert.Equal(t, "visa-qvsdc", candidates[0].Brand.Name())
}

func TestBuildCandidateListNoDirectoryFails(t *testing.T) {
	card := &fakePPSECard{responses: []transceiver.ResponseAPDU{{SW: transceiver.SWFileNotFound}}}
	reg := NewRegistry(visa.Brand{})
	_, err := BuildCandidateList(context.Background(), card, reg)
	assert.ErrorIs(t, err, ErrNoDirectory)
}

func TestDispatchPinsToSingleAID(t *testing.T) {
	visaAID := []byte{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10}
	body := ppseResponse(directoryEntry(visaAID, "Visa", 1))
	card := &fakePPSECard{responses: []transceiver.ResponseAPDU{{SW: transceiver.SWSuccess, Data: body}}}
	reg := NewRegistry(visa.Brand{})

	txn, entry, err := Dispatch(context.Background(), card, reg, Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, visaAID, entry.AID)
	require.Len(t, txn.Brand.AIDs(), 1)
	assert.Equal(t, visaAID, txn.Brand.AIDs()[0])
}
