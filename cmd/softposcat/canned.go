package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/softpos-oss/l2engine/castore"
	"github.com/softpos-oss/l2engine/internal/adminhttp"
	"github.com/softpos-oss/l2engine/kernel"
	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/transceiver"
)

var visaTestAID = []byte{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10}

var cdol = []byte{0x9F, 0x02, 0x06, 0x95, 0x05} // amount + TVR

func ppseDirectory() []byte {
	return tlv.Encode([]tlv.Node{{Tag: 0x6F, Children: []tlv.Node{
		{Tag: 0xA5, Children: []tlv.Node{
			{Tag: 0xBF0C, Children: []tlv.Node{
				{Tag: 0x61, Children: []tlv.Node{
					{Tag: 0x4F, Primitive: true, Value: visaTestAID},
					{Tag: 0x50, Primitive: true, Value: []byte("VISA TEST")},
					{Tag: 0x87, Primitive: true, Value: []byte{0x01}},
				}},
			}},
		}},
	}}})
}

func fciTemplate() []byte {
	return tlv.Encode([]tlv.Node{{Tag: 0x6F, Children: []tlv.Node{
		{Tag: kernel.TagAID, Primitive: true, Value: visaTestAID},
	}}})
}

func record70() []byte {
	return tlv.Encode([]tlv.Node{{Tag: 0x70, Children: []tlv.Node{
		{Tag: kernel.TagPAN, Primitive: true, Value: []byte{0x41, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0xFF}},
		{Tag: kernel.TagPANSequenceNumber, Primitive: true, Value: []byte{0x00}},
		{Tag: kernel.TagCDOL1, Primitive: true, Value: cdol},
		{Tag: kernel.TagCDOL2, Primitive: true, Value: cdol},
	}}})
}

func gpoFormat1() []byte {
	afl := []byte{0x08, 0x01, 0x01, 0x00} // SFI 1, record 1-1, 0 signed
	body := append([]byte{0x00, 0x00}, afl...)
	return tlv.Encode([]tlv.Node{{Tag: 0x80, Primitive: true, Value: body}})
}

func genACFormat1(cid byte) []byte {
	body := append([]byte{cid, 0x00, 0x01}, make([]byte, 8)...)
	return tlv.Encode([]tlv.Node{{Tag: 0x80, Primitive: true, Value: body}})
}

// cannedCard scripts a fixed APDU exchange for one of the demo scenarios,
// standing in for a real NFC reader.
type cannedCard struct {
	responses []transceiver.ResponseAPDU
	calls     int
}

func newCannedCard(scenario string) (*cannedCard, error) {
	switch scenario {
	case "offline-approve":
		return &cannedCard{responses: []transceiver.ResponseAPDU{
			{SW: transceiver.SWSuccess, Data: ppseDirectory()},
			{SW: transceiver.SWSuccess, Data: fciTemplate()},
			{SW: transceiver.SWSuccess, Data: gpoFormat1()},
			{SW: transceiver.SWSuccess, Data: record70()},
			{SW: transceiver.SWSuccess, Data: genACFormat1(0x40)}, // TC
		}}, nil
	case "offline-decline":
		return &cannedCard{responses: []transceiver.ResponseAPDU{
			{SW: transceiver.SWSuccess, Data: ppseDirectory()},
			{SW: transceiver.SWSuccess, Data: fciTemplate()},
			{SW: transceiver.SWSuccess, Data: gpoFormat1()},
			{SW: transceiver.SWSuccess, Data: record70()},
			{SW: transceiver.SWSuccess, Data: genACFormat1(0x00)}, // AAC
		}}, nil
	case "online-approve", "online-decline":
		return &cannedCard{responses: []transceiver.ResponseAPDU{
			{SW: transceiver.SWSuccess, Data: ppseDirectory()},
			{SW: transceiver.SWSuccess, Data: fciTemplate()},
			{SW: transceiver.SWSuccess, Data: gpoFormat1()},
			{SW: transceiver.SWSuccess, Data: record70()},
			{SW: transceiver.SWSuccess, Data: genACFormat1(0x80)}, // ARQC
			{SW: transceiver.SWSuccess, Data: genACFormat1(0x40)}, // second GENERATE AC -> TC
		}}, nil
	default:
		return nil, errors.Errorf("softposcat: unknown scenario %q", scenario)
	}
}

func (c *cannedCard) Transceive(ctx context.Context, cmd transceiver.CommandAPDU) (transceiver.ResponseAPDU, error) {
	idx := c.calls
	c.calls++
	if idx >= len(c.responses) {
		return transceiver.ResponseAPDU{SW: transceiver.SWConditionsNotSat}, nil
	}
	return c.responses[idx], nil
}

func (c *cannedCard) Present() bool { return true }

type cannedAuthorizer struct {
	approve bool
}

func (a cannedAuthorizer) Authorize(ctx context.Context, req kernel.AuthorizationRequest) (kernel.OnlineResponse, error) {
	return kernel.OnlineResponse{Approved: a.approve}, nil
}

func emptyTerminalInput(amount int64) kernel.TerminalInput {
	return kernel.TerminalInput{AmountAuthorized: amount}
}

func buildAdminServer() (*adminhttp.Server, error) {
	rev, err := castore.NewRevocationChecker(castore.RevocationConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &adminhttp.Server{CAStore: castore.New(nil), Revocation: rev}, nil
}
