package kernel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/transceiver"
)

// CryptogramType is decoded from CID bits 8-7, per EMV step 10.
type CryptogramType byte

const (
	CryptogramAAC  CryptogramType = 0x00
	CryptogramTC   CryptogramType = 0x40
	CryptogramARQC CryptogramType = 0x80
	CryptogramAAR  CryptogramType = 0xC0
)

// GenerateACResult is the decoded response to a GENERATE AC command.
type GenerateACResult struct {
	Type CryptogramType
	CID  byte
	ATC  []byte
	AC   []byte
	IAD  []byte
	SDAD []byte // present only when CDA was requested
}

// IssueGenerateAC builds CDOL data from dol and data, sends GENERATE AC
// with the given decision and cda flag, and decodes the response, per
// EMV step 10. It marks sm's cryptogram-requested/returned flags
// so card-removal and abort semantics can see the in-flight request.
func IssueGenerateAC(ctx context.Context, card transceiver.Card, dol []byte, data *CardData, decision CryptogramDecision, cda bool, markRequested func(), markReturned func()) (GenerateACResult, error) {
	cdolData, err := tlv.BuildDOL(dol, data)
	if err != nil {
		return GenerateACResult{}, errors.Wrap(err, "kernel: building CDOL data")
	}

	p1 := byte(decision)
	if cda {
		p1 |= transceiver.GenACCDABit
	}
	if markRequested != nil {
		markRequested()
	}

	resp, err := card.Transceive(ctx, transceiver.GenerateAC(p1, cdolData))
	if err != nil {
		return GenerateACResult{}, errors.Wrap(err, "kernel: GENERATE AC transceive")
	}
	if !resp.SW.IsSuccess() {
		return GenerateACResult{}, errors.Errorf("kernel: GENERATE AC returned %s", resp.SW)
	}
	if markReturned != nil {
		markReturned()
	}

	return parseGenerateACResponse(resp.Data)
}

func parseGenerateACResponse(body []byte) (GenerateACResult, error) {
	nodes, err := tlv.Parse(body)
	if err != nil {
		return GenerateACResult{}, errors.Wrap(err, "kernel: parsing GENERATE AC response")
	}
	if len(nodes) == 0 {
		return GenerateACResult{}, errors.New("kernel: empty GENERATE AC response")
	}

	var result GenerateACResult
	root := nodes[0]

	collect := func(n tlv.Node) {
		switch n.Tag {
		case TagCID:
			if len(n.Value) == 1 {
				result.CID = n.Value[0]
			}
		case TagATC:
			result.ATC = n.Value
		case TagAC:
			result.AC = n.Value
		case TagIAD:
			result.IAD = n.Value
		case TagSDAD:
			result.SDAD = n.Value
		}
	}

	switch root.Tag {
	case 0x80:
		// Format 1: CID(1) || ATC(2) || AC(8) || [IAD].
		if len(root.Value) < 11 {
			return GenerateACResult{}, errors.New("kernel: format 1 GENERATE AC response too short")
		}
		result.CID = root.Value[0]
		result.ATC = root.Value[1:3]
		result.AC = root.Value[3:11]
		if len(root.Value) > 11 {
			result.IAD = root.Value[11:]
		}
	case 0x77:
		for _, child := range root.Children {
			collect(child)
		}
	default:
		return GenerateACResult{}, errors.Errorf("kernel: unexpected GENERATE AC outer tag %s", root.Tag)
	}

	result.Type = CryptogramType(result.CID & 0xC0)
	return result, nil
}
