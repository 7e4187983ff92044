package kernel

import (
	"github.com/pkg/errors"

	"github.com/softpos-oss/l2engine/tlv"
)

// GPOResult is the decoded content of a GET PROCESSING OPTIONS response,
// either format (tag 80, "format 1") per EMV step 3.
type GPOResult struct {
	AIP [2]byte
	AFL []byte

	// Format 2 (tag 77) may additionally carry an MSD fallback payload.
	Track2 []byte
	AC     []byte
	ATC    []byte
	CTQ    []byte

	// SDAD is the Signed Dynamic Application Data (tag 9F4B), present
	// only when the brand signs dynamic data during GPO itself rather
	// than via a later INTERNAL AUTHENTICATE (Visa fDDA).
	SDAD []byte
}

var (
	ErrGPOEmpty           = errors.New("kernel: empty GPO response")
	ErrGPOFormat1BadLen   = errors.New("kernel: format 1 GPO response too short for AIP")
	ErrGPOMissingAIPOrAFL = errors.New("kernel: GPO response missing AIP or AFL")
)

// ParseGPOResponse decodes a GET PROCESSING OPTIONS response body,
// handling both format 1 (tag 0x80, AIP||AFL concatenated) and format 2
// (tag 0x77, constructed with discrete AIP/AFL/Track2/AC/ATC/CTQ tags),
// per EMV step 3.
func ParseGPOResponse(body []byte) (GPOResult, error) {
	if len(body) == 0 {
		return GPOResult{}, ErrGPOEmpty
	}

	nodes, err := tlv.Parse(body)
	if err != nil {
		return GPOResult{}, errors.Wrap(err, "kernel: parsing GPO response")
	}
	if len(nodes) == 0 {
		return GPOResult{}, ErrGPOEmpty
	}

	root := nodes[0]
	var result GPOResult
	aipPresent := false

	switch root.Tag {
	case 0x80:
		if len(root.Value) < 2 {
			return GPOResult{}, ErrGPOFormat1BadLen
		}
		copy(result.AIP[:], root.Value[:2])
		aipPresent = true
		result.AFL = append([]byte{}, root.Value[2:]...)

	case 0x77:
		for _, child := range root.Children {
			switch child.Tag {
			case TagAIP:
				if len(child.Value) >= 2 {
					copy(result.AIP[:], child.Value[:2])
					aipPresent = true
				}
			case TagAFL:
				result.AFL = append([]byte{}, child.Value...)
			case TagTrack2:
				result.Track2 = append([]byte{}, child.Value...)
			case TagAC:
				result.AC = append([]byte{}, child.Value...)
			case TagATC:
				result.ATC = append([]byte{}, child.Value...)
			case TagCTQ:
				result.CTQ = append([]byte{}, child.Value...)
			case TagSDAD:
				result.SDAD = append([]byte{}, child.Value...)
			}
		}

	default:
		return GPOResult{}, errors.Errorf("kernel: unexpected GPO outer tag %s", root.Tag)
	}

	if result.AFL == nil || !aipPresent {
		return GPOResult{}, ErrGPOMissingAIPOrAFL
	}
	return result, nil
}
