// Package transceiver defines the command/response APDU types and the
// contactless card interface that kernels drive, grounded on the
// fixed-size wire-buffer convention the protocol layer uses elsewhere in
// this module (see tlv.Node for the same style applied to TLV).
package transceiver

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// StatusWord is the 2-byte trailer every response APDU carries.
type StatusWord uint16

const (
	SWSuccess              StatusWord = 0x9000
	SWWarningNVMChanged    StatusWord = 0x6200 // masked against 0xFF00 by IsWarning
	SWWarningNVMUnchanged  StatusWord = 0x6300
	SWWrongLength          StatusWord = 0x6700
	SWSecurityNotSatisfied StatusWord = 0x6982
	SWFileInvalid          StatusWord = 0x6983
	SWDataInvalid          StatusWord = 0x6984
	SWConditionsNotSat     StatusWord = 0x6985
	SWCommandNotAllowed    StatusWord = 0x6986
	SWWrongParams          StatusWord = 0x6A86
	SWFileNotFound         StatusWord = 0x6A82
	SWRecordNotFound       StatusWord = 0x6A83
	SWInsNotSupported      StatusWord = 0x6D00
	SWClaNotSupported      StatusWord = 0x6E00
)

// IsSuccess reports whether sw is exactly 0x9000.
func (sw StatusWord) IsSuccess() bool { return sw == SWSuccess }

// IsWarning reports whether sw is a 62xx or 63xx warning class, per
// EMV's error taxonomy category 2 (temporary card errors).
func (sw StatusWord) IsWarning() bool {
	hi := sw & 0xFF00
	return hi == 0x6200 || hi == 0x6300
}

// IsSecurityDecline reports whether sw is 6982 or 6983, category 3 of the
// taxonomy: surfaces as a security decline, terminating the kernel.
func (sw StatusWord) IsSecurityDecline() bool {
	return sw == SWSecurityNotSatisfied || sw == SWFileInvalid
}

func (sw StatusWord) String() string {
	return fmt.Sprintf("%04X", uint16(sw))
}

// CommandAPDU is a 4-or-5-header-byte ISO 7816-4 command with optional
// data and optional Le.
type CommandAPDU struct {
	CLA, INS, P1, P2 byte
	Data             []byte
	Le               *byte // nil means no Le byte (case 1/3 command)
}

// Bytes marshals the command into wire form.
func (c CommandAPDU) Bytes() []byte {
	out := []byte{c.CLA, c.INS, c.P1, c.P2}
	if len(c.Data) > 0 {
		out = append(out, byte(len(c.Data)))
		out = append(out, c.Data...)
	}
	if c.Le != nil {
		out = append(out, *c.Le)
	}
	return out
}

// ResponseAPDU is the data portion plus trailing status word returned by a
// transceive.
type ResponseAPDU struct {
	Data []byte
	SW   StatusWord
}

// ErrTransceive wraps a transport-level failure from Card.Transceive,
// category 1 of the error taxonomy (recoverable via retry).
var ErrTransceive = errors.New("transceiver: command/response exchange failed")

// Card is the contactless interface a kernel drives. Transceive suspends
// the calling goroutine until the card replies, a deadline passes, or ctx
// is cancelled, per the cooperative single-threaded-per-transaction
// scheduling model.
type Card interface {
	Transceive(ctx context.Context, cmd CommandAPDU) (ResponseAPDU, error)
	// Present reports whether the card is still in the field, polled
	// between commands to drive card-removal semantics.
	Present() bool
}

var le00 = byte(0x00)

// Select builds a SELECT command by AID (or by empty aid for SELECT next
// occurrence continuation).
func Select(aid []byte) CommandAPDU {
	return CommandAPDU{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00, Data: aid, Le: &le00}
}

// GetProcessingOptions builds GET PROCESSING OPTIONS with the PDOL-built
// command template (tag 83) already wrapped by the caller.
func GetProcessingOptions(pdolData []byte) CommandAPDU {
	data := append([]byte{0x83, byte(len(pdolData))}, pdolData...)
	return CommandAPDU{CLA: 0x80, INS: 0xA8, P1: 0x00, P2: 0x00, Data: data, Le: &le00}
}

// ReadRecord builds READ RECORD for the given record number and SFI, with
// P2 = (SFI<<3)|0x04 per EMV step 4.
func ReadRecord(sfi byte, record byte) CommandAPDU {
	p2 := (sfi << 3) | 0x04
	return CommandAPDU{CLA: 0x00, INS: 0xB2, P1: record, P2: p2, Le: &le00}
}

// GenerateAC cryptogram type request codes for P1, per EMVstep
// 10.
const (
	GenACRequestAAC  byte = 0x00
	GenACRequestTC   byte = 0x40
	GenACRequestARQC byte = 0x80
	GenACCDABit      byte = 0x10
)

// GenerateAC builds the GENERATE AC command with the CDOL-built data and a
// cryptogram-type P1, used as given; a caller requesting CDA ORs
// GenACCDABit into p1 first.
func GenerateAC(p1 byte, cdolData []byte) CommandAPDU {
	return CommandAPDU{CLA: 0x80, INS: 0xAE, P1: p1, P2: 0x00, Data: cdolData, Le: &le00}
}

// InternalAuthenticate builds INTERNAL AUTHENTICATE with the DDOL-built
// data (typically just the terminal's unpredictable number).
func InternalAuthenticate(ddolData []byte) CommandAPDU {
	return CommandAPDU{CLA: 0x00, INS: 0x88, P1: 0x00, P2: 0x00, Data: ddolData, Le: &le00}
}
