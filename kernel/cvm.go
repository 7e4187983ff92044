package kernel

import "github.com/softpos-oss/l2engine/tlv"

// CVMMethod is the cardholder verification method selected, encoded as
// CVM Results byte 1 (tag 9F34) per EMV Book 3 Annex C5.
type CVMMethod byte

const (
	CVMNone      CVMMethod = 0x1F
	CVMOnlinePIN CVMMethod = 0x02
	CVMSignature CVMMethod = 0x1E
	CVMCDCVM     CVMMethod = 0x1D // proprietary code this kernel uses for "CDCVM confirmed by device"
)

// CVMResult is the outcome of CVM selection, packed into the 3-byte CVM
// Results tag (method, condition, result) per EMV step 7.
type CVMResult struct {
	Method    CVMMethod
	Condition byte
	Success   bool
}

// Bytes encodes the CVM Results tag value.
func (r CVMResult) Bytes() [3]byte {
	result := byte(0x00)
	if r.Success {
		result = 0x02
	}
	return [3]byte{byte(r.Method), r.Condition, result}
}

// SelectCVM implements EMV step 7: CDCVM takes precedence when
// the card signals it via CTQ or the AIP on-device-CVM bit combined with
// reader support; otherwise a threshold rule picks online PIN or
// signature, falling back to no CVM under the limit.
func SelectCVM(amount int64, cvmRequiredLimit int64, aip [2]byte, ctq []byte, readerSupportsCDCVM, onlinePINSupported bool) CVMResult {
	if cardSignalsCDCVM(aip, ctq) && readerSupportsCDCVM {
		return CVMResult{Method: CVMCDCVM, Condition: 0x00, Success: true}
	}

	if amount <= cvmRequiredLimit {
		return CVMResult{Method: CVMNone, Condition: 0x00, Success: true}
	}
	if onlinePINSupported {
		return CVMResult{Method: CVMOnlinePIN, Condition: 0x00, Success: true}
	}
	return CVMResult{Method: CVMSignature, Condition: 0x00, Success: true}
}

// cardSignalsCDCVM checks CTQ bit 8 of byte 1 ("CDCVM performed") and the
// AIP "on-device cardholder verification supported" bits (byte 1 bit 1
// and byte 2 bit 1, both required).
func cardSignalsCDCVM(aip [2]byte, ctq []byte) bool {
	if len(ctq) >= 1 && ctq[0]&0x80 != 0 {
		return true
	}
	return aip[0]&0x01 != 0 && aip[1]&0x01 != 0
}

// ApplyCVMResult records the CVM Results tag and sets TVR bits for an
// unsuccessful or unrecognised CVM, per EMV step 7.
func ApplyCVMResult(data *CardData, result CVMResult) {
	b := result.Bytes()
	data.Set(TagCVMResults, b[:])
	if !result.Success {
		data.TVR().Set(2, tlv.TVRCVMNotSuccessful)
	}
	data.TSI().Set(0, tlv.TSICVMPerformed)
}
