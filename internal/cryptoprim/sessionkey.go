package cryptoprim

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// KeyType selects the session-key derivation purpose, per EMV Book 2 A1.3.
type KeyType byte

const (
	KeyTypeAC  KeyType = 0x00 // Application Cryptogram
	KeyTypeSMC KeyType = 0x01 // Secure Messaging for Confidentiality
	KeyTypeSMI KeyType = 0x02 // Secure Messaging for Integrity
)

// DeriveICCMasterKey derives MK_ICC from the issuer master key IMK and the
// rightmost 16 decimal digits of PAN||PSN (as 8 BCD bytes), per EMV Book 2
// Annex A1.3.1 (Option A, "derivation data" method).
func DeriveICCMasterKey(imk []byte, pan, psn string) ([]byte, error) {
	derivationData, err := deriveICCDerivationData(pan, psn)
	if err != nil {
		return nil, err
	}
	left, err := TripleDESECBEncrypt(imk, derivationData)
	if err != nil {
		return nil, err
	}
	inverted := make([]byte, 8)
	for i := range derivationData {
		inverted[i] = derivationData[i] ^ 0xFF
	}
	right, err := TripleDESECBEncrypt(imk, inverted)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// deriveICCDerivationData builds the 8-byte BCD derivation data from the
// rightmost 16 decimal digits of PAN concatenated with PSN.
func deriveICCDerivationData(pan, psn string) ([]byte, error) {
	combined := pan + psn
	if len(combined) < 16 {
		combined = padLeftZeros(combined, 16)
	}
	digits := combined[len(combined)-16:]
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoprim: PAN||PSN must be decimal digits")
	}
	return raw, nil
}

func padLeftZeros(s string, n int) string {
	for len(s) < n {
		s = "0" + s
	}
	return s
}

// DeriveSessionKey derives SK from mkICC (the ICC master key for the given
// purpose) and the 2-byte ATC, per EMV Book 2 Annex A1.3.2 (common session
// key derivation method): two 3DES encryptions of ATC||0xF0||type||0x00...
// and ATC||0x0F||type||0x00... using mkICC.
func DeriveSessionKey(mkICC []byte, atc []byte, typ KeyType) ([]byte, error) {
	if len(atc) != 2 {
		return nil, errors.New("cryptoprim: ATC must be 2 bytes")
	}
	leftBlock := []byte{atc[0], atc[1], 0xF0, byte(typ), 0x00, 0x00, 0x00, 0x00}
	rightBlock := []byte{atc[0], atc[1], 0x0F, byte(typ), 0x00, 0x00, 0x00, 0x00}

	left, err := TripleDESECBEncrypt(mkICC, leftBlock)
	if err != nil {
		return nil, err
	}
	right, err := TripleDESECBEncrypt(mkICC, rightBlock)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// ARQC computes the 8-byte Application Request Cryptogram: the ISO/IEC
// 9797-1 Algorithm 3 retail MAC of the CDOL1 data (which embeds TVR) under
// the AC session key, with method-2 padding applied first.
func ARQC(sessionKeyAC, cdol1Data []byte) ([]byte, error) {
	padded := PadISO9797Method2(cdol1Data, 8)
	return RetailMAC(sessionKeyAC, padded)
}

// VerifyARPCMethod1 reports whether arpc equals RetailMAC(sessionKeyAC,
// ARQC XOR (ARC||0x00...)), per EMV ARPC method 1, using a constant-time
// comparison so mutated bits never leak timing information.
func VerifyARPCMethod1(sessionKeyAC, arqc, arc, arpc []byte) (bool, error) {
	padded := make([]byte, 8)
	copy(padded, arqc)
	input := make([]byte, 8)
	copy(input, padded)
	for i := 0; i < len(arc) && i < 8; i++ {
		input[i] ^= arc[i]
	}
	for i := len(arc); i < 8; i++ {
		input[i] = padded[i]
	}
	computed, err := RetailMAC(sessionKeyAC, input)
	if err != nil {
		return false, err
	}
	return constantTimeEqual(computed, arpc), nil
}

// ComputeARPCMethod2 implements EMV ARPC method 2: 3DES_ENC(SK, ARQC) XOR
// (CSU||PropData)[0:4], returning the 4-byte ARPC.
func ComputeARPCMethod2(sessionKeyAC, arqc, csuAndPropData []byte) ([]byte, error) {
	if len(arqc) != 8 {
		return nil, errors.New("cryptoprim: ARQC must be 8 bytes")
	}
	enc, err := TripleDESECBEncrypt(sessionKeyAC, arqc)
	if err != nil {
		return nil, err
	}
	n := 4
	if len(csuAndPropData) < n {
		n = len(csuAndPropData)
	}
	out := make([]byte, 4)
	copy(out, enc[:4])
	for i := 0; i < n; i++ {
		out[i] ^= csuAndPropData[i]
	}
	return out, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
