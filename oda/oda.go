package oda

import (
	"github.com/pkg/errors"

	"github.com/softpos-oss/l2engine/castore"
	"github.com/softpos-oss/l2engine/internal/cryptoprim"
	"github.com/softpos-oss/l2engine/tlv"
)

// Mode is the offline data authentication mode selected by AIP bits, in
// the priority order CDA > DDA > SDA, per EMV.
type Mode int

const (
	ModeNone Mode = iota
	ModeSDA
	ModeDDA
	ModeFDDA
	ModeCDA
)

func (m Mode) String() string {
	switch m {
	case ModeSDA:
		return "SDA"
	case ModeDDA:
		return "DDA"
	case ModeFDDA:
		return "fDDA"
	case ModeCDA:
		return "CDA"
	default:
		return "none"
	}
}

// SelectMode picks the ODA mode from AIP byte 1 bit 1 (CDA), bit 6 (DDA)
// and bit 7 (SDA), preferring CDA over DDA over SDA when more than one bit
// is set. visaFastDDA requests fDDA instead of DDA for brands that sign
// during GPO rather than INTERNAL AUTHENTICATE.
func SelectMode(aip [2]byte, visaFastDDA bool) Mode {
	switch {
	case aip[0]&0x01 != 0:
		return ModeCDA
	case aip[0]&0x20 != 0 && visaFastDDA:
		return ModeFDDA
	case aip[0]&0x20 != 0:
		return ModeDDA
	case aip[0]&0x40 != 0:
		return ModeSDA
	default:
		return ModeNone
	}
}

// Result is the outcome of an ODA pass: which mode ran, whether it
// succeeded, and (on SDA success) the 2-byte Data Authentication Code.
type Result struct {
	Mode    Mode
	Success bool
	Reason  FailureReason
	Err     error
	DAC     []byte // tag 9F45, published on SDA success
}

// Processor runs offline data authentication against a card's accumulated
// data set. It holds no long-lived state beyond its CA store reference;
// per-transaction state (recovered keys) lives in the caller.
type Processor struct {
	Store *castore.Store
}

// NewProcessor constructs an ODA Processor bound to store. Callers must
// supply an explicit CA index for SDA: this module refuses a default
// index rather than silently picking one when a card's CA Public Key
// Index is ambiguous.
func NewProcessor(store *castore.Store) *Processor {
	return &Processor{Store: store}
}

// PerformSDA runs Static Data Authentication: recovers the Issuer Public
// Key, then verifies the Signed Static Application Data against the
// concatenation of the SDA tag list's record bodies. caIndex must be
// supplied explicitly by the caller.
func (p *Processor) PerformSDA(rid string, caIndex byte, issuerCert, issuerExponent, issuerRemainder, signedStaticData, ssad []byte) Result {
	issuerResult := RecoverIssuerKey(p.Store, rid, caIndex, issuerCert, issuerExponent, issuerRemainder)
	if !issuerResult.OK {
		return Result{Mode: ModeSDA, Reason: issuerResult.FailureReason, Err: issuerResult.Err}
	}

	recovered, err := cryptoprim.RSARecover(ssad, issuerResult.RecoveredKey.Modulus, issuerResult.RecoveredKey.Exponent)
	if err != nil {
		return Result{Mode: ModeSDA, Reason: ReasonInvalidIssuerCertFormat, Err: err}
	}
	alg := issuerResult.HashAlg
	hashInput := append(append([]byte{}, signedDataHashInput(recovered, alg)...), signedStaticData...)
	_, recoverable, verr := cryptoprim.VerifyEMVSignature(recovered, cryptoprim.ClassSDA, alg, hashInput)
	if verr != nil {
		if errors.Is(verr, cryptoprim.ErrHashMismatch) {
			return Result{Mode: ModeSDA, Reason: ReasonHashMismatch, Err: verr}
		}
		return Result{Mode: ModeSDA, Reason: ReasonInvalidIssuerCertFormat, Err: verr}
	}
	var dac []byte
	if len(recoverable) >= 2 {
		dac = recoverable[:2]
	}
	return Result{Mode: ModeSDA, Success: true, DAC: dac}
}

// PerformDDA runs Dynamic Data Authentication: recovers the ICC Public
// Key, then verifies Signed Dynamic Application Data produced by INTERNAL
// AUTHENTICATE against the terminal's unpredictable number.
func (p *Processor) PerformDDA(issuerKey RecoveredKey, issuerHashAlg cryptoprim.HashAlg, iccCert, iccExponent, iccRemainder, staticDataToAuthenticate, sdad, unpredictableNumber []byte) Result {
	iccResult := RecoverICCKey(issuerKey, issuerHashAlg, iccCert, iccRemainder, iccExponent, staticDataToAuthenticate)
	if !iccResult.OK {
		return Result{Mode: ModeDDA, Reason: iccResult.FailureReason, Err: iccResult.Err}
	}

	recovered, err := cryptoprim.RSARecover(sdad, iccResult.RecoveredKey.Modulus, iccResult.RecoveredKey.Exponent)
	if err != nil {
		return Result{Mode: ModeDDA, Reason: ReasonInvalidICCCertFormat, Err: err}
	}
	hashInput := append(append([]byte{}, signedDataHashInput(recovered, issuerHashAlg)...), unpredictableNumber...)
	_, _, verr := cryptoprim.VerifyEMVSignature(recovered, cryptoprim.ClassDynamic, issuerHashAlg, hashInput)
	if verr != nil {
		if errors.Is(verr, cryptoprim.ErrHashMismatch) {
			return Result{Mode: ModeDDA, Reason: ReasonHashMismatch, Err: verr}
		}
		return Result{Mode: ModeDDA, Reason: ReasonInvalidICCCertFormat, Err: verr}
	}
	return Result{Mode: ModeDDA, Success: true}
}

// PerformFDDA runs fast DDA (Visa): the signed dynamic data is produced
// during GPO rather than via INTERNAL AUTHENTICATE, so there is no
// separate command round-trip, but the signature format and hash
// construction (with the terminal's UN folded in) are identical to DDA.
func (p *Processor) PerformFDDA(issuerKey RecoveredKey, issuerHashAlg cryptoprim.HashAlg, iccCert, iccExponent, iccRemainder, staticDataToAuthenticate, sdad, unpredictableNumber []byte) Result {
	result := p.PerformDDA(issuerKey, issuerHashAlg, iccCert, iccExponent, iccRemainder, staticDataToAuthenticate, sdad, unpredictableNumber)
	result.Mode = ModeFDDA
	return result
}

// PerformCDA verifies Combined Data Authentication: the SDAD returned
// alongside GENERATE AC wraps a signed block whose ICC Dynamic Data portion
// must embed the same Application Cryptogram GENERATE AC returned
// separately. generatedAC is the AC from the GENERATE AC response (tag
// 9F26); sdad is the Signed Dynamic Application Data (tag 9F4B).
func (p *Processor) PerformCDA(issuerKey RecoveredKey, issuerHashAlg cryptoprim.HashAlg, iccCert, iccExponent, iccRemainder, staticDataToAuthenticate, sdad, transactionDataHash, generatedAC []byte) Result {
	iccResult := RecoverICCKey(issuerKey, issuerHashAlg, iccCert, iccRemainder, iccExponent, staticDataToAuthenticate)
	if !iccResult.OK {
		return Result{Mode: ModeCDA, Reason: iccResult.FailureReason, Err: iccResult.Err}
	}

	recovered, err := cryptoprim.RSARecover(sdad, iccResult.RecoveredKey.Modulus, iccResult.RecoveredKey.Exponent)
	if err != nil {
		return Result{Mode: ModeCDA, Reason: ReasonInvalidICCCertFormat, Err: err}
	}
	hashInput := append(append([]byte{}, signedDataHashInput(recovered, issuerHashAlg)...), transactionDataHash...)
	_, recoverable, verr := cryptoprim.VerifyEMVSignature(recovered, cryptoprim.ClassDynamic, issuerHashAlg, hashInput)
	if verr != nil {
		if errors.Is(verr, cryptoprim.ErrHashMismatch) {
			return Result{Mode: ModeCDA, Reason: ReasonHashMismatch, Err: verr}
		}
		return Result{Mode: ModeCDA, Reason: ReasonInvalidICCCertFormat, Err: verr}
	}

	extractedAC, ok := tlv.FindTag(recoverable, 0x9F26)
	if !ok || !bytesEqual(extractedAC.Value, generatedAC) {
		return Result{Mode: ModeCDA, Reason: ReasonHashMismatch, Err: errors.New("oda: CDA-recovered AC does not match GENERATE AC response")}
	}
	return Result{Mode: ModeCDA, Success: true}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
