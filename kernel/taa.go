package kernel

import (
	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/transceiver"
)

// ActionCodes bundles the Issuer Action Codes (from the card) and
// Terminal Action Codes (from terminal configuration) terminal action
// analysis combines, per EMV step 9.
type ActionCodes struct {
	IACDenial [5]byte
	IACOnline [5]byte
	IACDflt   [5]byte
	TACDenial [5]byte
	TACOnline [5]byte
	TACDflt   [5]byte
}

// CryptogramDecision is the terminal's requested cryptogram type, decided
// by AnalyzeTerminalActions. Its values are the GENERATE AC P1 request
// codes transceiver.GenerateAC expects, so callers can pass it straight
// through.
type CryptogramDecision byte

const (
	DecisionAAC  CryptogramDecision = transceiver.GenACRequestAAC
	DecisionTC   CryptogramDecision = transceiver.GenACRequestTC
	DecisionARQC CryptogramDecision = transceiver.GenACRequestARQC
)

// AnalyzeTerminalActions implements EMV step 9: for each of the
// five TVR bytes, denial = (IAC_denial | TAC_denial) & TVR; if any byte is
// nonzero, decline offline (AAC). Otherwise the same test against the
// online codes requests ARQC; failing that, the default codes decide
// between ARQC (if online-capable) and AAC. forceOnline unconditionally
// requests ARQC, per SoftPOS policy.
func AnalyzeTerminalActions(tvr tlv.TVR, codes ActionCodes, onlineCapable, forceOnline bool) CryptogramDecision {
	if forceOnline {
		return DecisionARQC
	}

	var denial, online, dflt [5]byte
	for i := 0; i < 5; i++ {
		denial[i] = (codes.IACDenial[i] | codes.TACDenial[i]) & tvr[i]
		online[i] = (codes.IACOnline[i] | codes.TACOnline[i]) & tvr[i]
		dflt[i] = (codes.IACDflt[i] | codes.TACDflt[i]) & tvr[i]
	}

	if anyNonZero(denial) {
		return DecisionAAC
	}
	if anyNonZero(online) {
		return DecisionARQC
	}
	if anyNonZero(dflt) {
		if onlineCapable {
			return DecisionARQC
		}
		return DecisionAAC
	}
	return DecisionTC
}

func anyNonZero(b [5]byte) bool {
	for _, v := range b {
		if v != 0 {
			return true
		}
	}
	return false
}
