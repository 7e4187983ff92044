package kernel

import (
	"encoding/hex"

	"github.com/softpos-oss/l2engine/internal/cryptoprim"
	"github.com/softpos-oss/l2engine/tlv"
)

// AuthorizationRequest is the kernel's online-dialogue output on ARQC, per
// EMV. Every binary field is hex-encoded so the struct marshals
// straight to the issuer-host transport without the caller re-deriving
// encodings.
type AuthorizationRequest struct {
	PAN                  string
	Track2               string
	ExpiryYYMM            string
	PANSequence          string
	ApplicationCryptogram string
	CID                  string
	ATC                  string
	IAD                  string
	TVR                  string
	CVMResults           string
	AmountAuthorized     string
	AmountOther          string
	TerminalCountryCode  string
	TransactionCurrency  string
	TransactionDate      string
	TransactionTime      string
	TransactionType      string
	UnpredictableNumber  string
	AIP                  string
	AID                  string

	// TerminalTraceID correlates this request with the RunResult and log
	// lines it came from. Not an EMV field; never built from card data.
	TerminalTraceID string
}

// BuildAuthorizationRequest assembles the online authorization record
// from accumulated card data and the GENERATE AC result, per EMV's// field list.
func BuildAuthorizationRequest(data *CardData, ac GenerateACResult, aip [2]byte, aid []byte) AuthorizationRequest {
	h := hex.EncodeToString
	return AuthorizationRequest{
		PAN:                   h(data.MustGet(TagPAN)),
		Track2:                h(data.MustGet(TagTrack2)),
		PANSequence:           h(data.MustGet(TagPANSequenceNumber)),
		ApplicationCryptogram: h(ac.AC),
		CID:                   h([]byte{ac.CID}),
		ATC:                   h(ac.ATC),
		IAD:                   h(ac.IAD),
		TVR:                   h(data.TVR().Bytes()),
		CVMResults:            h(data.MustGet(TagCVMResults)),
		AmountAuthorized:      h(data.MustGet(TagAmountAuthorized)),
		AmountOther:           h(data.MustGet(TagAmountOther)),
		TerminalCountryCode:   h(data.MustGet(TagTerminalCountryCode)),
		TransactionCurrency:   h(data.MustGet(TagTransactionCurrency)),
		TransactionDate:       h(data.MustGet(TagTransactionDate)),
		TransactionTime:       h(data.MustGet(0x9F21)),
		TransactionType:       h(data.MustGet(TagTransactionType)),
		UnpredictableNumber:   h(data.MustGet(TagUnpredictableNumber)),
		AIP:                   h(aip[:]),
		AID:                   h(aid),
	}
}

// OnlineResponse is the issuer host's reply, per EMV.
type OnlineResponse struct {
	Approved          bool
	AuthorizationCode string
	ARC               []byte // tag 8A, 2 bytes
	ARPC              []byte // tag 91, 4 or 8 bytes
	CSU               []byte // Card Status Update + proprietary data, ARPC method 2 only
	ScriptsPreAC      [][]byte
	ScriptsPostAC     [][]byte
}

// VerifyIssuerAuthentication validates the issuer's ARPC using the same
// session key derived for ARQC generation, setting the TVR "issuer auth
// failed" bit on mismatch, per EMV step 11. method2 selects
// ARPC method 2 (CSU-based) verification instead of method 1
// (ARC-XORed-ARQC).
func VerifyIssuerAuthentication(data *CardData, sessionKeyAC, arqc []byte, resp OnlineResponse, method2 bool) (bool, error) {
	if method2 {
		expected, err := cryptoprim.ComputeARPCMethod2(sessionKeyAC, arqc, resp.CSU)
		if err != nil {
			return false, err
		}
		ok := len(expected) == len(resp.ARPC) && hexEqual(expected, resp.ARPC)
		if !ok {
			data.TVR().Set(4, tlv.TVRIssuerAuthFailed)
		}
		return ok, nil
	}

	ok, err := cryptoprim.VerifyARPCMethod1(sessionKeyAC, arqc, resp.ARC, resp.ARPC)
	if err != nil {
		return false, err
	}
	if !ok {
		data.TVR().Set(4, tlv.TVRIssuerAuthFailed)
	}
	return ok, nil
}

func hexEqual(a, b []byte) bool {
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
