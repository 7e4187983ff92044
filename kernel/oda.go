package kernel

import (
	"encoding/hex"
	"time"

	"github.com/softpos-oss/l2engine/castore"
	"github.com/softpos-oss/l2engine/internal/cryptoprim"
	"github.com/softpos-oss/l2engine/oda"
	"github.com/softpos-oss/l2engine/tlv"
)

// odaState carries the key material recovered during the pre-AC ODA pass
// forward to the post-GENERATE AC CDA check, so CDA never re-recovers the
// issuer and ICC keys it already has.
type odaState struct {
	mode       oda.Mode
	issuerKey  oda.RecoveredKey
	issuerAlg  cryptoprim.HashAlg
	haveICCKey bool
}

// performODA runs the key recovery and, for SDA and (f)DDA, the signature
// verification steps of EMV step 5. CDA's signature check is
// deferred to the GENERATE AC response, since the Signed Dynamic
// Application Data it verifies is only available there; performODA still
// recovers the issuer and ICC keys up front so that check needs no extra
// round trip.
func (t *Transaction) performODA(data *CardData, gpo GPOResult, read ReadResult) odaState {
	mode := oda.SelectMode(gpo.AIP, t.Brand.UseFastDDA())
	if mode == oda.ModeNone {
		data.TVR().Set(0, tlv.TVROfflineDataAuthNotPerformed)
		return odaState{mode: mode}
	}
	if t.CAStore == nil {
		data.TVR().Set(0, tlv.TVROfflineDataAuthNotPerformed)
		return odaState{mode: oda.ModeNone}
	}

	aid := data.MustGet(TagAID)
	caIndexB := data.MustGet(TagCAPublicKeyIndex)
	issuerCert := data.MustGet(TagIssuerCertificate)
	if len(aid) < 5 || len(caIndexB) == 0 || len(issuerCert) == 0 {
		data.TVR().Set(0, tlv.TVRICCDataMissing)
		data.TVR().Set(0, tlv.TVROfflineDataAuthNotPerformed)
		return odaState{mode: oda.ModeNone}
	}
	rid := hex.EncodeToString(aid[:5])

	caKey, err := t.CAStore.Lookup(rid, caIndexB[0], time.Now())
	if err != nil {
		data.TVR().Set(0, sdaOrDDAFailureBit(mode))
		return odaState{mode: mode}
	}
	issuerAlg := cryptoprim.HashSHA256
	if caKey.Hash == castore.HashSHA1 {
		issuerAlg = cryptoprim.HashSHA1
	}

	processor := oda.NewProcessor(t.CAStore)
	issuerResult := oda.RecoverIssuerKey(t.CAStore, rid, caIndexB[0], issuerCert, data.MustGet(TagIssuerExponent), data.MustGet(TagIssuerPubKeyRemain))
	if !issuerResult.OK {
		data.TVR().Set(0, sdaOrDDAFailureBit(mode))
		return odaState{mode: mode}
	}
	data.TSI().Set(0, tlv.TSIOfflineDataAuthPerformed)

	state := odaState{mode: mode, issuerKey: issuerResult.RecoveredKey, issuerAlg: issuerAlg}

	if mode == oda.ModeSDA {
		result := processor.PerformSDA(rid, caIndexB[0], issuerCert, data.MustGet(TagIssuerExponent), data.MustGet(TagIssuerPubKeyRemain), read.StaticDataToAuthenticate, data.MustGet(TagSSAD))
		if !result.Success {
			data.TVR().Set(0, tlv.TVRSDAFailed)
		}
		return state
	}

	iccCert := data.MustGet(TagICCCertificate)
	if len(iccCert) == 0 {
		data.TVR().Set(0, tlv.TVRICCDataMissing)
		data.TVR().Set(0, sdaOrDDAFailureBit(mode))
		return state
	}
	iccResult := oda.RecoverICCKey(issuerResult.RecoveredKey, issuerAlg, iccCert, data.MustGet(TagICCPubKeyRemainder), data.MustGet(TagICCExponent), read.StaticDataToAuthenticate)
	if !iccResult.OK {
		data.TVR().Set(0, sdaOrDDAFailureBit(mode))
		return state
	}
	state.haveICCKey = true

	if mode == oda.ModeDDA || mode == oda.ModeFDDA {
		sdad := data.MustGet(TagSDAD)
		if mode == oda.ModeFDDA && len(sdad) == 0 {
			sdad = gpo.SDAD
		}
		if len(sdad) == 0 {
			data.TVR().Set(0, tlv.TVRDDAFailed)
			return state
		}
		var result oda.Result
		if mode == oda.ModeFDDA {
			result = processor.PerformFDDA(issuerResult.RecoveredKey, issuerAlg, iccCert, data.MustGet(TagICCExponent), data.MustGet(TagICCPubKeyRemainder), read.StaticDataToAuthenticate, sdad, data.MustGet(TagUnpredictableNumber))
		} else {
			result = processor.PerformDDA(issuerResult.RecoveredKey, issuerAlg, iccCert, data.MustGet(TagICCExponent), data.MustGet(TagICCPubKeyRemainder), read.StaticDataToAuthenticate, sdad, data.MustGet(TagUnpredictableNumber))
		}
		if !result.Success {
			data.TVR().Set(0, tlv.TVRDDAFailed)
		}
	}

	return state
}

func sdaOrDDAFailureBit(mode oda.Mode) byte {
	if mode == oda.ModeSDA {
		return tlv.TVRSDAFailed
	}
	return tlv.TVRDDAFailed
}

// verifyCDA checks the SDAD returned alongside GENERATE AC against the ICC
// key recovered during performODA, per EMV step 9. Called only
// when the ODA mode selected earlier was CDA.
func (t *Transaction) verifyCDA(data *CardData, st odaState, staticDataToAuthenticate []byte, ac GenerateACResult, transactionDataHash []byte) {
	if st.mode != oda.ModeCDA || !st.haveICCKey {
		data.TVR().Set(0, tlv.TVRCDAFailed)
		return
	}
	processor := oda.NewProcessor(t.CAStore)
	result := processor.PerformCDA(st.issuerKey, st.issuerAlg, data.MustGet(TagICCCertificate), data.MustGet(TagICCExponent), data.MustGet(TagICCPubKeyRemainder), staticDataToAuthenticate, ac.SDAD, transactionDataHash, ac.AC)
	if !result.Success {
		data.TVR().Set(0, tlv.TVRCDAFailed)
	}
}
