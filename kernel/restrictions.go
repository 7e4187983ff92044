package kernel

import (
	"time"

	"github.com/softpos-oss/l2engine/tlv"
)

// ApplyProcessingRestrictions implements EMV step 6: application
// version mismatch, expiry, and not-yet-effective checks, each setting a
// TVR bit but never aborting by itself.
func ApplyProcessingRestrictions(data *CardData, terminalAppVersion [2]byte, now time.Time) {
	if raw := data.MustGet(TagApplicationVersion); raw != nil {
		if len(raw) != 2 || raw[0] != terminalAppVersion[0] || raw[1] != terminalAppVersion[1] {
			data.TVR().Set(1, tlv.TVRAppVersionsDiffer)
		}
	}

	if raw := data.MustGet(TagApplicationExpiry); raw != nil {
		if _, _, err := tlv.DecodeExpiry(raw, now); err != nil {
			data.TVR().Set(1, tlv.TVRExpired)
		}
	}

	if raw := data.MustGet(TagApplicationEffective); raw != nil {
		year, month, err := tlv.DecodeExpiry(raw, now)
		_ = err // DecodeExpiry's "expired" semantics don't apply to effective dates
		if effectiveAfterNow(year, month, now) {
			data.TVR().Set(1, tlv.TVRNotYetEffective)
		}
	}
}

func effectiveAfterNow(year, month int, now time.Time) bool {
	return year > now.Year() || (year == now.Year() && month > int(now.Month()))
}
