package kernel

import (
	"crypto/rand"

	"github.com/softpos-oss/l2engine/tlv"
)

// TRMConfig holds the tunables terminal risk management consults, per
// EMV step 8.
type TRMConfig struct {
	FloorLimit                  int64
	ContactlessTransactionLimit int64
	RandomSelectionPercent      int
	ForceOnline                 bool
}

// ApplyTerminalRiskManagement implements EMV step 8: floor
// limit, contactless transaction limit, and random selection each set a
// TVR bit; SoftPOS policy can force online regardless.
func ApplyTerminalRiskManagement(data *CardData, amount int64, cfg TRMConfig) error {
	if cfg.FloorLimit > 0 && amount > cfg.FloorLimit {
		data.TVR().Set(3, tlv.TVRFloorLimitExceeded)
	}
	if cfg.ContactlessTransactionLimit > 0 && amount > cfg.ContactlessTransactionLimit {
		data.TVR().Set(3, tlv.TVRUpperConsecutiveOfflineExceeded)
	}
	if cfg.RandomSelectionPercent > 0 {
		selected, err := randomSelectionHit(cfg.RandomSelectionPercent)
		if err != nil {
			return err
		}
		if selected {
			data.TVR().Set(3, tlv.TVRTxnSelectedRandomOnline)
		}
	}
	if cfg.ForceOnline {
		data.TVR().Set(3, tlv.TVRMerchantForcedOnline)
	}
	data.TSI().Set(0, tlv.TSITerminalRiskMgmtPerformed)
	return nil
}

// randomSelectionHit draws a uniform byte and compares it against
// percent, matching the common EMV terminal-risk-management
// implementation of random transaction selection.
func randomSelectionHit(percent int) (bool, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false, err
	}
	threshold := int(b[0]) * 100 / 255
	return threshold < percent, nil
}
