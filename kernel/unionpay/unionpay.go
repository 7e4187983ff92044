// Package unionpay implements the UnionPay QuickPass kernel divergences
// of EMV: a TTQ (tag 9F66) and the Electronic Cash balance check
// (9F79 single-transaction limit, 9F77 single-limit flag, 9F78 total
// cumulative limit) that can authorize an offline TC even when terminal
// action analysis would otherwise have requested an ARQC.
package unionpay

import (
	"github.com/softpos-oss/l2engine/kernel"
	"github.com/softpos-oss/l2engine/tlv"
)

// Electronic Cash tags, per EMV'sUnionPay divergence note.
const (
	TagECBalanceLimit      tlv.Tag = 0x9F79 // single-transaction electronic cash limit
	TagECSingleLimitFlag   tlv.Tag = 0x9F77 // log entry flag / single-limit indicator
	TagECCumulativeLimit   tlv.Tag = 0x9F78 // cumulative offline total limit
	TagECCumulativeCounter tlv.Tag = 0x9F80 // cumulative total, card-resident
)

// Brand implements kernel.Brand for UnionPay QuickPass.
type Brand struct {
	kernel.BaseBrand
}

func (Brand) Name() string { return "unionpay-quickpass" }

func (Brand) AIDs() [][]byte {
	return [][]byte{{0xA0, 0x00, 0x00, 0x03, 0x33, 0x01, 0x01, 0x01}}
}

func (Brand) CAKeyRIDs() []string {
	return []string{"A000000333"}
}

// BuildQualifiers sets UnionPay's TTQ: contactless supported plus the
// online-capable / CVM-required bits used across the Visa-derived TTQ
// family.
func (Brand) BuildQualifiers(ctx kernel.TransactionContext) kernel.Qualifiers {
	var ttq [4]byte
	ttq[0] = 0x84 // contactless EMV mode + EMV contact chip supported
	if ctx.Amount > ctx.CVMRequiredLimit {
		ttq[1] |= 0xC0
	}
	return kernel.Qualifiers{kernel.TagTTQ: ttq[:]}
}

// EvaluateElectronicCash implements EMV'sUnionPay divergence:
// if amount is within the card's single-transaction electronic cash
// limit (9F79) and the cumulative counter plus amount stays within the
// total limit (9F78), an offline TC is permitted regardless of what
// terminal action analysis would otherwise decide.
func (Brand) EvaluateElectronicCash(data *kernel.CardData, amount int64) (kernel.CryptogramDecision, bool) {
	singleLimit, ok := bcdAmountTag(data, TagECBalanceLimit)
	if !ok || amount > singleLimit {
		return 0, false
	}

	cumulativeLimit, ok := bcdAmountTag(data, TagECCumulativeLimit)
	if !ok {
		return 0, false
	}
	cumulativeCounter, _ := bcdAmountTag(data, TagECCumulativeCounter)

	if cumulativeCounter+amount > cumulativeLimit {
		return 0, false
	}
	return kernel.DecisionTC, true
}

func bcdAmountTag(data *kernel.CardData, tag tlv.Tag) (int64, bool) {
	raw := data.MustGet(tag)
	if raw == nil {
		return 0, false
	}
	var v int64
	for _, b := range raw {
		v = v*100 + int64(b>>4)*10 + int64(b&0x0F)
	}
	return v, true
}
