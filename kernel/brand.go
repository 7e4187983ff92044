package kernel

import "github.com/softpos-oss/l2engine/tlv"

// Qualifiers is the brand-specific reader-qualifier tag set added to the
// terminal data store before GET PROCESSING OPTIONS (Visa/UnionPay/Discover
// TTQ, Mastercard TIP, AmEx ECRC).
type Qualifiers map[tlv.Tag][]byte

// Brand captures the per-kernel divergences every EMV contactless brand
// defines on top of the common kernel flow. The common flow in this
// package calls these hooks at fixed points; everything else is shared.
// Grounded on the same map-of-handlers dispatch idiom used elsewhere in
// this module for optional per-address behavior.
type Brand interface {
	// Name identifies the brand for logging.
	Name() string

	// AIDs lists the Application IDs this kernel selects, in priority
	// order.
	AIDs() [][]byte

	// CAKeyRIDs lists the RID prefixes this brand's CA public keys are
	// stored under.
	CAKeyRIDs() []string

	// BuildQualifiers returns the brand-specific reader qualifier tags
	// (TTQ, TIP, ECRC, ...) for the given transaction context.
	BuildQualifiers(ctx TransactionContext) Qualifiers

	// UseFastDDA reports whether this brand signs dynamic data during
	// GPO rather than via INTERNAL AUTHENTICATE (Visa fDDA).
	UseFastDDA() bool

	// EvaluateElectronicCash optionally overrides the GENERATE AC
	// cryptogram decision using a brand-specific pre-authorized balance
	// check (UnionPay electronic cash). ok is false when the brand has
	// no such override.
	EvaluateElectronicCash(data *CardData, amount int64) (decision CryptogramDecision, ok bool)
}

// TransactionContext is the subset of transaction state a brand's
// BuildQualifiers needs to compute its reader qualifiers.
type TransactionContext struct {
	Amount               int64
	CVMRequiredLimit     int64
	OnlineCapable        bool
	CDCVMPerformed       bool
	MagStripeFallbackAVN []byte
}

// BaseBrand implements the Brand methods common defaults are shared for,
// so concrete brands only override what actually diverges.
type BaseBrand struct{}

// UseFastDDA defaults to false; only Visa overrides it.
func (BaseBrand) UseFastDDA() bool { return false }

// EvaluateElectronicCash defaults to no override.
func (BaseBrand) EvaluateElectronicCash(*CardData, int64) (CryptogramDecision, bool) {
	return 0, false
}
