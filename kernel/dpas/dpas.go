// Package dpas implements the Discover D-PAS kernel divergence of
// EMV: a TTQ analogous to Visa's, under Discover's own RID.
package dpas

import "github.com/softpos-oss/l2engine/kernel"

// Brand implements kernel.Brand for Discover D-PAS.
type Brand struct {
	kernel.BaseBrand
}

func (Brand) Name() string { return "discover-dpas" }

func (Brand) AIDs() [][]byte {
	return [][]byte{{0xA0, 0x00, 0x00, 0x01, 0x52, 0x30, 0x10}}
}

func (Brand) CAKeyRIDs() []string {
	return []string{"A000000152", "A000000324"}
}

// BuildQualifiers mirrors Visa's TTQ construction (online-capable clears
// offline-only; above-limit sets online-crypt-required and CVM-required),
// the "TTQ analogous to Visa" divergence EMV calls out for
// Discover/JCB.
func (Brand) BuildQualifiers(ctx kernel.TransactionContext) kernel.Qualifiers {
	var ttq [4]byte
	ttq[0] = 0x80
	if !ctx.OnlineCapable {
		ttq[0] |= 0x08
	}
	if ctx.Amount > ctx.CVMRequiredLimit {
		ttq[1] |= 0xC0
	}
	if ctx.CDCVMPerformed {
		ttq[2] |= 0x80
	}
	return kernel.Qualifiers{kernel.TagTTQ: ttq[:]}
}
