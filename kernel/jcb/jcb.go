// Package jcb implements the JCB kernel divergence of EMV: a TTQ
// analogous to Visa's, under JCB's own RID.
package jcb

import "github.com/softpos-oss/l2engine/kernel"

// Brand implements kernel.Brand for JCB contactless (J/Speedy).
type Brand struct {
	kernel.BaseBrand
}

func (Brand) Name() string { return "jcb-jspeedy" }

func (Brand) AIDs() [][]byte {
	return [][]byte{{0xA0, 0x00, 0x00, 0x00, 0x65, 0x10, 0x10}}
}

func (Brand) CAKeyRIDs() []string {
	return []string{"A000000065"}
}

// BuildQualifiers mirrors Visa's TTQ construction, per EMV's
// "Discover/JCB: TTQ analogous to Visa" divergence note.
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
