// Package expresspay implements the AmEx ExpressPay kernel divergences of
// EMV: mandatory Enhanced Contactless Reader Capabilities (tag
// 9F6E) and the MSD fallback path that reads Track 2 straight from the
// GPO response rather than a dedicated record.
package expresspay

import "github.com/softpos-oss/l2engine/kernel"

// TagECRC is the Enhanced Contactless Reader Capabilities tag AmEx
// requires on every ExpressPay transaction.
const TagECRC = 0x9F6E

// Brand implements kernel.Brand for AmEx ExpressPay.
type Brand struct {
	kernel.BaseBrand
}

func (Brand) Name() string { return "amex-expresspay" }

func (Brand) AIDs() [][]byte {
	return [][]byte{{0xA0, 0x00, 0x00, 0x00, 0x25, 0x01, 0x07, 0x01}}
}

func (Brand) CAKeyRIDs() []string {
	return []string{"A000000025"}
}

// BuildQualifiers emits the mandatory ECRC: byte 1 signals contactless
// EMV and MSD support; byte 2 mirrors online capability, matching the
// reader-capability-declaration pattern the other brands use for their
// own qualifier tags.
func (Brand) BuildQualifiers(ctx kernel.TransactionContext) kernel.Qualifiers {
	var ecrc [5]byte
	ecrc[0] = 0xE0 // contactless EMV + contactless mag-stripe + contact supported
	if ctx.OnlineCapable {
		ecrc[1] |= 0x80
	}
	if ctx.Amount > ctx.CVMRequiredLimit {
		ecrc[1] |= 0x40
	}
	return kernel.Qualifiers{TagECRC: ecrc[:]}
}

// UsesMSDTrack2FromGPO reports that ExpressPay's MSD fallback path reads
// Track 2 equivalent data straight out of the GPO response rather than
// issuing a READ RECORD, per EMV's divergence list.
func (Brand) UsesMSDTrack2FromGPO() bool { return true }
