// Package visa implements the Visa qVSDC kernel divergences of EMV
// §4.7: TTQ construction and fast DDA (signed dynamic data produced
// during GPO instead of a separate INTERNAL AUTHENTICATE round trip).
package visa

import (
	"github.com/softpos-oss/l2engine/kernel"
)

// Brand implements kernel.Brand for Visa qVSDC.
type Brand struct {
	kernel.BaseBrand
}

func (Brand) Name() string { return "visa-qvsdc" }

func (Brand) AIDs() [][]byte {
	return [][]byte{
		{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10}, // Visa debit/credit
		{0xA0, 0x00, 0x00, 0x00, 0x03, 0x20, 0x10}, // Visa electron
	}
}

func (Brand) CAKeyRIDs() []string {
	return []string{"A000000003"}
}

func (Brand) UseFastDDA() bool { return true }

// BuildQualifiers implements the TTQ (tag 9F66) construction rules of
// EMV's brand divergence list: online-capable clears the
// offline-only bit (byte 1, 0x08); amount exceeding the CVM-required
// limit sets online-crypt-required (byte 2, 0x80) and CVM-required (byte
// 2, 0x40); a CDCVM confirmation sets byte 3 bit 7 (0x80).
func (Brand) BuildQualifiers(ctx kernel.TransactionContext) kernel.Qualifiers {
	var ttq [4]byte

	// Byte 1: contactless EMV supported, MSD not requested, offline-only
	// reading terminal cleared when online-capable.
	ttq[0] = 0x80 // contactless EMV mode supported
	if !ctx.OnlineCapable {
		ttq[0] |= 0x08 // offline-only reader
	}

	// Byte 2: online cryptogram / CVM required above the threshold.
	if ctx.Amount > ctx.CVMRequiredLimit {
		ttq[1] |= 0x80 // online cryptogram required
		ttq[1] |= 0x40 // CVM required
	}

	// Byte 3: CDCVM performed by the consumer device.
	if ctx.CDCVMPerformed {
		ttq[2] |= 0x80
	}

	return kernel.Qualifiers{
		kernel.TagTTQ: ttq[:],
	}
}
