// Package mchip implements the Mastercard M/Chip kernel divergences of
// EMV: Terminal Interchange Profile (TIP) qualifiers and the
// Mag-Stripe Application Version Number fallback used when Track 2
// insertion position (PUNATC) governs the UN/ATC layout.
package mchip

import (
	"github.com/softpos-oss/l2engine/kernel"
)

// TagTIP and TagMagStripeAVN are the Mastercard-specific tags this kernel
// adds to the terminal data set.
const (
	TagTIP           = 0x9F5C // Terminal Interchange Profile, third-party data wrapper
	TagMagStripeAVN  = 0x9F6D // Mag-Stripe Application Version Number (fallback AVN)
	TagPUNATC        = 0x9F69 // Card Authentication Related Data; governs UN/ATC track 2 insertion
)

// Brand implements kernel.Brand for Mastercard M/Chip.
type Brand struct {
	kernel.BaseBrand
}

func (Brand) Name() string { return "mastercard-mchip" }

func (Brand) AIDs() [][]byte {
	return [][]byte{
		{0xA0, 0x00, 0x00, 0x00, 0x04, 0x10, 0x10}, // Mastercard credit/debit
		{0xA0, 0x00, 0x00, 0x00, 0x04, 0x30, 0x60}, // Maestro
	}
}

func (Brand) CAKeyRIDs() []string {
	return []string{"A000000004"}
}

// BuildQualifiers sets the Terminal Interchange Profile: contactless
// supported, online PIN and signature support flags mirror terminal
// capability, matching the TIP + third-party-data fields EMV's
// divergence list names for Mastercard.
func (Brand) BuildQualifiers(ctx kernel.TransactionContext) kernel.Qualifiers {
	var tip [2]byte
	tip[0] = 0x80 // contactless transaction supported
	if ctx.OnlineCapable {
		tip[0] |= 0x40
	}
	if ctx.Amount > ctx.CVMRequiredLimit {
		tip[1] |= 0x80 // CVM required
	}

	q := kernel.Qualifiers{TagTIP: tip[:]}
	if ctx.MagStripeFallbackAVN != nil {
		q[TagMagStripeAVN] = ctx.MagStripeFallbackAVN
	}
	return q
}

// Track2InsertionOffset returns the byte offset within the Track 2
// equivalent data where the terminal's unpredictable number and ATC must
// be inserted, decoded from the PUNATC field (tag 9F69) per the positions
// Mastercard's M/Chip specification defines. A zero-value punatc means no
// override: the card's own Track 2 is used unmodified.
func Track2InsertionOffset(punatc []byte) (offset int, present bool) {
	if len(punatc) < 8 {
		return 0, false
	}
	// PUNATC byte 5 (index 4) carries the 1-based digit offset for UN/ATC
	// insertion when the corresponding control bit is set.
	if punatc[3]&0x80 == 0 {
		return 0, false
	}
	return int(punatc[4]), true
}
