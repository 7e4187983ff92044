// Package kernel implements the brand-common EMV contactless transaction
// flow of EMV: terminal data construction, application
// selection, record reading, ODA driving, processing restrictions, CVM,
// terminal risk management, terminal action analysis, and cryptogram
// generation. Per-brand divergences live in the kernel/<brand>
// subpackages and are supplied to Run via the Brand interface.
package kernel

import (
	"github.com/softpos-oss/l2engine/tlv"
)

// CardData accumulates every tag seen over the course of one transaction:
// terminal-built values, GPO/READ RECORD output, and GENERATE AC results.
// It implements tlv.DataStore for DOL building and satisfies the
// first-wins invariant EMV requires of its tag stores (a tag set once is
// never overwritten).
type CardData struct {
	values tlv.MapStore
	tvr    tlv.TVR
	tsi    tlv.TSI
}

// NewCardData returns an empty CardData.
func NewCardData() *CardData {
	return &CardData{values: tlv.MapStore{}}
}

// Get implements tlv.DataStore.
func (c *CardData) Get(tag tlv.Tag) ([]byte, bool) {
	return c.values.Get(tag)
}

// Set stores tag if not already present.
func (c *CardData) Set(tag tlv.Tag, value []byte) {
	c.values.Set(tag, value)
}

// MustGet returns the stored value for tag or nil.
func (c *CardData) MustGet(tag tlv.Tag) []byte {
	v, _ := c.values.Get(tag)
	return v
}

// TVR returns a pointer to the accumulated Terminal Verification Results
// bitmap so callers can Set bits directly.
func (c *CardData) TVR() *tlv.TVR { return &c.tvr }

// TSI returns a pointer to the accumulated Transaction Status Information
// bitmap.
func (c *CardData) TSI() *tlv.TSI { return &c.tsi }

// AbsorbNodes stores every primitive tag's value from a parsed TLV tree
// (constructed tags are walked but not stored themselves), first-wins.
func (c *CardData) AbsorbNodes(nodes []tlv.Node) {
	for _, n := range nodes {
		if n.Primitive {
			c.Set(n.Tag, n.Value)
		}
		if len(n.Children) > 0 {
			c.AbsorbNodes(n.Children)
		}
	}
}

// Common EMV tags referenced throughout the kernel flow.
const (
	TagAmountAuthorized       tlv.Tag = 0x9F02
	TagAmountOther            tlv.Tag = 0x9F03
	TagTerminalCountryCode    tlv.Tag = 0x9F1A
	TagTVR                    tlv.Tag = 0x95
	TagTransactionCurrency    tlv.Tag = 0x5F2A
	TagTransactionDate        tlv.Tag = 0x9A
	TagTransactionType        tlv.Tag = 0x9C
	TagUnpredictableNumber    tlv.Tag = 0x9F37
	TagTerminalType           tlv.Tag = 0x9F35
	TagTerminalCapabilities   tlv.Tag = 0x9F33
	TagAdditionalTermCaps     tlv.Tag = 0x9F40
	TagAID                    tlv.Tag = 0x4F
	TagPDOL                   tlv.Tag = 0x9F38
	TagAIP                    tlv.Tag = 0x82
	TagAFL                    tlv.Tag = 0x94
	TagApplicationVersion     tlv.Tag = 0x9F09
	TagApplicationExpiry      tlv.Tag = 0x5F24
	TagApplicationEffective   tlv.Tag = 0x5F25
	TagPAN                    tlv.Tag = 0x5A
	TagPANSequenceNumber      tlv.Tag = 0x5F34
	TagCDOL1                  tlv.Tag = 0x8C
	TagCDOL2                  tlv.Tag = 0x8D
	TagCID                    tlv.Tag = 0x9F27
	TagATC                    tlv.Tag = 0x9F36
	TagAC                     tlv.Tag = 0x9F26
	TagIAD                    tlv.Tag = 0x9F10
	TagSDAD                   tlv.Tag = 0x9F4B
	TagCVMResults             tlv.Tag = 0x9F34
	TagCTQ                    tlv.Tag = 0x9F6C
	TagTTQ                    tlv.Tag = 0x9F66
	TagTrack2                 tlv.Tag = 0x57
	TagIssuerActionCodeDenial tlv.Tag = 0x9F0E
	TagIssuerActionCodeOnline tlv.Tag = 0x9F0F
	TagIssuerActionCodeDflt   tlv.Tag = 0x9F0D
	TagARC                    tlv.Tag = 0x8A
	TagARPC                   tlv.Tag = 0x91
	TagIssuerScript71         tlv.Tag = 0x71
	TagIssuerScript72         tlv.Tag = 0x72

	TagCAPublicKeyIndex    tlv.Tag = 0x8F
	TagIssuerCertificate   tlv.Tag = 0x90
	TagIssuerExponent      tlv.Tag = 0x9F32
	TagIssuerPubKeyRemain  tlv.Tag = 0x92
	TagSSAD                tlv.Tag = 0x93
	TagICCCertificate      tlv.Tag = 0x9F46
	TagICCExponent         tlv.Tag = 0x9F47
	TagICCPubKeyRemainder  tlv.Tag = 0x9F48
	TagDDOL                tlv.Tag = 0x9F49
)
