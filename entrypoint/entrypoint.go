// Package entrypoint implements EMV Entry Point & Application Selection:
// the PPSE directory read, candidate list construction, and kernel
// dispatch that happen before a kernel.Transaction ever runs, per
// EMV. Grounded on the Station/Transport handshake shape of
// session/session.go: a fixed negotiation phase that hands off to the
// per-connection work once it settles on a peer.
package entrypoint

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/softpos-oss/l2engine/castore"
	"github.com/softpos-oss/l2engine/config"
	"github.com/softpos-oss/l2engine/internal/obs"
	"github.com/softpos-oss/l2engine/kernel"
	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/torntxn"
	"github.com/softpos-oss/l2engine/transceiver"
)

// ppseName is the 2PAY.SYS.DDF01 directory file name, encoded as ASCII
// bytes per EMV Book 1 §11.3.2.
var ppseName = []byte("2PAY.SYS.DDF01")

// Tags used while walking the PPSE FCI template, per EMV.
const (
	tagFCITemplate     tlv.Tag = 0x6F
	tagFCIProprietary  tlv.Tag = 0xA5
	tagIssuerDiscData  tlv.Tag = 0xBF0C
	tagDirectoryEntry  tlv.Tag = 0x61
	tagADFName         tlv.Tag = 0x4F
	tagApplicationLbl  tlv.Tag = 0x50
	tagApplicationPrio tlv.Tag = 0x87
	tagKernelID        tlv.Tag = 0x9F2A
)

// ErrNoDirectory is returned when SELECT PPSE fails or returns a body
// that does not parse as a directory, per the fallback rule of EMV
// §6: the caller may retry with a hardcoded AID list instead.
var ErrNoDirectory = errors.New("entrypoint: PPSE directory not available")

// DirectoryEntry is one application entry under the PPSE's FCI issuer
// discretionary data, EMV.
type DirectoryEntry struct {
	AID         []byte
	Label       string
	Priority    byte
	HasPriority bool
	KernelID    []byte
}

// SelectPPSE builds the SELECT command for the 2PAY.SYS.DDF01 directory
// file, reusing transceiver.Select's by-name SELECT (AID and DF name
// share the same command shape).
func SelectPPSE() transceiver.CommandAPDU {
	return transceiver.Select(ppseName)
}

// ParsePPSEResponse decodes a successful SELECT PPSE response body into
// its directory entries, sorted ascending by application priority
// indicator (lower value is higher priority); entries without a priority
// indicator sort after every entry that has one, in the order the card
// presented them, per EMV Book 1 §11.3.4.
func ParsePPSEResponse(data []byte) ([]DirectoryEntry, error) {
	nodes, err := tlv.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "entrypoint: parse FCI template")
	}
	fci, ok := findChild(nodes, tagFCITemplate)
	if !ok {
		return nil, errors.New("entrypoint: missing FCI template (6F)")
	}
	fciProp, ok := findChild(fci.Children, tagFCIProprietary)
	if !ok {
		return nil, errors.New("entrypoint: missing FCI proprietary template (A5)")
	}
	dir, ok := findChild(fciProp.Children, tagIssuerDiscData)
	if !ok {
		return nil, errors.New("entrypoint: missing issuer discretionary data (BF0C)")
	}

	var entries []DirectoryEntry
	for _, child := range dir.Children {
		if child.Tag != tagDirectoryEntry {
			continue
		}
		entry := DirectoryEntry{}
		if aid, ok := tlv.FindTag(child.Value, tagADFName); ok {
			entry.AID = aid.Value
		}
		if label, ok := tlv.FindTag(child.Value, tagApplicationLbl); ok {
			entry.Label = string(label.Value)
		}
		if prio, ok := tlv.FindTag(child.Value, tagApplicationPrio); ok && len(prio.Value) > 0 {
			entry.Priority = prio.Value[0] & 0x0F
			entry.HasPriority = true
		}
		if kid, ok := tlv.FindTag(child.Value, tagKernelID); ok {
			entry.KernelID = kid.Value
		}
		if len(entry.AID) > 0 {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return nil, errors.New("entrypoint: directory contains no application entries")
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.HasPriority != b.HasPriority {
			return a.HasPriority
		}
		if a.HasPriority && a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return false
	})
	return entries, nil
}

func findChild(nodes []tlv.Node, tag tlv.Tag) (tlv.Node, bool) {
	for _, n := range nodes {
		if n.Tag == tag {
			return n, true
		}
	}
	return tlv.Node{}, false
}

// Registry resolves a directory entry's AID to the kernel.Brand that
// handles it, a dispatch-by-identifier lookup over registered brand
// kernels.
type Registry struct {
	brands []kernel.Brand
}

// NewRegistry builds a Registry over the given brand kernels, tried in
// the order given when more than one could plausibly match (it never
// happens in practice since AIDs are globally unique per scheme).
func NewRegistry(brands ...kernel.Brand) *Registry {
	return &Registry{brands: append([]kernel.Brand{}, brands...)}
}

// Match returns the brand that claims aid via its Brand.AIDs() list.
func (r *Registry) Match(aid []byte) (kernel.Brand, bool) {
	for _, b := range r.brands {
		for _, candidate := range b.AIDs() {
			if bytesEqual(candidate, aid) {
				return b, true
			}
		}
	}
	return nil, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Candidate is a directory entry paired with the brand kernel that will
// run it.
type Candidate struct {
	Entry DirectoryEntry
	Brand kernel.Brand
}

// BuildCandidateList issues SELECT PPSE against card and resolves each
// returned directory entry against reg, dropping entries with no
// matching registered kernel. The result preserves the priority order
// ParsePPSEResponse established.
func BuildCandidateList(ctx context.Context, card transceiver.Card, reg *Registry) ([]Candidate, error) {
	resp, err := card.Transceive(ctx, SelectPPSE())
	if err != nil {
		return nil, errors.Wrap(err, "entrypoint: select PPSE")
	}
	if !resp.SW.IsSuccess() {
		return nil, errors.Wrapf(ErrNoDirectory, "select PPSE status %s", resp.SW)
	}
	entries, err := ParsePPSEResponse(resp.Data)
	if err != nil {
		return nil, errors.WithStack(ErrNoDirectory)
	}

	var candidates []Candidate
	for _, e := range entries {
		brand, ok := reg.Match(e.AID)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{Entry: e, Brand: brand})
	}
	if len(candidates) == 0 {
		return nil, errors.New("entrypoint: no mutually supported application")
	}
	return candidates, nil
}

// pinnedBrand wraps a registered brand so the kernel only ever attempts
// the single AID Entry Point already selected from the PPSE directory,
// instead of the brand's full priority-ordered AID list.
type pinnedBrand struct {
	kernel.Brand
	aid []byte
}

func (p pinnedBrand) AIDs() [][]byte { return [][]byte{p.aid} }

// Dependencies bundles the shared collaborators a dispatched
// kernel.Transaction needs, so callers building many transactions (one
// per approach) don't repeat the wiring.
type Dependencies struct {
	CAStore     *castore.Store
	TornTable   *torntxn.Table
	Config      *config.Kernel
	Authorizer  kernel.OnlineAuthorizer
	SessionKeys kernel.SessionKeys
	Log         *logrus.Entry
	Metrics     *obs.Metrics
}

// Dispatch picks the best (highest-priority, mutually supported)
// candidate from the PPSE directory and returns a kernel.Transaction
// ready to Run against it: Entry Point's candidate list and kernel
// dispatch responsibility.
func Dispatch(ctx context.Context, card transceiver.Card, reg *Registry, deps Dependencies) (*kernel.Transaction, DirectoryEntry, error) {
	candidates, err := BuildCandidateList(ctx, card, reg)
	if err != nil {
		return nil, DirectoryEntry{}, err
	}
	chosen := candidates[0]

	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"aid": hexString(chosen.Entry.AID), "brand": chosen.Brand.Name()})

	txn := &kernel.Transaction{
		Card:        card,
		Brand:       pinnedBrand{Brand: chosen.Brand, aid: chosen.Entry.AID},
		CAStore:     deps.CAStore,
		TornTable:   deps.TornTable,
		Config:      deps.Config,
		Authorizer:  deps.Authorizer,
		SessionKeys: deps.SessionKeys,
		Log:         log,
		Metrics:     deps.Metrics,
	}
	return txn, chosen.Entry, nil
}

func hexString(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0F]
	}
	return string(out)
}
