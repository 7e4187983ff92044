// Package torntxn tracks transactions where a cryptogram was requested
// from a card but never returned, so a subsequent tap from the same card
// can be recognized as a recovery attempt rather than a fresh sale
// (EMV, torn transaction record).
package torntxn

import (
	"crypto/sha256"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// retention is how long a torn record stays eligible for lookup before it
// is swept, per EMV.
const retention = 24 * time.Hour

// defaultCapacity bounds the table to this many distinct PAN hashes when
// New is called with capacity <= 0. A reader processing one tap a second
// would need over an hour of sustained taps from distinct cards to fill
// it, while a single repeatedly-tapped card never grows past one slot.
const defaultCapacity = 4096

// Record is one torn-transaction entry, keyed externally by the full
// SHA-256 of the PAN; plaintext PAN is never stored.
type Record struct {
	PANHash   [32]byte
	ATC       uint16
	Timestamp time.Time
}

// HashPAN computes the lookup key for a PAN. Callers pass the digest, not
// the PAN itself, to every Table method so the table never sees plaintext.
func HashPAN(pan string) [32]byte {
	return sha256.Sum256([]byte(pan))
}

// Table is a bounded, concurrency-safe torn-transaction table: a
// capacity-bounded LRU cache keyed by PAN hash, each entry additionally
// time-bounded by retention. Capacity bounds the number of distinct cards
// tracked; retention bounds how long any one of them is tracked.
type Table struct {
	mu    sync.Mutex
	cache *lru.Cache[[32]byte, []Record]
}

// New constructs a Table holding at most capacity distinct PAN hashes at
// once, evicting the least-recently-used card's records when full.
// capacity <= 0 uses defaultCapacity.
func New(capacity int) (*Table, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	cache, err := lru.New[[32]byte, []Record](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "torntxn: table init")
	}
	return &Table{cache: cache}, nil
}

// Record stores a torn-transaction entry for panHash, recorded at now.
func (t *Table) Record(panHash [32]byte, atc uint16, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, _ := t.cache.Get(panHash)
	t.cache.Add(panHash, append(existing, Record{PANHash: panHash, ATC: atc, Timestamp: now}))
}

// Lookup returns every non-expired record for panHash as of now, sweeping
// expired entries for that key along the way.
func (t *Table) Lookup(panHash [32]byte, now time.Time) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.cache.Get(panHash)
	if !ok || len(existing) == 0 {
		return nil
	}
	fresh := existing[:0:0]
	for _, r := range existing {
		if now.Sub(r.Timestamp) < retention {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		t.cache.Remove(panHash)
		return nil
	}
	t.cache.Add(panHash, fresh)
	return append([]Record{}, fresh...)
}

// IsRecoveryAttempt reports whether atc matches any retained torn record
// for panHash, meaning this tap is likely resubmitting a transaction whose
// cryptogram was never observed.
func (t *Table) IsRecoveryAttempt(panHash [32]byte, atc uint16, now time.Time) bool {
	for _, r := range t.Lookup(panHash, now) {
		if r.ATC == atc {
			return true
		}
	}
	return false
}

// Sweep removes every record older than the retention window across the
// whole table. Intended to run periodically from a background goroutine;
// Lookup already sweeps lazily per key, so Sweep only matters for keys
// that are never looked up again.
func (t *Table) Sweep(now time.Time) (removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range t.cache.Keys() {
		records, ok := t.cache.Peek(key)
		if !ok {
			continue
		}
		fresh := records[:0:0]
		for _, r := range records {
			if now.Sub(r.Timestamp) < retention {
				fresh = append(fresh, r)
			} else {
				removed++
			}
		}
		if len(fresh) == 0 {
			t.cache.Remove(key)
		} else {
			t.cache.Add(key, fresh)
		}
	}
	return removed
}

// Len returns the number of distinct PAN hashes currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}
