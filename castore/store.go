// Package castore implements the CA public key store and its companion
// revocation checker (EMV), the process-scope singleton every ODA
// certificate recovery call consults before a recovered key can be trusted.
package castore

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// CaPublicKey is a scheme root key, keyed by (RID, Index). Modulus length
// is 1024..2048 bits; Exponent is almost always 3 or 65537.
type CaPublicKey struct {
	RID      string // hex RID, e.g. "A000000003"
	Index    byte
	Modulus  []byte
	Exponent uint32
	Hash     HashAlgName
	Expiry   time.Time // end-of-day per the 6-BCD YYMMDD field
	TestFlag bool
}

// HashAlgName names the hash algorithm a CA key's certificates are signed
// with, kept as a string here (rather than importing cryptoprim.HashAlg)
// so castore has no dependency on the crypto package; oda converts between
// the two at the boundary.
type HashAlgName string

const (
	HashSHA1   HashAlgName = "SHA-1"
	HashSHA256 HashAlgName = "SHA-256"
)

type key struct {
	rid   string
	index byte
}

// Store is the thread-safe CA public key store. The zero value is not
// usable; construct with New. Readers take a read lock and see a consistent
// snapshot; AddKey takes the exclusive writer lock. Keys are seeded at
// construction and are never implicitly destroyed — AddKey only appends or
// replaces.
type Store struct {
	mu   sync.RWMutex
	keys map[key]CaPublicKey
}

// New returns a Store seeded with the given production keys.
func New(seed []CaPublicKey) *Store {
	s := &Store{keys: make(map[key]CaPublicKey, len(seed))}
	for _, k := range seed {
		s.keys[key{k.RID, k.Index}] = k
	}
	return s
}

// AddKey inserts or replaces a CA public key (admin operation, EMV).
func (s *Store) AddKey(k CaPublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key{k.RID, k.Index}] = k
}

// HasKey reports whether a key exists for (rid, index), regardless of
// expiry.
func (s *Store) HasKey(rid string, index byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key{rid, index}]
	return ok
}

// KeysForRID returns every key registered under rid, in no particular
// order.
func (s *Store) KeysForRID(rid string) []CaPublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CaPublicKey
	for k, v := range s.keys {
		if k.rid == rid {
			out = append(out, v)
		}
	}
	return out
}

// Errors returned by Lookup.
var (
	ErrKeyNotFound = errors.New("castore: CA key not found")
	ErrKeyExpired  = errors.New("castore: CA key expired")
)

// Lookup returns the CA key for (rid, index) if present and not expired as
// of now (compared with 23:59:59 end-of-day interpretation of the 6-BCD
// expiry field, per EMV).
func (s *Store) Lookup(rid string, index byte, now time.Time) (CaPublicKey, error) {
	s.mu.RLock()
	k, ok := s.keys[key{rid, index}]
	s.mu.RUnlock()
	if !ok {
		return CaPublicKey{}, ErrKeyNotFound
	}
	endOfDay := time.Date(k.Expiry.Year(), k.Expiry.Month(), k.Expiry.Day(), 23, 59, 59, 0, k.Expiry.Location())
	if now.After(endOfDay) {
		return CaPublicKey{}, ErrKeyExpired
	}
	return k, nil
}
