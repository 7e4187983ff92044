// Package dukpt implements ANSI X9.24 Derived Unique Key Per Transaction
// key management (EMV): future-key-register seeding, per-use key
// derivation and variant masking, and terminal destruction.
package dukpt

import (
	"github.com/pkg/errors"

	"github.com/softpos-oss/l2engine/internal/cryptoprim"
)

const (
	// maxCounter is 2^21, the upper bound on the 21-bit transaction
	// counter.
	maxCounter = 1 << 21

	// keyVariantConstant is XORed into the base key's halves when
	// deriving a future key, per ANSI X9.24.
)

var keyVariantConstant = [8]byte{0xC0, 0xC0, 0xC0, 0xC0, 0x00, 0x00, 0x00, 0x00}

// Variant selects the use-specific mask applied to a derived working key.
type Variant byte

const (
	VariantPIN  Variant = 0x00
	VariantMAC  Variant = 0x01
	VariantDATA Variant = 0x02
)

var variantMasks = map[Variant][8]byte{
	VariantPIN:  {0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	VariantMAC:  {0x00, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x00, 0x00},
	VariantDATA: {0x00, 0x00, 0x00, 0xFF, 0x00, 0x00, 0x00, 0xFF},
}

// ErrExhausted is returned once the counter has advanced through every
// valid value (or the future-key register has no more keys to derive
// from).
var ErrExhausted = errors.New("dukpt: key space exhausted, re-injection required")

// ErrDestroyed is returned by any operation attempted after Destroy.
var ErrDestroyed = errors.New("dukpt: module destroyed")

// futureKeySlot holds one optional future key, one per set bit position of
// the 21-bit counter (EMV).
type futureKeySlot struct {
	present bool
	key     [16]byte
}

// State is a single DUKPT key-management session. The zero value is not
// usable; construct with Initialize.
type State struct {
	ksn         [10]byte
	counter     uint32 // 21-bit, stored in the low bits
	futureKeys  [21]futureKeySlot
	initialized bool
	destroyed   bool
}

// Initialize seeds the future-key register from ipek and initialKSN per
// ANSI X9.24: for each set bit of the initial counter, the corresponding
// future key is derived from ipek and stored.
func (s *State) Initialize(ipek []byte, initialKSN [10]byte) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if len(ipek) != 16 && len(ipek) != 32 {
		return errors.New("dukpt: IPEK must be 16 or 32 bytes")
	}

	s.ksn = initialKSN
	s.counter = counterOf(initialKSN)

	// The "base" register seeded directly from the IPEK corresponds to
	// slot 20 (bit 2^20, the most significant counter bit); every other
	// future key is derived from it by the same right-shift-register
	// process NextKey walks through for ordinary derivation.
	var base [16]byte
	copy(base[:], ipek[:16])
	s.futureKeys[20] = futureKeySlot{present: true, key: base}

	for bit := 20; bit >= 0; bit-- {
		if s.counter&(1<<uint(bit)) == 0 {
			continue
		}
		if bit == 20 {
			// Slot 20 is already seeded directly from the IPEK above;
			// deriveFromHigherSlot has no higher slot to derive it from.
			continue
		}
		key, err := s.deriveFromHigherSlot(bit)
		if err != nil {
			return err
		}
		s.futureKeys[bit] = futureKeySlot{present: true, key: key}
	}
	s.initialized = true
	return nil
}

// deriveFromHigherSlot finds the nearest populated future-key slot above
// targetBit and derives targetBit's key from it via the same shift-register
// process used for ordinary key advancement.
func (s *State) deriveFromHigherSlot(targetBit int) ([16]byte, error) {
	for b := 20; b > targetBit; b-- {
		if s.futureKeys[b].present {
			crypto := cryptoRegister(s.ksn, uint32(1)<<uint(targetBit))
			return deriveFutureKey(s.futureKeys[b].key, crypto)
		}
	}
	return [16]byte{}, errors.New("dukpt: no populated future-key slot above target bit")
}

// cryptoRegister computes the 10-byte crypto register: the KSN with its
// counter bits masked to shiftMask, per EMV step 1.
func cryptoRegister(ksn [10]byte, shiftMask uint32) [10]byte {
	out := ksn
	out[7] = byte(shiftMask >> 16)
	out[8] = byte(shiftMask >> 8)
	out[9] = byte(shiftMask)
	// Preserve the non-counter bits of byte 7 (the KSN's counter occupies
	// only its low 21 bits, spanning the low 5 bits of byte 7).
	out[7] = (ksn[7] & 0xE0) | (out[7] & 0x1F)
	return out
}

// deriveFutureKey implements EMV's derive_future: right half is
// DES_ENC(K_L, base_R xor crypto_R); left half is the same computation
// with base xor the key-variant constant applied to both halves first.
func deriveFutureKey(base [16]byte, crypto [10]byte) ([16]byte, error) {
	baseL, baseR := base[:8], base[8:]
	cryptoR := crypto[2:10]

	rightInput := cryptoprim.XORBytes(baseR, cryptoR)
	right, err := desEncryptBlock(baseL, rightInput)
	if err != nil {
		return [16]byte{}, err
	}

	var variedL, variedR [8]byte
	copy(variedL[:], baseL)
	copy(variedR[:], baseR)
	for i := 0; i < 8; i++ {
		variedL[i] ^= keyVariantConstant[i]
		variedR[i] ^= keyVariantConstant[i]
	}
	leftInput := cryptoprim.XORBytes(variedR[:], cryptoR)
	left, err := desEncryptBlock(variedL[:], leftInput)
	if err != nil {
		return [16]byte{}, err
	}

	var out [16]byte
	copy(out[:8], left)
	copy(out[8:], right)
	return out, nil
}

func counterOf(ksn [10]byte) uint32 {
	return (uint32(ksn[7]&0x1F) << 16) | uint32(ksn[8])<<8 | uint32(ksn[9])
}

func setCounter(ksn *[10]byte, counter uint32) {
	ksn[7] = (ksn[7] & 0xE0) | byte(counter>>16)&0x1F
	ksn[8] = byte(counter >> 8)
	ksn[9] = byte(counter)
}

// popcount21 counts the one-bits of the low 21 bits of v.
func popcount21(v uint32) int {
	v &= maxCounter - 1
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}

// nextValidCounter advances from current to the next counter value with at
// most 10 one-bits, per the ANSI X9.24 validity rule. Returns ok=false once
// no such value remains below maxCounter.
func nextValidCounter(current uint32) (uint32, bool) {
	for c := current + 1; c < maxCounter; c++ {
		if popcount21(c) <= 10 {
			return c, true
		}
	}
	return 0, false
}

// NextKey advances the counter to the next valid value, derives the
// current transaction key for variant, updates the future-key register,
// and returns the working key alongside a KSN snapshot and the number of
// future keys remaining. The intermediate current key is zeroed before
// return; callers must zero the returned working key themselves once done
// with it.
func (s *State) NextKey(variant Variant) (workingKey []byte, ksn [10]byte, remaining int, err error) {
	if s.destroyed {
		return nil, [10]byte{}, 0, ErrDestroyed
	}
	if !s.initialized {
		return nil, [10]byte{}, 0, errors.New("dukpt: not initialized")
	}

	next, ok := nextValidCounter(s.counter)
	if !ok {
		return nil, [10]byte{}, 0, ErrExhausted
	}

	current, err := s.deriveCurrentKey(next)
	if err != nil {
		return nil, [10]byte{}, 0, err
	}
	defer cryptoprim.SecureZero(current[:])

	mask := variantMasks[variant]
	working := make([]byte, 16)
	for i := 0; i < 16; i++ {
		working[i] = current[i] ^ mask[i%8]
	}

	s.counter = next
	setCounter(&s.ksn, s.counter)
	s.updateFutureKeyRegister(next, current)

	remaining = s.remainingKeys()
	if remaining == 0 {
		// This call still succeeds; exhaustion is surfaced on the call
		// after, per EMV's contract.
	}
	return working, s.ksn, remaining, nil
}

// deriveCurrentKey derives the key for targetCounter by starting from the
// highest-bit future key and iteratively re-deriving through each set
// lower bit, per EMV. When the highest bit's slot is empty, its key is
// first derived from the nearest populated slot above it.
func (s *State) deriveCurrentKey(targetCounter uint32) ([16]byte, error) {
	highestBit := -1
	for b := 20; b >= 0; b-- {
		if targetCounter&(1<<uint(b)) != 0 {
			highestBit = b
			break
		}
	}
	if highestBit < 0 {
		return [16]byte{}, errors.New("dukpt: target counter has no set bits")
	}
	var current [16]byte
	if s.futureKeys[highestBit].present {
		current = s.futureKeys[highestBit].key
	} else {
		derived, err := s.deriveFromHigherSlot(highestBit)
		if err != nil {
			return [16]byte{}, ErrExhausted
		}
		current = derived
	}
	ksnAtTarget := s.ksn
	setCounter(&ksnAtTarget, targetCounter)

	for b := highestBit - 1; b >= 0; b-- {
		if targetCounter&(1<<uint(b)) == 0 {
			continue
		}
		crypto := cryptoRegister(ksnAtTarget, uint32(1)<<uint(b))
		derived, err := deriveFutureKey(current, crypto)
		if err != nil {
			return [16]byte{}, err
		}
		current = derived
	}
	return current, nil
}

// updateFutureKeyRegister clears the slot for the bit just consumed and
// every slot below it, then derives and stores the slot for the highest
// unset lower bit from the new current key, per EMV: "the newly
// set bit is derived from the current key; all lower slots are zeroed and
// cleared."
func (s *State) updateFutureKeyRegister(consumedCounter uint32, currentKey [16]byte) {
	highestBit := -1
	for b := 20; b >= 0; b-- {
		if consumedCounter&(1<<uint(b)) != 0 {
			highestBit = b
			break
		}
	}
	if highestBit < 0 {
		return
	}

	s.futureKeys[highestBit] = futureKeySlot{}
	for b := highestBit - 1; b >= 0; b-- {
		cryptoprim.SecureZero(s.futureKeys[b].key[:])
		s.futureKeys[b] = futureKeySlot{}
	}
	if highestBit > 0 {
		crypto := cryptoRegister(s.ksn, uint32(1)<<uint(highestBit-1))
		derived, err := deriveFutureKey(currentKey, crypto)
		if err == nil {
			s.futureKeys[highestBit-1] = futureKeySlot{present: true, key: derived}
		}
	}
}

func (s *State) remainingKeys() int {
	n := 0
	for _, slot := range s.futureKeys {
		if slot.present {
			n++
		}
	}
	return n
}

// Destroy overwrites all key material with zeros and makes the module
// terminally unusable; re-initialization requires external IPEK
// re-injection via a fresh State.
func (s *State) Destroy() {
	for i := range s.futureKeys {
		cryptoprim.SecureZero(s.futureKeys[i].key[:])
		s.futureKeys[i] = futureKeySlot{}
	}
	cryptoprim.SecureZero(s.ksn[:])
	s.counter = 0
	s.destroyed = true
	s.initialized = false
}

// DeriveIPEKFromBDK implements the reference (normally HSM-side) IPEK
// derivation of EMV: left = 3DES_ENC(BDK, masked_KSN_right8);
// right = 3DES_ENC(BDK xor padded key-variant constant, masked_KSN_right8).
func DeriveIPEKFromBDK(bdk []byte, ksn [10]byte) ([]byte, error) {
	maskedRight8 := ksn
	maskedRight8[7] &= 0xE0
	maskedRight8[8] = 0
	maskedRight8[9] = 0
	right8 := maskedRight8[2:10]

	left, err := cryptoprim.TripleDESECBEncrypt(bdk, right8)
	if err != nil {
		return nil, err
	}

	variedBDK, err := expandedXORVariant(bdk)
	if err != nil {
		return nil, err
	}
	right, err := cryptoprim.TripleDESECBEncrypt(variedBDK, right8)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func expandedXORVariant(bdk []byte) ([]byte, error) {
	if len(bdk) != 16 {
		return nil, errors.New("dukpt: BDK must be 16 bytes")
	}
	out := make([]byte, 16)
	copy(out, bdk)
	for i := 0; i < 8; i++ {
		out[i] ^= keyVariantConstant[i]
	}
	return out, nil
}

// desEncryptBlock performs single-DES encryption of one 8-byte block under
// an 8-byte key, which the shift-register derivation of ANSI X9.24 calls
// for. It is expressed as 3DES with all three sub-keys equal, since that is
// the primitive cryptoprim exposes and the two are equivalent.
func desEncryptBlock(key8, block8 []byte) ([]byte, error) {
	tripleKey := make([]byte, 24)
	copy(tripleKey[0:8], key8)
	copy(tripleKey[8:16], key8)
	copy(tripleKey[16:24], key8)
	return cryptoprim.TripleDESECBEncrypt(tripleKey, block8)
}
