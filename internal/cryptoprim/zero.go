package cryptoprim

// SecureZero overwrites every byte of buf with zero. It is safe, and a
// no-op beyond the first call, to invoke repeatedly on the same buffer
// (EMV: "secure_zero(buf); secure_zero(buf) equivalent to a single
// call"). Every sensitive byte buffer this module produces — session keys,
// IPEK, DUKPT future-key slots and working keys, PIN blocks — must be
// passed here on release, per EMV's key-material policy.
func SecureZero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
