// Package cryptoprim implements the cryptographic primitives EMV offline
// data authentication, session-key derivation and cryptogram generation
// build on: RSA signature recovery, ISO/IEC 9797-1 Algorithm 3 retail MAC,
// 2-key 3DES, and EMV Book 2 session-key derivation.
//
// There is no third-party DES or EMV-style RSA-recovery package
// available, so this package builds directly on crypto/des and
// crypto/cipher the way an HSM cryptogram utility would.
package cryptoprim

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"math/big"

	"github.com/pkg/errors"
)

// HashAlg identifies the hash algorithm an EMV signature was produced with,
// per the algorithm indicator byte carried alongside RSA keys in CA/Issuer
// certificates.
type HashAlg byte

const (
	HashSHA1   HashAlg = 0x01
	HashSHA256 HashAlg = 0x02
)

// Len returns the digest length in bytes for the algorithm.
func (h HashAlg) Len() int {
	if h == HashSHA256 {
		return 32
	}
	return 20
}

// Sum computes the digest of data using the algorithm.
func (h HashAlg) Sum(data []byte) []byte {
	if h == HashSHA256 {
		sum := sha256.Sum256(data)
		return sum[:]
	}
	sum := sha1.Sum(data)
	return sum[:]
}

// RSARecover computes sig^e mod n and left-pads the result to len(n) bytes,
// the "signature recovery" operation every certificate and signed-data
// block in EMV offline authentication is built on. Because the value
// recovered is always a signature produced by the card/issuer/scheme (never
// an attacker-chosen ciphertext fed back for decryption), this operation
// carries no chosen-ciphertext exposure.
func RSARecover(sig, modulus []byte, exponent uint32) ([]byte, error) {
	if len(sig) == 0 || len(modulus) == 0 {
		return nil, errors.New("cryptoprim: empty RSA input")
	}
	n := new(big.Int).SetBytes(modulus)
	s := new(big.Int).SetBytes(sig)
	if s.Cmp(n) >= 0 {
		return nil, errors.New("cryptoprim: signature not reduced mod n")
	}
	e := big.NewInt(int64(exponent))
	recovered := new(big.Int).Exp(s, e, n)

	out := make([]byte, len(modulus))
	recoveredBytes := recovered.Bytes()
	if len(recoveredBytes) > len(out) {
		return nil, errors.New("cryptoprim: recovered value exceeds modulus size")
	}
	copy(out[len(out)-len(recoveredBytes):], recoveredBytes)
	return out, nil
}

// SignatureClass distinguishes the three EMV signature format families by
// their header/trailer bytes and valid format-byte sets (EMV).
type SignatureClass int

const (
	ClassCertificate SignatureClass = iota
	ClassSDA
	ClassDynamic
)

var formatBytesByClass = map[SignatureClass]map[byte]bool{
	ClassCertificate: {0x02: true, 0x04: true, 0x12: true, 0x14: true},
	ClassSDA:         {0x03: true, 0x93: true},
	ClassDynamic:     {0x05: true, 0x95: true},
}

// ErrSignatureFormat is returned by VerifyEMVSignature for any structural
// mismatch (wrong header/trailer, unexpected format byte, short buffer).
var ErrSignatureFormat = errors.New("cryptoprim: recovered block has invalid EMV signature format")

// ErrHashMismatch is returned by VerifyEMVSignature when the recovered hash
// does not match the hash of the signed data.
var ErrHashMismatch = errors.New("cryptoprim: recovered hash does not match signed data")

// VerifyEMVSignature validates that recovered (the output of RSARecover)
// has the form 0x6A || format_byte || ... || hash(hashLen) || 0xBC, that
// format_byte belongs to class, and that the trailing hash equals
// alg.Sum(signedData), using a constant-time comparison. On success it
// returns the format byte and the recoverable data segment (everything
// between the format byte and the hash, exclusive), which callers use to
// reconstruct certificate/ICC-data fields.
func VerifyEMVSignature(recovered []byte, class SignatureClass, alg HashAlg, signedData []byte) (formatByte byte, recoverable []byte, err error) {
	hashLen := alg.Len()
	if len(recovered) < 2+hashLen+1 {
		return 0, nil, ErrSignatureFormat
	}
	if recovered[0] != 0x6A {
		return 0, nil, ErrSignatureFormat
	}
	if recovered[len(recovered)-1] != 0xBC {
		return 0, nil, ErrSignatureFormat
	}
	fb := recovered[1]
	if !formatBytesByClass[class][fb] {
		return 0, nil, ErrSignatureFormat
	}

	hashStart := len(recovered) - 1 - hashLen
	recoveredHash := recovered[hashStart : len(recovered)-1]
	expected := alg.Sum(signedData)
	if subtle.ConstantTimeCompare(recoveredHash, expected) != 1 {
		return fb, recovered[2:hashStart], ErrHashMismatch
	}
	return fb, recovered[2:hashStart], nil
}
