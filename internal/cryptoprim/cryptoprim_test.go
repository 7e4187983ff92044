package cryptoprim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// rawSign computes msg^d mod n without any PKCS#1 padding, the textbook RSA
// signature operation EMV certificate chains rely on.
func rawSign(priv *rsa.PrivateKey, msg []byte) []byte {
	m := new(big.Int).SetBytes(msg)
	d := priv.D
	n := priv.N
	sig := new(big.Int).Exp(m, d, n)
	out := make([]byte, (n.BitLen()+7)/8)
	sigBytes := sig.Bytes()
	copy(out[len(out)-len(sigBytes):], sigBytes)
	return out
}

func TestRSARecoverRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	modulus := priv.N.Bytes()
	hashLen := 20
	msg := make([]byte, len(modulus))
	msg[0] = 0x6A
	msg[1] = 0x03
	for i := 2; i < len(msg)-hashLen-1; i++ {
		msg[i] = 0xBB
	}
	signedData := []byte("static data to authenticate")
	digest := sha1.Sum(signedData)
	copy(msg[len(msg)-hashLen-1:len(msg)-1], digest[:])
	msg[len(msg)-1] = 0xBC

	sig := rawSign(priv, msg)

	recovered, err := RSARecover(sig, modulus, uint32(priv.E))
	require.NoError(t, err)
	assert.Equal(t, msg, recovered)

	fb, _, err := VerifyEMVSignature(recovered, ClassSDA, HashSHA1, signedData)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), fb)
}

func TestVerifyEMVSignatureHashMismatch(t *testing.T) {
	recovered := make([]byte, 2+20+1)
	recovered[0] = 0x6A
	recovered[1] = 0x03
	recovered[len(recovered)-1] = 0xBC
	_, _, err := VerifyEMVSignature(recovered, ClassSDA, HashSHA1, []byte("other data"))
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestVerifyEMVSignatureBadFormatByte(t *testing.T) {
	recovered := make([]byte, 2+20+1)
	recovered[0] = 0x6A
	recovered[1] = 0x99 // not in any class
	recovered[len(recovered)-1] = 0xBC
	_, _, err := VerifyEMVSignature(recovered, ClassSDA, HashSHA1, nil)
	require.ErrorIs(t, err, ErrSignatureFormat)
}

func TestRetailMACAndARPCMethod1(t *testing.T) {
	sk := mustHex("0123456789ABCDEFFEDCBA9876543210")
	arqc := mustHex("1111222233334444")
	arc := mustHex("3030")

	input := XORBytes(arqc, []byte{arc[0], arc[1], 0, 0, 0, 0, 0, 0})
	arpc, err := RetailMAC(sk, input)
	require.NoError(t, err)

	ok, err := VerifyARPCMethod1(sk, arqc, arc, arpc)
	require.NoError(t, err)
	assert.True(t, ok)

	mutated := append([]byte(nil), arpc...)
	mutated[0] ^= 0x01
	ok, err = VerifyARPCMethod1(sk, arqc, arc, mutated)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecureZeroIdempotent(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	SecureZero(buf)
	SecureZero(buf)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestDeriveSessionKeyDeterministic(t *testing.T) {
	mk := mustHex("0123456789ABCDEF0123456789ABCDEF")
	atc := []byte{0x00, 0x10}
	sk1, err := DeriveSessionKey(mk, atc, KeyTypeAC)
	require.NoError(t, err)
	sk2, err := DeriveSessionKey(mk, atc, KeyTypeAC)
	require.NoError(t, err)
	assert.Equal(t, sk1, sk2)
}

func TestComputeARPCMethod2ReturnsFourBytes(t *testing.T) {
	sk := mustHex("0123456789ABCDEF0123456789ABCDEF")
	arqc := mustHex("1111222233334444")
	csu := mustHex("00000000")
	arpc, err := ComputeARPCMethod2(sk, arqc, csu)
	require.NoError(t, err)
	assert.Len(t, arpc, 4)
}
