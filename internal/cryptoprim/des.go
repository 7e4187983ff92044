package cryptoprim

import (
	"crypto/cipher"
	"crypto/des"

	"github.com/pkg/errors"
)

// expandTwoKey expands a 16-byte 2-key 3DES key (K1||K2) into its 24-byte
// K1||K2||K1 form, as crypto/des.NewTripleDESCipher requires.
func expandTwoKey(key []byte) ([]byte, error) {
	switch len(key) {
	case 24:
		return key, nil
	case 16:
		out := make([]byte, 24)
		copy(out[:16], key)
		copy(out[16:], key[:8])
		return out, nil
	default:
		return nil, errors.New("cryptoprim: 3DES key must be 16 or 24 bytes")
	}
}

// TripleDESECBEncrypt encrypts data (a multiple of des.BlockSize) with
// 2-key or 3-key 3DES in ECB mode, no padding. Callers apply method-2
// padding themselves where EMV requires it.
func TripleDESECBEncrypt(key, data []byte) ([]byte, error) {
	if len(data)%des.BlockSize != 0 {
		return nil, errors.New("cryptoprim: data not a multiple of the DES block size")
	}
	expanded, err := expandTwoKey(key)
	if err != nil {
		return nil, err
	}
	block, err := des.NewTripleDESCipher(expanded)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoprim: 3DES cipher init")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += des.BlockSize {
		block.Encrypt(out[i:i+des.BlockSize], data[i:i+des.BlockSize])
	}
	return out, nil
}

// singleDESEncrypt / singleDESDecrypt operate on one 8-byte block with a
// single 8-byte DES key, used inside the retail MAC final stage.
func singleDESEncrypt(key, block []byte) ([]byte, error) {
	c, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, des.BlockSize)
	c.Encrypt(out, block)
	return out, nil
}

func singleDESDecrypt(key, block []byte) ([]byte, error) {
	c, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, des.BlockSize)
	c.Decrypt(out, block)
	return out, nil
}

// PadISO9797Method2 appends 0x80 followed by zero or more 0x00 bytes so the
// result is a multiple of blockSize, per ISO/IEC 9797-1 padding method 2.
func PadISO9797Method2(data []byte, blockSize int) []byte {
	padded := make([]byte, len(data), len(data)+blockSize)
	copy(padded, data)
	padded = append(padded, 0x80)
	for len(padded)%blockSize != 0 {
		padded = append(padded, 0x00)
	}
	return padded
}

// RetailMAC computes the ISO/IEC 9797-1 Algorithm 3 retail MAC over data
// using a 16-byte 2-key 3DES key (K1||K2), with a zero IV, and method-2
// padding already applied by the caller via PadISO9797Method2 (or inline,
// if data is already block-aligned per the caller's own padding rule).
// The algorithm: CBC-MAC every block with the left (single-DES) key K1;
// decrypt the final MAC block with K2; re-encrypt it with K1. Output is the
// 8-byte MAC.
func RetailMAC(key, data []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, errors.New("cryptoprim: retail MAC key must be 16 bytes (K1||K2)")
	}
	if len(data) == 0 || len(data)%des.BlockSize != 0 {
		return nil, errors.New("cryptoprim: retail MAC input must be block-aligned and non-empty")
	}
	k1, k2 := key[:8], key[8:]

	cbc, err := des.NewCipher(k1)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, des.BlockSize)
	mode := cipher.NewCBCEncrypter(cbc, iv)
	mac := make([]byte, des.BlockSize)
	block := make([]byte, des.BlockSize)
	for i := 0; i < len(data); i += des.BlockSize {
		mode.CryptBlocks(block, data[i:i+des.BlockSize])
		mac = block
		block = make([]byte, des.BlockSize)
	}

	decrypted, err := singleDESDecrypt(k2, mac)
	if err != nil {
		return nil, err
	}
	final, err := singleDESEncrypt(k1, decrypted)
	if err != nil {
		return nil, err
	}
	return final, nil
}

// XORBytes returns a xor b, truncated to the shorter of the two lengths.
func XORBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}
