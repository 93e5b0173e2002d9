// Package cryptoenv implements the hybrid RSA/AES session envelope: wrapping
// a freshly generated AES-128 session key under a client-supplied RSA
// public key, and decrypting file ciphertext whose chunks were each
// independently AES-128-CBC-encrypted with a fixed all-zero IV.
//
// No library in this module's dependency set implements this exact
// hybrid-envelope shape (RSA-OAEP key wrap + chunk-independent zero-IV
// CBC) — see DESIGN.md for why this package is built directly on
// crypto/rsa, crypto/aes, and crypto/cipher rather than a third-party
// package.
package cryptoenv

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
)

// ErrCryptoError is the taxonomy-level sentinel every failure in this
// package wraps, matching the error kinds named in §7 of the protocol
// specification.
var ErrCryptoError = errors.New("cryptoenv: crypto error")

// SessionKeySize is the length in bytes of every session key this package
// generates and wraps.
const SessionKeySize = 16

// zeroIV is the fixed, all-zero 16-byte IV every ciphertext chunk is
// encrypted under. This is a deliberate wire-format commitment inherited
// from the client: each network packet of ciphertext is its own
// independent CBC message, not a continuation of a single CBC stream
// spanning the whole upload. Do not "fix" this by concatenating
// ciphertext chunks before decrypting as one CBC stream — that breaks
// interoperability with every conforming client.
var zeroIV [aes.BlockSize]byte

// WrapSessionKey generates a fresh random AES session key and wraps it
// with RSA-OAEP under the RSA public key encoded in pubKeyDER (PKIX
// DER, as produced by x509.MarshalPKIXPublicKey or an equivalent
// client-side encoder). It returns the plaintext session key K and its
// RSA-OAEP ciphertext E; E's length depends on the RSA modulus size and
// must not be assumed fixed by callers.
func WrapSessionKey(pubKeyDER []byte) (key []byte, wrapped []byte, err error) {
	pub, err := parseRSAPublicKey(pubKeyDER)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}

	key = make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("%w: generating session key: %v", ErrCryptoError, err)
	}

	wrapped, err = rsa.EncryptOAEP(crypto.SHA256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: RSA-OAEP wrap: %v", ErrCryptoError, err)
	}
	return key, wrapped, nil
}

// parseRSAPublicKey accepts either a PKIX-wrapped or a bare PKCS#1 DER
// RSA public key, since client implementations of this protocol vary in
// which encoding they emit for the fixed 160-byte public-key field.
func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaPub, ok := pub.(*rsa.PublicKey); ok {
			return rsaPub, nil
		}
		return nil, errors.New("DER key is not an RSA public key")
	}
	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return pub, nil
	}
	return nil, errors.New("unable to parse RSA public key DER")
}

// DecryptStream decrypts a sequence of independently AES-128-CBC-encrypted
// ciphertext chunks, each under the fixed zero IV, PKCS#7-unpads each
// chunk's plaintext, and concatenates the results in order to form the
// final plaintext. aesKey must be exactly 16 bytes. Each chunk's length
// must be a positive multiple of the AES block size.
func DecryptStream(aesKey []byte, chunks [][]byte) ([]byte, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}

	var plaintext []byte
	for i, chunk := range chunks {
		if len(chunk) == 0 || len(chunk)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("%w: chunk %d has length %d, not a positive multiple of %d",
				ErrCryptoError, i, len(chunk), aes.BlockSize)
		}

		mode := cipher.NewCBCDecrypter(block, zeroIV[:])
		decrypted := make([]byte, len(chunk))
		mode.CryptBlocks(decrypted, chunk)

		unpadded, err := pkcs7Unpad(decrypted)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrCryptoError, i, err)
		}
		plaintext = append(plaintext, unpadded...)
	}
	return plaintext, nil
}

// pkcs7Unpad strips PKCS#7 padding from a single decrypted AES block chunk.
func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, errors.New("empty block, no padding to strip")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > n {
		return nil, errors.New("invalid PKCS#7 padding length")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid PKCS#7 padding bytes")
		}
	}
	return data[:n-padLen], nil
}

// EncryptChunkForTesting AES-128-CBC-encrypts a single plaintext chunk
// under the fixed zero IV with PKCS#7 padding applied, mirroring what a
// conforming client does per network packet. It exists so this package's
// own tests (and any full-stack upload test elsewhere in the module) can
// construct valid ciphertext without depending on an external client.
func EncryptChunkForTesting(aesKey []byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, zeroIV[:])
	mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}
