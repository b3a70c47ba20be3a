package encrypted

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	SymKeySize   = chacha20poly1305.KeySize
	symNonceSize = chacha20poly1305.NonceSizeX
	// SymOverhead is the number of bytes SymKey.Seal adds to a message.
	SymOverhead = symNonceSize + chacha20poly1305.Overhead
)

// SymKey is an XChaCha20-Poly1305 key.
// A fresh key is generated for every hybrid message and for every connection direction, keys are never shared between unrelated exchanges.
type SymKey [SymKeySize]byte

// GenerateSymmetricKey returns a new random key, panicking if no randomness is available.
func GenerateSymmetricKey() SymKey {
	var key SymKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		panic("failed to generate symmetric key")
	}
	return key
}

// Seal appends nonce || ciphertext to out.
// The nonce is random, which is safe for XChaCha20's 192-bit nonces.
func (key *SymKey) Seal(out, msg, ad []byte) []byte {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		panic("this should never happen")
	}
	var nonce [symNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		panic("failed to generate nonce")
	}
	out = append(out, nonce[:]...)
	return aead.Seal(out, nonce[:], msg, ad)
}

// Open reverses Seal, appending the plaintext to out.
func (key *SymKey) Open(out, sealed, ad []byte) ([]byte, error) {
	if len(sealed) < SymOverhead {
		return nil, CryptoFailureError{}
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, CryptoFailureError{}
	}
	nonce, ct := sealed[:symNonceSize], sealed[symNonceSize:]
	pt, err := aead.Open(out, nonce, ct, ad)
	if err != nil {
		return nil, CryptoFailureError{}
	}
	return pt, nil
}
