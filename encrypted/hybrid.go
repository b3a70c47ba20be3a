package encrypted

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/box"
)

const (
	hybridWrappedSize = SymKeySize + box.AnonymousOverhead
	// HybridOverhead is the number of bytes a hybrid envelope adds to its plaintext.
	HybridOverhead = hybridWrappedSize + SymOverhead
	// MaxRawSize bounds the segments accepted by EncryptRaw.
	MaxRawSize = 256
	// RawOverhead is the number of bytes EncryptRaw adds to a segment.
	RawOverhead = box.AnonymousOverhead
)

// Hybrid is a payload encrypted under a one-time SymKey, with that key wrapped to the recipient's public key.
type Hybrid struct {
	WrappedKey []byte
	Ciphertext []byte
}

// HybridEncrypt seals plaintext so that only the holder of to's Identity can open it.
// Asymmetric encryption only ever touches the 32 byte key, the payload goes through the symmetric cipher.
func HybridEncrypt(plaintext []byte, to PublicKey) (*Hybrid, error) {
	key := GenerateSymmetricKey()
	wrapped, err := box.SealAnonymous(nil, key[:], (*[boxPubSize]byte)(to.boxKey()), rand.Reader)
	if err != nil {
		return nil, CryptoFailureError{}
	}
	return &Hybrid{
		WrappedKey: wrapped,
		Ciphertext: key.Seal(nil, plaintext, wrapped),
	}, nil
}

// HybridDecrypt unwraps the symmetric key with id and then opens the payload.
func HybridDecrypt(h *Hybrid, id *Identity) ([]byte, error) {
	raw, ok := box.OpenAnonymous(nil, h.WrappedKey, (*[boxPubSize]byte)(id.public.boxKey()), (*[boxPrivSize]byte)(&id.boxPriv))
	if !ok || len(raw) != SymKeySize {
		return nil, CryptoFailureError{}
	}
	var key SymKey
	copy(key[:], raw)
	return key.Open(nil, h.Ciphertext, h.WrappedKey)
}

// MarshalBinary encodes the envelope as wrapped key || ciphertext, the wrapped key has a fixed size.
func (h *Hybrid) MarshalBinary() ([]byte, error) {
	if len(h.WrappedKey) != hybridWrappedSize {
		return nil, CryptoFailureError{}
	}
	out := make([]byte, 0, len(h.WrappedKey)+len(h.Ciphertext))
	out = append(out, h.WrappedKey...)
	out = append(out, h.Ciphertext...)
	return out, nil
}

func (h *Hybrid) UnmarshalBinary(data []byte) error {
	if len(data) < HybridOverhead {
		return CryptoFailureError{}
	}
	h.WrappedKey = append([]byte(nil), data[:hybridWrappedSize]...)
	h.Ciphertext = append([]byte(nil), data[hybridWrappedSize:]...)
	return nil
}

// EncryptRaw encrypts a short segment (e.g. a handshake nonce) directly to a public key, without the hybrid envelope.
func EncryptRaw(segment []byte, to PublicKey) ([]byte, error) {
	if len(segment) > MaxRawSize {
		return nil, CryptoFailureError{}
	}
	out, err := box.SealAnonymous(nil, segment, (*[boxPubSize]byte)(to.boxKey()), rand.Reader)
	if err != nil {
		return nil, CryptoFailureError{}
	}
	return out, nil
}

// DecryptRaw reverses EncryptRaw.
func DecryptRaw(ciphertext []byte, id *Identity) ([]byte, error) {
	if len(ciphertext) > MaxRawSize+RawOverhead {
		return nil, CryptoFailureError{}
	}
	out, ok := box.OpenAnonymous(nil, ciphertext, (*[boxPubSize]byte)(id.public.boxKey()), (*[boxPrivSize]byte)(&id.boxPriv))
	if !ok {
		return nil, CryptoFailureError{}
	}
	return out, nil
}
