package network

import (
	"crypto/rand"

	"github.com/Arceliar/tahrir/encrypted"
)

const handshakeNonceSize = 16

type handshakeNonce [handshakeNonceSize]byte

func newHandshakeNonce() (n handshakeNonce) {
	if _, err := rand.Read(n[:]); err != nil {
		panic(err)
	}
	return
}

// handshake is the body of both init and ack frames. It carries the sender's
// traffic key for the lifetime of the connection. An ack echoes the nonce of
// the init it answers, and the signature binds the body to the frame type and
// to the recipient.
type handshake struct {
	key     encrypted.PublicKey
	sendKey encrypted.SymKey
	nonce   handshakeNonce
	echo    handshakeNonce
	sig     encrypted.Signature
}

const handshakeSize = encrypted.PublicKeySize + encrypted.SymKeySize + 2*handshakeNonceSize + encrypted.SignatureSize

// handshakeFrameSize is the size of a complete init or ack frame, and so the smallest usable datagram size.
const handshakeFrameSize = 1 + encrypted.HybridOverhead + handshakeSize

// handshakeSigned is what a handshake signature covers.
type handshakeSigned struct {
	h    *handshake
	kind wireFrameType
	dest encrypted.PublicKey
}

func (s handshakeSigned) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 1+handshakeSize)
	out = append(out, byte(s.kind))
	out = append(out, s.h.key[:]...)
	out = append(out, s.h.sendKey[:]...)
	out = append(out, s.h.nonce[:]...)
	out = append(out, s.h.echo[:]...)
	out = append(out, s.dest[:]...)
	return out, nil
}

func (h *handshake) sign(kind wireFrameType, id *encrypted.Identity, dest encrypted.PublicKey) {
	h.key = id.Public()
	h.sig, _ = encrypted.Sign(handshakeSigned{h, kind, dest}, id)
}

func (h *handshake) check(kind wireFrameType, self encrypted.PublicKey) bool {
	return encrypted.Verify(h.sig, handshakeSigned{h, kind, self}, h.key)
}

func (h *handshake) encode(out []byte) []byte {
	out = append(out, h.key[:]...)
	out = append(out, h.sendKey[:]...)
	out = append(out, h.nonce[:]...)
	out = append(out, h.echo[:]...)
	out = append(out, h.sig[:]...)
	return out
}

func (h *handshake) decode(data []byte) error {
	var tmp handshake
	if !wireChopSlice(tmp.key[:], &data) {
		return DecodeError{}
	} else if !wireChopSlice(tmp.sendKey[:], &data) {
		return DecodeError{}
	} else if !wireChopSlice(tmp.nonce[:], &data) {
		return DecodeError{}
	} else if !wireChopSlice(tmp.echo[:], &data) {
		return DecodeError{}
	} else if !wireChopSlice(tmp.sig[:], &data) {
		return DecodeError{}
	} else if len(data) != 0 {
		return DecodeError{}
	}
	*h = tmp
	return nil
}

// sealHandshake builds a complete init or ack frame addressed to dest.
func sealHandshake(kind wireFrameType, h *handshake, id *encrypted.Identity, dest encrypted.PublicKey) ([]byte, error) {
	h.sign(kind, id, dest)
	hy, err := encrypted.HybridEncrypt(h.encode(nil), dest)
	if err != nil {
		return nil, err
	}
	body, err := hy.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(kind)}, body...), nil
}

// openHandshake decrypts and authenticates the body of an init or ack frame.
func openHandshake(kind wireFrameType, body []byte, id *encrypted.Identity) (*handshake, error) {
	var hy encrypted.Hybrid
	if err := hy.UnmarshalBinary(body); err != nil {
		return nil, err
	}
	pt, err := encrypted.HybridDecrypt(&hy, id)
	if err != nil {
		return nil, err
	}
	h := new(handshake)
	if err := h.decode(pt); err != nil {
		return nil, err
	}
	if !h.check(kind, id.Public()) {
		return nil, encrypted.CryptoFailureError{}
	}
	return h, nil
}
