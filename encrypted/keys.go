package encrypted

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding"
	"encoding/hex"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

/******
 * ed *
 ******/

const (
	edPubSize  = ed25519.PublicKeySize
	edPrivSize = ed25519.PrivateKeySize
	edSigSize  = ed25519.SignatureSize
)

type edPriv [edPrivSize]byte

/*******
 * box *
 *******/

const (
	boxPubSize  = 32
	boxPrivSize = 32
)

type boxPub [boxPubSize]byte
type boxPriv [boxPrivSize]byte

/*************
 * PublicKey *
 *************/

const (
	PublicKeySize = edPubSize + boxPubSize
	SignatureSize = edSigSize
	identitySize  = edPrivSize + boxPrivSize
)

// PublicKey is the public half of an Identity: an ed25519 verification key followed by an X25519 encryption key.
// It is the only thing a remote node needs to authenticate us and to encrypt to us.
type PublicKey [PublicKeySize]byte

// Signature is an ed25519 signature.
type Signature [SignatureSize]byte

func (key *PublicKey) edKey() ed25519.PublicKey {
	return ed25519.PublicKey(key[:edPubSize])
}

func (key *PublicKey) boxKey() *boxPub {
	var pub boxPub
	copy(pub[:], key[edPubSize:])
	return &pub
}

// Equal reports whether two keys are identical.
func (key PublicKey) Equal(comparedKey PublicKey) bool {
	return key == comparedKey
}

// IsZero reports whether the key is unset.
func (key PublicKey) IsZero() bool {
	return key == PublicKey{}
}

// String returns the key as a hexidecimal string.
func (key PublicKey) String() string {
	return hex.EncodeToString(key[:])
}

// Short returns a truncated hexidecimal form, for logging.
func (key PublicKey) Short() string {
	return hex.EncodeToString(key[:4])
}

func (key PublicKey) MarshalText() ([]byte, error) {
	return []byte(key.String()), nil
}

func (key *PublicKey) UnmarshalText(text []byte) error {
	if len(text) != 2*PublicKeySize {
		return BadKeyError{}
	}
	var tmp PublicKey
	if _, err := hex.Decode(tmp[:], text); err != nil {
		return err
	}
	*key = tmp
	return nil
}

// VerifyBytes checks sig against msg.
func (key *PublicKey) VerifyBytes(msg []byte, sig *Signature) bool {
	return ed25519.Verify(key.edKey(), msg, sig[:])
}

/************
 * Identity *
 ************/

// Identity is a node's private keypair. It must never leave the node that owns it.
type Identity struct {
	edPriv  edPriv
	boxPriv boxPriv
	public  PublicKey
}

// GenerateIdentity creates a fresh identity.
// It panics if the system's secure random source is unusable, as nothing else can safely proceed.
func GenerateIdentity() *Identity {
	edPub, edSecret, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic("failed to generate signing keys")
	}
	bPub, bPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		panic("failed to generate encryption keys")
	}
	id := new(Identity)
	copy(id.edPriv[:], edSecret)
	id.boxPriv = *bPriv
	copy(id.public[:edPubSize], edPub)
	copy(id.public[edPubSize:], bPub[:])
	return id
}

// Public returns the public half of the identity.
func (id *Identity) Public() PublicKey {
	return id.public
}

// SignBytes signs msg directly. Most callers want Sign, which signs an object's canonical encoding.
func (id *Identity) SignBytes(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(ed25519.PrivateKey(id.edPriv[:]), msg))
	return sig
}

func (id *Identity) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, identitySize)
	out = append(out, id.edPriv[:]...)
	out = append(out, id.boxPriv[:]...)
	return out, nil
}

func (id *Identity) UnmarshalBinary(data []byte) error {
	if len(data) != identitySize {
		return BadKeyError{}
	}
	var tmp Identity
	copy(tmp.edPriv[:], data[:edPrivSize])
	copy(tmp.boxPriv[:], data[edPrivSize:])
	edPub := ed25519.PrivateKey(tmp.edPriv[:]).Public().(ed25519.PublicKey)
	bPub, err := curve25519.X25519(tmp.boxPriv[:], curve25519.Basepoint)
	if err != nil {
		return BadKeyError{}
	}
	copy(tmp.public[:edPubSize], edPub)
	copy(tmp.public[edPubSize:], bPub)
	*id = tmp
	return nil
}

/***************
 * sign/verify *
 ***************/

// Sign signs the canonical binary encoding of obj.
func Sign(obj encoding.BinaryMarshaler, id *Identity) (Signature, error) {
	bs, err := obj.MarshalBinary()
	if err != nil {
		return Signature{}, err
	}
	return id.SignBytes(bs), nil
}

// Verify re-encodes obj and checks sig against it.
// Any encoding problem counts as a failed verification.
func Verify(sig Signature, obj encoding.BinaryMarshaler, key PublicKey) bool {
	bs, err := obj.MarshalBinary()
	if err != nil {
		return false
	}
	return key.VerifyBytes(bs, &sig)
}
