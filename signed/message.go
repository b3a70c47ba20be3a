package signed

import (
	"errors"

	"github.com/Arceliar/tahrir/encrypted"
)

const messageOverhead = encrypted.SignatureSize + encrypted.PublicKeySize

// Message is a payload together with the key that signed it.
// Wire layout: sig || key || payload.
type Message struct {
	Sig     encrypted.Signature
	Key     encrypted.PublicKey
	Payload []byte
}

// Seal signs payload with id.
func Seal(id *encrypted.Identity, payload []byte) *Message {
	return &Message{
		Sig:     id.SignBytes(payload),
		Key:     id.Public(),
		Payload: append([]byte(nil), payload...),
	}
}

// Open returns the payload if the signature matches the embedded key.
func (m *Message) Open() ([]byte, error) {
	if !m.Key.VerifyBytes(m.Payload, &m.Sig) {
		return nil, encrypted.CryptoFailureError{}
	}
	return m.Payload, nil
}

// OpenFrom is Open, but also requires the message to have been signed by key.
func (m *Message) OpenFrom(key encrypted.PublicKey) ([]byte, error) {
	if !m.Key.Equal(key) {
		return nil, errors.New("unexpected signer")
	}
	return m.Open()
}

func (m *Message) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, messageOverhead+len(m.Payload))
	out = append(out, m.Sig[:]...)
	out = append(out, m.Key[:]...)
	out = append(out, m.Payload...)
	return out, nil
}

func (m *Message) UnmarshalBinary(bs []byte) error {
	if len(bs) < messageOverhead {
		return errors.New("signed message too short")
	}
	var tmp Message
	begin, end := 0, encrypted.SignatureSize
	copy(tmp.Sig[:], bs[begin:end])
	begin, end = end, end+encrypted.PublicKeySize
	copy(tmp.Key[:], bs[begin:end])
	tmp.Payload = append([]byte(nil), bs[end:]...)
	*m = tmp
	return nil
}
