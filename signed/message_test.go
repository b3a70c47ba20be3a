package signed

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Arceliar/tahrir/encrypted"
)

func TestSealOpen(t *testing.T) {
	id := encrypted.GenerateIdentity()
	msg := Seal(id, []byte("this is a test"))
	bs, err := msg.MarshalBinary()
	require.NoError(t, err)
	var decoded Message
	require.NoError(t, decoded.UnmarshalBinary(bs))
	payload, err := decoded.OpenFrom(id.Public())
	require.NoError(t, err)
	require.Equal(t, []byte("this is a test"), payload)
	_, err = decoded.OpenFrom(encrypted.GenerateIdentity().Public())
	require.Error(t, err)
}

func TestTampered(t *testing.T) {
	id := encrypted.GenerateIdentity()
	bs, _ := Seal(id, []byte("this is a test")).MarshalBinary()
	bs[len(bs)-1] ^= 0xff
	var decoded Message
	require.NoError(t, decoded.UnmarshalBinary(bs))
	_, err := decoded.Open()
	require.ErrorIs(t, err, encrypted.CryptoFailureError{})
	require.Error(t, decoded.UnmarshalBinary(bs[:messageOverhead-1]))
}
