package encrypted

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type testObject struct {
	name string
	seq  uint8
}

func (o *testObject) MarshalBinary() ([]byte, error) {
	return append([]byte{o.seq}, o.name...), nil
}

func TestHybridRoundTrip(t *testing.T) {
	id := GenerateIdentity()
	for _, size := range []int{0, 1, 32, 1400, 65535} {
		msg := bytes.Repeat([]byte{0xa5}, size)
		h, err := HybridEncrypt(msg, id.Public())
		require.NoError(t, err)
		bs, err := h.MarshalBinary()
		require.NoError(t, err)
		require.Len(t, bs, size+HybridOverhead)
		var decoded Hybrid
		require.NoError(t, decoded.UnmarshalBinary(bs))
		pt, err := HybridDecrypt(&decoded, id)
		require.NoError(t, err)
		require.True(t, bytes.Equal(msg, pt))
	}
}

func TestHybridWrongKey(t *testing.T) {
	id := GenerateIdentity()
	other := GenerateIdentity()
	h, err := HybridEncrypt([]byte("this is a test"), id.Public())
	require.NoError(t, err)
	pt, err := HybridDecrypt(h, other)
	require.ErrorIs(t, err, CryptoFailureError{})
	require.Nil(t, pt)
}

func TestHybridTampered(t *testing.T) {
	id := GenerateIdentity()
	h, err := HybridEncrypt([]byte("this is a test"), id.Public())
	require.NoError(t, err)
	h.Ciphertext[len(h.Ciphertext)-1] ^= 0x01
	pt, err := HybridDecrypt(h, id)
	require.ErrorIs(t, err, CryptoFailureError{})
	require.Nil(t, pt)
	var short Hybrid
	require.Error(t, short.UnmarshalBinary(make([]byte, HybridOverhead-1)))
}

func TestRaw(t *testing.T) {
	id := GenerateIdentity()
	nonce := []byte("0123456789abcdef")
	ct, err := EncryptRaw(nonce, id.Public())
	require.NoError(t, err)
	require.Len(t, ct, len(nonce)+RawOverhead)
	pt, err := DecryptRaw(ct, id)
	require.NoError(t, err)
	require.Equal(t, nonce, pt)
	_, err = DecryptRaw(ct, GenerateIdentity())
	require.ErrorIs(t, err, CryptoFailureError{})
	_, err = EncryptRaw(make([]byte, MaxRawSize+1), id.Public())
	require.ErrorIs(t, err, CryptoFailureError{})
}

func TestSignVerify(t *testing.T) {
	id := GenerateIdentity()
	obj := &testObject{name: "this is a test", seq: 7}
	sig, err := Sign(obj, id)
	require.NoError(t, err)
	require.True(t, Verify(sig, obj, id.Public()))
	// A different key must not verify
	require.False(t, Verify(sig, obj, GenerateIdentity().Public()))
	// Any altered byte of the encoding must not verify
	altered := &testObject{name: "this is a tesu", seq: 7}
	require.False(t, Verify(sig, altered, id.Public()))
	altered = &testObject{name: "this is a test", seq: 8}
	require.False(t, Verify(sig, altered, id.Public()))
}

func TestIdentityEncoding(t *testing.T) {
	id := GenerateIdentity()
	bs, err := id.MarshalBinary()
	require.NoError(t, err)
	var decoded Identity
	require.NoError(t, decoded.UnmarshalBinary(bs))
	require.Equal(t, id.Public(), decoded.Public())
	// The decoded identity must be able to open what was sealed to the original
	h, err := HybridEncrypt([]byte("test"), id.Public())
	require.NoError(t, err)
	pt, err := HybridDecrypt(h, &decoded)
	require.NoError(t, err)
	require.Equal(t, []byte("test"), pt)
	text, err := id.Public().MarshalText()
	require.NoError(t, err)
	var key PublicKey
	require.NoError(t, key.UnmarshalText(text))
	require.True(t, key.Equal(id.Public()))
	require.Error(t, key.UnmarshalText(text[1:]))
}

func BenchmarkHybridEncrypt(b *testing.B) {
	id := GenerateIdentity()
	msg := make([]byte, 1024)
	for idx := 0; idx < b.N; idx++ {
		if _, err := HybridEncrypt(msg, id.Public()); err != nil {
			panic(err)
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	id := GenerateIdentity()
	obj := &testObject{name: "this is a test"}
	sig, _ := Sign(obj, id)
	for idx := 0; idx < b.N; idx++ {
		if !Verify(sig, obj, id.Public()) {
			panic("verification failed")
		}
	}
}
