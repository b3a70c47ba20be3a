package types

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Arceliar/tahrir/encrypted"
)

func TestDescriptorEncoding(t *testing.T) {
	key := encrypted.GenerateIdentity().Public()
	for _, loc := range []netip.AddrPort{
		{},
		netip.MustParseAddrPort("127.0.0.1:7643"),
		netip.MustParseAddrPort("[fe80::1]:7644"),
	} {
		d := PeerDescriptor{Key: key, Location: loc}
		bs, err := d.MarshalBinary()
		require.NoError(t, err)
		var decoded PeerDescriptor
		require.NoError(t, decoded.UnmarshalBinary(bs))
		require.Equal(t, d, decoded)
		require.Equal(t, loc.IsValid(), decoded.HasLocation())
		_, err = decoded.Decode(bs[:len(bs)-1])
		require.Error(t, err)
	}
}

func TestDescriptorJSON(t *testing.T) {
	d := PeerDescriptor{Key: encrypted.GenerateIdentity().Public()}
	bs, err := json.Marshal(&d)
	require.NoError(t, err)
	var decoded PeerDescriptor
	require.NoError(t, json.Unmarshal(bs, &decoded))
	require.Equal(t, d, decoded)
	require.False(t, decoded.HasLocation())
}

func TestCapabilitiesByte(t *testing.T) {
	caps := Capabilities{AllowsAssimilation: true, RunsBroadcast: true}
	require.Equal(t, caps, CapabilitiesFromByte(caps.Byte()))
	require.Equal(t, Capabilities{}, CapabilitiesFromByte(0))
}

func TestNormalizeLocation(t *testing.T) {
	mapped := netip.MustParseAddrPort("[::ffff:127.0.0.1]:9000")
	require.Equal(t, netip.MustParseAddrPort("127.0.0.1:9000"), NormalizeLocation(mapped))
}
