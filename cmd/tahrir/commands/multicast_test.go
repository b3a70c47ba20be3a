package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Arceliar/tahrir/encrypted"
	"github.com/Arceliar/tahrir/types"
)

func TestAnnouncement(t *testing.T) {
	id := encrypted.GenerateIdentity()
	caps := types.Capabilities{AllowsAssimilation: true, RunsBroadcast: true}

	desc := types.PeerDescriptor{Key: id.Public()}
	data := desc.Encode(nil)
	data = append(data, 0x1d, 0xeb, caps.Byte())

	got, port, gotCaps, err := decodeAnnouncement(data)
	require.NoError(t, err)
	require.True(t, got.Key.Equal(id.Public()))
	require.Equal(t, uint16(7659), port)
	require.Equal(t, caps, gotCaps)

	_, _, _, err = decodeAnnouncement(data[:len(data)-1])
	require.Error(t, err)
}
