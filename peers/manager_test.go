package peers

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/Arceliar/phony"
	"github.com/stretchr/testify/require"

	"github.com/Arceliar/tahrir/encrypted"
	"github.com/Arceliar/tahrir/network"
	"github.com/Arceliar/tahrir/session"
	"github.com/Arceliar/tahrir/types"
)

type testNode struct {
	id    *encrypted.Identity
	tr    *network.Transport
	sm    *session.Manager
	pm    *Manager
	caps  types.Capabilities
	local netip.AddrPort
}

func newTestNode(t *testing.T, caps types.Capabilities, options ...Option) *testNode {
	t.Helper()
	n := &testNode{id: encrypted.GenerateIdentity(), caps: caps}
	var err error
	n.tr, err = network.NewTransport(n.id,
		network.WithListenHost("127.0.0.1"),
		network.WithListenPort(0),
		network.WithMaxUpstreamBytesPerSecond(1<<24),
		network.WithInitRetry(20*time.Millisecond, 10),
		network.WithReadTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)
	n.local = n.tr.LocalAddr()
	n.sm, err = session.NewManager(caps, session.WithSessionTimeout(5*time.Second))
	require.NoError(t, err)
	opts := []Option{WithAssimilationRetry(50*time.Millisecond, 20)}
	n.pm, err = NewManager(n.id, n.descriptor(), caps, n.tr, n.sm, append(opts, options...)...)
	require.NoError(t, err)
	if caps.AllowsUnsolicitedInbound {
		n.tr.SetUnilateralListener(func(*network.Connection) network.ConnectionListener {
			return n.pm.Listener()
		})
	}
	t.Cleanup(func() {
		n.pm.Stop()
		_ = n.tr.Shutdown()
	})
	return n
}

func (n *testNode) descriptor() types.PeerDescriptor {
	return types.PeerDescriptor{Key: n.id.Public(), Location: n.local}
}

func seedCaps() types.Capabilities {
	return types.Capabilities{AllowsAssimilation: true, AllowsUnsolicitedInbound: true}
}

func deadLocation(t *testing.T) netip.AddrPort {
	t.Helper()
	sock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	loc := sock.LocalAddr().(*net.UDPAddr).AddrPort()
	require.NoError(t, sock.Close())
	return loc
}

func TestPeerMessageEncoding(t *testing.T) {
	a := encrypted.GenerateIdentity()
	b := encrypted.GenerateIdentity()
	msg := peerMessage{
		kind: messageProbeResponse,
		self: peerInfo{desc: types.PeerDescriptor{Key: a.Public()}, caps: seedCaps()},
		peers: []peerInfo{
			{desc: types.PeerDescriptor{Key: b.Public(), Location: netip.MustParseAddrPort("10.0.0.1:7643")}},
			{desc: types.PeerDescriptor{Key: b.Public(), Location: netip.MustParseAddrPort("[2001:db8::1]:7644")}, caps: types.Capabilities{RunsBroadcast: true}},
		},
	}
	bs := msg.encode(nil)
	var out peerMessage
	require.NoError(t, out.decode(bs))
	require.Equal(t, msg, out)
	require.Error(t, out.decode(bs[:len(bs)-1]))
	require.Error(t, out.decode(append(bs, 0)))
	require.Error(t, out.decode(nil))
}

func TestProbeCarriesKnownKeys(t *testing.T) {
	a := encrypted.GenerateIdentity()
	b := encrypted.GenerateIdentity()
	known := newKnownFilter()
	known.addKey(b.Public())
	msg := peerMessage{
		kind:  messageProbe,
		self:  peerInfo{desc: types.PeerDescriptor{Key: a.Public()}},
		known: known,
	}
	bs := msg.encode(nil)
	var out peerMessage
	require.NoError(t, out.decode(bs))
	require.NotNil(t, out.known)
	require.True(t, out.known.hasKey(b.Public()))
	require.Error(t, out.decode(bs[:len(bs)-1]))

	n := newTestNode(t, types.Capabilities{})
	loc := netip.MustParseAddrPort("127.0.0.1:7001")
	require.NoError(t, n.pm.ImportSeedPeer(types.PeerDescriptor{Key: b.Public(), Location: loc}, seedCaps()))
	require.NoError(t, n.pm.ImportSeedPeer(types.PeerDescriptor{Key: a.Public(), Location: netip.MustParseAddrPort("127.0.0.1:7002")}, seedCaps()))
	var sample []peerInfo
	phony.Block(n.pm, func() {
		sample = n.pm._sample(10, netip.AddrPort{}, out.known)
	})
	require.Len(t, sample, 1)
	require.True(t, sample[0].desc.Key.Equal(a.Public()))
}

func TestImportAndEvents(t *testing.T) {
	n := newTestNode(t, types.Capabilities{})
	var events []Event
	n.pm.Subscribe(func(e Event) { events = append(events, e) })
	other := types.PeerDescriptor{Key: encrypted.GenerateIdentity().Public(), Location: netip.MustParseAddrPort("127.0.0.1:7643")}
	require.NoError(t, n.pm.ImportSeedPeer(other, seedCaps()))
	require.ErrorIs(t, n.pm.ImportSeedPeer(types.PeerDescriptor{Key: other.Key}, seedCaps()), NoLocationError{})
	require.NoError(t, n.pm.ImportSeedPeer(n.descriptor(), seedCaps()))
	require.Equal(t, 1, n.pm.Len())
	rec, ok := n.pm.Get(netip.MustParseAddrPort("[::ffff:127.0.0.1]:7643"))
	require.True(t, ok)
	require.Equal(t, OriginSeed, rec.Origin)
	require.True(t, rec.LastSeen.IsZero())
	require.True(t, n.pm.Remove(other.Location))
	require.False(t, n.pm.Remove(other.Location))
	require.False(t, n.pm.Contains(other.Location))
	phony.Block(n.pm, func() {})
	require.Len(t, events, 2)
	require.Equal(t, PeerAdded, events[0].Kind)
	require.Equal(t, PeerRemoved, events[1].Kind)
	require.Equal(t, other.Key, events[1].Record.Descriptor.Key)
}

func TestAssimilation(t *testing.T) {
	seed := newTestNode(t, seedCaps())
	joiner := newTestNode(t, types.Capabilities{RunsMaintenance: true})
	third := types.PeerDescriptor{Key: encrypted.GenerateIdentity().Public(), Location: netip.MustParseAddrPort("127.0.0.1:7645")}
	require.NoError(t, seed.pm.ImportSeedPeer(third, types.Capabilities{RunsBroadcast: true}))
	require.NoError(t, seed.pm.Start())
	require.NoError(t, joiner.pm.ImportSeedPeer(seed.descriptor(), types.Capabilities{}))
	require.NoError(t, joiner.pm.Start())

	require.Eventually(t, func() bool {
		rec, ok := seed.pm.Get(joiner.local)
		return ok && rec.Capabilities == joiner.caps
	}, 10*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		rec, ok := joiner.pm.Get(seed.local)
		return ok && !rec.LastSeen.IsZero()
	}, 10*time.Second, 50*time.Millisecond)

	rec, _ := joiner.pm.Get(seed.local)
	require.Equal(t, seed.caps, rec.Capabilities)
	require.Equal(t, OriginSeed, rec.Origin)
	require.Eventually(t, func() bool { return joiner.pm.Contains(third.Location) }, time.Second, 10*time.Millisecond)
	disclosed, _ := joiner.pm.Get(third.Location)
	require.Equal(t, OriginDisclosed, disclosed.Origin)
	require.Equal(t, types.Capabilities{RunsBroadcast: true}, disclosed.Capabilities)
	require.False(t, seed.pm.Contains(seed.local))
}

func TestStartAssimilatesWithoutMaintenance(t *testing.T) {
	seed := newTestNode(t, seedCaps())
	joiner := newTestNode(t, types.Capabilities{})
	require.NoError(t, seed.pm.Start())
	require.NoError(t, joiner.pm.ImportSeedPeer(seed.descriptor(), seedCaps()))
	require.NoError(t, joiner.pm.Start())
	require.Eventually(t, func() bool { return seed.pm.Contains(joiner.local) }, 10*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		rec, ok := joiner.pm.Get(seed.local)
		return ok && !rec.LastSeen.IsZero()
	}, 10*time.Second, 50*time.Millisecond)
}

func TestAssimilationDisabled(t *testing.T) {
	seed := newTestNode(t, types.Capabilities{AllowsUnsolicitedInbound: true})
	joiner := newTestNode(t, types.Capabilities{}, WithAssimilationRetry(20*time.Millisecond, 3))
	require.NoError(t, seed.pm.Start())
	require.NoError(t, joiner.pm.ImportSeedPeer(seed.descriptor(), types.Capabilities{}))
	require.NoError(t, joiner.pm.Start())
	s, err := joiner.pm.Assimilate(seed.local)
	require.NoError(t, err)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for assimilation to give up")
	}
	require.Equal(t, session.TimedOut, s.State())
	rec, ok := joiner.pm.Get(seed.local)
	require.True(t, ok)
	require.True(t, rec.LastSeen.IsZero())
	_, err = joiner.pm.Assimilate(deadLocation(t))
	require.ErrorIs(t, err, network.PeerNotFoundError{})
}

func TestTopologyProbe(t *testing.T) {
	a := newTestNode(t, types.Capabilities{RunsMaintenance: true},
		WithAssimilateThreshold(0),
		WithMaintenanceInterval(50*time.Millisecond),
	)
	b := newTestNode(t, seedCaps())
	require.NoError(t, b.pm.Start())
	require.NoError(t, a.pm.ImportSeedPeer(b.descriptor(), types.Capabilities{}))
	require.NoError(t, a.pm.Start())
	require.Eventually(t, func() bool {
		rec, ok := a.pm.Get(b.local)
		return ok && !rec.LastSeen.IsZero() && rec.Capabilities == b.caps
	}, 10*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return b.pm.Contains(a.local) }, 10*time.Second, 50*time.Millisecond)
}

func TestProbeFailureEviction(t *testing.T) {
	a := newTestNode(t, types.Capabilities{RunsMaintenance: true},
		WithAssimilateThreshold(0),
		WithMaintenanceInterval(50*time.Millisecond),
		WithMaxProbeFailures(2),
	)
	dead := types.PeerDescriptor{Key: encrypted.GenerateIdentity().Public(), Location: deadLocation(t)}
	require.NoError(t, a.pm.ImportSeedPeer(dead, types.Capabilities{}))
	require.NoError(t, a.pm.Start())
	require.Eventually(t, func() bool { return !a.pm.Contains(dead.Location) }, 10*time.Second, 50*time.Millisecond)
}

func TestEvictExcess(t *testing.T) {
	n := newTestNode(t, types.Capabilities{}, WithTargetPeers(2))
	var locs []netip.AddrPort
	for i := 0; i < 3; i++ {
		loc := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(7000+i))
		locs = append(locs, loc)
		require.NoError(t, n.pm.ImportSeedPeer(types.PeerDescriptor{Key: encrypted.GenerateIdentity().Public(), Location: loc}, types.Capabilities{}))
	}
	phony.Block(n.pm, func() {
		now := time.Now()
		n.pm.records[locs[0]].LastSeen = now
		n.pm.records[locs[2]].LastSeen = now.Add(-time.Minute)
		n.pm._evictExcess()
	})
	require.Equal(t, 2, n.pm.Len())
	require.True(t, n.pm.Contains(locs[0]))
	require.False(t, n.pm.Contains(locs[1]))
	require.True(t, n.pm.Contains(locs[2]))
}

func TestBroadcast(t *testing.T) {
	caps := types.Capabilities{AllowsUnsolicitedInbound: true, RunsBroadcast: true}
	a := newTestNode(t, caps)
	b := newTestNode(t, caps)
	require.NoError(t, a.pm.Start())
	require.NoError(t, b.pm.Start())
	require.NoError(t, a.pm.ImportSeedPeer(b.descriptor(), caps))
	require.NoError(t, a.pm.Broadcast([]byte("hello overlay")))
	select {
	case bc := <-b.pm.Broadcasts():
		require.Equal(t, a.id.Public(), bc.From)
		require.Equal(t, []byte("hello overlay"), bc.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	// b only knows a as an inbound peer without broadcast, so nothing comes back.
	select {
	case bc := <-a.pm.Broadcasts():
		t.Fatalf("unexpected broadcast %v", bc)
	case <-time.After(200 * time.Millisecond):
	}

	quiet := newTestNode(t, types.Capabilities{})
	require.ErrorIs(t, quiet.pm.Broadcast([]byte("nope")), BroadcastDisabledError{})
	require.NoError(t, quiet.pm.Start())
	_, err := quiet.sm.Create(ContractBroadcast.ID, nil)
	require.ErrorIs(t, err, session.UnknownContractError{})
}
