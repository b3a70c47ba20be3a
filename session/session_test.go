package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Arceliar/tahrir/encrypted"
	"github.com/Arceliar/tahrir/network"
	"github.com/Arceliar/tahrir/types"
)

var (
	echoContract = Contract{ID: 10, Name: "echo", Priority: 5}
	holdContract = Contract{ID: 11, Name: "hold", Priority: 5}
)

// echoHandler completes once its message has come back.
type echoHandler struct {
	got chan []byte
}

func (h *echoHandler) Start(s *Session) {
	if s.Initiator() {
		s.Send([]byte("hello"))
	}
}

func (h *echoHandler) Receive(s *Session, msg []byte) error {
	if !s.Initiator() {
		s.Send(msg)
	} else {
		h.got <- msg
	}
	s.Complete()
	return nil
}

func (h *echoHandler) Finished(*Session) {}

// holdHandler never finishes on its own.
type holdHandler struct{}

func (holdHandler) Start(s *Session) {
	if s.Initiator() {
		s.Send([]byte("hold"))
	}
}

func (holdHandler) Receive(*Session, []byte) error { return nil }

func (holdHandler) Finished(*Session) {}

type testPair struct {
	a, b   *Manager
	connA  *network.Connection // a's connection to b
	ta, tb *network.Transport
	echoes chan []byte
}

func newTestPair(t *testing.T) *testPair {
	t.Helper()
	p := &testPair{echoes: make(chan []byte, 1)}
	var transports []*network.Transport
	var managers []*Manager
	for i := 0; i < 2; i++ {
		tr, err := network.NewTransport(encrypted.GenerateIdentity(),
			network.WithListenHost("127.0.0.1"),
			network.WithListenPort(0),
			network.WithMaxUpstreamBytesPerSecond(1<<24),
			network.WithInitRetry(50*time.Millisecond, 20),
			network.WithReadTimeout(50*time.Millisecond),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = tr.Shutdown() })
		m, err := NewManager(types.Capabilities{})
		require.NoError(t, err)
		require.NoError(t, m.Register(echoContract, func(*Session) Handler { return &echoHandler{got: p.echoes} }))
		require.NoError(t, m.Register(holdContract, func(*Session) Handler { return holdHandler{} }))
		transports = append(transports, tr)
		managers = append(managers, m)
	}
	p.a, p.b = managers[0], managers[1]
	p.ta, p.tb = transports[0], transports[1]
	p.tb.SetUnilateralListener(func(*network.Connection) network.ConnectionListener { return p.b.Listener() })
	conn, err := transports[0].Connect(p.tb.LocalAddr(), p.tb.LocalKey(), p.a.Listener(), false)
	require.NoError(t, err)
	select {
	case <-conn.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connection")
	}
	p.connA = conn
	return p
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for session %d", s.ID())
	}
}

func TestHeader(t *testing.T) {
	h := header{contract: 3, fromInitiator: true, id: 300}
	frame := append(h.encode(nil), "body"...)
	var out header
	body, err := out.decode(frame)
	require.NoError(t, err)
	require.Equal(t, h, out)
	require.Equal(t, []byte("body"), body)
	for _, bad := range [][]byte{nil, {1}, {1, 0}, {1, 0x80, 1}, {1, 0, 0x80}} {
		_, err := out.decode(bad)
		require.ErrorIs(t, err, MalformedFrameError{}, "%x", bad)
	}
}

func TestRegister(t *testing.T) {
	m, err := NewManager(types.Capabilities{RunsMaintenance: true})
	require.NoError(t, err)
	factory := func(*Session) Handler { return holdHandler{} }
	require.NoError(t, m.Register(holdContract, factory))
	require.ErrorIs(t, m.Register(holdContract, factory), DuplicateContractError{})
	gated := Contract{ID: 12, Name: "gated", Requires: types.Capabilities{RunsBroadcast: true}}
	require.ErrorIs(t, m.Register(gated, factory), CapabilityDisabledError{})
	allowed := Contract{ID: 13, Name: "allowed", Requires: types.Capabilities{RunsMaintenance: true}}
	require.NoError(t, m.Register(allowed, factory))
}

func TestEcho(t *testing.T) {
	p := newTestPair(t)
	s, err := p.a.Create(echoContract.ID, p.connA)
	require.NoError(t, err)
	require.True(t, s.Initiator())
	waitDone(t, s)
	require.Equal(t, Completed, s.State())
	require.NoError(t, s.Err())
	require.Equal(t, []byte("hello"), <-p.echoes)
	require.Eventually(t, func() bool { return len(p.a.Debug.GetSessions()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestCreateUnknown(t *testing.T) {
	p := newTestPair(t)
	_, err := p.a.Create(99, p.connA)
	require.ErrorIs(t, err, UnknownContractError{})
}

func TestIsolation(t *testing.T) {
	p := newTestPair(t)
	hold, err := p.a.Create(holdContract.ID, p.connA)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(p.b.Debug.GetSessions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	connB := p.tb.Connection(p.ta.LocalAddr())
	require.NotNil(t, connB)

	require.ErrorIs(t, p.b.Dispatch(connB, nil), MalformedFrameError{})
	require.ErrorIs(t, p.b.Dispatch(connB, []byte{byte(holdContract.ID), 0xf0, 1}), MalformedFrameError{})
	unknown := header{contract: 99, fromInitiator: true, id: 7}
	require.ErrorIs(t, p.b.Dispatch(connB, unknown.encode(nil)), UnknownContractError{})
	// Same id as the held session but a different contract.
	mismatched := header{contract: echoContract.ID, fromInitiator: true, id: hold.ID()}
	require.ErrorIs(t, p.b.Dispatch(connB, mismatched.encode(nil)), MalformedFrameError{})

	sessions := p.b.Debug.GetSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, Active, sessions[0].State)
	require.Equal(t, Active, hold.State())

	echo, err := p.a.Create(echoContract.ID, p.connA)
	require.NoError(t, err)
	waitDone(t, echo)
	require.Equal(t, Completed, echo.State())
}

func TestTimeout(t *testing.T) {
	p := newTestPair(t)
	s, err := p.a.Create(holdContract.ID, p.connA)
	require.NoError(t, err)
	s.SetTimeout(50 * time.Millisecond)
	waitDone(t, s)
	require.Equal(t, TimedOut, s.State())
	require.ErrorIs(t, s.Err(), TimeoutError{})
}

func TestDisconnectFailsSessions(t *testing.T) {
	p := newTestPair(t)
	s, err := p.a.Create(holdContract.ID, p.connA)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(p.b.Debug.GetSessions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	remote := p.b.Debug.GetSessions()[0]
	require.False(t, remote.Initiator)
	require.NoError(t, p.connA.Close())
	waitDone(t, s)
	require.Equal(t, Failed, s.State())
	require.ErrorIs(t, s.Err(), network.ClosedError{})
	require.Eventually(t, func() bool { return len(p.b.Debug.GetSessions()) == 0 }, 5*time.Second, 10*time.Millisecond)
}
