package peers

import (
	"net/netip"
	"time"

	"github.com/Arceliar/phony"

	"github.com/Arceliar/tahrir/network"
	"github.com/Arceliar/tahrir/session"
	"github.com/Arceliar/tahrir/signed"
	"github.com/Arceliar/tahrir/types"
)

// ContractAssimilation is how a new node joins the overlay through a seed.
// The joiner sends a signed request carrying its own info and repeats it until
// the seed answers. The seed records the joiner at the location the request
// came from and answers with its own info and a sample of its peers. It keeps
// answering duplicate requests with the same response for a while.
var ContractAssimilation = session.Contract{ID: 1, Name: "assimilation", Priority: 2}

type assimilation struct {
	m        *Manager
	request  []byte
	response []byte
	attempts int
	timer    *time.Timer
	finished bool
}

func (m *Manager) newAssimilation(*session.Session) session.Handler {
	return &assimilation{m: m, timer: time.AfterFunc(0, func() {})}
}

func (m *Manager) _assimilate(rec *Record) (*session.Session, error) {
	conn, err := m.connect(rec.Descriptor)
	if err != nil {
		return nil, err
	}
	m.log.WithField("seed", rec.Descriptor.String()).Info("Assimilating")
	return m.sessions.Create(ContractAssimilation.ID, conn)
}

func (a *assimilation) Start(s *session.Session) {
	if !s.Initiator() {
		return
	}
	msg := peerMessage{kind: messageAssimilationRequest, self: a.m.selfInfo()}
	a.request, _ = signed.Seal(a.m.identity, msg.encode(nil)).MarshalBinary()
	cfg := &a.m.config
	s.SetTimeout(cfg.assimilationDelay * time.Duration(cfg.assimilationAttempts+1))
	a._send(s)
}

func (a *assimilation) _send(s *session.Session) {
	if a.finished || a.attempts >= a.m.config.assimilationAttempts {
		return
	}
	a.attempts++
	s.Send(a.request)
	a.timer = time.AfterFunc(a.m.config.assimilationDelay, func() {
		s.Act(nil, func() { a._send(s) })
	})
}

func (a *assimilation) Receive(s *session.Session, msg []byte) error {
	pm, err := openPeerMessage(s.Connection(), msg)
	if err != nil {
		return err
	}
	loc := s.Connection().Location()
	if s.Initiator() {
		if pm.kind != messageAssimilationResponse {
			return UnexpectedMessageError{}
		}
		a.m.assimilated(loc, pm)
		s.Log().WithField("disclosed", len(pm.peers)).Info("Assimilated")
		s.Complete()
		return nil
	}
	if pm.kind != messageAssimilationRequest {
		return UnexpectedMessageError{}
	}
	if a.response == nil {
		if !a.m.caps.AllowsAssimilation {
			return AssimilationDisabledError{}
		}
		a.response = a.m.admit(loc, pm.self, s.MTU())
		s.SetTimeout(2 * a.m.config.lingerDuration)
		a.timer = time.AfterFunc(a.m.config.lingerDuration, s.Complete)
	}
	s.Send(a.response)
	return nil
}

func (a *assimilation) Finished(*session.Session) {
	a.finished = true
	a.timer.Stop()
}

// openPeerMessage checks that a signed peer message comes from the peer at the other end of conn and decodes it.
func openPeerMessage(conn *network.Connection, msg []byte) (*peerMessage, error) {
	var sm signed.Message
	if err := sm.UnmarshalBinary(msg); err != nil {
		return nil, err
	}
	key, ok := conn.RemoteKey()
	if !ok {
		return nil, WrongPeerError{}
	}
	payload, err := sm.OpenFrom(key)
	if err != nil {
		return nil, err
	}
	pm := new(peerMessage)
	if err := pm.decode(payload); err != nil {
		return nil, err
	}
	if !pm.self.desc.Key.Equal(key) {
		return nil, WrongPeerError{}
	}
	return pm, nil
}

// admit records a joiner at the location its request came from and builds the signed response.
func (m *Manager) admit(loc netip.AddrPort, joiner peerInfo, mtu int) []byte {
	phony.Block(m, func() {
		m._add(types.PeerDescriptor{Key: joiner.desc.Key, Location: loc}, joiner.caps, OriginJoiner, true)
	})
	return m.sealSample(messageAssimilationResponse, loc, nil, mtu)
}

// assimilated records the seed that answered and the peers it disclosed.
func (m *Manager) assimilated(loc netip.AddrPort, pm *peerMessage) {
	m.Act(nil, func() {
		m._add(types.PeerDescriptor{Key: pm.self.desc.Key, Location: loc}, pm.self.caps, OriginSeed, true)
		m._merge(pm.peers)
	})
}
