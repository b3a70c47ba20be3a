package peers

import (
	"net/netip"

	"github.com/Arceliar/phony"

	"github.com/Arceliar/tahrir/session"
	"github.com/Arceliar/tahrir/signed"
	"github.com/Arceliar/tahrir/types"
)

// ContractTopology is the liveness probe used by maintenance. Both sides
// exchange their own info and a sample of their peers. A probe that goes
// unanswered counts against the probed peer.
var ContractTopology = session.Contract{ID: 2, Name: "topology", Priority: 3}

type topology struct {
	m *Manager
}

func (m *Manager) newTopology(*session.Session) session.Handler {
	return &topology{m: m}
}

func (t *topology) Start(s *session.Session) {
	if !s.Initiator() {
		return
	}
	s.Send(t.m.sealSample(messageProbe, s.Connection().Location(), nil, s.MTU()))
}

func (t *topology) Receive(s *session.Session, msg []byte) error {
	pm, err := openPeerMessage(s.Connection(), msg)
	if err != nil {
		return err
	}
	loc := s.Connection().Location()
	want := messageProbe
	if s.Initiator() {
		want = messageProbeResponse
	}
	if pm.kind != want {
		return UnexpectedMessageError{}
	}
	t.m.probed(loc, pm)
	if !s.Initiator() {
		s.Send(t.m.sealSample(messageProbeResponse, loc, pm.known, s.MTU()))
	}
	s.Complete()
	return nil
}

func (t *topology) Finished(s *session.Session) {
	if s.Initiator() && s.Err() != nil {
		loc := s.Connection().Location()
		t.m.Act(nil, func() {
			t.m._probeFailed(loc)
		})
	}
}

// sealSample builds a signed message carrying our info and a sample of peers
// other than the recipient and those in known, dropping peers from the sample
// until it fits mtu. A probe carries a filter of every key we know.
func (m *Manager) sealSample(kind messageKind, to netip.AddrPort, known *knownFilter, mtu int) []byte {
	var sample []peerInfo
	var ours *knownFilter
	phony.Block(m, func() {
		sample = m._sample(m.config.disclosureSize, to, known)
		if kind == messageProbe {
			ours = m._knownFilter()
		}
	})
	for {
		msg := peerMessage{kind: kind, self: m.selfInfo(), peers: sample, known: ours}
		bs, _ := signed.Seal(m.identity, msg.encode(nil)).MarshalBinary()
		if len(bs) <= mtu || len(sample) == 0 {
			return bs
		}
		sample = sample[:len(sample)-1]
	}
}

// probed records a successful exchange with the peer at loc and merges what it disclosed.
func (m *Manager) probed(loc netip.AddrPort, pm *peerMessage) {
	m.Act(nil, func() {
		m._add(types.PeerDescriptor{Key: pm.self.desc.Key, Location: loc}, pm.self.caps, OriginInbound, true)
		m._merge(pm.peers)
	})
}
