package peers

import (
	"net/netip"

	"github.com/Arceliar/tahrir/encrypted"
	"github.com/Arceliar/tahrir/network"
	"github.com/Arceliar/tahrir/session"
	"github.com/Arceliar/tahrir/signed"
	"github.com/Arceliar/tahrir/types"
)

// ContractBroadcast floods signed payloads to every peer that runs broadcast.
// Each node delivers a payload once and relays it to its other broadcast peers.
var ContractBroadcast = session.Contract{
	ID:       3,
	Name:     "broadcast",
	Requires: types.Capabilities{RunsBroadcast: true},
	Priority: 20,
}

// Broadcast is a payload received from the overlay. From is the key that signed it, not necessarily the peer that relayed it.
type Broadcast struct {
	From    encrypted.PublicKey
	Payload []byte
}

type broadcast struct {
	m       *Manager
	message []byte // set for the initiator only
}

func (m *Manager) newBroadcast(*session.Session) session.Handler {
	return &broadcast{m: m}
}

// Broadcast signs payload and sends it to every known peer that runs broadcast.
func (m *Manager) Broadcast(payload []byte) error {
	if !m.caps.RunsBroadcast {
		return BroadcastDisabledError{}
	}
	sm := signed.Seal(m.identity, append([]byte{byte(messageBroadcast)}, payload...))
	m.seen.Add(sm.Sig, struct{}{})
	bs, _ := sm.MarshalBinary()
	m.Act(nil, func() {
		m._spread(bs, netip.AddrPort{})
	})
	return nil
}

// Broadcasts delivers payloads broadcast by other nodes.
func (m *Manager) Broadcasts() <-chan Broadcast {
	return m.broadcasts
}

func (m *Manager) _spread(message []byte, exclude netip.AddrPort) {
	for loc, rec := range m.records {
		if loc == exclude || !rec.Capabilities.RunsBroadcast {
			continue
		}
		conn, err := m.connect(rec.Descriptor)
		if err != nil {
			m.log.WithError(err).WithField("peer", rec.Descriptor.String()).Debug("Failed to connect for broadcast")
			continue
		}
		_, err = m.sessions.CreateWith(ContractBroadcast.ID, conn, func(*session.Session) session.Handler {
			return &broadcast{m: m, message: message}
		})
		if err != nil {
			m.log.WithError(err).Error("Failed to create broadcast session")
		}
	}
}

func (b *broadcast) Start(s *session.Session) {
	if !s.Initiator() {
		return
	}
	if len(b.message) > s.MTU() {
		s.Fail(network.OversizedMessageError{})
		return
	}
	s.Send(b.message)
	s.Complete()
}

func (b *broadcast) Receive(s *session.Session, msg []byte) error {
	if s.Initiator() {
		return UnexpectedMessageError{}
	}
	var sm signed.Message
	if err := sm.UnmarshalBinary(msg); err != nil {
		return err
	}
	payload, err := sm.Open()
	if err != nil {
		return err
	}
	if len(payload) < 1 || messageKind(payload[0]) != messageBroadcast {
		return UnexpectedMessageError{}
	}
	s.Complete()
	if seen, _ := b.m.seen.ContainsOrAdd(sm.Sig, struct{}{}); seen {
		return nil
	}
	select {
	case b.m.broadcasts <- Broadcast{From: sm.Key, Payload: payload[1:]}:
	default:
		s.Log().Warn("Broadcast queue full, dropping broadcast")
	}
	from := s.Connection().Location()
	b.m.Act(nil, func() {
		b.m._spread(msg, from)
	})
	return nil
}

func (b *broadcast) Finished(*session.Session) {}
