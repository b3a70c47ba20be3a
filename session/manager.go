package session

import (
	"github.com/Arceliar/phony"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/Arceliar/tahrir/network"
	"github.com/Arceliar/tahrir/types"
)

// sessionKey identifies a session on a connection. The same id may be in use
// twice, once by a session each side initiated.
type sessionKey struct {
	conn  *network.Connection
	id    uint64
	local bool // whether this side initiated the session
}

// Manager routes session frames arriving on connections to their sessions,
// creating responder sessions for registered contracts.
type Manager struct {
	phony.Inbox
	config    config
	log       logrus.FieldLogger
	caps      types.Capabilities
	contracts map[ContractID]registration
	sessions  map[sessionKey]*Session
	finished  *lru.Cache // sessionKey -> State
	nextID    uint64
	Debug     Debug
}

// NewManager creates a manager for a node with the given capabilities.
func NewManager(caps types.Capabilities, options ...Option) (*Manager, error) {
	m := new(Manager)
	configDefaults()(&m.config)
	for _, opt := range options {
		opt(&m.config)
	}
	m.caps = caps
	m.log = m.config.logger.WithField("component", "sessions")
	m.contracts = make(map[ContractID]registration)
	m.sessions = make(map[sessionKey]*Session)
	var err error
	if m.finished, err = lru.New(m.config.finishedCache); err != nil {
		return nil, err
	}
	m.Debug.init(m)
	return m, nil
}

// Register makes a contract available, both for Create and for sessions started by remote peers.
func (m *Manager) Register(contract Contract, factory Factory) error {
	if !m.caps.Includes(contract.Requires) {
		return CapabilityDisabledError{}
	}
	var err error
	phony.Block(m, func() {
		if _, isIn := m.contracts[contract.ID]; isIn {
			err = DuplicateContractError{}
			return
		}
		m.contracts[contract.ID] = registration{contract, factory}
	})
	return err
}

// Create starts a session of a registered contract on conn with this side as initiator.
func (m *Manager) Create(id ContractID, conn *network.Connection) (*Session, error) {
	return m.CreateWith(id, conn, nil)
}

// CreateWith is Create, but builds the initiator's handler with factory instead
// of the registered one. This lets the caller hand the session its input.
func (m *Manager) CreateWith(id ContractID, conn *network.Connection, factory Factory) (*Session, error) {
	var s *Session
	var err error
	phony.Block(m, func() {
		reg, isIn := m.contracts[id]
		if !isIn {
			err = UnknownContractError{}
			return
		}
		if factory != nil {
			reg.factory = factory
		}
		m.nextID++
		s = m._newSession(reg, sessionKey{conn, m.nextID, true})
	})
	if err != nil {
		return nil, err
	}
	s.Act(nil, s._start)
	return s, nil
}

// Dispatch routes one payload received on conn. Malformed frames and frames
// for unknown contracts are rejected without touching any session.
func (m *Manager) Dispatch(conn *network.Connection, payload []byte) error {
	var h header
	body, err := h.decode(payload)
	if err != nil {
		return err
	}
	key := sessionKey{conn, h.id, !h.fromInitiator}
	var s *Session
	var isNew bool
	phony.Block(m, func() {
		if s = m.sessions[key]; s != nil {
			if s.contract.ID != h.contract {
				s, err = nil, MalformedFrameError{}
			}
			return
		}
		if _, isIn := m.finished.Get(key); isIn {
			m.log.WithField("id", h.id).Debug("Ignoring frame for finished session")
			return
		}
		reg, isIn := m.contracts[h.contract]
		if !isIn {
			err = UnknownContractError{}
			return
		}
		if !h.fromInitiator {
			m.log.WithField("id", h.id).Debug("Ignoring frame for unknown local session")
			return
		}
		s = m._newSession(reg, key)
		isNew = true
	})
	if err != nil {
		m.log.WithError(err).WithField("contract", h.contract).Debug("Dropping session frame")
		return err
	}
	if s == nil {
		return nil
	}
	if isNew {
		s.Act(nil, s._start)
	}
	s.receive(body)
	return nil
}

// Listener returns connection callbacks that dispatch received payloads and fail the sessions of a closed connection.
func (m *Manager) Listener() network.ConnectionListener {
	return network.ConnectionListener{
		Received:     m.Dispatch,
		Disconnected: m.connectionClosed,
	}
}

func (m *Manager) connectionClosed(conn *network.Connection) {
	m.Act(nil, func() {
		err := conn.Err()
		for key, s := range m.sessions {
			if key.conn == conn {
				s.Fail(err)
			}
		}
	})
}

func (m *Manager) _newSession(reg registration, key sessionKey) *Session {
	s := newSession(m, reg, key)
	m.sessions[key] = s
	return s
}

func (m *Manager) sessionFinished(s *Session, state State) {
	m.Act(nil, func() {
		if m.sessions[s.key] == s {
			delete(m.sessions, s.key)
		}
		m.finished.Add(s.key, state)
	})
}
