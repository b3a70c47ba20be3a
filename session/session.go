package session

import (
	"time"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"

	"github.com/Arceliar/tahrir/network"
)

type State uint8

const (
	Created State = iota
	Active
	Completed
	Failed
	TimedOut
)

func (st State) String() string {
	switch st {
	case Created:
		return "created"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (st State) Terminal() bool {
	return st >= Completed
}

// Session is one run of a contract over one connection.
type Session struct {
	phony.Inbox
	manager  *Manager
	log      logrus.FieldLogger
	contract Contract
	key      sessionKey
	handler  Handler
	state    State
	err      error
	timer    *time.Timer
	created  time.Time
	done     chan struct{}
}

func newSession(m *Manager, reg registration, key sessionKey) *Session {
	s := &Session{
		manager:  m,
		contract: reg.contract,
		key:      key,
		created:  time.Now(),
		done:     make(chan struct{}),
	}
	s.log = m.log.WithFields(logrus.Fields{
		"contract":  reg.contract.Name,
		"session":   key.id,
		"initiator": key.local,
		"remote":    key.conn.Location().String(),
	})
	s.timer = time.AfterFunc(m.config.sessionTimeout, s.timeout)
	s.handler = reg.factory(s)
	return s
}

func (s *Session) ID() uint64 {
	return s.key.id
}

func (s *Session) Contract() Contract {
	return s.contract
}

func (s *Session) Connection() *network.Connection {
	return s.key.conn
}

// Initiator reports whether this side started the session.
func (s *Session) Initiator() bool {
	return s.key.local
}

func (s *Session) Log() logrus.FieldLogger {
	return s.log
}

// MTU is the largest message Send accepts.
func (s *Session) MTU() int {
	return s.key.conn.MTU() - maxHeaderSize
}

// State must not be called from the session's own handler.
func (s *Session) State() (st State) {
	phony.Block(s, func() {
		st = s.state
	})
	return
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err is why the session failed or timed out, nil otherwise.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Send frames msg for the remote side of this session and queues it on the connection.
func (s *Session) Send(msg []byte) <-chan error {
	h := header{contract: s.contract.ID, fromInitiator: s.key.local, id: s.key.id}
	frame := h.encode(make([]byte, 0, maxHeaderSize+len(msg)))
	frame = append(frame, msg...)
	return s.key.conn.Send(frame, s.contract.Priority)
}

// SetTimeout replaces the session's timeout, counting from now.
func (s *Session) SetTimeout(d time.Duration) {
	s.Act(nil, func() {
		if s.state.Terminal() {
			return
		}
		s.timer.Stop()
		s.timer = time.AfterFunc(d, s.timeout)
	})
}

// Complete marks the session as successfully finished.
func (s *Session) Complete() {
	s.Act(nil, func() {
		s._finish(Completed, nil)
	})
}

// Fail marks the session as failed.
func (s *Session) Fail(err error) {
	s.Act(nil, func() {
		s._finish(Failed, err)
	})
}

func (s *Session) timeout() {
	s.Act(nil, func() {
		s._finish(TimedOut, TimeoutError{})
	})
}

func (s *Session) _start() {
	if s.state != Created {
		return
	}
	s.state = Active
	s.handler.Start(s)
}

func (s *Session) receive(msg []byte) {
	s.Act(nil, func() {
		if s.state.Terminal() {
			return
		}
		if err := s.handler.Receive(s, msg); err != nil {
			s.log.WithError(err).Debug("Session failed to handle message")
			s._finish(Failed, err)
		}
	})
}

func (s *Session) _finish(state State, err error) {
	if s.state.Terminal() {
		return
	}
	s.state = state
	s.err = err
	s.timer.Stop()
	close(s.done)
	s.log.WithField("state", state).Debug("Session finished")
	s.handler.Finished(s)
	s.manager.sessionFinished(s, state)
}
