package session

import "github.com/Arceliar/tahrir/types"

// ContractID identifies a session protocol on the wire.
type ContractID uint8

// Contract describes one session protocol. Requires lists the capabilities a
// node must have to take part in it, and Priority is used for every frame its
// sessions send.
type Contract struct {
	ID       ContractID
	Name     string
	Requires types.Capabilities
	Priority float64
}

func (c Contract) String() string {
	return c.Name
}

// Handler is the protocol logic of one session. Its methods run inside the session's actor.
// Start is called once when the session becomes active: right after Create for
// the initiator, and just before the first Receive for a responder.
// An error from Receive fails the session.
// Finished is called once after the session reaches a terminal state.
type Handler interface {
	Start(s *Session)
	Receive(s *Session, msg []byte) error
	Finished(s *Session)
}

// Factory builds the handler for a new session of a registered contract.
type Factory func(s *Session) Handler

type registration struct {
	contract Contract
	factory  Factory
}
