package session

import (
	"net/netip"
	"time"

	"github.com/Arceliar/phony"
)

type Debug struct {
	m *Manager
}

func (d *Debug) init(m *Manager) {
	d.m = m
}

type DebugSessionInfo struct {
	Contract  string
	ID        uint64
	Remote    netip.AddrPort
	Initiator bool
	State     State
	Age       time.Duration
}

func (d *Debug) GetSessions() (infos []DebugSessionInfo) {
	var sessions []*Session
	phony.Block(d.m, func() {
		for _, s := range d.m.sessions {
			sessions = append(sessions, s)
		}
	})
	for _, s := range sessions {
		info := DebugSessionInfo{
			Contract:  s.contract.Name,
			ID:        s.key.id,
			Remote:    s.key.conn.Location(),
			Initiator: s.key.local,
			State:     s.State(),
			Age:       time.Since(s.created),
		}
		infos = append(infos, info)
	}
	return
}
