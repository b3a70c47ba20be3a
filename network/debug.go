package network

import (
	"net/netip"
	"time"

	"github.com/Arceliar/phony"

	"github.com/Arceliar/tahrir/encrypted"
)

type Debug struct {
	t *Transport
}

func (d *Debug) init(t *Transport) {
	d.t = t
}

type DebugSelfInfo struct {
	Key         encrypted.PublicKey
	Location    netip.AddrPort
	Connections uint64
	Unilateral  bool // whether unsolicited inbound connections are accepted
}

type DebugConnectionInfo struct {
	Key        encrypted.PublicKey
	Location   netip.AddrPort
	Unilateral bool
	Connected  bool
	RX         uint64
	TX         uint64
	Uptime     time.Duration
}

type DebugQueueInfo struct {
	Datagrams uint64
	Bytes     uint64
}

func (d *Debug) GetSelf() (info DebugSelfInfo) {
	info.Key = d.t.identity.Public()
	info.Location = d.t.local
	phony.Block(&d.t.actor, func() {
		info.Connections = uint64(len(d.t.conns))
		info.Unilateral = d.t.unilateral != nil
	})
	return
}

func (d *Debug) GetConnections() (infos []DebugConnectionInfo) {
	var conns []*Connection
	phony.Block(&d.t.actor, func() {
		for _, conn := range d.t.conns {
			conns = append(conns, conn)
		}
	})
	for _, conn := range conns {
		var info DebugConnectionInfo
		phony.Block(conn, func() {
			info.Key = conn.remote
			info.Location = conn.loc
			info.Unilateral = conn.unilateral
			info.Connected = conn.state == connConnected
			info.RX = conn.rx
			info.TX = conn.tx
			info.Uptime = time.Since(conn.since)
		})
		infos = append(infos, info)
	}
	return
}

func (d *Debug) GetQueue() (info DebugQueueInfo) {
	count, size := d.t.queue.stats()
	info.Datagrams = uint64(count)
	info.Bytes = size
	return
}
