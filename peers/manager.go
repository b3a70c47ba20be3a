package peers

import (
	"errors"
	"math/rand"
	"net/netip"
	"sort"
	"time"

	"github.com/Arceliar/phony"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/Arceliar/tahrir/encrypted"
	"github.com/Arceliar/tahrir/network"
	"github.com/Arceliar/tahrir/session"
	"github.com/Arceliar/tahrir/types"
)

// Manager keeps the set of known peers, keyed by location. It joins the
// overlay through its seeds, keeps the set close to the target size, and
// carries broadcasts when the node runs them.
type Manager struct {
	phony.Inbox
	config     config
	log        logrus.FieldLogger
	identity   *encrypted.Identity
	self       types.PeerDescriptor
	caps       types.Capabilities
	transport  *network.Transport
	sessions   *session.Manager
	records    map[netip.AddrPort]*Record
	observers  []func(Event)
	broadcasts chan Broadcast
	seen       *lru.Cache // signatures of broadcasts already handled
	timer      *time.Timer
	stopped    bool
}

// NewManager creates a peer manager for the node described by self, which must carry the identity's public key.
func NewManager(id *encrypted.Identity, self types.PeerDescriptor, caps types.Capabilities, transport *network.Transport, sessions *session.Manager, options ...Option) (*Manager, error) {
	m := new(Manager)
	configDefaults()(&m.config)
	for _, opt := range options {
		opt(&m.config)
	}
	if !self.Key.Equal(id.Public()) {
		return nil, errors.New("descriptor does not match identity")
	}
	m.identity = id
	m.self = self
	m.caps = caps
	m.transport = transport
	m.sessions = sessions
	m.log = m.config.logger.WithField("component", "peers")
	m.records = make(map[netip.AddrPort]*Record)
	m.broadcasts = make(chan Broadcast, m.config.broadcastBuffer)
	var err error
	if m.seen, err = lru.New(m.config.broadcastCache); err != nil {
		return nil, err
	}
	m.timer = time.AfterFunc(0, func() {})
	return m, nil
}

// Start registers the peer session contracts and assimilates through the seeds
// when too few peers are known. If the node runs maintenance it also starts
// topology maintenance unless that is disabled.
func (m *Manager) Start() error {
	if err := m.sessions.Register(ContractAssimilation, m.newAssimilation); err != nil {
		return err
	}
	if err := m.sessions.Register(ContractTopology, m.newTopology); err != nil {
		return err
	}
	if m.caps.RunsBroadcast {
		if err := m.sessions.Register(ContractBroadcast, m.newBroadcast); err != nil {
			return err
		}
	}
	phony.Block(m, func() {
		if len(m.records) < m.config.assimilateThreshold {
			for _, rec := range m.records {
				if rec.Origin == OriginSeed {
					if _, err := m._assimilate(rec); err != nil {
						m.log.WithError(err).WithField("seed", rec.Descriptor.String()).Warn("Failed to start assimilation")
					}
				}
			}
		}
		if m.caps.RunsMaintenance && m.config.topologyMaintenance {
			m.timer = time.AfterFunc(m.config.maintenanceInterval, func() {
				m.Act(nil, m._maintain)
			})
		}
	})
	return nil
}

// Stop ends maintenance. Sessions already running finish on their own.
func (m *Manager) Stop() {
	phony.Block(m, func() {
		m.stopped = true
		m.timer.Stop()
	})
}

// Listener returns the callbacks for connections carrying peer sessions.
func (m *Manager) Listener() network.ConnectionListener {
	sl := m.sessions.Listener()
	return network.ConnectionListener{
		Received: sl.Received,
		Connected: func(conn *network.Connection) {
			if key, ok := conn.RemoteKey(); ok && conn.Unilateral() {
				m.contacted(conn.Location(), key)
			}
		},
		Disconnected: func(conn *network.Connection) {
			sl.Disconnected(conn)
			m.connectionLost(conn)
		},
	}
}

// ImportSeedPeer adds a peer from a trusted peer file.
func (m *Manager) ImportSeedPeer(desc types.PeerDescriptor, caps types.Capabilities) error {
	if !desc.HasLocation() {
		return NoLocationError{}
	}
	if desc.Key.Equal(m.self.Key) {
		return nil
	}
	phony.Block(m, func() {
		m._add(desc, caps, OriginSeed, false)
	})
	return nil
}

// Assimilate joins the overlay through the known peer at loc.
func (m *Manager) Assimilate(loc netip.AddrPort) (s *session.Session, err error) {
	loc = types.NormalizeLocation(loc)
	phony.Block(m, func() {
		rec, isIn := m.records[loc]
		if !isIn {
			err = network.PeerNotFoundError{}
			return
		}
		s, err = m._assimilate(rec)
	})
	return
}

func (m *Manager) Get(loc netip.AddrPort) (rec Record, ok bool) {
	loc = types.NormalizeLocation(loc)
	phony.Block(m, func() {
		var r *Record
		if r, ok = m.records[loc]; ok {
			rec = *r
		}
	})
	return
}

func (m *Manager) Contains(loc netip.AddrPort) bool {
	_, ok := m.Get(loc)
	return ok
}

// Records returns a copy of every record, ordered by location.
func (m *Manager) Records() (recs []Record) {
	phony.Block(m, func() {
		for _, rec := range m.records {
			recs = append(recs, *rec)
		}
	})
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Descriptor.Location, recs[j].Descriptor.Location
		if c := a.Addr().Compare(b.Addr()); c != 0 {
			return c < 0
		}
		return a.Port() < b.Port()
	})
	return
}

func (m *Manager) Len() (n int) {
	phony.Block(m, func() {
		n = len(m.records)
	})
	return
}

// Remove forgets the peer at loc, reporting whether there was one.
func (m *Manager) Remove(loc netip.AddrPort) (ok bool) {
	loc = types.NormalizeLocation(loc)
	phony.Block(m, func() {
		ok = m._remove(loc)
	})
	return
}

// Subscribe registers fn to be told about every change to the peer map.
// It runs inside the manager's actor and must not call back into the manager synchronously.
func (m *Manager) Subscribe(fn func(Event)) {
	phony.Block(m, func() {
		m.observers = append(m.observers, fn)
	})
}

func (m *Manager) selfInfo() peerInfo {
	return peerInfo{desc: m.self, caps: m.caps}
}

func (m *Manager) connect(desc types.PeerDescriptor) (*network.Connection, error) {
	return m.transport.Connect(desc.Location, desc.Key, m.Listener(), false)
}

func (m *Manager) _emit(kind EventKind, rec *Record) {
	for _, fn := range m.observers {
		fn(Event{Kind: kind, Record: *rec})
	}
}

// _add records or refreshes a peer. Direct contact (seen) is authenticated, so it
// may replace a record with a different key at the same location, and it
// updates the capabilities. Hearsay never overrides an existing record.
func (m *Manager) _add(desc types.PeerDescriptor, caps types.Capabilities, origin Origin, seen bool) {
	loc := types.NormalizeLocation(desc.Location)
	if !loc.IsValid() || desc.Key.Equal(m.self.Key) {
		return
	}
	desc.Location = loc
	rec, isIn := m.records[loc]
	switch {
	case !isIn:
		rec = &Record{Descriptor: desc, Capabilities: caps, Origin: origin}
		if seen {
			rec.LastSeen = time.Now()
		}
		m.records[loc] = rec
		m.log.WithField("peer", desc.String()).WithField("origin", origin).Debug("Added peer")
		m._emit(PeerAdded, rec)
	case !seen:
		return
	default:
		if !rec.Descriptor.Key.Equal(desc.Key) {
			rec.Descriptor = desc
			rec.Origin = origin
		}
		rec.Capabilities = caps
		rec.LastSeen = time.Now()
		rec.failures = 0
		m._emit(PeerUpdated, rec)
	}
}

func (m *Manager) _remove(loc netip.AddrPort) bool {
	rec, isIn := m.records[loc]
	if !isIn {
		return false
	}
	delete(m.records, loc)
	m.log.WithField("peer", rec.Descriptor.String()).Debug("Removed peer")
	m._emit(PeerRemoved, rec)
	return true
}

// _merge adds disclosed peers while below the target size.
func (m *Manager) _merge(infos []peerInfo) {
	for _, pi := range infos {
		if len(m.records) >= m.config.targetPeers {
			return
		}
		m._add(pi.desc, pi.caps, OriginDisclosed, false)
	}
}

// _sample picks up to n random peers with known locations, skipping exclude and any key in known.
func (m *Manager) _sample(n int, exclude netip.AddrPort, known *knownFilter) []peerInfo {
	infos := make([]peerInfo, 0, len(m.records))
	for loc, rec := range m.records {
		if loc == exclude {
			continue
		}
		if known != nil && known.hasKey(rec.Descriptor.Key) {
			continue
		}
		infos = append(infos, peerInfo{desc: rec.Descriptor, caps: rec.Capabilities})
	}
	rand.Shuffle(len(infos), func(i, j int) {
		infos[i], infos[j] = infos[j], infos[i]
	})
	if len(infos) > n {
		infos = infos[:n]
	}
	return infos
}

func (m *Manager) _knownFilter() *knownFilter {
	f := newKnownFilter()
	f.addKey(m.self.Key)
	for _, rec := range m.records {
		f.addKey(rec.Descriptor.Key)
	}
	return f
}

func (m *Manager) contacted(loc netip.AddrPort, key encrypted.PublicKey) {
	m.Act(nil, func() {
		if rec, isIn := m.records[loc]; isIn && rec.Descriptor.Key.Equal(key) {
			rec.LastSeen = time.Now()
			return
		}
		m._add(types.PeerDescriptor{Key: key, Location: loc}, types.Capabilities{}, OriginInbound, true)
	})
}

// connectionLost applies the disconnect policy: a peer that said goodbye is
// forgotten, a peer that went silent counts as a failed probe.
func (m *Manager) connectionLost(conn *network.Connection) {
	err := conn.Err()
	loc := conn.Location()
	m.Act(nil, func() {
		switch err.(type) {
		case network.RemoteClosedError:
			m._remove(loc)
		case network.TimeoutError, network.HandshakeTimeoutError:
			m._probeFailed(loc)
		}
	})
}

func (m *Manager) _probeFailed(loc netip.AddrPort) {
	rec, isIn := m.records[loc]
	if !isIn {
		return
	}
	rec.failures++
	if rec.failures >= m.config.maxProbeFailures {
		m.log.WithField("peer", rec.Descriptor.String()).Debug("Peer failed too many probes")
		m._remove(loc)
	}
}

/***************
 * Maintenance *
 ***************/

func (m *Manager) _maintain() {
	if m.stopped {
		return
	}
	m._evictExcess()
	var recs []*Record
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	rand.Shuffle(len(recs), func(i, j int) {
		recs[i], recs[j] = recs[j], recs[i]
	})
	if len(recs) > m.config.probeSample {
		recs = recs[:m.config.probeSample]
	}
	for _, rec := range recs {
		m._probe(rec)
	}
	m.timer = time.AfterFunc(m.config.maintenanceInterval, func() {
		m.Act(nil, m._maintain)
	})
}

// _evictExcess drops the stalest peers until the target size is met.
func (m *Manager) _evictExcess() {
	excess := len(m.records) - m.config.targetPeers
	if excess <= 0 {
		return
	}
	var recs []*Record
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].LastSeen.Before(recs[j].LastSeen)
	})
	for _, rec := range recs[:excess] {
		m._remove(rec.Descriptor.Location)
	}
}

func (m *Manager) _probe(rec *Record) {
	conn, err := m.connect(rec.Descriptor)
	if err != nil {
		m.log.WithError(err).WithField("peer", rec.Descriptor.String()).Debug("Failed to connect for probe")
		m._probeFailed(rec.Descriptor.Location)
		return
	}
	if _, err := m.sessions.Create(ContractTopology.ID, conn); err != nil {
		m.log.WithError(err).Error("Failed to create topology session")
	}
}
