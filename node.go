// Package tahrir runs a node of a peer-to-peer overlay: an identity, a UDP
// transport, the session protocols on top of it and the set of known peers.
package tahrir

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/netip"
	"time"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"

	"github.com/Arceliar/tahrir/encrypted"
	"github.com/Arceliar/tahrir/network"
	"github.com/Arceliar/tahrir/peers"
	"github.com/Arceliar/tahrir/persist"
	"github.com/Arceliar/tahrir/session"
	"github.com/Arceliar/tahrir/types"
)

type options struct {
	logger     logrus.FieldLogger
	passphrase string
}

type Option func(*options)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPassphrase protects the private identity file. A new identity is sealed with it, an existing one must have been.
func WithPassphrase(passphrase string) Option {
	return func(o *options) {
		o.passphrase = passphrase
	}
}

// Node is one running participant of the overlay.
type Node struct {
	saver     phony.Inbox // writes peer files in order
	config    Config
	log       logrus.FieldLogger
	store     *persist.Store
	identity  *encrypted.Identity
	desc      types.PeerDescriptor
	transport *network.Transport
	sessions  *session.Manager
	peers     *peers.Manager
}

// New starts the node kept in dir.
func New(dir string, cfg Config, opts ...Option) (*Node, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		o.logger = logger
	}
	n := &Node{config: cfg, log: o.logger}
	var err error
	if n.store, err = persist.New(dir); err != nil {
		return nil, fmt.Errorf("failed to open node directory: %w", err)
	}
	id, created, err := loadOrCreateIdentity(n.store, &n.config, o.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if created {
		n.log.Info("Generated new node identity")
	}
	n.identity = id
	n.log = n.log.WithField("node", id.Public().Short())

	netOpts := []network.Option{
		network.WithListenHost(cfg.UDP.ListenHost),
		network.WithListenPort(cfg.UDP.ListenPort),
		network.WithMaxUpstreamBytesPerSecond(cfg.UDP.MaxUpstreamBytesPerSecond),
		network.WithSimulatedLoss(cfg.UDP.SimulatedLoss),
		network.WithLogger(n.log),
	}
	if cfg.UDP.MaxDatagramSize > 0 {
		netOpts = append(netOpts, network.WithMaxDatagramSize(cfg.UDP.MaxDatagramSize))
	}
	if n.transport, err = network.NewTransport(id, netOpts...); err != nil {
		return nil, err
	}
	if err := n.setup(); err != nil {
		_ = n.transport.Shutdown()
		return nil, err
	}
	return n, nil
}

func (n *Node) setup() error {
	cfg := &n.config
	if cfg.LocalHostName != "" {
		loc, err := types.ResolveLocation(cfg.LocalHostName, n.transport.LocalAddr().Port())
		if err != nil {
			return fmt.Errorf("failed to resolve local host name: %w", err)
		}
		var desc types.PeerDescriptor
		err = n.store.LoadAndModify(cfg.PublicNodeID, &desc, func() error {
			desc.Location = loc
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to update public node id: %w", err)
		}
	}
	if err := n.store.LoadReadOnly(cfg.PublicNodeID, &n.desc); err != nil {
		return fmt.Errorf("failed to load public node id: %w", err)
	}
	if !n.desc.Key.Equal(n.identity.Public()) {
		return errors.New("public node id does not match private node id")
	}

	var err error
	if n.sessions, err = session.NewManager(cfg.Capabilities, session.WithLogger(n.log)); err != nil {
		return err
	}
	n.peers, err = peers.NewManager(n.identity, n.desc, cfg.Capabilities, n.transport, n.sessions,
		peers.WithTopologyMaintenance(cfg.Peers.TopologyMaintenance),
		peers.WithTargetPeers(cfg.Peers.TargetPeers),
		peers.WithAssimilateThreshold(cfg.Peers.AssimilateThreshold),
		peers.WithMaintenanceInterval(maintenanceInterval(cfg.Peers.MaintenanceInterval)),
		peers.WithMaxProbeFailures(cfg.Peers.MaxProbeFailures),
		peers.WithLogger(n.log),
	)
	if err != nil {
		return err
	}
	if cfg.Capabilities.AllowsUnsolicitedInbound {
		n.transport.SetUnilateralListener(func(*network.Connection) network.ConnectionListener {
			return n.peers.Listener()
		})
	}
	if err := n.importPeerFiles(); err != nil {
		return err
	}
	n.peers.Subscribe(n.peerChanged)
	return n.peers.Start()
}

func maintenanceInterval(d Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d)
}

func (n *Node) importPeerFiles() error {
	names, err := n.store.List(n.config.PublicNodeIDsDir)
	if err != nil {
		return fmt.Errorf("failed to list peer files: %w", err)
	}
	for _, name := range names {
		var sf peers.SeedFile
		if err := n.store.LoadReadOnly(name, &sf); err != nil {
			n.log.WithError(err).WithField("file", name).Warn("Skipping unreadable peer file")
			continue
		}
		if err := n.peers.ImportSeedPeer(sf.Descriptor, sf.Capabilities); err != nil {
			n.log.WithError(err).WithField("file", name).Warn("Skipping peer file")
		}
	}
	n.log.WithField("files", len(names)).Debug("Imported peer files")
	return nil
}

// peerFileName is where the peer at loc is persisted.
func (n *Node) peerFileName(loc netip.AddrPort) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(loc.String()))
	return fmt.Sprintf("%s/pn-%016x.json", n.config.PublicNodeIDsDir, h.Sum64())
}

// peerChanged keeps the peer directory in step with the peer map.
func (n *Node) peerChanged(e peers.Event) {
	n.saver.Act(nil, func() {
		name := n.peerFileName(e.Record.Descriptor.Location)
		var err error
		if e.Kind == peers.PeerRemoved {
			err = n.store.Remove(name)
		} else {
			sf := peers.SeedFile{Descriptor: e.Record.Descriptor, Capabilities: e.Record.Capabilities}
			err = n.store.Save(name, &sf, persist.PublicMode)
		}
		if err != nil {
			n.log.WithError(err).WithField("file", name).Error("Failed to persist peer")
		}
	})
}

// Descriptor is what this node hands out about itself.
func (n *Node) Descriptor() types.PeerDescriptor {
	return n.desc
}

// SeedFile describes this node for other nodes' peer directories.
func (n *Node) SeedFile() peers.SeedFile {
	return peers.SeedFile{Descriptor: n.desc, Capabilities: n.config.Capabilities}
}

// AddSeed imports a peer and persists it for later starts.
func (n *Node) AddSeed(sf peers.SeedFile) error {
	if err := n.peers.ImportSeedPeer(sf.Descriptor, sf.Capabilities); err != nil {
		return err
	}
	return n.store.Save(n.peerFileName(sf.Descriptor.Location), &sf, persist.PublicMode)
}

func (n *Node) Peers() *peers.Manager {
	return n.peers
}

func (n *Node) Sessions() *session.Manager {
	return n.sessions
}

func (n *Node) Transport() *network.Transport {
	return n.transport
}

// Close stops maintenance, shuts the transport down and waits for pending peer file writes.
func (n *Node) Close() error {
	n.peers.Stop()
	err := n.transport.Shutdown()
	phony.Block(&n.saver, func() {})
	return err
}
