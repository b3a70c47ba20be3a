package peers

import (
	"time"

	"github.com/Arceliar/tahrir/types"
)

// Origin is how a peer first became known.
type Origin uint8

const (
	OriginSeed       Origin = iota // imported from a peer file
	OriginJoiner                   // assimilated through us
	OriginDisclosed                // shared by another peer
	OriginInbound                  // contacted us unsolicited
	OriginPersisted                // loaded from our own peer directory
)

func (o Origin) String() string {
	switch o {
	case OriginSeed:
		return "seed"
	case OriginJoiner:
		return "joiner"
	case OriginDisclosed:
		return "disclosed"
	case OriginInbound:
		return "inbound"
	case OriginPersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// Record is what the manager knows about one peer.
type Record struct {
	Descriptor   types.PeerDescriptor
	Capabilities types.Capabilities
	LastSeen     time.Time // zero if never heard from directly
	Origin       Origin
	failures     int
}

type EventKind uint8

const (
	PeerAdded EventKind = iota
	PeerUpdated
	PeerRemoved
)

func (k EventKind) String() string {
	switch k {
	case PeerAdded:
		return "added"
	case PeerUpdated:
		return "updated"
	case PeerRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes one change to the peer map. Record is a copy taken at the time of the change.
type Event struct {
	Kind   EventKind
	Record Record
}

// SeedFile is the on-disk form of a peer: the files in a node's peer directory use it.
type SeedFile struct {
	Descriptor   types.PeerDescriptor `json:"descriptor"`
	Capabilities types.Capabilities   `json:"capabilities"`
}
