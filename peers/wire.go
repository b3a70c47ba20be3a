package peers

import (
	"encoding/binary"

	"github.com/Arceliar/tahrir/types"
)

type messageKind uint8

const (
	messageDummy messageKind = iota // unused
	messageAssimilationRequest
	messageAssimilationResponse
	messageProbe
	messageProbeResponse
	messageBroadcast
)

type peerInfo struct {
	desc types.PeerDescriptor
	caps types.Capabilities
}

func (pi *peerInfo) encode(out []byte) []byte {
	out = pi.desc.Encode(out)
	return append(out, pi.caps.Byte())
}

func (pi *peerInfo) decode(data []byte) ([]byte, error) {
	var tmp peerInfo
	rest, err := tmp.desc.Decode(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, DecodeError{}
	}
	tmp.caps = types.CapabilitiesFromByte(rest[0])
	*pi = tmp
	return rest[1:], nil
}

// peerMessage is the body of assimilation and topology messages: the sender's own info and a sample of the peers it knows.
// A probe also carries a filter of the keys the prober knows.
type peerMessage struct {
	kind  messageKind
	self  peerInfo
	peers []peerInfo
	known *knownFilter
}

func (pm *peerMessage) encode(out []byte) []byte {
	out = append(out, byte(pm.kind))
	out = pm.self.encode(out)
	out = binary.AppendUvarint(out, uint64(len(pm.peers)))
	for idx := range pm.peers {
		out = pm.peers[idx].encode(out)
	}
	if pm.kind == messageProbe {
		known := pm.known
		if known == nil {
			known = newKnownFilter()
		}
		out = known.encode(out)
	}
	return out
}

func (pm *peerMessage) decode(data []byte) error {
	var tmp peerMessage
	if len(data) < 1 {
		return DecodeError{}
	}
	tmp.kind = messageKind(data[0])
	data, err := tmp.self.decode(data[1:])
	if err != nil {
		return err
	}
	count, n := binary.Uvarint(data)
	if n <= 0 || count > uint64(len(data)) {
		return DecodeError{}
	}
	data = data[n:]
	for idx := uint64(0); idx < count; idx++ {
		var pi peerInfo
		if data, err = pi.decode(data); err != nil {
			return err
		}
		tmp.peers = append(tmp.peers, pi)
	}
	if tmp.kind == messageProbe {
		tmp.known = new(knownFilter)
		if data, err = tmp.known.decode(data); err != nil {
			return err
		}
	}
	if len(data) != 0 {
		return DecodeError{}
	}
	*pm = tmp
	return nil
}
