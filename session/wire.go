package session

import "encoding/binary"

const (
	flagFromInitiator = 1 << iota
)

// maxHeaderSize is contract, flags and the largest uvarint id.
const maxHeaderSize = 2 + binary.MaxVarintLen64

// header prefixes every session frame: contract || flags || uvarint id || body.
type header struct {
	contract      ContractID
	fromInitiator bool
	id            uint64
}

func (h *header) encode(out []byte) []byte {
	var flags byte
	if h.fromInitiator {
		flags |= flagFromInitiator
	}
	out = append(out, byte(h.contract), flags)
	return binary.AppendUvarint(out, h.id)
}

// decode parses the header and returns the body that follows it.
func (h *header) decode(data []byte) ([]byte, error) {
	if len(data) < 3 {
		return nil, MalformedFrameError{}
	}
	contract, flags := ContractID(data[0]), data[1]
	if flags&^flagFromInitiator != 0 {
		return nil, MalformedFrameError{}
	}
	id, n := binary.Uvarint(data[2:])
	if n <= 0 {
		return nil, MalformedFrameError{}
	}
	h.contract = contract
	h.fromInitiator = flags&flagFromInitiator != 0
	h.id = id
	return data[2+n:], nil
}
