package peers

import (
	"encoding/binary"

	bfilter "github.com/bits-and-blooms/bloom/v3"

	"github.com/Arceliar/tahrir/encrypted"
)

const (
	knownFilterM = 1024
	knownFilterK = 5
	knownFilterB = knownFilterM / 8
	knownFilterU = knownFilterM / 64
)

// knownFilter is a 1024 bit bloom filter over the keys a prober already knows.
// The responder leaves matching peers out of its sample.
type knownFilter struct {
	filter *bfilter.BloomFilter
}

func newKnownFilter() *knownFilter {
	return &knownFilter{filter: bfilter.New(knownFilterM, knownFilterK)}
}

func (f *knownFilter) addKey(key encrypted.PublicKey) {
	f.filter.Add(key[:])
}

func (f *knownFilter) hasKey(key encrypted.PublicKey) bool {
	return f.filter.Test(key[:])
}

func (f *knownFilter) encode(out []byte) []byte {
	us := f.filter.BitSet().Bytes()
	for idx := 0; idx < knownFilterU; idx++ {
		var u uint64
		if idx < len(us) {
			u = us[idx]
		}
		out = binary.BigEndian.AppendUint64(out, u)
	}
	return out
}

func (f *knownFilter) decode(data []byte) ([]byte, error) {
	if len(data) < knownFilterB {
		return nil, DecodeError{}
	}
	us := make([]uint64, knownFilterU)
	for idx := range us {
		us[idx] = binary.BigEndian.Uint64(data[8*idx:])
	}
	f.filter = bfilter.From(us, knownFilterK)
	return data[knownFilterB:], nil
}
