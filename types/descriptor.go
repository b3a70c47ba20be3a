package types

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/Arceliar/tahrir/encrypted"
)

const (
	capAllowsAssimilation = 1 << iota
	capAllowsUnsolicitedInbound
	capRunsMaintenance
	capRunsBroadcast
)

// Capabilities are the flags a node advertises about itself.
type Capabilities struct {
	AllowsAssimilation       bool `json:"allows_assimilation"`
	AllowsUnsolicitedInbound bool `json:"allows_unsolicited_inbound"`
	RunsMaintenance          bool `json:"runs_maintenance"`
	RunsBroadcast            bool `json:"runs_broadcast"`
}

func (c Capabilities) Byte() byte {
	var b byte
	if c.AllowsAssimilation {
		b |= capAllowsAssimilation
	}
	if c.AllowsUnsolicitedInbound {
		b |= capAllowsUnsolicitedInbound
	}
	if c.RunsMaintenance {
		b |= capRunsMaintenance
	}
	if c.RunsBroadcast {
		b |= capRunsBroadcast
	}
	return b
}

// Includes reports whether every flag set in required is also set in c.
func (c Capabilities) Includes(required Capabilities) bool {
	r := required.Byte()
	return c.Byte()&r == r
}

func CapabilitiesFromByte(b byte) Capabilities {
	return Capabilities{
		AllowsAssimilation:       b&capAllowsAssimilation != 0,
		AllowsUnsolicitedInbound: b&capAllowsUnsolicitedInbound != 0,
		RunsMaintenance:          b&capRunsMaintenance != 0,
		RunsBroadcast:            b&capRunsBroadcast != 0,
	}
}

const (
	locationAbsent = 0
	locationIPv4   = 4
	locationIPv6   = 6
)

var errDescriptorDecode = errors.New("malformed peer descriptor")

// PeerDescriptor is what a node hands out about itself: its public key and, if known, where it can be reached.
// The key identifies the peer. A zero Location means the peer's location is unknown.
type PeerDescriptor struct {
	Key      encrypted.PublicKey `json:"key"`
	Location netip.AddrPort      `json:"location"`
}

// HasLocation reports whether the descriptor says where the peer can be reached.
func (d *PeerDescriptor) HasLocation() bool {
	return d.Location.IsValid()
}

// Encode appends the wire encoding of d to out.
// Layout: key || family || address || port, with family 0 meaning no address or port follow.
func (d *PeerDescriptor) Encode(out []byte) []byte {
	out = append(out, d.Key[:]...)
	addr := d.Location.Addr().Unmap()
	switch {
	case !d.Location.IsValid():
		return append(out, locationAbsent)
	case addr.Is4():
		out = append(out, locationIPv4)
		a := addr.As4()
		out = append(out, a[:]...)
	default:
		out = append(out, locationIPv6)
		a := addr.As16()
		out = append(out, a[:]...)
	}
	return binary.BigEndian.AppendUint16(out, d.Location.Port())
}

// Decode reads a descriptor from the front of data and returns what follows it.
func (d *PeerDescriptor) Decode(data []byte) ([]byte, error) {
	var tmp PeerDescriptor
	if len(data) < encrypted.PublicKeySize+1 {
		return nil, errDescriptorDecode
	}
	copy(tmp.Key[:], data)
	data = data[encrypted.PublicKeySize:]
	family := data[0]
	data = data[1:]
	var addr netip.Addr
	switch family {
	case locationAbsent:
		*d = tmp
		return data, nil
	case locationIPv4:
		if len(data) < 4+2 {
			return nil, errDescriptorDecode
		}
		addr = netip.AddrFrom4([4]byte(data[:4]))
		data = data[4:]
	case locationIPv6:
		if len(data) < 16+2 {
			return nil, errDescriptorDecode
		}
		addr = netip.AddrFrom16([16]byte(data[:16]))
		data = data[16:]
	default:
		return nil, errDescriptorDecode
	}
	tmp.Location = netip.AddrPortFrom(addr, binary.BigEndian.Uint16(data))
	*d = tmp
	return data[2:], nil
}

func (d *PeerDescriptor) MarshalBinary() ([]byte, error) {
	return d.Encode(nil), nil
}

func (d *PeerDescriptor) UnmarshalBinary(data []byte) error {
	rest, err := d.Decode(data)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return errDescriptorDecode
	}
	return nil
}

func (d PeerDescriptor) String() string {
	if !d.HasLocation() {
		return d.Key.Short() + "@?"
	}
	return d.Key.Short() + "@" + d.Location.String()
}
