package commands

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/Arceliar/tahrir"
	"github.com/Arceliar/tahrir/types"
)

const mcListenAddrString = ":7644"
const mcGroupAddrString = "[ff02::114]:7644"
const mcInterval = 3 * time.Second

// An announcement is a location-less descriptor, then the listen port and capability byte.
func encodeAnnouncement(node *tahrir.Node) []byte {
	self := node.Descriptor()
	desc := types.PeerDescriptor{Key: self.Key}
	out := desc.Encode(nil)
	out = binary.BigEndian.AppendUint16(out, node.Transport().LocalAddr().Port())
	return append(out, node.SeedFile().Capabilities.Byte())
}

func decodeAnnouncement(data []byte) (desc types.PeerDescriptor, port uint16, caps types.Capabilities, err error) {
	rest, err := desc.Decode(data)
	switch {
	case err != nil:
		return
	case desc.HasLocation() || len(rest) != 3:
		err = errors.New("malformed announcement")
		return
	}
	port = binary.BigEndian.Uint16(rest)
	caps = types.CapabilitiesFromByte(rest[2])
	return
}

func newMulticastConn() (*ipv6.PacketConn, error) {
	reuse := func(network, address string, c syscall.RawConn) (err error) {
		_ = c.Control(func(fd uintptr) {
			err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		return
	}
	lc := net.ListenConfig{
		Control: reuse,
	}
	conn, err := lc.ListenPacket(context.Background(), "udp6", mcListenAddrString)
	if err != nil {
		return nil, err
	}
	return ipv6.NewPacketConn(conn), nil
}

// mcSender joins the group on every interface with a link-local address and announces there, until mc is closed.
func mcSender(mc *ipv6.PacketConn, announcement []byte) {
	groupAddr, err := net.ResolveUDPAddr("udp6", mcGroupAddrString)
	if err != nil {
		log.WithError(err).Error("Failed to resolve multicast group")
		return
	}
	intfs, err := net.Interfaces()
	if err != nil {
		log.WithError(err).Warn("Failed to list interfaces")
	}
	for _, intf := range intfs {
		if intf.Flags&net.FlagUp == 0 || intf.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := intf.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			addrIP, _, _ := net.ParseCIDR(addr.String())
			if addrIP.To4() != nil || !addrIP.IsLinkLocalUnicast() {
				continue
			}
			tmp := intf
			_ = mc.JoinGroup(&tmp, groupAddr)
			dest := *groupAddr
			dest.Zone = tmp.Name
			if _, err := mc.WriteTo(announcement, nil, &dest); errors.Is(err, net.ErrClosed) {
				return
			}
			break
		}
	}
	time.AfterFunc(mcInterval, func() { mcSender(mc, announcement) })
}

// mcListener imports every node heard on the group and assimilates through the ones not seen before.
func mcListener(mc *ipv6.PacketConn, node *tahrir.Node) {
	self := node.Descriptor().Key
	bs := make([]byte, 2048)
	for {
		n, _, from, err := mc.ReadFrom(bs)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Error("Multicast listener stopped")
			}
			return
		}
		desc, port, caps, err := decodeAnnouncement(bs[:n])
		if err != nil || desc.Key.Equal(self) {
			continue
		}
		uAddr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(uAddr.IP)
		if !ok {
			continue
		}
		desc.Location = types.NormalizeLocation(netip.AddrPortFrom(addr.WithZone(uAddr.Zone), port))
		if node.Peers().Contains(desc.Location) {
			continue
		}
		logger := log.WithField("peer", desc.String())
		if err := node.Peers().ImportSeedPeer(desc, caps); err != nil {
			logger.WithError(err).Debug("Ignoring announcement")
			continue
		}
		logger.Info("Discovered peer on multicast")
		if caps.AllowsAssimilation {
			if _, err := node.Peers().Assimilate(desc.Location); err != nil {
				logger.WithError(err).Warn("Failed to assimilate through discovered peer")
			}
		}
	}
}
