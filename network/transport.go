package network

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/Arceliar/phony"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Arceliar/tahrir/encrypted"
	"github.com/Arceliar/tahrir/types"
)

// maxUDPPayload is the largest payload a UDP datagram can carry. Inbound
// datagrams are read into a buffer this large, since the remote side may be
// configured with a larger maximum datagram size than ours.
const maxUDPPayload = 65535 - 8

// Transport owns one UDP socket and every Connection using it. Outbound
// datagrams go through a priority queue drained by a single send worker that
// paces itself to the upstream bandwidth cap. A single receive worker hands
// inbound datagrams to the connection registered for their source location.
type Transport struct {
	actor      phony.Inbox // owns conns and unilateral
	config     config
	log        logrus.FieldLogger
	identity   *encrypted.Identity
	sock       *net.UDPConn
	local      netip.AddrPort
	conns      map[netip.AddrPort]*Connection
	unilateral func(*Connection) ConnectionListener
	limiter    *rate.Limiter
	banned     *lru.Cache // netip.AddrPort -> time.Time
	nonces     *lru.Cache // handshakeNonce -> struct{}
	queue      sendQueue
	workers    sync.WaitGroup
	closeMutex sync.Mutex
	closed     chan struct{}
	Debug      Debug
}

// NewTransport binds the UDP socket and starts the send and receive workers.
func NewTransport(id *encrypted.Identity, options ...Option) (*Transport, error) {
	t := new(Transport)
	configDefaults()(&t.config)
	for _, opt := range options {
		opt(&t.config)
	}
	t.identity = id
	t.conns = make(map[netip.AddrPort]*Connection)
	t.closed = make(chan struct{})
	t.limiter = rate.NewLimiter(t.config.unilateralRate, t.config.unilateralBurst)
	var err error
	if t.banned, err = lru.New(t.config.blacklistSize); err != nil {
		return nil, err
	}
	if t.nonces, err = lru.New(t.config.replayCacheSize); err != nil {
		return nil, err
	}
	if t.config.maxDatagramSize < handshakeFrameSize || t.config.maxDatagramSize > maxUDPPayload {
		return nil, fmt.Errorf("maximum datagram size %d is outside %d..%d", t.config.maxDatagramSize, handshakeFrameSize, maxUDPPayload)
	}
	t.queue.init()
	addr := net.JoinHostPort(t.config.listenHost, strconv.Itoa(int(t.config.listenPort)))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address %s: %w", addr, err)
	}
	if t.sock, err = net.ListenUDP("udp", udpAddr); err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	t.local = types.NormalizeLocation(t.sock.LocalAddr().(*net.UDPAddr).AddrPort())
	t.log = t.config.logger.WithField("port", t.local.Port())
	t.Debug.init(t)
	t.workers.Add(2)
	go t.sender()
	go t.receiver()
	t.log.Debug("Transport started")
	return t, nil
}

// LocalKey returns the identity this transport authenticates as.
func (t *Transport) LocalKey() encrypted.PublicKey {
	return t.identity.Public()
}

// LocalAddr returns the bound socket address.
func (t *Transport) LocalAddr() netip.AddrPort {
	return t.local
}

// Connect returns the connection for loc, creating it if none exists. A new
// locally initiated connection starts its handshake immediately, which needs
// remoteKey. A unilateral connection waits for the remote side to handshake
// and may leave remoteKey zero.
func (t *Transport) Connect(loc netip.AddrPort, remoteKey encrypted.PublicKey, listener ConnectionListener, unilateral bool) (*Connection, error) {
	loc = types.NormalizeLocation(loc)
	if !loc.IsValid() || loc.Port() == 0 {
		return nil, BadAddressError{}
	}
	if remoteKey.IsZero() && !unilateral {
		return nil, BadKeyError{}
	}
	var conn *Connection
	var err error
	var isNew bool
	t.closeMutex.Lock()
	defer t.closeMutex.Unlock()
	select {
	case <-t.closed:
		return nil, ClosedError{}
	default:
	}
	phony.Block(&t.actor, func() {
		if existing := t.conns[loc]; existing != nil {
			conn = existing
			return
		}
		if loc == t.local {
			err = errors.New("cannot connect to own location")
			return
		}
		conn = newConnection(t, loc, remoteKey, listener, unilateral)
		t.conns[loc] = conn
		isNew = true
	})
	if isNew {
		conn.start()
	}
	return conn, err
}

// Connection returns the live connection for loc, if any.
func (t *Transport) Connection(loc netip.AddrPort) (conn *Connection) {
	loc = types.NormalizeLocation(loc)
	phony.Block(&t.actor, func() {
		conn = t.conns[loc]
	})
	return
}

// Send encrypts payload for the live connection at loc. It fails with PeerNotFoundError if there is none.
func (t *Transport) Send(loc netip.AddrPort, payload []byte, priority float64) <-chan error {
	if conn := t.Connection(loc); conn != nil {
		return conn.Send(payload, priority)
	}
	result := make(chan error, 1)
	result <- PeerNotFoundError{}
	return result
}

// SendRaw queues an already encoded datagram for loc without going through a connection.
// It panics if the datagram exceeds the maximum datagram size.
func (t *Transport) SendRaw(loc netip.AddrPort, datagram []byte, priority float64) <-chan error {
	result := make(chan error, 1)
	t.enqueue(types.NormalizeLocation(loc), append([]byte(nil), datagram...), priority, result, false)
	return result
}

// SetUnilateralListener enables connections for datagrams from unknown
// locations. The function is called for each such connection to obtain its
// listener. Passing nil disables them again, which is the default.
func (t *Transport) SetUnilateralListener(fn func(*Connection) ConnectionListener) {
	phony.Block(&t.actor, func() {
		t.unilateral = fn
	})
}

// Shutdown stops both workers, fails every still queued datagram with
// ClosedError, closes every connection and releases the socket.
func (t *Transport) Shutdown() error {
	t.closeMutex.Lock()
	select {
	case <-t.closed:
		t.closeMutex.Unlock()
		return ClosedError{}
	default:
	}
	close(t.closed)
	t.closeMutex.Unlock()
	err := t.sock.Close()
	t.workers.Wait()
	for _, qd := range t.queue.close() {
		qd.resolve(ClosedError{})
	}
	var conns []*Connection
	phony.Block(&t.actor, func() {
		for _, conn := range t.conns {
			conns = append(conns, conn)
		}
	})
	for _, conn := range conns {
		phony.Block(conn, func() {
			conn._close(ClosedError{})
		})
	}
	t.log.Debug("Transport shut down")
	return err
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *Transport) enqueue(dest netip.AddrPort, datagram []byte, priority float64, result chan<- error, pooled bool) {
	if len(datagram) > t.config.maxDatagramSize {
		panic(fmt.Sprintf("datagram of %d bytes exceeds maximum of %d", len(datagram), t.config.maxDatagramSize))
	}
	qd := &queuedDatagram{
		dest:     dest,
		data:     datagram,
		priority: priority,
		result:   result,
		pooled:   pooled,
	}
	if !t.queue.push(qd) {
		qd.resolve(ClosedError{})
	}
}

func (t *Transport) removeConnection(conn *Connection) {
	t.actor.Act(nil, func() {
		if t.conns[conn.loc] == conn {
			delete(t.conns, conn.loc)
		}
	})
}

func (t *Transport) blacklist(loc netip.AddrPort) {
	t.banned.Add(loc, time.Now().Add(t.config.blacklistDuration))
}

func (t *Transport) isBlacklisted(loc netip.AddrPort) bool {
	until, ok := t.banned.Get(loc)
	if !ok {
		return false
	}
	if time.Now().Before(until.(time.Time)) {
		return true
	}
	t.banned.Remove(loc)
	return false
}

// checkNonce records a handshake nonce, returning false if it was already seen.
func (t *Transport) checkNonce(nonce handshakeNonce) bool {
	seen, _ := t.nonces.ContainsOrAdd(nonce, struct{}{})
	return !seen
}

/***********
 * Workers *
 ***********/

func (t *Transport) sender() {
	defer t.workers.Done()
	for {
		qd, ok := t.queue.pop()
		if !ok {
			select {
			case <-t.closed:
				return
			case <-t.queue.signal:
			case <-time.After(t.config.queueWait):
			}
			continue
		}
		size := len(qd.data)
		if _, err := t.sock.WriteToUDPAddrPort(qd.data, qd.dest); err != nil {
			if t.isClosed() {
				qd.resolve(ClosedError{})
				return
			}
			t.log.WithError(err).WithField("dest", qd.dest.String()).Error("Failed to send datagram")
			qd.resolve(err)
		} else {
			qd.resolve(nil)
		}
		delay := time.Duration(size) * time.Second / time.Duration(t.config.maxUpstreamRate)
		select {
		case <-t.closed:
			return
		case <-time.After(delay):
		}
	}
}

func (t *Transport) receiver() {
	defer t.workers.Done()
	buf := make([]byte, maxUDPPayload)
	for {
		if t.isClosed() {
			return
		}
		_ = t.sock.SetReadDeadline(time.Now().Add(t.config.readTimeout))
		n, from, err := t.sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if t.isClosed() {
				return
			}
			t.log.WithError(err).Error("Failed to receive datagram")
			continue
		}
		if t.config.simulatedLoss > 0 && rand.Float64() < t.config.simulatedLoss {
			t.log.Debug("Simulating loss of inbound datagram")
			continue
		}
		from = types.NormalizeLocation(from)
		conn := t.connectionFor(from)
		if conn == nil {
			continue
		}
		if err := conn.received(buf[:n]); err != nil {
			t.log.WithError(err).WithField("from", from.String()).Debug("Failed to handle datagram")
		}
	}
}

// connectionFor finds the connection for an inbound datagram, creating a unilateral one if that is allowed.
func (t *Transport) connectionFor(from netip.AddrPort) (conn *Connection) {
	var isNew bool
	phony.Block(&t.actor, func() {
		if conn = t.conns[from]; conn != nil {
			return
		}
		if t.unilateral == nil {
			t.log.WithField("from", from.String()).Debug("Dropping datagram from unknown location")
			return
		}
		if t.isBlacklisted(from) {
			return
		}
		if !t.limiter.Allow() {
			t.log.WithField("from", from.String()).Debug("Unilateral connection rate exceeded")
			return
		}
		conn = newConnection(t, from, encrypted.PublicKey{}, ConnectionListener{}, true)
		conn.listener = t.unilateral(conn)
		t.conns[from] = conn
		isNew = true
		t.log.WithField("from", from.String()).Debug("Accepted unilateral connection")
	})
	if isNew {
		conn.start()
	}
	return
}
