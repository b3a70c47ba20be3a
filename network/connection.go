package network

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"

	"github.com/Arceliar/tahrir/encrypted"
)

// Priorities used for frames the connection generates itself. Lower values are sent first.
const (
	PriorityHandshake = 0
	PriorityKeepAlive = 1
)

// trafficOverhead is what a traffic frame adds to its payload: the frame type and the AEAD envelope.
const trafficOverhead = 1 + encrypted.SymOverhead

// ConnectionListener receives the events of one Connection.
// Received is called for every decrypted non-empty payload. An error it returns is only logged, a panic counts as a failed datagram.
// Connected and Disconnected are each called at most once.
// All callbacks run inside the connection's actor, so they must not block on the connection itself.
type ConnectionListener struct {
	Received     func(conn *Connection, msg []byte) error
	Connected    func(conn *Connection)
	Disconnected func(conn *Connection)
}

type connState uint8

const (
	connConnecting connState = iota
	connConnected
	connClosed
)

type pendingSend struct {
	msg      []byte
	priority float64
	result   chan<- error
}

// Connection is an authenticated, encrypted association with one remote location.
type Connection struct {
	phony.Inbox
	transport   *Transport
	log         logrus.FieldLogger
	loc         netip.AddrPort
	unilateral  bool
	listener    ConnectionListener
	state       connState
	remote      encrypted.PublicKey
	remoteKey   atomic.Pointer[encrypted.PublicKey] // remote, readable outside the actor
	sendKey     encrypted.SymKey
	recvKey     encrypted.SymKey
	nonce       handshakeNonce // sent in our init
	remoteNonce handshakeNonce // last init accepted from the remote side
	initFrame   []byte
	attempts    int
	initTimer   *time.Timer
	aliveTimer  *time.Timer
	keepTimer   *time.Timer
	lastRecv    time.Time
	lastSend    time.Time
	failures    int
	pending     []pendingSend
	rx          uint64
	tx          uint64
	since       time.Time
	ready       chan struct{}
	done        chan struct{}
	err         error
}

func newConnection(t *Transport, loc netip.AddrPort, remote encrypted.PublicKey, listener ConnectionListener, unilateral bool) *Connection {
	c := &Connection{
		transport:  t,
		loc:        loc,
		unilateral: unilateral,
		listener:   listener,
		remote:     remote,
		sendKey:    encrypted.GenerateSymmetricKey(),
		nonce:      newHandshakeNonce(),
		since:      time.Now(),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	if !remote.IsZero() {
		c.remoteKey.Store(&remote)
	}
	c.log = t.log.WithField("remote", loc.String())
	c.lastRecv = c.since
	c.initTimer = time.AfterFunc(0, func() {})
	c.aliveTimer = time.AfterFunc(0, func() {})
	c.keepTimer = time.AfterFunc(0, func() {})
	return c
}

// start arms the liveness timer and, unless the connection was created to answer an unsolicited peer, begins the handshake.
func (c *Connection) start() {
	c.Act(nil, func() {
		c._checkAlive()
		if c.unilateral {
			return
		}
		h := handshake{sendKey: c.sendKey, nonce: c.nonce}
		frame, err := sealHandshake(wireInit, &h, c.transport.identity, c.remote)
		if err != nil {
			c.log.WithError(err).Error("Failed to build handshake")
			c._close(err)
			return
		}
		c.initFrame = frame
		c._sendInit()
	})
}

func (c *Connection) Location() netip.AddrPort {
	return c.loc
}

// RemoteKey returns the remote identity, which is unknown for a unilateral connection until its handshake arrives.
func (c *Connection) RemoteKey() (key encrypted.PublicKey, ok bool) {
	if k := c.remoteKey.Load(); k != nil {
		return *k, true
	}
	return key, false
}

// Unilateral reports whether the connection was created to serve a peer that contacted us first.
func (c *Connection) Unilateral() bool {
	return c.unilateral
}

// MTU is the largest payload Send accepts.
func (c *Connection) MTU() int {
	return c.transport.config.maxDatagramSize - trafficOverhead
}

// Ready is closed once the handshake completes.
func (c *Connection) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed once the connection has been closed for any reason.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection closed, or nil while it is still open.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Send encrypts payload and queues it for delivery. Payloads sent before the
// handshake completes are held and flushed once it does. The returned channel
// receives exactly one value.
func (c *Connection) Send(payload []byte, priority float64) <-chan error {
	result := make(chan error, 1)
	if len(payload) > c.MTU() {
		result <- OversizedMessageError{}
		return result
	}
	msg := append([]byte(nil), payload...)
	c.Act(nil, func() {
		c._send(msg, priority, result)
	})
	return result
}

// Close announces the disconnect to the remote side and closes the connection.
func (c *Connection) Close() error {
	var err error
	phony.Block(c, func() {
		if c.state == connClosed {
			err = ClosedError{}
			return
		}
		if c.state == connConnected {
			c.transport.enqueue(c.loc, c._seal(wireClose, nil), PriorityHandshake, nil, true)
		}
		c._close(ClosedError{})
	})
	return err
}

func (c *Connection) _send(msg []byte, priority float64, result chan<- error) {
	switch c.state {
	case connClosed:
		result <- ClosedError{}
	case connConnecting:
		if len(c.pending) >= c.transport.config.pendingLimit {
			result <- QueueFullError{}
			return
		}
		c.pending = append(c.pending, pendingSend{msg, priority, result})
	default:
		c.transport.enqueue(c.loc, c._seal(wireTraffic, msg), priority, result, true)
		c.tx += uint64(len(msg))
		c._sent()
	}
}

func (c *Connection) _seal(kind wireFrameType, msg []byte) []byte {
	frame := allocBytes(trafficOverhead + len(msg))[:0]
	frame = append(frame, byte(kind))
	return c.sendKey.Seal(frame, msg, frame[:1])
}

func (c *Connection) _sendInit() {
	if c.state != connConnecting {
		return
	}
	if c.attempts >= c.transport.config.initAttempts {
		c.log.Debug("Handshake timed out")
		c._close(HandshakeTimeoutError{})
		return
	}
	c.attempts++
	c.transport.enqueue(c.loc, c.initFrame, PriorityHandshake, nil, false)
	c.initTimer.Stop()
	c.initTimer = time.AfterFunc(c.transport.config.initRetryDelay, func() {
		c.Act(nil, c._sendInit)
	})
}

func (c *Connection) _sendAck(echo handshakeNonce) error {
	h := handshake{sendKey: c.sendKey, nonce: newHandshakeNonce(), echo: echo}
	frame, err := sealHandshake(wireAck, &h, c.transport.identity, c.remote)
	if err != nil {
		return err
	}
	c.transport.enqueue(c.loc, frame, PriorityHandshake, nil, false)
	c._sent()
	return nil
}

/***********
 * Inbound *
 ***********/

// received handles one datagram from the receive worker, counting failures and recovering handler panics.
func (c *Connection) received(frame []byte) (err error) {
	phony.Block(c, func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
			c._noteResult(err)
		}()
		err = c._handleFrame(frame)
	})
	return
}

func (c *Connection) _noteResult(err error) {
	if c.state == connClosed {
		return
	}
	if err == nil {
		c.failures = 0
		return
	}
	c.failures++
	if c.failures >= c.transport.config.maxHandlerFailures {
		c.log.WithField("failures", c.failures).Warn("Too many failed datagrams, closing connection")
		c.transport.blacklist(c.loc)
		c._close(HandlerFailureError{})
	}
}

func (c *Connection) _handleFrame(frame []byte) error {
	if c.state == connClosed {
		return ClosedError{}
	}
	if len(frame) == 0 {
		return EmptyMessageError{}
	}
	switch wireFrameType(frame[0]) {
	case wireInit:
		return c._handleInit(frame[1:])
	case wireAck:
		return c._handleAck(frame[1:])
	case wireTraffic:
		return c._handleTraffic(frame)
	case wireClose:
		return c._handleClose(frame)
	default:
		return UnrecognizedMessageError{}
	}
}

func (c *Connection) _handleInit(body []byte) error {
	h, err := openHandshake(wireInit, body, c.transport.identity)
	if err != nil {
		return err
	}
	if !c.remote.IsZero() && !c.remote.Equal(h.key) {
		return BadKeyError{}
	}
	if c.state == connConnected && h.nonce == c.remoteNonce {
		// Our ack was lost, answer the retransmission again.
		c._markAlive()
		return c._sendAck(h.nonce)
	}
	if !c.transport.checkNonce(h.nonce) {
		return ReplayError{}
	}
	if c.remote.IsZero() {
		c.remote = h.key
		c.remoteKey.Store(&h.key)
	}
	c.recvKey = h.sendKey
	c.remoteNonce = h.nonce
	if err := c._sendAck(h.nonce); err != nil {
		return err
	}
	c._markAlive()
	c._connected()
	return nil
}

func (c *Connection) _handleAck(body []byte) error {
	if c.initFrame == nil {
		return UnrecognizedMessageError{}
	}
	h, err := openHandshake(wireAck, body, c.transport.identity)
	if err != nil {
		return err
	}
	if !c.remote.Equal(h.key) {
		return BadKeyError{}
	}
	if h.echo != c.nonce {
		return ReplayError{}
	}
	c.recvKey = h.sendKey
	c._markAlive()
	c._connected()
	return nil
}

func (c *Connection) _open(frame []byte) ([]byte, error) {
	if c.state != connConnected {
		return nil, NotReadyError{}
	}
	return c.recvKey.Open(nil, frame[1:], frame[:1])
}

func (c *Connection) _handleTraffic(frame []byte) error {
	msg, err := c._open(frame)
	if err != nil {
		return err
	}
	c._markAlive()
	if len(msg) == 0 {
		return nil // keepalive
	}
	c.rx += uint64(len(msg))
	if c.listener.Received == nil {
		return nil
	}
	if err := c.listener.Received(c, msg); err != nil {
		// Not a failed datagram, only decode errors and panics count toward the limit.
		c.log.WithError(err).Debug("Listener rejected payload")
	}
	return nil
}

func (c *Connection) _handleClose(frame []byte) error {
	if _, err := c._open(frame); err != nil {
		return err
	}
	c.log.Debug("Remote side closed the connection")
	c._close(RemoteClosedError{})
	return nil
}

/*************
 * Lifecycle *
 *************/

func (c *Connection) _connected() {
	if c.state != connConnecting {
		return
	}
	c.state = connConnected
	c.initTimer.Stop()
	close(c.ready)
	c.log.Debug("Connection established")
	c._sent()
	pending := c.pending
	c.pending = nil
	for _, p := range pending {
		c._send(p.msg, p.priority, p.result)
	}
	if c.listener.Connected != nil {
		c.listener.Connected(c)
	}
}

func (c *Connection) _markAlive() {
	c.lastRecv = time.Now()
}

// _checkAlive closes the connection once nothing has been received for the peer timeout, and otherwise rearms itself.
func (c *Connection) _checkAlive() {
	if c.state == connClosed {
		return
	}
	timeout := c.transport.config.peerTimeout
	idle := time.Since(c.lastRecv)
	if idle >= timeout {
		c.log.Debug("Connection timed out")
		c._close(TimeoutError{})
		return
	}
	c.aliveTimer.Stop()
	c.aliveTimer = time.AfterFunc(timeout-idle, func() {
		c.Act(nil, c._checkAlive)
	})
}

// _sent rearms the keepalive, which only fires if nothing else goes out first.
func (c *Connection) _sent() {
	c.lastSend = time.Now()
	c.keepTimer.Stop()
	c.keepTimer = time.AfterFunc(c.transport.config.keepAliveDelay, func() {
		c.Act(nil, func() {
			if c.state != connConnected || time.Since(c.lastSend) < c.transport.config.keepAliveDelay {
				return
			}
			c.transport.enqueue(c.loc, c._seal(wireTraffic, nil), PriorityKeepAlive, nil, true)
			c._sent()
		})
	})
}

func (c *Connection) _close(err error) {
	if c.state == connClosed {
		return
	}
	c.state = connClosed
	c.err = err
	c.initTimer.Stop()
	c.aliveTimer.Stop()
	c.keepTimer.Stop()
	for _, p := range c.pending {
		p.result <- ClosedError{}
	}
	c.pending = nil
	close(c.done)
	c.transport.removeConnection(c)
	if c.listener.Disconnected != nil {
		c.listener.Disconnected(c)
	}
}
