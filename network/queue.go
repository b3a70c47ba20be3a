package network

import (
	"container/heap"
	"net/netip"
	"sync"
)

// queuedDatagram is one outbound datagram waiting for the send worker.
type queuedDatagram struct {
	dest     netip.AddrPort
	data     []byte
	priority float64
	seq      uint64 // insertion order, breaks priority ties
	result   chan<- error
	pooled   bool // data came from allocBytes and goes back after sending
}

func (qd *queuedDatagram) resolve(err error) {
	if qd.result != nil {
		qd.result <- err
	}
	if qd.pooled {
		freeBytes(qd.data)
	}
	qd.data = nil
}

// sendQueue is the transport's outbox, ordered by ascending priority and then by arrival.
type sendQueue struct {
	mutex  sync.Mutex
	items  datagramHeap
	seq    uint64
	size   uint64
	closed bool
	signal chan struct{}
}

func (q *sendQueue) init() {
	q.signal = make(chan struct{}, 1)
}

// push adds a datagram, returning false if the queue has been closed.
func (q *sendQueue) push(qd *queuedDatagram) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return false
	}
	qd.seq = q.seq
	q.seq++
	q.size += uint64(len(qd.data))
	heap.Push(&q.items, qd)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop removes the most urgent datagram, if there is one.
func (q *sendQueue) pop() (*queuedDatagram, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	qd := heap.Pop(&q.items).(*queuedDatagram)
	q.size -= uint64(len(qd.data))
	return qd, true
}

// close stops accepting datagrams and returns everything still queued.
func (q *sendQueue) close() []*queuedDatagram {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.closed = true
	items := q.items
	q.items = nil
	q.size = 0
	return items
}

func (q *sendQueue) stats() (count int, size uint64) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items), q.size
}

////////////////////////////////////////////////////////////////////////////////

// Interface methods for datagramHeap to satisfy heap.Interface

type datagramHeap []*queuedDatagram

func (h datagramHeap) Len() int {
	return len(h)
}

func (h datagramHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h datagramHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *datagramHeap) Push(x interface{}) {
	*h = append(*h, x.(*queuedDatagram))
}

func (h *datagramHeap) Pop() interface{} {
	old := *h
	idx := len(old) - 1
	qd := old[idx]
	old[idx] = nil
	*h = old[:idx]
	return qd
}
