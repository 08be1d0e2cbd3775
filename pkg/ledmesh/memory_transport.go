package ledmesh

import (
	"sync"
)

// DropFunc decides whether a datagram sent by transport from is lost on
// its way to transport to.
type DropFunc func(from, to int, data []byte) bool

// MemoryNetwork is an in-process broadcast medium. Delivery is synchronous:
// Broadcast returns once every receiver has been called.
type MemoryNetwork struct {
	DropFunc DropFunc

	transports []*MemoryTransport
	mu         sync.Mutex
}

type MemoryTransport struct {
	Id int

	network     *MemoryNetwork
	receiveFunc ReceiveFunc
	closed      bool
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{}
}

func (nw *MemoryNetwork) NewTransport() *MemoryTransport {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	t := &MemoryTransport{
		Id:      len(nw.transports),
		network: nw,
	}

	nw.transports = append(nw.transports, t)

	return t
}

func (nw *MemoryNetwork) SetDropFunc(fn DropFunc) {
	nw.mu.Lock()
	nw.DropFunc = fn
	nw.mu.Unlock()
}

func (nw *MemoryNetwork) deliver(from int, data []byte) {
	type delivery struct {
		fn   ReceiveFunc
		data []byte
	}

	var deliveries []delivery

	nw.mu.Lock()
	for _, t := range nw.transports {
		if t.Id == from || t.closed || t.receiveFunc == nil {
			continue
		}

		if nw.DropFunc != nil && nw.DropFunc(from, t.Id, data) {
			continue
		}

		datagram := make([]byte, len(data))
		copy(datagram, data)

		deliveries = append(deliveries, delivery{t.receiveFunc, datagram})
	}
	nw.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.data)
	}
}

func (t *MemoryTransport) Broadcast(data []byte) error {
	t.network.deliver(t.Id, data)
	return nil
}

func (t *MemoryTransport) SetReceiveFunc(fn ReceiveFunc) {
	t.network.mu.Lock()
	t.receiveFunc = fn
	t.network.mu.Unlock()
}

func (t *MemoryTransport) Close() error {
	t.network.mu.Lock()
	t.closed = true
	t.network.mu.Unlock()

	return nil
}
