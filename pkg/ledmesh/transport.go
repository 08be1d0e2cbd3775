package ledmesh

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// ReceiveFunc is called for every datagram received by a transport. The
// data buffer belongs to the callee.
type ReceiveFunc func(data []byte)

// Transport is a best-effort broadcast datagram link. Datagrams can be
// lost, duplicated or reordered.
type Transport interface {
	Broadcast(data []byte) error
	SetReceiveFunc(ReceiveFunc)
}

const DefaultMulticastAddress = "239.255.76.77:7677"

type UDPTransportCfg struct {
	Interface string
	Address   string
	TTL       int

	Logger Logger
}

// UDPTransport emulates a broadcast radio link with an IPv4 multicast
// group.
type UDPTransport struct {
	Cfg UDPTransportCfg
	Log Logger

	iface *net.Interface
	group *net.UDPAddr

	conn  *net.UDPConn
	pconn *ipv4.PacketConn

	receiveFunc ReceiveFunc
	mu          sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewUDPTransport(cfg UDPTransportCfg) (*UDPTransport, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultMulticastAddress
	}

	if cfg.TTL == 0 {
		cfg.TTL = 1
	}

	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	group, err := net.ResolveUDPAddr("udp4", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid multicast address %q: %w",
			cfg.Address, err)
	}

	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("address %q is not a multicast address",
			cfg.Address)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("cannot find interface %q: %w",
				cfg.Interface, err)
		}
	}

	t := &UDPTransport{
		Cfg: cfg,
		Log: cfg.Logger,

		iface: iface,
		group: group,

		stopChan: make(chan struct{}),
	}

	return t, nil
}

func (t *UDPTransport) Start() error {
	conn, err := net.ListenMulticastUDP("udp4", t.iface, t.group)
	if err != nil {
		return fmt.Errorf("cannot join multicast group %s: %w", t.group, err)
	}

	pconn := ipv4.NewPacketConn(conn)

	if err := pconn.SetMulticastTTL(t.Cfg.TTL); err != nil {
		conn.Close()
		return fmt.Errorf("cannot set multicast ttl: %w", err)
	}

	if err := pconn.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return fmt.Errorf("cannot enable multicast loopback: %w", err)
	}

	if t.iface != nil {
		if err := pconn.SetMulticastInterface(t.iface); err != nil {
			conn.Close()
			return fmt.Errorf("cannot set multicast interface: %w", err)
		}
	}

	t.conn = conn
	t.pconn = pconn

	t.Log.Info("listening on multicast group %s", t.group)

	t.wg.Add(1)
	go t.main()

	return nil
}

func (t *UDPTransport) Close() error {
	if t.conn == nil {
		return nil
	}

	close(t.stopChan)
	err := t.conn.Close()
	t.wg.Wait()

	return err
}

func (t *UDPTransport) SetReceiveFunc(fn ReceiveFunc) {
	t.mu.Lock()
	t.receiveFunc = fn
	t.mu.Unlock()
}

func (t *UDPTransport) Broadcast(data []byte) error {
	if t.pconn == nil {
		return fmt.Errorf("transport not started")
	}

	if _, err := t.pconn.WriteTo(data, nil, t.group); err != nil {
		return fmt.Errorf("cannot send datagram to %s: %w", t.group, err)
	}

	return nil
}

func (t *UDPTransport) main() {
	defer t.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			t.Log.Error("panic: %s\n%s", msg, trace)
		}
	}()

	buf := make([]byte, 2048)

	for {
		n, _, src, err := t.pconn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.stopChan:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			t.Log.Error("cannot read datagram: %v", err)
			continue
		}

		if n > MaxMsgSize {
			t.Log.Debug(2, "ignoring %d byte datagram from %v", n, src)
			continue
		}

		t.mu.Lock()
		fn := t.receiveFunc
		t.mu.Unlock()

		if fn == nil {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		fn(data)
	}
}
