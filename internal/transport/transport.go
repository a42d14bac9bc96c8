package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoneward/rpcrt/internal/rpcerrors"
)

// ConnectionID identifies one peer association on a Transport. For the
// UDP implementation this is the remote address's string form.
type ConnectionID string

// EventKind enumerates the Transport event stream's variants.
type EventKind int

const (
	EventDataReceived EventKind = iota
	EventPeerConnected
	EventPeerClosed
	EventNetworkError
)

// Event is the single type produced by Transport.Events().
type Event struct {
	Kind   EventKind
	ConnID ConnectionID
	Data   []byte
	Reason string
	Err    error
}

// Transport is the datagram transport abstraction (C2).
type Transport interface {
	Bind(addr string) error
	Connect(ctx context.Context, remote string, timeout time.Duration) (ConnectionID, error)
	Send(cid ConnectionID, class DeliveryClass, payload []byte) <-chan error
	Events() <-chan Event
	Close() error
}

const (
	defaultRTO        = 150 * time.Millisecond
	defaultMaxRetries = 6
	eventBufferSize   = 256
)

type peerState struct {
	addr net.Addr

	mu              sync.Mutex
	nextReliableSeq uint32
	pendingAckSeq   uint32
	pendingAckCh    chan struct{}
	haveInbound     bool
	inboundExpected uint32

	nextSequencedSeq  uint32
	haveRecvSequenced bool
	recvSequencedLast uint32

	connected int32 // atomic bool, 1 once PeerConnected has been emitted
}

// UDPTransport implements Transport over a single net.PacketConn,
// demultiplexing peers by remote address, matching the reference
// transport's Hub-over-one-socket shape in hub.go.
type UDPTransport struct {
	pc     net.PacketConn
	logger *slog.Logger

	mu    sync.RWMutex
	peers map[ConnectionID]*peerState

	events chan Event
	sched  *scheduler

	rto        time.Duration
	maxRetries int

	closeOnce sync.Once
	closed    chan struct{}
}

func NewUDPTransport(logger *slog.Logger) *UDPTransport {
	return &UDPTransport{
		logger:     logger,
		peers:      make(map[ConnectionID]*peerState),
		events:     make(chan Event, eventBufferSize),
		rto:        defaultRTO,
		maxRetries: defaultMaxRetries,
		closed:     make(chan struct{}),
	}
}

func (t *UDPTransport) Bind(addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return &rpcerrors.TransportError{Code: "bind_failed", Err: err}
	}
	t.pc = pc
	t.sched = newScheduler(t.writeTo)
	go t.receiveLoop()
	return nil
}

func (t *UDPTransport) Connect(ctx context.Context, remote string, timeout time.Duration) (ConnectionID, error) {
	if t.pc == nil {
		pc, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return "", &rpcerrors.TransportError{Code: "bind_failed", Err: err}
		}
		t.pc = pc
		t.sched = newScheduler(t.writeTo)
		go t.receiveLoop()
	}

	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return "", &rpcerrors.TransportError{Code: "resolve_failed", Err: err}
	}
	cid := ConnectionID(raddr.String())

	t.mu.Lock()
	if _, ok := t.peers[cid]; !ok {
		t.peers[cid] = &peerState{addr: raddr}
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", &rpcerrors.TransportError{Code: "handshake_timeout", Err: ctx.Err()}
	case <-time.After(0):
	}
	_ = timeout
	return cid, nil
}

func (t *UDPTransport) writeTo(addrKey string, payload []byte) error {
	t.mu.RLock()
	p, ok := t.peers[ConnectionID(addrKey)]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: unknown peer %s", addrKey)
	}
	_, err := t.pc.WriteTo(payload, p.addr)
	return err
}

func (t *UDPTransport) Send(cid ConnectionID, class DeliveryClass, payload []byte) <-chan error {
	result := make(chan error, 1)

	t.mu.RLock()
	p, ok := t.peers[cid]
	t.mu.RUnlock()
	if !ok {
		result <- &rpcerrors.TransportError{Code: "unknown_connection"}
		return result
	}

	switch class {
	case ReliableOrdered:
		go t.sendReliable(cid, p, payload, result)
	case Unreliable:
		t.sched.enqueue(class.lane(), string(cid), encodePhysFrame(physUnreliableData, 0, payload))
		result <- nil
	case UnreliableSequenced:
		seq := atomic.AddUint32(&p.nextSequencedSeq, 1)
		t.sched.enqueue(class.lane(), string(cid), encodePhysFrame(physSequencedData, seq, payload))
		result <- nil
	default:
		result <- fmt.Errorf("transport: unknown delivery class %v", class)
	}
	return result
}

func (t *UDPTransport) sendReliable(cid ConnectionID, p *peerState, payload []byte, result chan<- error) {
	p.mu.Lock()
	seq := p.nextReliableSeq
	p.nextReliableSeq++
	ackCh := make(chan struct{})
	p.pendingAckSeq = seq
	p.pendingAckCh = ackCh
	p.mu.Unlock()

	frame := encodePhysFrame(physReliableData, seq, payload)

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		t.sched.enqueue(ReliableOrdered.lane(), string(cid), frame)
		select {
		case <-ackCh:
			result <- nil
			return
		case <-time.After(t.rto):
			continue
		case <-t.closed:
			result <- &rpcerrors.TransportError{Code: "closed"}
			return
		}
	}
	result <- &rpcerrors.TransportError{Code: "retries_exhausted", Err: fmt.Errorf("no ack for reliable seq %d after %d attempts", seq, t.maxRetries)}
}

func (t *UDPTransport) receiveLoop() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := t.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			t.emit(Event{Kind: EventNetworkError, Err: err})
			return
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		t.handleDatagram(addr, datagram)
	}
}

func (t *UDPTransport) handleDatagram(addr net.Addr, datagram []byte) {
	cid := ConnectionID(addr.String())

	t.mu.Lock()
	p, ok := t.peers[cid]
	if !ok {
		p = &peerState{addr: addr}
		t.peers[cid] = p
	}
	t.mu.Unlock()

	if atomic.CompareAndSwapInt32(&p.connected, 0, 1) {
		t.emit(Event{Kind: EventPeerConnected, ConnID: cid})
	}

	pt, seq, payload, ok := decodePhysFrame(datagram)
	if !ok {
		return
	}

	switch pt {
	case physReliableAck:
		p.mu.Lock()
		if p.pendingAckCh != nil && p.pendingAckSeq == seq {
			close(p.pendingAckCh)
			p.pendingAckCh = nil
		}
		p.mu.Unlock()

	case physReliableData:
		ack := encodePhysFrame(physReliableAck, seq, nil)
		t.sched.enqueue(laneHigh, string(cid), ack)

		p.mu.Lock()
		deliver := false
		if !p.haveInbound {
			p.haveInbound = true
			p.inboundExpected = seq + 1
			deliver = true
		} else if seq == p.inboundExpected {
			p.inboundExpected = seq + 1
			deliver = true
		}
		p.mu.Unlock()

		if deliver {
			t.emit(Event{Kind: EventDataReceived, ConnID: cid, Data: payload})
		}

	case physUnreliableData:
		t.emit(Event{Kind: EventDataReceived, ConnID: cid, Data: payload})

	case physSequencedData:
		p.mu.Lock()
		deliver := !p.haveRecvSequenced || seq > p.recvSequencedLast
		if deliver {
			p.haveRecvSequenced = true
			p.recvSequencedLast = seq
		}
		p.mu.Unlock()
		if deliver {
			t.emit(Event{Kind: EventDataReceived, ConnID: cid, Data: payload})
		}
	}
}

func (t *UDPTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.closed:
	default:
		// Event channel full: drop rather than block the receive loop.
		// A sustained full channel indicates the consumer has stalled;
		// logging here would itself risk blocking under load.
	}
}

func (t *UDPTransport) Events() <-chan Event { return t.events }

// LocalAddr returns the bound local address, valid after Bind or
// Connect has run at least once.
func (t *UDPTransport) LocalAddr() net.Addr {
	if t.pc == nil {
		return nil
	}
	return t.pc.LocalAddr()
}

// ClosePeer releases local bookkeeping for one connection (does not
// send anything to the peer; higher layers send CONTROL Close first).
func (t *UDPTransport) ClosePeer(cid ConnectionID) {
	t.mu.Lock()
	delete(t.peers, cid)
	t.mu.Unlock()
	t.emit(Event{Kind: EventPeerClosed, ConnID: cid})
}

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.sched != nil {
			t.sched.Close()
		}
		if t.pc != nil {
			err = t.pc.Close()
		}
	})
	return err
}
