package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zoneward/rpcrt/internal/grain"
	"github.com/zoneward/rpcrt/internal/metrics"
	"github.com/zoneward/rpcrt/internal/rpcsession"
	"github.com/zoneward/rpcrt/internal/security"
	"github.com/zoneward/rpcrt/internal/transport"
	"github.com/zoneward/rpcrt/internal/wire"
)

// manifest is the fixed interface table this action server advertises
// to every connecting client: IGameGrain's world-state query and
// IPlayerGrain's connect/disconnect pair.
var manifest = []rpcsession.InterfaceDescriptor{
	{
		TypeName: "IGameGrain", TypeID: 1,
		Methods: []rpcsession.MethodDescriptor{
			{Selector: "GetWorldState()", InvokableAlias: wire.NewInvokableAlias("IGameGrain", "GetWorldState").String()},
		},
	},
	{
		TypeName: "IPlayerGrain", TypeID: 2,
		Methods: []rpcsession.MethodDescriptor{
			{Selector: "ConnectPlayer(System.String)", InvokableAlias: wire.NewInvokableAlias("IPlayerGrain", "ConnectPlayer", "System.String").String()},
			{Selector: "Disconnect()", InvokableAlias: wire.NewInvokableAlias("IPlayerGrain", "Disconnect").String()},
		},
	},
}

var (
	getWorldStateAlias = wire.NewInvokableAlias("IGameGrain", "GetWorldState").String()
	connectPlayerAlias = wire.NewInvokableAlias("IPlayerGrain", "ConnectPlayer", "System.String").String()
	disconnectAlias    = wire.NewInvokableAlias("IPlayerGrain", "Disconnect").String()
)

// peerSession is one client's handshake and post-handshake state,
// keyed by transport.ConnectionID.
type peerSession struct {
	connID transport.ConnectionID

	mu        sync.Mutex
	handshake *security.ServerHandshake
	sess      *security.Session
	playerID  string
	lastSeen  time.Time
}

func (p *peerSession) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *peerSession) idleSince() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastSeen)
}

// hub demultiplexes one UDPTransport's event stream across concurrent
// peer handshakes and live RPC sessions.
type hub struct {
	tr      *transport.UDPTransport
	world   *world
	pskSrc  security.PSKSource
	mode    security.Mode
	logger  *slog.Logger
	metrics *metrics.Collector
	idleTTL time.Duration

	mu    sync.RWMutex
	peers map[transport.ConnectionID]*peerSession
}

func newHub(tr *transport.UDPTransport, w *world, pskSrc security.PSKSource, mode security.Mode, logger *slog.Logger, collector *metrics.Collector, idleTTL time.Duration) *hub {
	return &hub{
		tr:      tr,
		world:   w,
		pskSrc:  pskSrc,
		mode:    mode,
		logger:  logger,
		metrics: collector,
		idleTTL: idleTTL,
		peers:   make(map[transport.ConnectionID]*peerSession),
	}
}

// run drains transport events until ctx is cancelled or the event
// channel closes.
func (h *hub) run(ctx context.Context) {
	go h.cleanupLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.tr.Events():
			if !ok {
				return
			}
			h.handleEvent(ctx, ev)
		}
	}
}

// peerFor returns the peerSession for connID, creating it on first
// sight. In security.ModeNone there is no HELLO to wait for (the
// client skips the wire exchange entirely, see lifecycle.runClientHandshake),
// so a fresh peer is handed a live plaintext Session immediately.
func (h *hub) peerFor(connID transport.ConnectionID) *peerSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[connID]
	if !ok {
		p = &peerSession{connID: connID, lastSeen: time.Now()}
		if h.mode == security.ModeNone {
			p.sess = security.NewPlaintextSession(h.logger)
		}
		h.peers[connID] = p
		if h.metrics != nil {
			h.metrics.ActiveConnections.Inc()
		}
	}
	return p
}

func (h *hub) removePeer(connID transport.ConnectionID) {
	h.mu.Lock()
	p, ok := h.peers[connID]
	delete(h.peers, connID)
	h.mu.Unlock()
	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.ActiveConnections.Dec()
	}
	if p.playerID != "" {
		h.world.disconnect(p.playerID)
	}
}

func (h *hub) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventPeerClosed, transport.EventNetworkError:
		h.removePeer(ev.ConnID)
		return
	case transport.EventPeerConnected:
		h.peerFor(ev.ConnID)
		return
	case transport.EventDataReceived:
		// handled below
	default:
		return
	}

	if len(ev.Data) == 0 {
		return
	}
	p := h.peerFor(ev.ConnID)
	p.touch()

	p.mu.Lock()
	sess := p.sess
	hs := p.handshake
	p.mu.Unlock()

	if sess != nil {
		h.handleEncrypted(ctx, p, sess, ev.Data)
		return
	}
	h.handleHandshake(ctx, p, hs, ev.Data)
}

func (h *hub) handleHandshake(ctx context.Context, p *peerSession, hs *security.ServerHandshake, frame []byte) {
	if len(frame) == 0 {
		return
	}
	switch security.FrameType(frame[0]) {
	case security.FrameHello:
		hs = security.NewServerHandshake()
		challenge, err := hs.OnHello(ctx, frame, h.pskSrc)
		if err != nil {
			h.logger.Warn("handshake hello rejected", slog.String("connId", string(p.connID)), slog.String("error", err.Error()))
			if h.metrics != nil {
				h.metrics.HandshakeFailures.Inc()
			}
			return
		}
		p.mu.Lock()
		p.handshake = hs
		p.mu.Unlock()
		<-h.tr.Send(p.connID, transport.ReliableOrdered, challenge)

	case security.FrameResponse:
		if hs == nil {
			return
		}
		if err := hs.OnResponse(frame); err != nil {
			h.logger.Warn("handshake response rejected", slog.String("connId", string(p.connID)), slog.String("error", err.Error()))
			if h.metrics != nil {
				h.metrics.HandshakeFailures.Inc()
			}
			return
		}
		sess, err := security.NewSession(hs.Keys.ServerToClient, hs.Keys.ClientToServer, 0, h.logger)
		if err != nil {
			h.logger.Error("session derivation failed", slog.String("error", err.Error()))
			return
		}
		p.mu.Lock()
		p.sess = sess
		p.playerID = hs.PlayerID()
		p.mu.Unlock()
		h.world.connect(hs.PlayerID())
		<-h.tr.Send(p.connID, transport.ReliableOrdered, security.EncodeAck())

	default:
		// stray plaintext frame outside the handshake window; ignore.
	}
}

func (h *hub) handleEncrypted(ctx context.Context, p *peerSession, sess *security.Session, datagram []byte) {
	plaintext, err := sess.Unwrap(datagram)
	if err != nil {
		h.logger.Warn("dropping undecryptable frame", slog.String("connId", string(p.connID)), slog.String("error", err.Error()))
		if sess.IsFatal() {
			h.tr.ClosePeer(p.connID)
		}
		return
	}

	kind, err := rpcsession.PeekKind(plaintext)
	if err != nil {
		return
	}

	switch kind {
	case rpcsession.KindManifestRequest:
		reply := rpcsession.EncodeManifestReply(manifest)
		<-h.tr.Send(p.connID, transport.ReliableOrdered, sess.Wrap(reply))

	case rpcsession.KindRequest:
		h.handleRequest(ctx, p, sess, plaintext)

	case rpcsession.KindControl:
		h.handleControl(p, sess, plaintext)

	case rpcsession.KindCancel:
		// Best-effort server: in-flight calls here complete
		// synchronously, so there is nothing to cancel.
	}
}

func (h *hub) handleRequest(ctx context.Context, p *peerSession, sess *security.Session, plaintext []byte) {
	req, err := rpcsession.DecodeRequest(plaintext)
	if err != nil {
		return
	}

	resp := rpcsession.ResponseFrame{RequestID: req.RequestID}

	switch req.InvokableAlias {
	case getWorldStateAlias:
		resp.Status = rpcsession.StatusOk
		resp.Body = grain.EncodeWorldState(h.world.snapshot())

	case connectPlayerAlias:
		playerID, decErr := decodeConnectPlayerArgs(req.Body)
		if decErr != nil {
			resp.Status = rpcsession.StatusError
			resp.ErrCode = "bad_args"
			resp.ErrMsg = decErr.Error()
			break
		}
		h.world.connect(playerID)
		resp.Status = rpcsession.StatusOk
		resp.Body = encodeConnectPlayerReply("SUCCESS")

	case disconnectAlias:
		p.mu.Lock()
		playerID := p.playerID
		p.mu.Unlock()
		if playerID != "" {
			h.world.disconnect(playerID)
		}
		resp.Status = rpcsession.StatusOk

	default:
		resp.Status = rpcsession.StatusError
		resp.ErrCode = "unknown_method"
		resp.ErrMsg = req.InvokableAlias
	}

	<-h.tr.Send(p.connID, transport.ReliableOrdered, sess.Wrap(rpcsession.EncodeResponse(resp)))
}

func (h *hub) handleControl(p *peerSession, sess *security.Session, plaintext []byte) {
	ctrl, err := rpcsession.DecodeControl(plaintext)
	if err != nil {
		return
	}
	switch ctrl.Kind {
	case rpcsession.ControlPing:
		pong := rpcsession.EncodeControl(rpcsession.ControlFrame{Kind: rpcsession.ControlPong})
		<-h.tr.Send(p.connID, transport.Unreliable, sess.Wrap(pong))
	case rpcsession.ControlClose:
		h.tr.ClosePeer(p.connID)
	case rpcsession.ControlPong:
		// server does not ping clients; nothing to do.
	}
}

func decodeConnectPlayerArgs(body []byte) (string, error) {
	d := wire.NewDecoder(body)
	if _, _, err := d.StartObject(); err != nil {
		return "", err
	}
	fr := &wire.Frame{}
	if _, _, err := d.ReadField(fr); err != nil {
		return "", err
	}
	playerID, err := d.ReadString()
	if err != nil {
		return "", err
	}
	return playerID, d.EndObject()
}

func encodeConnectPlayerReply(reply string) []byte {
	e := wire.NewEncoder()
	e.WriteString(reply)
	return e.Bytes()
}

// cleanupLoop evicts peers that have gone silent for longer than
// idleTTL.
func (h *hub) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(h.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stale []transport.ConnectionID
			h.mu.RLock()
			for connID, p := range h.peers {
				if p.idleSince() > h.idleTTL {
					stale = append(stale, connID)
				}
			}
			h.mu.RUnlock()
			for _, connID := range stale {
				h.tr.ClosePeer(connID)
				h.removePeer(connID)
			}
		}
	}
}

