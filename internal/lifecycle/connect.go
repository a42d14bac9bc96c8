package lifecycle

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zoneward/rpcrt/internal/directory"
	"github.com/zoneward/rpcrt/internal/grain"
	"github.com/zoneward/rpcrt/internal/rpcerrors"
	"github.com/zoneward/rpcrt/internal/rpcsession"
	"github.com/zoneward/rpcrt/internal/security"
	"github.com/zoneward/rpcrt/internal/transport"
)

// Connect performs the full connect sequence against an already
// directory-resolved server, bringing one Connection to Ready.
// omitTimers skips step 7's three periodic timers, used by the zone
// controller's neighbour-pool warm connects.
func Connect(ctx context.Context, server directory.ActionServer, params Params, omitTimers bool) (*Connection, error) {
	params.setDefaults()

	if !directory.ValidServerInfo(server) {
		return nil, &rpcerrors.ConnectError{Code: rpcerrors.ConnectInvalidServerInfo, Err: fmt.Errorf("server %q: incomplete locator", server.ServerID)}
	}

	host := server.IPAddress
	resolved, err := resolveHost(ctx, host, params.ResolverAddr)
	if err != nil {
		params.Logger.Warn("host resolution failed, falling back to loopback", "host", host, "error", err)
		resolved = "127.0.0.1"
	}
	remote := net.JoinHostPort(resolved, fmt.Sprintf("%d", server.RPCPort))

	tr := transport.NewUDPTransport(params.Logger)
	connID, err := tr.Connect(ctx, remote, params.HandshakeTimeout)
	if err != nil {
		return nil, &rpcerrors.ConnectError{Code: rpcerrors.ConnectNetwork, Err: err}
	}

	hsCtx, cancel := context.WithTimeout(ctx, params.HandshakeTimeout)
	defer cancel()

	sec, err := runClientHandshake(hsCtx, tr, connID, params)
	if err != nil {
		_ = tr.Close()
		return nil, &rpcerrors.ConnectError{Code: rpcerrors.ConnectSecurityFailed, Err: err}
	}

	c := &Connection{
		params:      params,
		server:      server,
		transport:   tr,
		connID:      connID,
		security:    sec,
		sequenceNum: -1,
		closed:      make(chan struct{}),
		stopTickers: make(chan struct{}),
	}
	c.touchEstablished()

	c.session = rpcsession.NewSession(c.sendApplicationFrame, params.Logger, nil)
	c.gameGrain = grain.NewGameGrain(grain.Handle{GrainKey: GameGrainKey, Session: c.session})
	c.playerGrain = grain.NewPlayerGrain(grain.Handle{GrainKey: PlayerGrainKey, Session: c.session})

	go c.recvLoop()

	if err := fetchManifestWithRetry(ctx, c.session, params); err != nil {
		c.teardownInternal("manifest_unavailable")
		return nil, &rpcerrors.ConnectError{Code: rpcerrors.ConnectManifestUnavail, Err: err}
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, params.HandshakeTimeout)
	defer probeCancel()
	if _, err := c.gameGrain.GetWorldState(probeCtx, grain.CallOptions{Deadline: params.HandshakeTimeout}); err != nil {
		c.teardownInternal("probe_failed")
		return nil, &rpcerrors.ConnectError{Code: rpcerrors.ConnectNetwork, Err: fmt.Errorf("probe call failed: %w", err)}
	}

	if !omitTimers {
		c.startTimers()
	}

	params.Observer.OnConnected(server.ServerID)
	return c, nil
}

// runClientHandshake drives ClientHandshake to Live, returning the
// resulting protected Session. ModeNone skips the wire exchange
// entirely and returns a plaintext Session.
func runClientHandshake(ctx context.Context, tr *transport.UDPTransport, connID transport.ConnectionID, params Params) (*security.Session, error) {
	if params.SecurityMode == security.ModeNone {
		return security.NewPlaintextSession(params.Logger), nil
	}

	ch := security.NewClientHandshake(params.PlayerID, params.PSK)

	hello := ch.Start()
	if err := <-tr.Send(connID, transport.ReliableOrdered, hello); err != nil {
		return nil, err
	}

	challengeFrame, err := awaitFrame(ctx, tr, security.FrameChallenge)
	if err != nil {
		return nil, err
	}
	response, err := ch.OnChallenge(challengeFrame)
	if err != nil {
		return nil, err
	}
	if err := <-tr.Send(connID, transport.ReliableOrdered, response); err != nil {
		return nil, err
	}

	ackFrame, err := awaitFrame(ctx, tr, security.FrameAck)
	if err != nil {
		return nil, err
	}
	if err := security.DecodeAck(ackFrame); err != nil {
		return nil, err
	}
	if err := ch.OnAck(nil); err != nil {
		return nil, err
	}

	return security.NewSession(ch.Keys.ClientToServer, ch.Keys.ServerToClient, 0, params.Logger)
}

// awaitFrame blocks on the transport's event stream for the next
// EventDataReceived datagram whose leading byte matches want,
// discarding any unrelated events (e.g. a stray PeerConnected).
func awaitFrame(ctx context.Context, tr *transport.UDPTransport, want security.FrameType) ([]byte, error) {
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				return nil, fmt.Errorf("security: transport closed during handshake")
			}
			if ev.Kind != transport.EventDataReceived || len(ev.Data) == 0 {
				continue
			}
			if security.FrameType(ev.Data[0]) == want {
				return ev.Data, nil
			}
		case <-ctx.Done():
			return nil, &rpcerrors.SecurityError{Code: rpcerrors.SecurityHandshakeTimeout, Err: ctx.Err()}
		}
	}
}

// fetchManifestWithRetry implements the connect sequence's manifest step: up to params.ManifestRetries
// attempts with the progressive 500/800/1100ms schedule.
func fetchManifestWithRetry(ctx context.Context, session *rpcsession.Session, params Params) error {
	policy := backoff.WithContext(manifestRetryPolicy(params.ManifestRetries), ctx)
	return backoff.Retry(func() error {
		if err := session.RequestManifest(); err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
		defer cancel()
		return session.AwaitManifest(waitCtx)
	}, policy)
}

// sendApplicationFrame is the rpcsession.SendFunc: wraps one
// plaintext application frame through the security session and sends
// it reliable-ordered over the transport.
func (c *Connection) sendApplicationFrame(frame []byte) error {
	wrapped := c.security.Wrap(frame)
	return <-c.transport.Send(c.connID, transport.ReliableOrdered, wrapped)
}

// recvLoop is the Connection's serial executor: it owns all
// inbound datagram processing for this Connection for its lifetime.
func (c *Connection) recvLoop() {
	for {
		select {
		case ev, ok := <-c.transport.Events():
			if !ok {
				return
			}
			c.handleEvent(ev)
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventDataReceived:
		c.handleInboundDatagram(ev.Data)
	case transport.EventNetworkError:
		c.params.Logger.Error("connection network error", "server", c.server.ServerID, "error", ev.Err)
		c.teardownInternal("network_error")
	case transport.EventPeerClosed:
		c.teardownInternal("peer_closed")
	}
}

func (c *Connection) handleInboundDatagram(datagram []byte) {
	plaintext, err := c.security.Unwrap(datagram)
	if err != nil {
		c.params.Logger.Warn("dropped undecryptable datagram", "server", c.server.ServerID, "error", err)
		if c.security.IsFatal() {
			c.teardownInternal("security_failure_threshold")
		}
		return
	}

	if err := c.session.HandleInbound(plaintext); err != nil {
		c.params.Logger.Error("protocol error, tearing down connection", "server", c.server.ServerID, "error", err)
		c.teardownInternal("protocol_error")
	}
}

// onWorldStatePoll implements the world-state poll timer's body: issue
// GetWorldState and apply I2 (discard sequence-number regressions).
func (c *Connection) onWorldStatePoll(ctx context.Context) {
	ws, err := c.gameGrain.GetWorldState(ctx, grain.CallOptions{Deadline: 200 * time.Millisecond})
	if err != nil {
		return
	}
	c.mu.Lock()
	if ws.SequenceNumber > c.sequenceNum {
		c.sequenceNum = ws.SequenceNumber
		c.lastSnapshot = ws
	}
	c.mu.Unlock()
}
