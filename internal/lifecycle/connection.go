// Package lifecycle implements the connection lifecycle: directory
// bootstrap, transport connect, PSK handshake, manifest fetch, the
// steady-state periodic timers, and cooperative teardown. Each
// Connection owns exactly one transport endpoint, one security
// session, and one RpcSession for its lifetime.
package lifecycle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zoneward/rpcrt/internal/directory"
	"github.com/zoneward/rpcrt/internal/grain"
	"github.com/zoneward/rpcrt/internal/metrics"
	"github.com/zoneward/rpcrt/internal/rpcsession"
	"github.com/zoneward/rpcrt/internal/security"
	"github.com/zoneward/rpcrt/internal/transport"
)

// GameGrainKey and PlayerGrainKey name the two canonical grains every
// action server exposes.
const (
	GameGrainKey   = "game"
	PlayerGrainKey = "player"
)

// Observer receives the lifecycle's connect and zone-transition callbacks.
type Observer interface {
	OnConnected(serverID string)
	OnServerChanged(serverID string)
	OnDisconnected(reason string)
}

// NoopObserver implements Observer with no-ops, for callers that only
// want to poll WorldState() rather than subscribe to callbacks.
type NoopObserver struct{}

func (NoopObserver) OnConnected(string)     {}
func (NoopObserver) OnServerChanged(string) {}
func (NoopObserver) OnDisconnected(string)  {}

// Params configures one Connect call.
type Params struct {
	PlayerID         string
	PSK              []byte
	SecurityMode     security.Mode
	HandshakeTimeout time.Duration
	ManifestRetries  int
	WorldStatePeriod time.Duration
	HeartbeatPeriod  time.Duration
	ZonesPeriod      time.Duration
	ResolverAddr     string
	Logger           *slog.Logger
	Metrics          *metrics.Collector
	Observer         Observer
}

func (p *Params) setDefaults() {
	if p.HandshakeTimeout <= 0 {
		p.HandshakeTimeout = 10 * time.Second
	}
	if p.ManifestRetries <= 0 {
		p.ManifestRetries = 3
	}
	if p.WorldStatePeriod <= 0 {
		p.WorldStatePeriod = 16 * time.Millisecond
	}
	if p.HeartbeatPeriod <= 0 {
		p.HeartbeatPeriod = 5 * time.Second
	}
	if p.ZonesPeriod <= 0 {
		p.ZonesPeriod = 2 * time.Second
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Observer == nil {
		p.Observer = NoopObserver{}
	}
}

// Connection is one live client-side session against an action server,
// owning exactly one transport endpoint, one security session, and one
// RpcSession, per the runtime's resource ceilings.
type Connection struct {
	params Params
	server directory.ActionServer

	transport *transport.UDPTransport
	connID    transport.ConnectionID
	security  *security.Session
	session   *rpcsession.Session

	gameGrain   grain.GameGrain
	playerGrain grain.PlayerGrain

	establishedAt time.Time

	mu           sync.Mutex
	sequenceNum  int64
	lastSnapshot grain.WorldState

	timers       []*time.Ticker
	zonesTickerC <-chan time.Time
	stopTickers  chan struct{}
	tickersOnce  sync.Once
	tickersWG    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// ServerID returns the owning action server's id.
func (c *Connection) ServerID() string { return c.server.ServerID }

// EstablishedAt reports when the handshake completed, used by the zone
// controller's neighbour-pool hit path to reset eviction eligibility.
func (c *Connection) EstablishedAt() time.Time { return c.establishedAt }

func (c *Connection) touchEstablished() { c.establishedAt = time.Now() }

// LastWorldState returns the most recently accepted world-state
// snapshot and its sequence number (I2: regressions already discarded
// by onWorldStatePoll).
func (c *Connection) LastWorldState() (grain.WorldState, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSnapshot, c.sequenceNum
}

// resetSequence implements transition procedure step 6: the
// client-visible sequence number resets to -1 across a zone change.
func (c *Connection) resetSequence() {
	c.mu.Lock()
	c.sequenceNum = -1
	c.mu.Unlock()
}

func manifestRetryPolicy(maxAttempts int) backoff.BackOff {
	delays := []time.Duration{500 * time.Millisecond, 800 * time.Millisecond, 1100 * time.Millisecond}
	if maxAttempts <= 0 || maxAttempts > len(delays) {
		maxAttempts = len(delays)
	}
	return backoff.WithMaxRetries(&progressiveBackOff{delays: delays[:maxAttempts]}, uint64(maxAttempts-1))
}

// progressiveBackOff replays a fixed, explicit delay sequence rather
// than an exponential curve, matching this runtime's resolved
// manifest-retry schedule (500, 800, 1100 ms) exactly.
type progressiveBackOff struct {
	delays []time.Duration
	idx    int
}

func (b *progressiveBackOff) Reset() { b.idx = 0 }

func (b *progressiveBackOff) NextBackOff() time.Duration {
	if b.idx >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.idx]
	b.idx++
	return d
}
