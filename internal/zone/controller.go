package zone

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zoneward/rpcrt/internal/directory"
	"github.com/zoneward/rpcrt/internal/grain"
	"github.com/zoneward/rpcrt/internal/lifecycle"
	"github.com/zoneward/rpcrt/internal/metrics"
	"github.com/zoneward/rpcrt/internal/rpcerrors"
)

const (
	boundaryCheckMinInterval = time.Second
	neighbourEvictionAge     = 10 * time.Second
)

// Controller drives boundary detection and the neighbour connection
// pool for one player's active Connection.
type Controller struct {
	directory *directory.Client
	pool      *NeighbourPool
	params    lifecycle.Params
	zoneSize  float64
	threshold float64
	logger    *slog.Logger
	metrics   *metrics.Collector

	mu                sync.Mutex
	active            *lifecycle.Connection
	lastBoundaryCheck time.Time
	transitioning     bool
}

// NewController wires a transition controller around an already-Ready
// Connection.
func NewController(dirClient *directory.Client, active *lifecycle.Connection, params lifecycle.Params, thresholdUnits float64, m *metrics.Collector) *Controller {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if thresholdUnits <= 0 {
		thresholdUnits = 50
	}
	return &Controller{
		directory: dirClient,
		pool:      NewNeighbourPool(),
		params:    params,
		zoneSize:  DefaultZoneSize,
		threshold: thresholdUnits,
		logger:    logger,
		metrics:   m,
		active:    active,
	}
}

// Active returns the currently active Connection.
func (c *Controller) Active() *lifecycle.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Run drives the controller until ctx is cancelled: boundary detection
// on every world-state poll tick, neighbour-pool maintenance on every
// available-zones poll tick.
func (c *Controller) Run(ctx context.Context) {
	boundaryTicker := time.NewTicker(c.params.WorldStatePeriod)
	defer boundaryTicker.Stop()

	for {
		active := c.Active()
		zonesC := active.ZonesPollChan()

		select {
		case <-ctx.Done():
			return
		case <-boundaryTicker.C:
			c.checkBoundary(ctx)
		case <-zonesC:
			c.maintainNeighbourPool(ctx)
		}
	}
}

// checkBoundary implements the boundary-detection and player-missing
// rules: a missing local-player entity is an immediate transition cue;
// otherwise a near-edge position schedules a probe once per second.
func (c *Controller) checkBoundary(ctx context.Context) {
	active := c.Active()
	ws, _ := active.LastWorldState()

	var found bool
	var px, py float64
	for _, e := range ws.Entities {
		if e.EntityID == c.params.PlayerID {
			found = true
			px, py = float64(e.Position.X), float64(e.Position.Y)
			break
		}
	}

	if c.metrics != nil {
		c.metrics.BoundaryChecks.Inc()
	}

	if !found {
		c.triggerProbe(ctx)
		return
	}

	c.mu.Lock()
	elapsed := time.Since(c.lastBoundaryCheck)
	c.mu.Unlock()
	if elapsed < boundaryCheckMinInterval {
		return
	}
	c.mu.Lock()
	c.lastBoundaryCheck = time.Now()
	c.mu.Unlock()

	if DistanceToEdge(px, py, c.zoneSize) < c.threshold {
		c.triggerProbe(ctx)
	}
}

// triggerProbe implements the transition probe: ask the directory who
// owns the player now, and schedule a transition on mismatch.
func (c *Controller) triggerProbe(ctx context.Context) {
	active := c.Active()
	target, ok, err := c.directory.PlayerServer(ctx, c.params.PlayerID)
	if err != nil {
		c.logger.Warn("zone transition probe failed", "error", err)
		return
	}
	if !ok {
		c.logger.Warn("zone transition probe: player not owned by any server", "playerId", c.params.PlayerID)
		return
	}
	if target.ServerID == active.ServerID() {
		return
	}
	if err := c.transition(ctx, target); err != nil {
		c.logger.Warn("zone transition failed", "target", target.ServerID, "error", err)
		if c.metrics != nil {
			var code string
			if te, ok := err.(*rpcerrors.TransitionError); ok {
				code = te.Code
			}
			c.metrics.ZoneTransitionFails.WithLabelValues(code).Inc()
		}
	}
}

// transition implements the 9-step atomic procedure.
func (c *Controller) transition(ctx context.Context, target directory.ActionServer) error {
	c.mu.Lock()
	if c.transitioning {
		c.mu.Unlock()
		return nil
	}
	c.transitioning = true
	departing := c.active
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.transitioning = false
		c.mu.Unlock()
	}()

	departing.StopTimersForTransition()

	key := GridSquare{X: target.AssignedSquare.X, Y: target.AssignedSquare.Y}.Key()

	var next *lifecycle.Connection
	hitPath := "miss"
	if warm, ok := c.pool.Take(key); ok {
		if err := warm.ConnectPlayer(ctx, c.params.PlayerID); err != nil {
			return &rpcerrors.TransitionError{Code: rpcerrors.TransitionConnectRejected, Err: err}
		}
		warm.ResetEstablishedForTransition()
		next = warm
		hitPath = "hit"
	} else {
		// Timers are installed uniformly below (transition procedure
		// step 7), after the post-transition probe succeeds, whether
		// this is a warm-pool hit or a freshly dialed connection.
		conn, err := lifecycle.Connect(ctx, target, c.params, true)
		if err != nil {
			return &rpcerrors.TransitionError{Code: rpcerrors.TransitionConnectFailed, Err: err}
		}
		if err := conn.ConnectPlayer(ctx, c.params.PlayerID); err != nil {
			conn.Close()
			return &rpcerrors.TransitionError{Code: rpcerrors.TransitionConnectRejected, Err: err}
		}
		next = conn
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.params.HandshakeTimeout)
	defer cancel()
	if _, err := next.GameGrain().GetWorldState(probeCtx, grain.CallOptions{Deadline: c.params.HandshakeTimeout}); err != nil {
		next.Close()
		return &rpcerrors.TransitionError{Code: rpcerrors.TransitionProbeFailed, Err: err}
	}

	departing.Close()
	next.ResetSequenceForTransition()
	next.RestartTimersForTransition()

	c.mu.Lock()
	c.active = next
	c.mu.Unlock()

	c.params.Observer.OnServerChanged(next.ServerID())
	if c.metrics != nil {
		c.metrics.ZoneTransitions.WithLabelValues(hitPath).Inc()
	}
	return nil
}

// maintainNeighbourPool implements neighbour-pool maintenance:
// warm-connect missing neighbours, two-phase evict stale ones.
func (c *Controller) maintainNeighbourPool(ctx context.Context) {
	active := c.Active()
	ws, _ := active.LastWorldState()

	var cur GridSquare
	found := false
	for _, e := range ws.Entities {
		if e.EntityID == c.params.PlayerID {
			cur = FromPosition(float64(e.Position.X), float64(e.Position.Y), c.zoneSize)
			found = true
			break
		}
	}
	if !found {
		return
	}

	keep := make(map[string]struct{}, 9)
	keep[cur.Key()] = struct{}{}
	for _, n := range cur.Neighbours() {
		keep[n.Key()] = struct{}{}
	}

	servers, err := c.directory.ActionServers(ctx)
	if err != nil {
		c.logger.Warn("neighbour pool: directory unavailable", "error", err)
	} else {
		byZone := make(map[string]directory.ActionServer, len(servers))
		for _, s := range servers {
			byZone[GridSquare{X: s.AssignedSquare.X, Y: s.AssignedSquare.Y}.Key()] = s
		}
		for key := range keep {
			if key == cur.Key() {
				continue
			}
			if _, already := c.pool.Get(key); already {
				continue
			}
			srv, known := byZone[key]
			if !known {
				continue
			}
			go c.warmConnect(ctx, key, srv)
		}
	}

	evicted := c.pool.Reconcile(keep, neighbourEvictionAge, time.Now())
	for _, conn := range evicted {
		conn.Close()
	}
	if c.metrics != nil {
		c.metrics.NeighbourPoolSize.Set(float64(c.pool.Len()))
	}
}

func (c *Controller) warmConnect(ctx context.Context, key string, srv directory.ActionServer) {
	connectCtx, cancel := context.WithTimeout(ctx, c.params.HandshakeTimeout)
	defer cancel()
	conn, err := lifecycle.Connect(connectCtx, srv, c.params, true)
	if err != nil {
		c.logger.Warn("neighbour pool: warm connect failed", "zone", key, "server", srv.ServerID, "error", err)
		return
	}
	c.pool.Insert(key, conn)
}
