package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/zoneward/rpcrt/internal/rpcsession"
)

// startTimers installs the three periodic timers of the connect sequence. The
// heartbeat fires once after an initial 1s delay before settling into
// its steady period.
func (c *Connection) startTimers() {
	worldTicker := time.NewTicker(c.params.WorldStatePeriod)
	zonesTicker := time.NewTicker(c.params.ZonesPeriod)
	c.mu.Lock()
	c.timers = []*time.Ticker{worldTicker, zonesTicker}
	c.zonesTickerC = zonesTicker.C
	c.mu.Unlock()

	c.tickersWG.Add(1)
	go func() {
		defer c.tickersWG.Done()
		for {
			select {
			case <-worldTicker.C:
				c.onWorldStatePoll(context.Background())
			case <-c.stopTickers:
				worldTicker.Stop()
				return
			}
		}
	}()

	c.tickersWG.Add(1)
	go func() {
		defer c.tickersWG.Done()
		select {
		case <-time.After(time.Second):
		case <-c.stopTickers:
			zonesTicker.Stop()
			return
		}
		heartbeatTicker := time.NewTicker(c.params.HeartbeatPeriod)
		defer heartbeatTicker.Stop()
		c.sendHeartbeat()
		for {
			select {
			case <-heartbeatTicker.C:
				c.sendHeartbeat()
			case <-c.stopTickers:
				return
			}
		}
	}()
}

func (c *Connection) sendHeartbeat() {
	_ = c.sendApplicationFrame(rpcsession.EncodeControl(rpcsession.ControlFrame{Kind: rpcsession.ControlPing}))
}

// ZonesPollChan exposes the available-zones poll timer's channel to
// the zone transition controller, which drives neighbour-pool
// maintenance from it. Returns nil if timers were omitted (warm
// neighbour-pool connections).
func (c *Connection) ZonesPollChan() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zonesTickerC
}

// StopTimersForTransition implements transition procedure step 2:
// suppress world-state polling and the other periodic timers on the
// departing Connection without tearing it down.
func (c *Connection) StopTimersForTransition() {
	c.stopAllTimers()
}

// RestartTimersForTransition re-arms the three periodic timers on a
// Connection that was warm-connected with timers omitted (step 7 of
// the transition procedure, applied to the newly active Connection).
func (c *Connection) RestartTimersForTransition() {
	c.mu.Lock()
	c.stopTickers = make(chan struct{})
	c.tickersOnce = sync.Once{}
	c.mu.Unlock()
	c.startTimers()
}

// ResetSequenceForTransition implements transition procedure step 6.
func (c *Connection) ResetSequenceForTransition() {
	c.resetSequence()
}

// ResetEstablishedForTransition implements transition procedure step
// 3: a warm neighbour-pool connection promoted to active has its
// establishedAt reset to now, so it is not immediately eligible for
// idle eviction again right after the switch.
func (c *Connection) ResetEstablishedForTransition() {
	c.touchEstablished()
}

func (c *Connection) stopAllTimers() {
	c.tickersOnce.Do(func() {
		close(c.stopTickers)
	})
	c.tickersWG.Wait()
	c.mu.Lock()
	for _, t := range c.timers {
		t.Stop()
	}
	c.mu.Unlock()
}
