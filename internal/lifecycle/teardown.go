package lifecycle

import "github.com/zoneward/rpcrt/internal/rpcsession"

// Close performs the cooperative teardown of the connect sequence: cancel
// timers, drain pending RPCs with ConnectionClosed, send a Close
// control frame, zeroize the security session, and close the
// transport.
func (c *Connection) Close() {
	c.teardownInternal("closed_by_caller")
}

func (c *Connection) teardownInternal(reason string) {
	select {
	case <-c.closed:
		return
	default:
	}

	c.stopAllTimers()

	if c.session != nil {
		c.session.Close()
		_ = c.sendApplicationFrame(rpcsession.EncodeControl(rpcsession.ControlFrame{Kind: rpcsession.ControlClose, Reason: reason}))
	}
	if c.security != nil {
		c.security.Zeroize()
	}
	if c.transport != nil {
		_ = c.transport.Close()
	}

	c.closeOnce.Do(func() {
		close(c.closed)
	})

	c.params.Observer.OnDisconnected(reason)
}
