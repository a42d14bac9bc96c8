package lifecycle

import (
	"context"

	"github.com/zoneward/rpcrt/internal/grain"
	"github.com/zoneward/rpcrt/internal/rpcerrors"
)

// ConnectPlayer calls IPlayerGrain.ConnectPlayer on this Connection and
// enforces this runtime's resolved open question: any reply other
// than the exact literal "SUCCESS" is a transition failure.
func (c *Connection) ConnectPlayer(ctx context.Context, playerID string) error {
	reply, err := c.playerGrain.ConnectPlayer(ctx, playerID, grain.CallOptions{Deadline: c.params.HandshakeTimeout})
	if err != nil {
		return &rpcerrors.TransitionError{Code: rpcerrors.TransitionConnectRejected, Err: err}
	}
	if reply != "SUCCESS" {
		return &rpcerrors.TransitionError{Code: rpcerrors.TransitionConnectRejected, Err: errNotSuccess(reply)}
	}
	return nil
}

type errNotSuccess string

func (e errNotSuccess) Error() string { return "connect_player: unexpected reply " + string(e) }

// GameGrain exposes the canonical game grain proxy for callers that
// need a probe call outside the normal polling cadence (the zone
// controller's post-transition probe).
func (c *Connection) GameGrain() grain.GameGrain { return c.gameGrain }
