package grain

import (
	"context"

	"github.com/zoneward/rpcrt/internal/wire"
)

// gameGrainSelector is the structural method selector for
// IGameGrain.GetWorldState(), which takes no arguments.
var gameGrainSelector = wire.MethodSelector{Name: "GetWorldState", ParamTypes: nil}

// GameGrain is the typed proxy for the canonical "game" grain used for
// world-state polling and the connection lifecycle's probe call.
type GameGrain struct {
	Handle Handle
}

func NewGameGrain(h Handle) GameGrain {
	h.InterfaceTypeName = "IGameGrain"
	return GameGrain{Handle: h}
}

// GetWorldState invokes the zero-argument world-state query and
// decodes the typed reply.
func (g GameGrain) GetWorldState(ctx context.Context, opts CallOptions) (WorldState, error) {
	body, err := Invoke(ctx, g.Handle, gameGrainSelector, nil, opts)
	if err != nil {
		return WorldState{}, err
	}
	return DecodeWorldState(body)
}
