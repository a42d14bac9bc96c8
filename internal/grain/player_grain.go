package grain

import (
	"context"

	"github.com/zoneward/rpcrt/internal/wire"
)

var (
	connectPlayerSelector = wire.MethodSelector{Name: "ConnectPlayer", ParamTypes: []string{"System.String"}}
	disconnectSelector    = wire.MethodSelector{Name: "Disconnect", ParamTypes: nil}
)

// PlayerGrain is the typed proxy used both by a client completing a
// zone transition (ConnectPlayer on the target server) and by the
// client's orderly teardown (Disconnect).
type PlayerGrain struct {
	Handle Handle
}

func NewPlayerGrain(h Handle) PlayerGrain {
	h.InterfaceTypeName = "IPlayerGrain"
	return PlayerGrain{Handle: h}
}

// ConnectPlayer encodes playerId as the sole Invokable field and
// returns the raw reply string. Per this runtime's resolved open
// question, only the literal "SUCCESS" reply indicates success; any
// other string (including a well-formed but different reply) is
// treated as a transition failure by the caller.
func (p PlayerGrain) ConnectPlayer(ctx context.Context, playerID string, opts CallOptions) (string, error) {
	e := wire.NewEncoder()
	fr, _ := e.StartObject(wire.NewInvokableAlias("IPlayerGrain", "ConnectPlayer", "System.String").String())
	e.WriteField(fr, 0, wire.WireLengthPrefixed)
	e.WriteString(playerID)
	e.EndObject()

	body, err := Invoke(ctx, p.Handle, connectPlayerSelector, e.Bytes(), opts)
	if err != nil {
		return "", err
	}

	d := wire.NewDecoder(body)
	reply, err := d.ReadString()
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Disconnect notifies the grain of an orderly client departure.
func (p PlayerGrain) Disconnect(ctx context.Context, opts CallOptions) error {
	_, err := Invoke(ctx, p.Handle, disconnectSelector, nil, opts)
	return err
}
