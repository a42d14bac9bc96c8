package grain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zoneward/rpcrt/internal/rpcsession"
	"github.com/zoneward/rpcrt/internal/wire"
)

func TestWorldStateRoundTrip(t *testing.T) {
	ws := WorldState{
		SequenceNumber: 42,
		Entities: []Entity{
			{EntityID: "e1", Position: Vector2{X: 1.5, Y: -2.5}, TypeTag: "player"},
			{EntityID: "e2", Position: Vector2{X: 0, Y: 0}, TypeTag: "npc"},
		},
	}
	body := EncodeWorldState(ws)
	got, err := DecodeWorldState(body)
	require.NoError(t, err)
	require.Equal(t, ws, got)
}

// TestWorldStateRoundTripSharedAttachment exercises the wire codec's
// reference table: two riders attached to the same platform must
// decode to the same *Entity, not two separately-decoded copies.
func TestWorldStateRoundTripSharedAttachment(t *testing.T) {
	platform := Entity{EntityID: "platform-1", TypeTag: "platform"}
	ws := WorldState{
		SequenceNumber: 3,
		Entities: []Entity{
			platform,
			{EntityID: "rider-1", TypeTag: "player", AttachedTo: &platform},
			{EntityID: "rider-2", TypeTag: "player", AttachedTo: &platform},
		},
	}

	body := EncodeWorldState(ws)
	got, err := DecodeWorldState(body)
	require.NoError(t, err)
	require.Equal(t, ws, got)

	require.NotNil(t, got.Entities[1].AttachedTo)
	require.NotNil(t, got.Entities[2].AttachedTo)
	require.Same(t, got.Entities[1].AttachedTo, got.Entities[2].AttachedTo,
		"riders sharing a platform must decode to the same Entity pointer")
	require.Equal(t, "platform-1", got.Entities[1].AttachedTo.EntityID)
}

// TestWorldStateRoundTripCyclicAttachment covers a mutual attachment
// between two entities (a towed trailer attached to a tractor that is
// itself reported as attached to the trailer for coupling purposes),
// which only round-trips correctly because attachment ids are
// registered for every entity before any entity body is decoded.
func TestWorldStateRoundTripCyclicAttachment(t *testing.T) {
	a := &Entity{EntityID: "a", TypeTag: "tractor"}
	b := &Entity{EntityID: "b", TypeTag: "trailer"}
	a.AttachedTo = b
	b.AttachedTo = a

	ws := WorldState{SequenceNumber: 9, Entities: []Entity{*a, *b}}

	body := EncodeWorldState(ws)
	got, err := DecodeWorldState(body)
	require.NoError(t, err)
	require.Len(t, got.Entities, 2)
	require.NotNil(t, got.Entities[0].AttachedTo)
	require.NotNil(t, got.Entities[1].AttachedTo)
	require.Same(t, &got.Entities[1], got.Entities[0].AttachedTo)
	require.Same(t, &got.Entities[0], got.Entities[1].AttachedTo)
}

func newLoopbackGameSession(t *testing.T, ws WorldState) *rpcsession.Session {
	t.Helper()
	alias := wire.NewInvokableAlias("IGameGrain", "GetWorldState").String()

	var client *rpcsession.Session
	client = rpcsession.NewSession(func(frame []byte) error {
		kind, err := rpcsession.PeekKind(frame)
		if err != nil {
			return err
		}
		if kind == rpcsession.KindRequest {
			req, err := rpcsession.DecodeRequest(frame)
			if err != nil {
				return err
			}
			go func() {
				resp := rpcsession.ResponseFrame{
					RequestID: req.RequestID,
					Status:    rpcsession.StatusOk,
					Body:      EncodeWorldState(ws),
				}
				_ = client.HandleInbound(rpcsession.EncodeResponse(resp))
			}()
		}
		return nil
	}, nil, nil)

	err := client.Manifest().Install([]rpcsession.InterfaceDescriptor{
		{
			TypeName: "IGameGrain",
			TypeID:   1,
			Methods: []rpcsession.MethodDescriptor{
				{Selector: "GetWorldState()", InvokableAlias: alias},
			},
		},
	})
	require.NoError(t, err)
	return client
}

func TestGameGrainGetWorldState(t *testing.T) {
	want := WorldState{SequenceNumber: 7, Entities: []Entity{{EntityID: "p1", TypeTag: "player"}}}
	session := newLoopbackGameSession(t, want)

	grain := NewGameGrain(Handle{GrainKey: "game", Session: session})
	got, err := grain.GetWorldState(context.Background(), CallOptions{Deadline: time.Second})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestPlayerGrainConnectPlayerSuccess(t *testing.T) {
	alias := wire.NewInvokableAlias("IPlayerGrain", "ConnectPlayer", "System.String").String()

	var client *rpcsession.Session
	client = rpcsession.NewSession(func(frame []byte) error {
		kind, err := rpcsession.PeekKind(frame)
		if err != nil {
			return err
		}
		if kind == rpcsession.KindRequest {
			req, err := rpcsession.DecodeRequest(frame)
			if err != nil {
				return err
			}
			go func() {
				e := wire.NewEncoder()
				e.WriteString("SUCCESS")
				resp := rpcsession.ResponseFrame{RequestID: req.RequestID, Status: rpcsession.StatusOk, Body: e.Bytes()}
				_ = client.HandleInbound(rpcsession.EncodeResponse(resp))
			}()
		}
		return nil
	}, nil, nil)

	err := client.Manifest().Install([]rpcsession.InterfaceDescriptor{
		{TypeName: "IPlayerGrain", TypeID: 2, Methods: []rpcsession.MethodDescriptor{
			{Selector: "ConnectPlayer(System.String)", InvokableAlias: alias},
		}},
	})
	require.NoError(t, err)

	grain := NewPlayerGrain(Handle{GrainKey: "player-1", Session: client})
	reply, err := grain.ConnectPlayer(context.Background(), "player-1", CallOptions{Deadline: time.Second})
	require.NoError(t, err)
	require.Equal(t, "SUCCESS", reply)
}
