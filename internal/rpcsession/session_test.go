package rpcsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func installTestManifest(t *testing.T, s *Session) {
	t.Helper()
	err := s.Manifest().Install([]InterfaceDescriptor{
		{
			TypeName: "IGameGrain",
			TypeID:   1,
			Methods: []MethodDescriptor{
				{Selector: "GetWorldState()", InvokableAlias: "inv:GrainReference:IGameGrain:aaaaaaaa"},
			},
		},
	})
	require.NoError(t, err)
}

// newLoopbackSession builds a client Session whose outbound REQUEST
// frames are answered by a trivial in-process responder standing in
// for a grain dispatcher, for the purposes of exercising the request
// lifecycle end to end without a real transport.
func newLoopbackSession(t *testing.T, respond func(RequestFrame) ResponseFrame) *Session {
	t.Helper()
	var client *Session
	client = NewSession(func(frame []byte) error {
		kind, err := PeekKind(frame)
		if err != nil {
			return err
		}
		switch kind {
		case KindRequest:
			req, err := DecodeRequest(frame)
			if err != nil {
				return err
			}
			go func() {
				resp := respond(req)
				_ = client.HandleInbound(EncodeResponse(resp))
			}()
		case KindCancel:
			id, err := DecodeCancel(frame)
			if err != nil {
				return err
			}
			go func() {
				_ = client.HandleInbound(EncodeResponse(ResponseFrame{RequestID: id, Status: StatusCancelled}))
			}()
		}
		return nil
	}, nil, nil)
	return client
}

func TestCallHappyPath(t *testing.T) {
	client := newLoopbackSession(t, func(req RequestFrame) ResponseFrame {
		return ResponseFrame{RequestID: req.RequestID, Status: StatusOk, Body: []byte("world-state")}
	})
	installTestManifest(t, client)

	resp, err := client.Call(context.Background(), "IGameGrain", "game",
		"inv:GrainReference:IGameGrain:aaaaaaaa", "GetWorldState()", []byte("args"), time.Second, false)
	require.NoError(t, err)
	require.Equal(t, StatusOk, resp.Status)
	require.Equal(t, "world-state", string(resp.Body))
}

func TestCallRemoteError(t *testing.T) {
	client := newLoopbackSession(t, func(req RequestFrame) ResponseFrame {
		return ResponseFrame{RequestID: req.RequestID, Status: StatusError, ErrCode: "BadArgs", ErrMsg: "nope"}
	})
	installTestManifest(t, client)

	_, err := client.Call(context.Background(), "IGameGrain", "game",
		"inv:GrainReference:IGameGrain:aaaaaaaa", "GetWorldState()", nil, time.Second, false)
	require.Error(t, err)
}

func TestDeadlineExpiry(t *testing.T) {
	client := NewSession(func(f []byte) error { return nil }, nil, nil) // black hole: nobody ever responds
	installTestManifest(t, client)

	_, err := client.Call(context.Background(), "IGameGrain", "game",
		"inv:GrainReference:IGameGrain:aaaaaaaa", "GetWorldState()", nil, 20*time.Millisecond, false)
	require.Error(t, err)
}

func TestUnknownMethodWithoutManifest(t *testing.T) {
	client := NewSession(func(f []byte) error { return nil }, nil, nil)
	_, err := client.Call(context.Background(), "IGameGrain", "game", "alias", "GetWorldState()", nil, time.Second, false)
	require.Error(t, err)
}

func TestManifestEmptyRejected(t *testing.T) {
	m := NewManifest()
	err := m.Install(nil)
	require.Error(t, err)
}

// Scenario 6: cancellation race. The caller cancels before the server
// responds; the RESPONSE that eventually arrives for the same
// requestId must not surface as an error once already resolved.
func TestCancellationRace(t *testing.T) {
	client := newLoopbackSession(t, func(req RequestFrame) ResponseFrame {
		time.Sleep(50 * time.Millisecond)
		return ResponseFrame{RequestID: req.RequestID, Status: StatusOk, Body: []byte("late")}
	})
	installTestManifest(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := client.Call(ctx, "IGameGrain", "game",
		"inv:GrainReference:IGameGrain:aaaaaaaa", "GetWorldState()", nil, 2*time.Second, true)
	require.Error(t, err)
}

func TestCloseFailsAllPending(t *testing.T) {
	client := NewSession(func(f []byte) error { return nil }, nil, nil)
	installTestManifest(t, client)

	done := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "IGameGrain", "game",
			"inv:GrainReference:IGameGrain:aaaaaaaa", "GetWorldState()", nil, 5*time.Second, false)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock pending Call")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	encoded := EncodeManifestReply([]InterfaceDescriptor{
		{TypeName: "IGameGrain", TypeID: 1, Methods: []MethodDescriptor{
			{Selector: "GetWorldState()", InvokableAlias: "inv:GrainReference:IGameGrain:aaaaaaaa"},
		}},
	})
	decoded, err := DecodeManifestReply(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, "IGameGrain", decoded[0].TypeName)
	require.Equal(t, "GetWorldState()", decoded[0].Methods[0].Selector)
}
