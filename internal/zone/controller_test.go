package zone

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zoneward/rpcrt/internal/directory"
	"github.com/zoneward/rpcrt/internal/grain"
	"github.com/zoneward/rpcrt/internal/lifecycle"
	"github.com/zoneward/rpcrt/internal/rpcsession"
	"github.com/zoneward/rpcrt/internal/security"
	"github.com/zoneward/rpcrt/internal/transport"
	"github.com/zoneward/rpcrt/internal/wire"
)

type staticPSK struct{ psk []byte }

func (s staticPSK) LookupPSK(ctx context.Context, playerID string) ([]byte, error) { return s.psk, nil }

// fakeActionServer answers the handshake, manifest, GetWorldState, and
// ConnectPlayer steps needed to exercise a zone transition end to end,
// serving a world state whose local-player position is adjustable at
// runtime so a test can drive the player toward a zone edge.
type fakeActionServer struct {
	id string
	tr *transport.UDPTransport

	mu  sync.Mutex
	pos grain.Vector2
}

func newFakeActionServer(t *testing.T, id string, psk []byte, pos grain.Vector2) *fakeActionServer {
	t.Helper()
	tr := transport.NewUDPTransport(nil)
	require.NoError(t, tr.Bind("127.0.0.1:0"))
	f := &fakeActionServer{id: id, tr: tr, pos: pos}
	go f.serve(psk)
	return f
}

func (f *fakeActionServer) setPosition(pos grain.Vector2) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
}

func (f *fakeActionServer) worldState() grain.WorldState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return grain.WorldState{SequenceNumber: 1, Entities: []grain.Entity{
		{EntityID: "player-1", TypeTag: "player", Position: f.pos},
	}}
}

func (f *fakeActionServer) addr() *net.UDPAddr {
	return f.tr.LocalAddr().(*net.UDPAddr)
}

func (f *fakeActionServer) serve(psk []byte) {
	var connID transport.ConnectionID
	var hs *security.ServerHandshake
	var sess *security.Session

	for ev := range f.tr.Events() {
		if ev.Kind != transport.EventDataReceived || len(ev.Data) == 0 {
			continue
		}
		connID = ev.ConnID

		switch security.FrameType(ev.Data[0]) {
		case security.FrameHello:
			hs = security.NewServerHandshake()
			challenge, err := hs.OnHello(context.Background(), ev.Data, staticPSK{psk: psk})
			if err != nil {
				continue
			}
			<-f.tr.Send(connID, transport.ReliableOrdered, challenge)

		case security.FrameResponse:
			if err := hs.OnResponse(ev.Data); err != nil {
				continue
			}
			var err error
			sess, err = security.NewSession(hs.Keys.ServerToClient, hs.Keys.ClientToServer, 0, nil)
			if err != nil {
				continue
			}
			<-f.tr.Send(connID, transport.ReliableOrdered, security.EncodeAck())

		case security.FrameEncrypted:
			plaintext, err := sess.Unwrap(ev.Data)
			if err != nil {
				continue
			}
			kind, err := rpcsession.PeekKind(plaintext)
			if err != nil {
				continue
			}
			switch kind {
			case rpcsession.KindManifestRequest:
				reply := rpcsession.EncodeManifestReply([]rpcsession.InterfaceDescriptor{
					{TypeName: "IGameGrain", TypeID: 1, Methods: []rpcsession.MethodDescriptor{
						{Selector: "GetWorldState()", InvokableAlias: wire.NewInvokableAlias("IGameGrain", "GetWorldState").String()},
					}},
					{TypeName: "IPlayerGrain", TypeID: 2, Methods: []rpcsession.MethodDescriptor{
						{Selector: "ConnectPlayer(System.String)", InvokableAlias: wire.NewInvokableAlias("IPlayerGrain", "ConnectPlayer", "System.String").String()},
					}},
				})
				<-f.tr.Send(connID, transport.ReliableOrdered, sess.Wrap(reply))

			case rpcsession.KindRequest:
				req, err := rpcsession.DecodeRequest(plaintext)
				if err != nil {
					continue
				}
				var body []byte
				switch req.InvokableAlias {
				case wire.NewInvokableAlias("IPlayerGrain", "ConnectPlayer", "System.String").String():
					e := wire.NewEncoder()
					e.WriteString("SUCCESS")
					body = e.Bytes()
				default:
					body = grain.EncodeWorldState(f.worldState())
				}
				resp := rpcsession.ResponseFrame{RequestID: req.RequestID, Status: rpcsession.StatusOk, Body: body}
				<-f.tr.Send(connID, transport.ReliableOrdered, sess.Wrap(rpcsession.EncodeResponse(resp)))

			case rpcsession.KindControl:
			}
		}
	}
}

// fakeDirectory serves PlayerServer/ActionServers for the transition
// controller out of an in-memory table the test mutates directly.
type fakeDirectory struct {
	mu      sync.Mutex
	owner   string
	servers map[string]directory.ActionServer
	// otherLookups counts player-server lookups for any player other
	// than player-1.
	otherLookups int
}

func newFakeDirectoryHTTP(t *testing.T) (*httptest.Server, *fakeDirectory) {
	t.Helper()
	fd := &fakeDirectory{servers: make(map[string]directory.ActionServer)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/world/players/player-1/server", func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		owner, ok := fd.servers[fd.owner]
		fd.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(owner)
	})
	mux.HandleFunc("/api/world/players/", func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		fd.otherLookups++
		fd.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/world/action-servers", func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		list := make([]directory.ActionServer, 0, len(fd.servers))
		for _, s := range fd.servers {
			list = append(list, s)
		}
		fd.mu.Unlock()
		_ = json.NewEncoder(w).Encode(list)
	})
	srv := httptest.NewServer(mux)
	return srv, fd
}

func TestControllerTransitionsOnBoundaryCross(t *testing.T) {
	psk := []byte("shared-secret-for-testing-only!")

	home := newFakeActionServer(t, "home", psk, grain.Vector2{X: 995, Y: 10})
	defer home.tr.Close()
	target := newFakeActionServer(t, "target", psk, grain.Vector2{X: 1005, Y: 10})
	defer target.tr.Close()

	httpSrv, fd := newFakeDirectoryHTTP(t)
	defer httpSrv.Close()

	homeRecord := directory.ActionServer{
		ServerID:       "home",
		IPAddress:      home.addr().IP.String(),
		RPCPort:        uint16(home.addr().Port),
		AssignedSquare: directory.GridSquare{X: 0, Y: 0},
	}
	targetRecord := directory.ActionServer{
		ServerID:       "target",
		IPAddress:      target.addr().IP.String(),
		RPCPort:        uint16(target.addr().Port),
		AssignedSquare: directory.GridSquare{X: 1, Y: 0},
	}
	fd.mu.Lock()
	fd.servers["home"] = homeRecord
	fd.servers["target"] = targetRecord
	fd.owner = "home"
	fd.mu.Unlock()

	dirClient := directory.NewClient(httpSrv.URL, time.Second)

	params := lifecycle.Params{
		PlayerID:         "player-1",
		PSK:              psk,
		SecurityMode:     security.ModePSK,
		HandshakeTimeout: 2 * time.Second,
		ManifestRetries:  3,
		WorldStatePeriod: 20 * time.Millisecond,
		ZonesPeriod:      30 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := lifecycle.Connect(ctx, homeRecord, params, true)
	require.NoError(t, err)
	_, err = conn.GameGrain().GetWorldState(ctx, grain.CallOptions{Deadline: time.Second})
	require.NoError(t, err)

	ctrl := NewController(dirClient, conn, params, 50, nil)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go ctrl.Run(runCtx)

	// The player is already near the edge of its home zone; flip the
	// directory's ownership record so the transition probe picks up
	// the new owner on its next boundary check.
	fd.mu.Lock()
	fd.owner = "target"
	fd.mu.Unlock()

	require.Eventually(t, func() bool {
		return ctrl.Active().ServerID() == "target"
	}, 3*time.Second, 20*time.Millisecond, "expected controller to transition onto the target server")

	ctrl.Active().Close()
}

func TestControllerHitPathResetsEstablishedAt(t *testing.T) {
	psk := []byte("shared-secret-for-testing-only!")

	home := newFakeActionServer(t, "home", psk, grain.Vector2{X: 995, Y: 10})
	defer home.tr.Close()
	target := newFakeActionServer(t, "target", psk, grain.Vector2{X: 1005, Y: 10})
	defer target.tr.Close()

	httpSrv, fd := newFakeDirectoryHTTP(t)
	defer httpSrv.Close()

	homeRecord := directory.ActionServer{
		ServerID:       "home",
		IPAddress:      home.addr().IP.String(),
		RPCPort:        uint16(home.addr().Port),
		AssignedSquare: directory.GridSquare{X: 0, Y: 0},
	}
	targetRecord := directory.ActionServer{
		ServerID:       "target",
		IPAddress:      target.addr().IP.String(),
		RPCPort:        uint16(target.addr().Port),
		AssignedSquare: directory.GridSquare{X: 1, Y: 0},
	}
	fd.mu.Lock()
	fd.servers["home"] = homeRecord
	fd.servers["target"] = targetRecord
	fd.owner = "home"
	fd.mu.Unlock()

	dirClient := directory.NewClient(httpSrv.URL, time.Second)

	params := lifecycle.Params{
		PlayerID:         "player-1",
		PSK:              psk,
		SecurityMode:     security.ModePSK,
		HandshakeTimeout: 2 * time.Second,
		ManifestRetries:  3,
		WorldStatePeriod: 20 * time.Millisecond,
		ZonesPeriod:      30 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := lifecycle.Connect(ctx, homeRecord, params, true)
	require.NoError(t, err)
	_, err = conn.GameGrain().GetWorldState(ctx, grain.CallOptions{Deadline: time.Second})
	require.NoError(t, err)

	ctrl := NewController(dirClient, conn, params, 50, nil)

	// Warm-connect the target zone directly and age its establishedAt
	// well past "now", simulating a connection that has been sitting in
	// the neighbour pool for a while.
	warm, err := lifecycle.Connect(ctx, targetRecord, params, true)
	require.NoError(t, err)
	stale := time.Now().Add(-time.Hour)
	ctrl.pool.entries[GridSquare{X: 1, Y: 0}.Key()] = &poolEntry{conn: warm, establishedAt: stale, lastProbeOk: true}

	require.NoError(t, ctrl.transition(ctx, targetRecord))

	require.Equal(t, "target", ctrl.Active().ServerID())
	require.WithinDuration(t, time.Now(), ctrl.Active().EstablishedAt(), time.Second,
		"promoted warm connection's establishedAt must be reset on the hit path")

	ctrl.Active().Close()
}

func TestControllerTriggersProbeWhenPlayerMissing(t *testing.T) {
	psk := []byte("shared-secret-for-testing-only!")

	home := newFakeActionServer(t, "home", psk, grain.Vector2{X: 10, Y: 10})
	defer home.tr.Close()

	httpSrv, fd := newFakeDirectoryHTTP(t)
	defer httpSrv.Close()

	homeRecord := directory.ActionServer{
		ServerID:  "home",
		IPAddress: home.addr().IP.String(),
		RPCPort:   uint16(home.addr().Port),
	}
	fd.mu.Lock()
	fd.servers["home"] = homeRecord
	fd.owner = "home"
	fd.mu.Unlock()

	dirClient := directory.NewClient(httpSrv.URL, time.Second)

	params := lifecycle.Params{
		PlayerID:         "absent-player",
		PSK:              psk,
		SecurityMode:     security.ModePSK,
		HandshakeTimeout: 2 * time.Second,
		ManifestRetries:  3,
		WorldStatePeriod: 20 * time.Millisecond,
		ZonesPeriod:      200 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := lifecycle.Connect(ctx, homeRecord, params, true)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.GameGrain().GetWorldState(ctx, grain.CallOptions{Deadline: time.Second})
	require.NoError(t, err)

	ctrl := NewController(dirClient, conn, params, 50, nil)
	// The world state's only entity has EntityID "player-1", which
	// never matches params.PlayerID "absent-player": every boundary
	// check should trigger an immediate probe.
	ctrl.checkBoundary(ctx)
	require.Equal(t, "home", ctrl.Active().ServerID())
	fd.mu.Lock()
	probes := fd.otherLookups
	fd.mu.Unlock()
	require.Equal(t, 1, probes)
}
