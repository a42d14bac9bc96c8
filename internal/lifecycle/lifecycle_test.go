package lifecycle

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zoneward/rpcrt/internal/directory"
	"github.com/zoneward/rpcrt/internal/grain"
	"github.com/zoneward/rpcrt/internal/rpcsession"
	"github.com/zoneward/rpcrt/internal/security"
	"github.com/zoneward/rpcrt/internal/transport"
	"github.com/zoneward/rpcrt/internal/wire"
)

type staticPSK struct{ psk []byte }

func (s staticPSK) LookupPSK(ctx context.Context, playerID string) ([]byte, error) { return s.psk, nil }

// startFakeServer drives one fake action server far enough to satisfy
// Connect's handshake, manifest, and probe steps, reusing only the
// security and rpcsession layers (no lifecycle.Connection of its own,
// since a real server's accept loop belongs to cmd/rpcserver).
func startFakeServer(t *testing.T, psk []byte) *transport.UDPTransport {
	t.Helper()
	tr := transport.NewUDPTransport(nil)
	require.NoError(t, tr.Bind("127.0.0.1:0"))

	go func() {
		var connID transport.ConnectionID
		var hs *security.ServerHandshake
		var sess *security.Session
		worldState := grain.WorldState{SequenceNumber: 1, Entities: []grain.Entity{
			{EntityID: "p1", TypeTag: "player"},
		}}

		for ev := range tr.Events() {
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
				<-tr.Send(connID, transport.ReliableOrdered, challenge)

			case security.FrameResponse:
				if err := hs.OnResponse(ev.Data); err != nil {
					continue
				}
				var err error
				sess, err = security.NewSession(hs.Keys.ServerToClient, hs.Keys.ClientToServer, 0, nil)
				if err != nil {
					continue
				}
				<-tr.Send(connID, transport.ReliableOrdered, security.EncodeAck())

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
					alias := wire.NewInvokableAlias("IGameGrain", "GetWorldState").String()
					reply := rpcsession.EncodeManifestReply([]rpcsession.InterfaceDescriptor{
						{TypeName: "IGameGrain", TypeID: 1, Methods: []rpcsession.MethodDescriptor{
							{Selector: "GetWorldState()", InvokableAlias: alias},
						}},
					})
					<-tr.Send(connID, transport.ReliableOrdered, sess.Wrap(reply))

				case rpcsession.KindRequest:
					req, err := rpcsession.DecodeRequest(plaintext)
					if err != nil {
						continue
					}
					resp := rpcsession.ResponseFrame{
						RequestID: req.RequestID,
						Status:    rpcsession.StatusOk,
						Body:      grain.EncodeWorldState(worldState),
					}
					<-tr.Send(connID, transport.ReliableOrdered, sess.Wrap(rpcsession.EncodeResponse(resp)))

				case rpcsession.KindControl:
					// heartbeat pings are acknowledged implicitly; nothing to do.
				}
			}
		}
	}()

	return tr
}

func TestConnectHappyPath(t *testing.T) {
	psk := []byte("shared-secret-for-testing-only!")
	server := startFakeServer(t, psk)
	defer server.Close()

	addr := server.LocalAddr().(*net.UDPAddr)

	params := Params{
		PlayerID:         "player-1",
		PSK:              psk,
		SecurityMode:     security.ModePSK,
		HandshakeTimeout: 2 * time.Second,
		ManifestRetries:  3,
	}

	target := directory.ActionServer{
		ServerID:  "s1",
		IPAddress: addr.IP.String(),
		RPCPort:   uint16(addr.Port),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := Connect(ctx, target, params, true)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "s1", conn.ServerID())

	ws, err := conn.GameGrain().GetWorldState(ctx, grain.CallOptions{Deadline: time.Second})
	require.NoError(t, err)
	require.Equal(t, int64(1), ws.SequenceNumber)
}
