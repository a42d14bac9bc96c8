package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterPlayer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/world/players/register", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(RegisterResponse{
			PlayerInfo:   PlayerInfo{PlayerID: "p1", Name: "alice"},
			ActionServer: ActionServer{ServerID: "s1", IPAddress: "10.0.0.1", RPCPort: 9001},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	resp, err := c.RegisterPlayer(context.Background(), "p1", "alice")
	require.NoError(t, err)
	require.Equal(t, "p1", resp.PlayerInfo.PlayerID)
	require.True(t, ValidServerInfo(resp.ActionServer))
}

func TestPlayerServerNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	_, ok, err := c.PlayerServer(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDirectoryUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 0)
	_, err := c.ActionServers(context.Background())
	require.Error(t, err)
}

func TestValidServerInfoRejectsZeroPort(t *testing.T) {
	require.False(t, ValidServerInfo(ActionServer{ServerID: "s1", IPAddress: "10.0.0.1"}))
}
