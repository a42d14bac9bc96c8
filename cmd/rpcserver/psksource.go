package main

import (
	"context"

	"github.com/zoneward/rpcrt/internal/directory"
)

// directoryPSKSource adapts directory.Client.SessionKey to
// security.PSKSource for the server side of the handshake.
type directoryPSKSource struct {
	dir *directory.Client
}

func (d directoryPSKSource) LookupPSK(ctx context.Context, playerID string) ([]byte, error) {
	return d.dir.SessionKey(ctx, playerID)
}
