// Package grain implements the typed proxy layer: handles that bind a
// grain interface's methods to one (RpcSession, grainKey) pair,
// building Invokable argument payloads through the wire codec and
// decoding typed replies.
package grain

import (
	"context"
	"time"

	"github.com/zoneward/rpcrt/internal/rpcsession"
	"github.com/zoneward/rpcrt/internal/wire"
)

// Handle is the cheap-to-copy Grain Proxy Handle of the runtime's
// data model: an interfaceTypeId (carried here as the interface's type
// name, resolved against the manifest at call time), a grainKey, and a
// bound RpcSession. Handles do not own the session.
type Handle struct {
	InterfaceTypeName string
	GrainKey          string
	Session           *rpcsession.Session
}

// DefaultDeadline is used by proxy methods that don't take an explicit
// per-call deadline.
const DefaultDeadline = 5 * time.Second

// CallOptions customizes one invocation beyond its argument payload.
type CallOptions struct {
	Deadline    time.Duration
	Cancellable bool
}

// Invoke builds the REQUEST for one method call: encodes args (already
// serialized by the caller's generated Invokable type via
// internal/wire), resolves the invokable alias via the session
// manifest, and awaits the typed response body.
func Invoke(ctx context.Context, h Handle, selector wire.MethodSelector, argsBody []byte, opts CallOptions) ([]byte, error) {
	alias, err := h.Session.Manifest().Resolve(h.InterfaceTypeName, selector.Canonical())
	if err != nil {
		return nil, err
	}
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	resp, err := h.Session.Call(ctx, h.InterfaceTypeName, h.GrainKey, alias, selector.Canonical(), argsBody, deadline, opts.Cancellable)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
