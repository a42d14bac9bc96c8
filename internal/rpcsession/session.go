package rpcsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zoneward/rpcrt/internal/rpcerrors"
)

// SendFunc transmits one already-framed application payload reliably
// (reliable-ordered delivery, post-security encryption) to the peer.
// Supplied by the connection lifecycle layer, which owns the
// transport+security stack this session rides on top of.
type SendFunc func(frame []byte) error

type pendingRequest struct {
	resultCh chan ResponseFrame
	timer    *time.Timer
}

// Session is the RpcSession's data
// model: request correlation, manifest exchange, and cancellation,
// multiplexed over one protected channel.
type Session struct {
	mu            sync.Mutex
	nextRequestID uint32
	pending       map[uint32]*pendingRequest
	manifest      *Manifest
	send          SendFunc
	logger        *slog.Logger
	metrics       *Metrics
	closed        bool

	manifestReadyCh chan struct{}
	manifestOnce    sync.Once
}

func NewSession(send SendFunc, logger *slog.Logger, metrics *Metrics) *Session {
	return &Session{
		pending:         make(map[uint32]*pendingRequest),
		manifest:        NewManifest(),
		send:            send,
		logger:          logger,
		metrics:         metrics,
		manifestReadyCh: make(chan struct{}),
	}
}

func (s *Session) Manifest() *Manifest { return s.manifest }

// allocRequestID returns a wrapping u32 id, skipping 0 and any id
// currently pending.
func (s *Session) allocRequestID() uint32 {
	for {
		s.nextRequestID++
		if s.nextRequestID == 0 {
			s.nextRequestID = 1
		}
		if _, busy := s.pending[s.nextRequestID]; !busy {
			return s.nextRequestID
		}
	}
}

// RequestManifest sends MANIFEST_REQUEST. The caller is expected to
// retry (via the connection layer's bounded backoff) if the manifest does not become
// Ready before its own deadline; RequestManifest itself does not block.
func (s *Session) RequestManifest() error {
	return s.send(EncodeManifestRequest())
}

// AwaitManifest blocks until the manifest becomes ready or ctx is done.
func (s *Session) AwaitManifest(ctx context.Context) error {
	if s.manifest.Ready() {
		return nil
	}
	select {
	case <-s.manifestReadyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call implements the request lifecycle for one outbound RPC on an
// invokableAlias the caller has already resolved (grain.Invoke does the
// manifest lookup): check the manifest is ready, allocate a request id,
// register a pending record, send REQUEST, and await
// RESPONSE/deadline/cancel.
func (s *Session) Call(ctx context.Context, grainInterface, grainKey, invokableAlias, selector string, body []byte, deadline time.Duration, cancellable bool) (ResponseFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ResponseFrame{}, &rpcerrors.RpcError{Code: rpcerrors.RpcConnectionClosed}
	}
	if !s.manifest.Ready() {
		s.mu.Unlock()
		return ResponseFrame{}, &rpcerrors.RpcError{Code: rpcerrors.RpcUnknownMethod, Message: "manifest not ready"}
	}

	reqID := s.allocRequestID()
	pr := &pendingRequest{resultCh: make(chan ResponseFrame, 1)}
	s.pending[reqID] = pr
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.InFlight.Inc()
	}

	req := RequestFrame{
		RequestID:      reqID,
		InvokableAlias: invokableAlias,
		GrainKey:       grainKey,
		Body:           body,
		DeadlineMS:     uint32(deadline.Milliseconds()),
		Cancellable:    cancellable,
	}

	if err := s.send(EncodeRequest(req)); err != nil {
		s.removePending(reqID)
		if s.metrics != nil {
			s.metrics.InFlight.Dec()
		}
		return ResponseFrame{}, &rpcerrors.RpcError{Code: rpcerrors.RpcConnectionClosed, Err: err}
	}

	deadlineCh := time.After(deadline)

	select {
	case resp := <-pr.resultCh:
		if s.metrics != nil {
			s.metrics.InFlight.Dec()
		}
		return resp, responseToErr(resp)

	case <-deadlineCh:
		s.removePending(reqID)
		_ = s.send(EncodeCancel(reqID)) // best-effort
		if s.metrics != nil {
			s.metrics.InFlight.Dec()
			s.metrics.DeadlineExpirations.Inc()
		}
		return ResponseFrame{}, &rpcerrors.RpcError{Code: rpcerrors.RpcDeadlineExceeded}

	case <-ctx.Done():
		_ = s.send(EncodeCancel(reqID))
		if s.metrics != nil {
			s.metrics.Cancellations.Inc()
		}
		// Preserve at-most-once: wait for the server's final verdict
		// rather than resolving immediately, to avoid a
		// cancellation-race scenario.
		select {
		case resp := <-pr.resultCh:
			if s.metrics != nil {
				s.metrics.InFlight.Dec()
			}
			return resp, responseToErr(resp)
		case <-time.After(deadline):
			s.removePending(reqID)
			if s.metrics != nil {
				s.metrics.InFlight.Dec()
			}
			return ResponseFrame{}, &rpcerrors.RpcError{Code: rpcerrors.RpcCancelled}
		}
	}
}

func responseToErr(resp ResponseFrame) error {
	switch resp.Status {
	case StatusOk:
		return nil
	case StatusCancelled:
		return &rpcerrors.RpcError{Code: rpcerrors.RpcCancelled}
	default:
		if resp.ErrCode == rpcerrors.RpcConnectionClosed {
			return &rpcerrors.RpcError{Code: rpcerrors.RpcConnectionClosed, Message: resp.ErrMsg}
		}
		return &rpcerrors.RpcError{Code: rpcerrors.RpcRemote, Message: fmt.Sprintf("%s: %s", resp.ErrCode, resp.ErrMsg)}
	}
}

func (s *Session) removePending(id uint32) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// HandleInbound dispatches one decrypted application frame received
// from the peer (post-security, pre-application). Returns a
// ProtocolError for malformed/unrecognized frames, which is always
// fatal to the owning Connection.
func (s *Session) HandleInbound(frame []byte) (err error) {
	defer func() {
		if _, ok := err.(*rpcerrors.ProtocolError); ok && s.metrics != nil {
			s.metrics.ProtocolErrors.Inc()
		}
	}()
	kind, err := PeekKind(frame)
	if err != nil {
		return &rpcerrors.ProtocolError{Code: rpcerrors.ProtocolMalformed, Err: err}
	}

	switch kind {
	case KindManifestReply:
		interfaces, err := DecodeManifestReply(frame)
		if err != nil {
			return &rpcerrors.ProtocolError{Code: rpcerrors.ProtocolMalformed, Err: err}
		}
		if err := s.manifest.Install(interfaces); err != nil {
			return err
		}
		s.manifestOnce.Do(func() { close(s.manifestReadyCh) })
		return nil

	case KindResponse:
		resp, err := DecodeResponse(frame)
		if err != nil {
			return &rpcerrors.ProtocolError{Code: rpcerrors.ProtocolMalformed, Err: err}
		}
		s.mu.Lock()
		pr, ok := s.pending[resp.RequestID]
		if ok {
			delete(s.pending, resp.RequestID)
		}
		s.mu.Unlock()
		if ok {
			pr.resultCh <- resp
		}
		// A RESPONSE for an id we no longer track (already cancelled
		// and timed out locally) is discarded without error, matching
		// the cancellation-race scenario.
		return nil

	case KindControl:
		ctrl, err := DecodeControl(frame)
		if err != nil {
			return &rpcerrors.ProtocolError{Code: rpcerrors.ProtocolMalformed, Err: err}
		}
		if ctrl.Kind == ControlPing {
			return s.send(EncodeControl(ControlFrame{Kind: ControlPong}))
		}
		return nil

	default:
		return &rpcerrors.ProtocolError{Code: rpcerrors.ProtocolUnknownFrame, Err: fmt.Errorf("frame kind %#x", kind)}
	}
}

// Close fails every pending request with RpcError::ConnectionClosed,
// per teardown step 2 of the connection lifecycle.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[uint32]*pendingRequest)
	s.mu.Unlock()

	for _, pr := range pending {
		select {
		case pr.resultCh <- ResponseFrame{Status: StatusError, ErrCode: rpcerrors.RpcConnectionClosed}:
		default:
		}
	}
}

func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
