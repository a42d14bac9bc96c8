// Package rpcerrors defines the typed error taxonomy used across the
// connection lifecycle, security, and RPC layers. Every error here wraps
// an underlying cause (where one exists) so callers can still use
// errors.Is/errors.As/errors.Unwrap through it.
package rpcerrors

import (
	"errors"
	"fmt"
)

// BootstrapError indicates a failure during directory registration,
// before any transport connection has been attempted.
type BootstrapError struct {
	Code string
	Err  error
}

func (e *BootstrapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bootstrap: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("bootstrap: %s", e.Code)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// TransportError indicates a failure at the datagram transport layer.
type TransportError struct {
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transport: %s", e.Code)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SecurityError indicates a failure in the PSK handshake or frame
// protection layer.
type SecurityError struct {
	Code string
	Err  error
}

func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("security: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("security: %s", e.Code)
}

func (e *SecurityError) Unwrap() error { return e.Err }

// Well-known SecurityError codes.
const (
	SecurityHandshakeTimeout = "handshake_timeout"
	SecurityHMACMismatch     = "hmac_mismatch"
	SecurityDecryptFailed    = "decrypt_failed"
	SecurityReplayRejected   = "replay_rejected"
)

// ProtocolError indicates a malformed or unexpected frame. Always fatal
// to the Connection that observed it.
type ProtocolError struct {
	Code string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Code)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

const (
	ProtocolUnknownFrame    = "unknown_frame"
	ProtocolMalformed       = "malformed"
	ProtocolManifestMissing = "manifest_missing_interface"
	ProtocolManifestEmpty   = "manifest_empty"
)

// RpcError is surfaced only to the invoking caller of a grain method.
type RpcError struct {
	Code    string
	Message string
	Err     error
}

func (e *RpcError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc: %s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("rpc: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("rpc: %s", e.Code)
}

func (e *RpcError) Unwrap() error { return e.Err }

const (
	RpcUnknownMethod     = "unknown_method"
	RpcDeadlineExceeded  = "deadline"
	RpcCancelled         = "cancelled"
	RpcRemote            = "remote"
	RpcConnectionClosed  = "connection_closed"
)

// TransitionError indicates a failed zone-transition attempt. Never
// fatal to the client as a whole; only aborts the one transition.
type TransitionError struct {
	Code string
	Err  error
}

func (e *TransitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transition: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transition: %s", e.Code)
}

func (e *TransitionError) Unwrap() error { return e.Err }

const (
	TransitionProbeFailed      = "probe_failed"
	TransitionConnectFailed    = "connect_failed"
	TransitionConnectRejected  = "connect_player_rejected"
	TransitionTargetUnresolved = "target_unresolved"
)

// ConnectError wraps the failure modes of the connect sequence
// surfaced to the caller of lifecycle.Connect.
type ConnectError struct {
	Code string
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("connect: %s", e.Code)
}

func (e *ConnectError) Unwrap() error { return e.Err }

const (
	ConnectSecurityFailed    = "security_failed"
	ConnectNetwork           = "network"
	ConnectInvalidServerInfo = "invalid_server_info"
	ConnectManifestUnavail   = "manifest_unavailable"
)

// Is allows errors.Is(err, &SecurityError{Code: SecurityHandshakeTimeout})
// style matching on the stable Code alone when callers don't need the
// wrapped struct itself.
func (e *SecurityError) Is(target error) bool {
	var other *SecurityError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}
