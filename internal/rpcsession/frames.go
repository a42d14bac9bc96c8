// Package rpcsession implements the RPC session layer (C4): request/
// response correlation, manifest exchange, cancellation, and the
// CONTROL/RESPONSE/REQUEST/CANCEL frame family that rides atop the
// security layer's protected channel.
package rpcsession

import (
	"encoding/binary"
	"fmt"
)

// FrameKind tags the application-level frames exchanged once the
// security layer is Live.
type FrameKind byte

const (
	KindManifestRequest FrameKind = 0x01
	KindManifestReply   FrameKind = 0x02
	KindRequest         FrameKind = 0x03
	KindResponse        FrameKind = 0x04
	KindCancel          FrameKind = 0x05
	KindControl         FrameKind = 0x06
)

// ResponseStatus enumerates RESPONSE.status.
type ResponseStatus byte

const (
	StatusOk ResponseStatus = iota
	StatusError
	StatusCancelled
)

// ControlKind enumerates CONTROL.kind.
type ControlKind byte

const (
	ControlPing ControlKind = iota
	ControlPong
	ControlClose
)

// MethodDescriptor is one entry of MANIFEST_REPLY's per-interface
// method table.
type MethodDescriptor struct {
	Selector       string
	InvokableAlias string
}

// InterfaceDescriptor is one entry of MANIFEST_REPLY.interfaces.
type InterfaceDescriptor struct {
	TypeName string
	TypeID   uint32
	Methods  []MethodDescriptor
}

// RequestFrame is the decoded form of a REQUEST frame.
type RequestFrame struct {
	RequestID      uint32
	InvokableAlias string
	GrainKey       string
	Body           []byte
	DeadlineMS     uint32
	Cancellable    bool
}

// ResponseFrame is the decoded form of a RESPONSE frame.
type ResponseFrame struct {
	RequestID uint32
	Status    ResponseStatus
	ErrCode   string
	ErrMsg    string
	Body      []byte
}

// ControlFrame is the decoded form of a CONTROL frame.
type ControlFrame struct {
	Kind   ControlKind
	Reason string
}

func putString(out []byte, s string) []byte {
	var ln [2]byte
	binary.BigEndian.PutUint16(ln[:], uint16(len(s)))
	out = append(out, ln[:]...)
	return append(out, s...)
}

func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("rpcsession: truncated string length")
	}
	n := binary.BigEndian.Uint16(buf[:2])
	buf = buf[2:]
	if len(buf) < int(n) {
		return "", nil, fmt.Errorf("rpcsession: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

func putBytes(out []byte, b []byte) []byte {
	var ln [4]byte
	binary.BigEndian.PutUint32(ln[:], uint32(len(b)))
	out = append(out, ln[:]...)
	return append(out, b...)
}

func getBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("rpcsession: truncated bytes length")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if len(buf) < int(n) {
		return nil, nil, fmt.Errorf("rpcsession: truncated bytes body")
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, buf[n:], nil
}

func EncodeManifestRequest() []byte {
	return []byte{byte(KindManifestRequest)}
}

func EncodeManifestReply(interfaces []InterfaceDescriptor) []byte {
	out := []byte{byte(KindManifestReply)}
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(interfaces)))
	out = append(out, count[:]...)
	for _, iface := range interfaces {
		out = putString(out, iface.TypeName)
		var id [4]byte
		binary.BigEndian.PutUint32(id[:], iface.TypeID)
		out = append(out, id[:]...)
		var mcount [2]byte
		binary.BigEndian.PutUint16(mcount[:], uint16(len(iface.Methods)))
		out = append(out, mcount[:]...)
		for _, m := range iface.Methods {
			out = putString(out, m.Selector)
			out = putString(out, m.InvokableAlias)
		}
	}
	return out
}

func DecodeManifestReply(frame []byte) ([]InterfaceDescriptor, error) {
	if len(frame) < 3 || FrameKind(frame[0]) != KindManifestReply {
		return nil, fmt.Errorf("rpcsession: malformed MANIFEST_REPLY")
	}
	buf := frame[1:]
	count := binary.BigEndian.Uint16(buf[:2])
	buf = buf[2:]
	out := make([]InterfaceDescriptor, 0, count)
	var err error
	for i := 0; i < int(count); i++ {
		var iface InterfaceDescriptor
		iface.TypeName, buf, err = getString(buf)
		if err != nil {
			return nil, err
		}
		if len(buf) < 4 {
			return nil, fmt.Errorf("rpcsession: truncated interface type id")
		}
		iface.TypeID = binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if len(buf) < 2 {
			return nil, fmt.Errorf("rpcsession: truncated method count")
		}
		mcount := binary.BigEndian.Uint16(buf[:2])
		buf = buf[2:]
		for j := 0; j < int(mcount); j++ {
			var m MethodDescriptor
			m.Selector, buf, err = getString(buf)
			if err != nil {
				return nil, err
			}
			m.InvokableAlias, buf, err = getString(buf)
			if err != nil {
				return nil, err
			}
			iface.Methods = append(iface.Methods, m)
		}
		out = append(out, iface)
	}
	return out, nil
}

func EncodeRequest(r RequestFrame) []byte {
	out := []byte{byte(KindRequest)}
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], r.RequestID)
	out = append(out, id[:]...)
	out = putString(out, r.InvokableAlias)
	out = putString(out, r.GrainKey)
	out = putBytes(out, r.Body)
	var deadline [4]byte
	binary.BigEndian.PutUint32(deadline[:], r.DeadlineMS)
	out = append(out, deadline[:]...)
	if r.Cancellable {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

func DecodeRequest(frame []byte) (RequestFrame, error) {
	var r RequestFrame
	if len(frame) < 5 || FrameKind(frame[0]) != KindRequest {
		return r, fmt.Errorf("rpcsession: malformed REQUEST")
	}
	buf := frame[1:]
	r.RequestID = binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	var err error
	r.InvokableAlias, buf, err = getString(buf)
	if err != nil {
		return r, err
	}
	r.GrainKey, buf, err = getString(buf)
	if err != nil {
		return r, err
	}
	r.Body, buf, err = getBytes(buf)
	if err != nil {
		return r, err
	}
	if len(buf) < 5 {
		return r, fmt.Errorf("rpcsession: truncated REQUEST tail")
	}
	r.DeadlineMS = binary.BigEndian.Uint32(buf[:4])
	r.Cancellable = buf[4] != 0
	return r, nil
}

func EncodeResponse(r ResponseFrame) []byte {
	out := []byte{byte(KindResponse)}
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], r.RequestID)
	out = append(out, id[:]...)
	out = append(out, byte(r.Status))
	out = putString(out, r.ErrCode)
	out = putString(out, r.ErrMsg)
	out = putBytes(out, r.Body)
	return out
}

func DecodeResponse(frame []byte) (ResponseFrame, error) {
	var r ResponseFrame
	if len(frame) < 6 || FrameKind(frame[0]) != KindResponse {
		return r, fmt.Errorf("rpcsession: malformed RESPONSE")
	}
	buf := frame[1:]
	r.RequestID = binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	r.Status = ResponseStatus(buf[0])
	buf = buf[1:]
	var err error
	r.ErrCode, buf, err = getString(buf)
	if err != nil {
		return r, err
	}
	r.ErrMsg, buf, err = getString(buf)
	if err != nil {
		return r, err
	}
	r.Body, _, err = getBytes(buf)
	if err != nil {
		return r, err
	}
	return r, nil
}

func EncodeCancel(requestID uint32) []byte {
	out := []byte{byte(KindCancel)}
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], requestID)
	return append(out, id[:]...)
}

func DecodeCancel(frame []byte) (uint32, error) {
	if len(frame) != 5 || FrameKind(frame[0]) != KindCancel {
		return 0, fmt.Errorf("rpcsession: malformed CANCEL")
	}
	return binary.BigEndian.Uint32(frame[1:5]), nil
}

func EncodeControl(c ControlFrame) []byte {
	out := []byte{byte(KindControl), byte(c.Kind)}
	return putString(out, c.Reason)
}

func DecodeControl(frame []byte) (ControlFrame, error) {
	var c ControlFrame
	if len(frame) < 2 || FrameKind(frame[0]) != KindControl {
		return c, fmt.Errorf("rpcsession: malformed CONTROL")
	}
	c.Kind = ControlKind(frame[1])
	reason, _, err := getString(frame[2:])
	if err != nil {
		return c, err
	}
	c.Reason = reason
	return c, nil
}

// PeekKind returns the leading frame-kind byte without otherwise
// interpreting the frame.
func PeekKind(frame []byte) (FrameKind, error) {
	if len(frame) < 1 {
		return 0, fmt.Errorf("rpcsession: empty frame")
	}
	return FrameKind(frame[0]), nil
}
