package rpcsession

import (
	"sync"

	"github.com/zoneward/rpcrt/internal/rpcerrors"
)

// Manifest is the RpcSession.manifest data member: a mapping from
// grain interface name to interfaceTypeId, and from (interfaceTypeId,
// methodSelector) to invokableTypeAlias. Populated once from a
// MANIFEST_REPLY frame.
type Manifest struct {
	mu         sync.RWMutex
	interfaces map[string]uint32
	aliases    map[string]string // key: "<typeId>:<selector>"
	ready      bool
}

func NewManifest() *Manifest {
	return &Manifest{
		interfaces: make(map[string]uint32),
		aliases:    make(map[string]string),
	}
}

func aliasKey(typeID uint32, selector string) string {
	return keyString(typeID) + ":" + selector
}

func keyString(id uint32) string {
	// Small helper avoiding fmt import for a hot path; base-10 encode.
	if id == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}

// Install replaces the manifest contents from a decoded MANIFEST_REPLY.
// An empty interface list is a protocol error (B3: ManifestEmpty).
func (m *Manifest) Install(interfaces []InterfaceDescriptor) error {
	if len(interfaces) == 0 {
		return &rpcerrors.ProtocolError{Code: rpcerrors.ProtocolManifestEmpty}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interfaces = make(map[string]uint32, len(interfaces))
	m.aliases = make(map[string]string)
	for _, iface := range interfaces {
		m.interfaces[iface.TypeName] = iface.TypeID
		for _, meth := range iface.Methods {
			m.aliases[aliasKey(iface.TypeID, meth.Selector)] = meth.InvokableAlias
		}
	}
	m.ready = true
	return nil
}

func (m *Manifest) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Resolve looks up the invokableAlias for (grainInterfaceName,
// selector). Returns RpcError::UnknownMethod if not found.
func (m *Manifest) Resolve(grainInterfaceName, selector string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	typeID, ok := m.interfaces[grainInterfaceName]
	if !ok {
		return "", &rpcerrors.RpcError{Code: rpcerrors.RpcUnknownMethod, Message: "unknown interface " + grainInterfaceName}
	}
	alias, ok := m.aliases[aliasKey(typeID, selector)]
	if !ok {
		return "", &rpcerrors.RpcError{Code: rpcerrors.RpcUnknownMethod, Message: "unknown method " + selector}
	}
	return alias, nil
}
