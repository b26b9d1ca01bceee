package httpcore

import "net/netip"

// Address is a network host/port tuple.
type Address = netip.AddrPort

// Datagram is one UDP payload together with its peer address. For received
// datagrams Addr is the sender; for outbound datagrams it is the
// destination.
type Datagram struct {
	Payload []byte
	Addr    Address
}

// Role distinguishes the two ends of an HTTP connection.
type Role int

const (
	// RoleClient initiates requests.
	RoleClient Role = iota
	// RoleServer answers them.
	RoleServer
)

// String returns "client" or "server".
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ConnectionInfo is a passive holder for transport-level details. The
// surrounding connection layer fills it in once the transport is
// established; the protocol core only stores the values. It is not safe for
// concurrent mutation and is expected to be written before the connection
// is driven.
type ConnectionInfo struct {
	local      Address
	remote     Address
	tlsVersion string
	extra      map[string]any
}

// SetAddresses records the local and remote transport addresses.
func (ci *ConnectionInfo) SetAddresses(local, remote Address) {
	ci.local, ci.remote = local, remote
}

// LocalAddress returns the local transport address, if set.
func (ci *ConnectionInfo) LocalAddress() Address { return ci.local }

// RemoteAddress returns the remote transport address, if set.
func (ci *ConnectionInfo) RemoteAddress() Address { return ci.remote }

// SetTLSVersion records the negotiated TLS version, e.g. "TLSv1.3".
// Empty means cleartext.
func (ci *ConnectionInfo) SetTLSVersion(v string) { ci.tlsVersion = v }

// TLSVersion returns the negotiated TLS version, or "" for cleartext.
func (ci *ConnectionInfo) TLSVersion() string { return ci.tlsVersion }

// SetExtra attaches an opaque diagnostic attribute.
func (ci *ConnectionInfo) SetExtra(key string, value any) {
	if ci.extra == nil {
		ci.extra = make(map[string]any)
	}
	ci.extra[key] = value
}

// Extra returns the diagnostic attribute stored under key, if any.
func (ci *ConnectionInfo) Extra(key string) (any, bool) {
	v, ok := ci.extra[key]
	return v, ok
}
