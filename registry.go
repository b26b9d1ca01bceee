package httpcore

import (
	"fmt"
	"sync"
)

// Registry is a process-wide mapping from HTTP version and role to named
// factory implementations. It is populated by explicit registration during
// process initialization; the protocols package registers the built-in
// engines under the name "default".
//
// Registration and lookup are safe for concurrent use; registrations after
// startup are allowed but discouraged.
type Registry struct {
	mu sync.RWMutex

	http1Servers map[string]HTTPOverTCPFactory
	http1Clients map[string]HTTPOverTCPFactory
	http2Servers map[string]HTTPOverTCPFactory
	http2Clients map[string]HTTPOverTCPFactory
	http3Servers map[string]HTTPOverQUICServerFactory
	http3Clients map[string]HTTPOverQUICClientFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		http1Servers: make(map[string]HTTPOverTCPFactory),
		http1Clients: make(map[string]HTTPOverTCPFactory),
		http2Servers: make(map[string]HTTPOverTCPFactory),
		http2Clients: make(map[string]HTTPOverTCPFactory),
		http3Servers: make(map[string]HTTPOverQUICServerFactory),
		http3Clients: make(map[string]HTTPOverQUICClientFactory),
	}
}

// RegisterHTTP1Server registers an HTTP/1 server factory under name.
func (r *Registry) RegisterHTTP1Server(name string, f HTTPOverTCPFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.http1Servers[name] = f
}

// RegisterHTTP1Client registers an HTTP/1 client factory under name.
func (r *Registry) RegisterHTTP1Client(name string, f HTTPOverTCPFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.http1Clients[name] = f
}

// RegisterHTTP2Server registers an HTTP/2 server factory under name.
func (r *Registry) RegisterHTTP2Server(name string, f HTTPOverTCPFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.http2Servers[name] = f
}

// RegisterHTTP2Client registers an HTTP/2 client factory under name.
func (r *Registry) RegisterHTTP2Client(name string, f HTTPOverTCPFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.http2Clients[name] = f
}

// RegisterHTTP3Server registers an HTTP/3 server factory under name.
func (r *Registry) RegisterHTTP3Server(name string, f HTTPOverQUICServerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.http3Servers[name] = f
}

// RegisterHTTP3Client registers an HTTP/3 client factory under name.
func (r *Registry) RegisterHTTP3Client(name string, f HTTPOverQUICClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.http3Clients[name] = f
}

// HTTP1Server resolves a named HTTP/1 server factory.
func (r *Registry) HTTP1Server(name string) (HTTPOverTCPFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.http1Servers, "http/1.1", RoleServer, name)
}

// HTTP1Client resolves a named HTTP/1 client factory.
func (r *Registry) HTTP1Client(name string) (HTTPOverTCPFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.http1Clients, "http/1.1", RoleClient, name)
}

// HTTP2Server resolves a named HTTP/2 server factory.
func (r *Registry) HTTP2Server(name string) (HTTPOverTCPFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.http2Servers, "h2", RoleServer, name)
}

// HTTP2Client resolves a named HTTP/2 client factory.
func (r *Registry) HTTP2Client(name string) (HTTPOverTCPFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.http2Clients, "h2", RoleClient, name)
}

// HTTP3Server resolves a named HTTP/3 server factory.
func (r *Registry) HTTP3Server(name string) (HTTPOverQUICServerFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.http3Servers, "h3", RoleServer, name)
}

// HTTP3Client resolves a named HTTP/3 client factory.
func (r *Registry) HTTP3Client(name string) (HTTPOverQUICClientFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.http3Clients, "h3", RoleClient, name)
}

func lookup[F any](m map[string]F, version string, role Role, name string) (F, error) {
	f, ok := m[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("httpcore: no %s %s factory registered under %q", version, role, name)
	}
	return f, nil
}
