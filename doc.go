// Package httpcore is a sans-I/O protocol core for HTTP/1.1, HTTP/2 and
// HTTP/3. It exposes one event-driven, stream-multiplexing abstraction for
// all three wire protocols: callers feed raw transport bytes (or QUIC
// datagrams) in, submit HTTP-level actions, and drain HTTP-level events and
// outbound bytes/datagrams. No type in this module ever touches a socket.
//
// The root package defines the shared vocabulary: events, header lists,
// error-code tables, TLS configuration records, the protocol and factory
// interfaces, the ALPN-multiplexing factory and the protocol registry.
// The concrete engines live in the http1, http2 and http3 subpackages;
// the protocols subpackage assembles them into a default registry.
package httpcore
