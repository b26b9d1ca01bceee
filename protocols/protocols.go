// Package protocols assembles the built-in protocol engines into a
// registry. Registration is explicit: call DefaultRegistry (or Register)
// during process initialization instead of relying on import side
// effects.
package protocols

import (
	"github.com/rs/zerolog"

	"example.com/httpcore"
	"example.com/httpcore/http1"
	"example.com/httpcore/http2"
	"example.com/httpcore/http3"
)

// DefaultName is the registry name of the built-in implementations.
const DefaultName = "default"

// DefaultRegistry returns a registry with every built-in engine
// registered under "default".
func DefaultRegistry() *httpcore.Registry {
	r := httpcore.NewRegistry()
	Register(r, zerolog.Nop())
	return r
}

// Register adds the built-in engines to r under "default", wiring the
// given logger into every factory.
func Register(r *httpcore.Registry, log zerolog.Logger) {
	r.RegisterHTTP1Server(DefaultName, &http1.ServerFactory{Logger: log})
	r.RegisterHTTP1Client(DefaultName, &http1.ClientFactory{Logger: log})
	r.RegisterHTTP2Server(DefaultName, &http2.ServerFactory{Logger: log})
	r.RegisterHTTP2Client(DefaultName, &http2.ClientFactory{Logger: log})
	r.RegisterHTTP3Server(DefaultName, &http3.ServerFactory{Logger: log})
	r.RegisterHTTP3Client(DefaultName, &http3.ClientFactory{Logger: log})
}
