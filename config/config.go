// Package config loads TLS and protocol configuration for embedders of
// the protocol core from TOML documents. The core types stay plain
// structs; this package only decodes and validates. Absent keys are left
// unset; no default values are filled in.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"example.com/httpcore"
)

// Config is the top-level configuration document.
type Config struct {
	TLS   *TLSConfig   `toml:"tls,omitempty"`
	HTTP2 *HTTP2Config `toml:"http2,omitempty"`
	HTTP3 *HTTP3Config `toml:"http3,omitempty"`
}

// TLSConfig groups the server and client TLS records.
type TLSConfig struct {
	Server *ServerTLS `toml:"server,omitempty"`
	Client *ClientTLS `toml:"client,omitempty"`
}

// ServerTLS configures the server certificate and handshake behavior.
type ServerTLS struct {
	CertFile          string   `toml:"cert_file"`
	KeyFile           string   `toml:"key_file"`
	RequireClientAuth bool     `toml:"require_client_auth"`
	ALPNProtocols     []string `toml:"alpn_protocols,omitempty"`
}

// ClientTLS configures trust and client identity.
type ClientTLS struct {
	Insecure      bool     `toml:"insecure"`
	CAFile        string   `toml:"ca_file,omitempty"`
	CAPath        string   `toml:"ca_path,omitempty"`
	ServerName    string   `toml:"server_name,omitempty"`
	CertFile      string   `toml:"cert_file,omitempty"`
	KeyFile       string   `toml:"key_file,omitempty"`
	ALPNProtocols []string `toml:"alpn_protocols,omitempty"`
}

// HTTP2Config holds HTTP/2 tuning values for the embedding layer. The
// http2 engine takes no configuration and does not read them. Pointer
// fields distinguish "absent" from zero.
type HTTP2Config struct {
	MaxConcurrentStreams *uint32 `toml:"max_concurrent_streams,omitempty"`
	InitialWindowSize    *uint32 `toml:"initial_window_size,omitempty"`
	MaxFrameSize         *uint32 `toml:"max_frame_size,omitempty"`
}

// HTTP3Config holds HTTP/3 tuning values for the embedding layer. The
// http3 factories do not read them; they use a fixed 30s idle timeout.
type HTTP3Config struct {
	MaxIdleTimeout string `toml:"max_idle_timeout,omitempty"` // e.g. "30s"
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a TOML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TLS != nil && c.TLS.Server != nil {
		s := c.TLS.Server
		if (s.CertFile == "") != (s.KeyFile == "") {
			return fmt.Errorf("config: tls.server needs both cert_file and key_file")
		}
	}
	if c.TLS != nil && c.TLS.Client != nil {
		cl := c.TLS.Client
		if (cl.CertFile == "") != (cl.KeyFile == "") {
			return fmt.Errorf("config: tls.client needs both cert_file and key_file")
		}
	}
	if c.HTTP2 != nil {
		if v := c.HTTP2.MaxFrameSize; v != nil && (*v < 16384 || *v > 1<<24-1) {
			return fmt.Errorf("config: http2.max_frame_size %d outside 16384..16777215", *v)
		}
	}
	return nil
}

// ServerTLSConfig converts the document into the core's server TLS
// record, or nil when not configured.
func (c *Config) ServerTLSConfig() *httpcore.ServerTLSConfig {
	if c.TLS == nil || c.TLS.Server == nil {
		return nil
	}
	s := c.TLS.Server
	return &httpcore.ServerTLSConfig{
		CertFile:          s.CertFile,
		KeyFile:           s.KeyFile,
		RequireClientAuth: s.RequireClientAuth,
		ALPNProtocols:     append([]string(nil), s.ALPNProtocols...),
	}
}

// ClientTLSConfig converts the document into the core's client TLS
// record, or nil when not configured.
func (c *Config) ClientTLSConfig() *httpcore.ClientTLSConfig {
	if c.TLS == nil || c.TLS.Client == nil {
		return nil
	}
	cl := c.TLS.Client
	return &httpcore.ClientTLSConfig{
		Insecure:      cl.Insecure,
		CAFile:        cl.CAFile,
		CAPath:        cl.CAPath,
		ServerName:    cl.ServerName,
		CertFile:      cl.CertFile,
		KeyFile:       cl.KeyFile,
		ALPNProtocols: append([]string(nil), cl.ALPNProtocols...),
	}
}
