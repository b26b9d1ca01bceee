package http3

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"example.com/httpcore"
)

// connectionIDLength is the length of connection IDs quic-go issues by
// default. Server deployments use it to route packets before a protocol
// instance exists.
const connectionIDLength = 4

// supportedQUICVersions lists the QUIC versions the engine negotiates.
var supportedQUICVersions = []uint32{uint32(quic.Version1), uint32(quic.Version2)}

// tlsConfigHolder bundles the crypto and transport configuration handed
// to quic-go.
type tlsConfigHolder struct {
	tls  *tls.Config
	quic *quic.Config
}

func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		Versions:       []quic.Version{quic.Version1, quic.Version2},
		MaxIdleTimeout: 30 * time.Second,
	}
}

// ClientFactory creates HTTP/3 client protocols. The zero value is ready
// to use; Logger defaults to a no-op logger.
type ClientFactory struct {
	Logger zerolog.Logger
}

// ALPNProtocols returns ["h3"].
func (f *ClientFactory) ALPNProtocols() []string { return []string{ALPNProtocol} }

// New creates a client protocol that connects to remote. The TLS
// handshake happens inside QUIC, so the trust configuration and SNI are
// needed up front.
func (f *ClientFactory) New(remote httpcore.Address, serverName string, cfg *httpcore.ClientTLSConfig) (httpcore.HTTPOverQUICProtocol, error) {
	if cfg == nil {
		cfg = &httpcore.ClientTLSConfig{}
	}
	tlsConf, err := clientTLSConfig(cfg, serverName)
	if err != nil {
		return nil, err
	}
	holder := &tlsConfigHolder{tls: tlsConf, quic: defaultQUICConfig()}
	p := newProtocol(httpcore.RoleClient, holder, remote, f.Logger)
	p.Info().SetTLSVersion("TLSv1.3")
	return p, nil
}

// ServerFactory creates HTTP/3 server protocols, one per incoming QUIC
// connection. The zero value is ready to use; Logger defaults to a no-op
// logger. New requires a server TLS configuration because a certificate
// is mandatory for QUIC.
type ServerFactory struct {
	Logger zerolog.Logger
}

// ALPNProtocols returns ["h3"].
func (f *ServerFactory) ALPNProtocols() []string { return []string{ALPNProtocol} }

// ConnectionIDLength returns the length of connection IDs instances
// issue.
func (f *ServerFactory) ConnectionIDLength() int { return connectionIDLength }

// SupportedVersions returns the QUIC versions instances accept.
func (f *ServerFactory) SupportedVersions() []uint32 {
	return append([]uint32(nil), supportedQUICVersions...)
}

// New creates a server protocol. The instance becomes live when the first
// Initial packet is fed to it.
func (f *ServerFactory) New(cfg *httpcore.ServerTLSConfig) (httpcore.HTTPOverQUICProtocol, error) {
	if cfg == nil {
		return nil, fmt.Errorf("http3: server TLS configuration is required")
	}
	tlsConf, err := serverTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	holder := &tlsConfigHolder{tls: tlsConf, quic: defaultQUICConfig()}
	p := newProtocol(httpcore.RoleServer, holder, httpcore.Address{}, f.Logger)
	p.Info().SetTLSVersion("TLSv1.3")
	return p, nil
}

func clientTLSConfig(cfg *httpcore.ClientTLSConfig, serverName string) (*tls.Config, error) {
	if cfg.ServerName != "" {
		serverName = cfg.ServerName
	}
	tlsConf := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		ServerName:         serverName,
		InsecureSkipVerify: cfg.Insecure,
		NextProtos:         alpnOrDefault(cfg.ALPNProtocols),
	}
	pool, err := trustPool(cfg)
	if err != nil {
		return nil, err
	}
	tlsConf.RootCAs = pool
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("http3: load client certificate: %w", err)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}
	return tlsConf, nil
}

func serverTLSConfig(cfg *httpcore.ServerTLSConfig) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if len(cfg.CertPEM) > 0 {
		cert, err = tls.X509KeyPair(cfg.CertPEM, cfg.KeyPEM)
	} else {
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("http3: load server certificate: %w", err)
	}
	tlsConf := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   alpnOrDefault(cfg.ALPNProtocols),
	}
	if cfg.RequireClientAuth {
		tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConf, nil
}

// trustPool builds the client trust store. nil means the system store.
// OpenSSL-based stacks honor SSL_CERT_FILE implicitly; this TLS stack
// does not, so the variable is applied here to keep the versions
// consistent under one environment.
func trustPool(cfg *httpcore.ClientTLSConfig) (*x509.CertPool, error) {
	cafile := cfg.CAFile
	if cafile == "" {
		cafile = os.Getenv("SSL_CERT_FILE")
	}
	if cafile == "" && cfg.CAPath == "" && len(cfg.CAData) == 0 {
		return nil, nil
	}
	pool := x509.NewCertPool()
	if len(cfg.CAData) > 0 {
		if !pool.AppendCertsFromPEM(cfg.CAData) {
			return nil, fmt.Errorf("http3: no certificates found in CAData")
		}
	}
	if cafile != "" {
		pem, err := os.ReadFile(cafile)
		if err != nil {
			return nil, fmt.Errorf("http3: read CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("http3: no certificates found in %s", cafile)
		}
	}
	if cfg.CAPath != "" {
		entries, err := os.ReadDir(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("http3: read CA directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(cfg.CAPath, e.Name()))
			if err != nil {
				continue
			}
			pool.AppendCertsFromPEM(pem)
		}
	}
	return pool, nil
}

func alpnOrDefault(alpn []string) []string {
	if len(alpn) > 0 {
		return append([]string(nil), alpn...)
	}
	return []string{ALPNProtocol}
}
