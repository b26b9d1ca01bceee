package httpcore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/httpcore"
	"example.com/httpcore/http1"
	"example.com/httpcore/http2"
	"example.com/httpcore/protocols"
)

func TestHeadersHelpers(t *testing.T) {
	h := httpcore.Headers{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: "Accept", Value: "text/html"},
		{Name: "accept", Value: "application/json"},
	}

	v, ok := h.Get("ACCEPT")
	assert.True(t, ok)
	assert.Equal(t, "text/html", v, "Get returns the first match")

	assert.Equal(t, "GET", h.Pseudo(":method"))
	assert.Equal(t, "", h.Pseudo(":status"))

	pseudo, regular := h.Split()
	assert.Len(t, pseudo, 2)
	assert.Len(t, regular, 2)

	_, ok = h.Get("host")
	assert.False(t, ok)
}

func TestHeadersClone(t *testing.T) {
	h := httpcore.Headers{{Name: "a", Value: "1"}}
	c := h.Clone()
	c[0].Value = "2"
	assert.Equal(t, "1", h[0].Value)
}

// negotiateALPN mimics TLS ALPN selection, where the server picks its
// most preferred token that the client offered.
func negotiateALPN(serverPrefs, clientOffers []string) string {
	for _, s := range serverPrefs {
		for _, c := range clientOffers {
			if s == c {
				return s
			}
		}
	}
	return ""
}

func TestALPNMuxAdvertisesChildTokensInOrder(t *testing.T) {
	mux := httpcore.NewALPNMux(&http2.ServerFactory{}, &http1.ServerFactory{})
	assert.Equal(t, []string{"h2", "http/1.1"}, mux.ALPNProtocols())
}

func TestALPNMuxSelection(t *testing.T) {
	mux := httpcore.NewALPNMux(&http2.ServerFactory{}, &http1.ServerFactory{})

	// The server advertises ["h2", "http/1.1"]; a peer offering the
	// reverse order still ends up on h2 because server preference wins.
	token := negotiateALPN(mux.ALPNProtocols(), []string{"http/1.1", "h2"})
	require.Equal(t, "h2", token)

	p, err := mux.New(httpcore.TLSInfo{Version: "TLSv1.3", ALPNProtocol: token})
	require.NoError(t, err)
	assert.Equal(t, "h2", p.HTTPVersion())
	assert.True(t, p.Multiplexed())
}

func TestALPNMuxFallbackWithoutALPN(t *testing.T) {
	mux := httpcore.NewALPNMux(&http1.ServerFactory{}, &http2.ServerFactory{})
	p, err := mux.New(httpcore.TLSInfo{})
	require.NoError(t, err)
	assert.Equal(t, "http/1.1", p.HTTPVersion())
}

func TestALPNMuxUnknownToken(t *testing.T) {
	mux := httpcore.NewALPNMux(&http1.ServerFactory{})
	_, err := mux.New(httpcore.TLSInfo{Version: "TLSv1.3", ALPNProtocol: "spdy/3"})
	assert.Error(t, err)
}

func TestRegistryResolution(t *testing.T) {
	r := protocols.DefaultRegistry()

	f1, err := r.HTTP1Server("default")
	require.NoError(t, err)
	assert.Equal(t, []string{"http/1.1"}, f1.ALPNProtocols())

	f2, err := r.HTTP2Client("default")
	require.NoError(t, err)
	assert.Equal(t, []string{"h2"}, f2.ALPNProtocols())

	f3, err := r.HTTP3Server("default")
	require.NoError(t, err)
	assert.Equal(t, []string{"h3"}, f3.ALPNProtocols())
	assert.Greater(t, f3.ConnectionIDLength(), 0)
	assert.NotEmpty(t, f3.SupportedVersions())

	_, err = r.HTTP2Server("nonexistent")
	assert.Error(t, err)
}

func TestErrorCodeTables(t *testing.T) {
	assert.Equal(t, uint64(0x1), httpcore.HTTP2ErrorCodes.ProtocolError)
	assert.Equal(t, uint64(0x8), httpcore.HTTP2ErrorCodes.Cancel)
	assert.Equal(t, uint64(0x101), httpcore.HTTP3ErrorCodes.ProtocolError)
	assert.Equal(t, uint64(400), httpcore.HTTP1ErrorCodes.ProtocolError)
}

func TestMisuseError(t *testing.T) {
	err := httpcore.NewMisuseError("submit_data", 5, "headers not submitted")
	assert.True(t, httpcore.IsMisuse(err))
	assert.Contains(t, err.Error(), "stream 5")
	assert.False(t, httpcore.IsMisuse(httpcore.ErrNotAvailable))
}

func TestConnectionInfo(t *testing.T) {
	var ci httpcore.ConnectionInfo
	ci.SetTLSVersion("TLSv1.3")
	ci.SetExtra("sniffed_alpn", "h2")

	assert.Equal(t, "TLSv1.3", ci.TLSVersion())
	v, ok := ci.Extra("sniffed_alpn")
	assert.True(t, ok)
	assert.Equal(t, "h2", v)
	_, ok = ci.Extra("missing")
	assert.False(t, ok)
}
