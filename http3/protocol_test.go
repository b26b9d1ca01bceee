package http3_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/httpcore"
	"example.com/httpcore/http3"
	"example.com/httpcore/internal/testcert"
)

var (
	serverAddr = netip.MustParseAddrPort("127.0.0.1:4433")
	clientAddr = netip.MustParseAddrPort("127.0.0.1:5555")
)

// newPair spins up a client and a server engine wired back to back. The
// QUIC handshake still has to be pumped by the test before the pair is
// usable.
func newPair(t *testing.T) (client, server httpcore.HTTPOverQUICProtocol) {
	t.Helper()

	certPEM, keyPEM, err := testcert.SelfSignedPEM("localhost")
	require.NoError(t, err)

	serverFactory := &http3.ServerFactory{}
	server, err = serverFactory.New(&httpcore.ServerTLSConfig{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	})
	require.NoError(t, err)

	clientFactory := &http3.ClientFactory{}
	client, err = clientFactory.New(serverAddr, "localhost", &httpcore.ClientTLSConfig{
		CAData: certPEM,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.ConnectionLost(nil)
		server.ConnectionLost(nil)
	})
	return client, server
}

// pump shuttles datagrams between the paired engines until cond holds or
// the deadline passes. The QUIC machinery runs asynchronously, so the
// loop keeps polling even when no datagram moved.
func pump(t *testing.T, client, server httpcore.HTTPOverQUICProtocol, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		now := time.Now()
		client.Clock(now)
		server.Clock(now)
		for _, dg := range client.DatagramsToSend() {
			server.DatagramReceived(httpcore.Datagram{Payload: dg.Payload, Addr: clientAddr})
		}
		for _, dg := range server.DatagramsToSend() {
			client.DatagramReceived(httpcore.Datagram{Payload: dg.Payload, Addr: serverAddr})
		}
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func collect(p httpcore.HTTPOverQUICProtocol, into *[]httpcore.Event) {
	for ev := p.NextEvent(); ev != nil; ev = p.NextEvent() {
		*into = append(*into, ev)
	}
}

func TestRequestResponse(t *testing.T) {
	client, server := newPair(t)

	assert.Equal(t, "h3", client.HTTPVersion())
	assert.True(t, client.Multiplexed())

	// Handshake.
	pump(t, client, server, func() bool {
		return client.IsAvailable() && server.IsAvailable()
	})
	assert.NotEmpty(t, client.ConnectionIDs())

	id, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id, "first client bidirectional stream")

	require.NoError(t, client.SubmitHeaders(id, httpcore.Headers{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "localhost"},
		{Name: ":path", Value: "/"},
	}, true))

	var serverEvents []httpcore.Event
	pump(t, client, server, func() bool {
		collect(server, &serverEvents)
		return len(serverEvents) >= 1
	})
	headers, ok := serverEvents[0].(httpcore.HeadersReceived)
	require.True(t, ok)
	assert.Equal(t, id, headers.StreamID)
	assert.True(t, headers.EndStream)
	assert.Equal(t, "GET", headers.Headers.Pseudo(":method"))
	assert.Equal(t, "/", headers.Headers.Pseudo(":path"))

	// Respond with three 10-byte data frames, end of stream on the
	// last.
	require.NoError(t, server.SubmitHeaders(id, httpcore.Headers{
		{Name: ":status", Value: "200"},
	}, false))
	chunk := []byte("0123456789")
	require.NoError(t, server.SubmitData(id, chunk, false))
	require.NoError(t, server.SubmitData(id, chunk, false))
	require.NoError(t, server.SubmitData(id, chunk, true))

	var clientEvents []httpcore.Event
	pump(t, client, server, func() bool {
		collect(client, &clientEvents)
		return len(clientEvents) >= 4
	})
	require.Len(t, clientEvents, 4, "exactly one HEADERS and three DATA events")

	resp, ok := clientEvents[0].(httpcore.HeadersReceived)
	require.True(t, ok)
	assert.Equal(t, "200", resp.Headers.Pseudo(":status"))
	assert.False(t, resp.EndStream)
	for i, ev := range clientEvents[1:] {
		data, ok := ev.(httpcore.DataReceived)
		require.True(t, ok, "event %d", i+1)
		assert.Equal(t, chunk, data.Data)
		assert.Equal(t, i == 2, data.EndStream, "end_stream only on the third data event")
	}
}

func TestGoawayAndClose(t *testing.T) {
	client, server := newPair(t)

	pump(t, client, server, func() bool {
		return client.IsAvailable() && server.IsAvailable()
	})

	require.NoError(t, server.SubmitClose(server.ErrorCodes().NoError))

	// The GOAWAY races the CONNECTION_CLOSE on the wire; the client
	// must end up terminated and unavailable either way.
	var clientEvents []httpcore.Event
	sawTerminated := func() bool {
		collect(client, &clientEvents)
		for _, ev := range clientEvents {
			if term, ok := ev.(httpcore.ConnectionTerminated); ok {
				assert.Equal(t, httpcore.HTTP3ErrorCodes.NoError, term.ErrorCode)
				return true
			}
		}
		return false
	}
	pump(t, client, server, sawTerminated)
	assert.False(t, client.IsAvailable())

	_, err := client.GetAvailableStreamID()
	assert.ErrorIs(t, err, httpcore.ErrNotAvailable)

	for i := 0; i < 3; i++ {
		assert.Nil(t, client.NextEvent())
	}
}

func TestServerDoesNotInitiateStreams(t *testing.T) {
	client, server := newPair(t)

	pump(t, client, server, func() bool {
		return client.IsAvailable() && server.IsAvailable()
	})

	_, err := server.GetAvailableStreamID()
	assert.True(t, httpcore.IsMisuse(err))
}

func TestNotAvailableBeforeHandshake(t *testing.T) {
	certPEM, keyPEM, err := testcert.SelfSignedPEM("localhost")
	require.NoError(t, err)

	factory := &http3.ServerFactory{}
	server, err := factory.New(&httpcore.ServerTLSConfig{CertPEM: certPEM, KeyPEM: keyPEM})
	require.NoError(t, err)
	defer server.ConnectionLost(nil)

	assert.False(t, server.IsAvailable())
	_, err = server.GetAvailableStreamID()
	assert.Error(t, err)
}
