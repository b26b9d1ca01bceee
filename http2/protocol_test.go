package http2_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/httpcore"
	"example.com/httpcore/http2"
)

func newPair(t *testing.T) (client, server *http2.Protocol) {
	t.Helper()
	client = http2.NewProtocol(httpcore.RoleClient, zerolog.Nop())
	server = http2.NewProtocol(httpcore.RoleServer, zerolog.Nop())
	return client, server
}

func pump(a, b *http2.Protocol) {
	for {
		moved := false
		if data := a.BytesToSend(); len(data) > 0 {
			b.BytesReceived(data)
			moved = true
		}
		if data := b.BytesToSend(); len(data) > 0 {
			a.BytesReceived(data)
			moved = true
		}
		if !moved {
			return
		}
	}
}

func drainEvents(p *http2.Protocol) []httpcore.Event {
	var out []httpcore.Event
	for ev := p.NextEvent(); ev != nil; ev = p.NextEvent() {
		out = append(out, ev)
	}
	return out
}

func getRequest(path string) httpcore.Headers {
	return httpcore.Headers{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.test"},
		{Name: ":path", Value: path},
	}
}

func okResponse() httpcore.Headers {
	return httpcore.Headers{{Name: ":status", Value: "200"}}
}

func streamEvents(events []httpcore.Event) []httpcore.StreamEvent {
	var out []httpcore.StreamEvent
	for _, ev := range events {
		if se, ok := ev.(httpcore.StreamEvent); ok {
			out = append(out, se)
		}
	}
	return out
}

func TestStreamIDAllocation(t *testing.T) {
	client, server := newPair(t)

	seen := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		id, err := client.GetAvailableStreamID()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id%2, "client streams are odd")
		assert.False(t, seen[id], "IDs are reserved at allocation")
		seen[id] = true
	}

	id, err := server.GetAvailableStreamID()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id%2, "server streams are even")
}

func TestConcurrentStreams(t *testing.T) {
	client, server := newPair(t)

	id1, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	id3, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(3), id3)

	require.NoError(t, client.SubmitHeaders(id1, getRequest("/one"), true))
	require.NoError(t, client.SubmitHeaders(id3, getRequest("/three"), true))
	pump(client, server)

	received := streamEvents(drainEvents(server))
	require.Len(t, received, 2)
	assert.Equal(t, uint64(1), received[0].Stream(), "arrival order preserved")
	assert.Equal(t, uint64(3), received[1].Stream())

	// The server answers stream 3 first; the client must observe that
	// order.
	require.NoError(t, server.SubmitHeaders(3, okResponse(), true))
	require.NoError(t, server.SubmitHeaders(1, okResponse(), true))
	pump(client, server)

	responses := streamEvents(drainEvents(client))
	require.Len(t, responses, 2)
	assert.Equal(t, uint64(3), responses[0].Stream())
	assert.Equal(t, uint64(1), responses[1].Stream())
}

func TestHeaderRoundTripNormalization(t *testing.T) {
	client, server := newPair(t)

	id, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	headers := append(getRequest("/"), httpcore.HeaderField{Name: "X-Custom-Header", Value: "Value"})
	require.NoError(t, client.SubmitHeaders(id, headers, true))
	pump(client, server)

	events := drainEvents(server)
	require.Len(t, events, 1)
	received := events[0].(httpcore.HeadersReceived)
	v, ok := received.Headers.Get("x-custom-header")
	assert.True(t, ok, "names are lowercased on the wire")
	assert.Equal(t, "Value", v)
	assert.Equal(t, "GET", received.Headers.Pseudo(":method"))
	assert.True(t, received.EndStream)
}

func TestDataTransfer(t *testing.T) {
	client, server := newPair(t)

	id, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.NoError(t, client.SubmitHeaders(id, getRequest("/"), true))
	pump(client, server)
	drainEvents(server)

	require.NoError(t, server.SubmitHeaders(id, okResponse(), false))
	require.NoError(t, server.SubmitData(id, []byte("hello "), false))
	require.NoError(t, server.SubmitData(id, []byte("world"), true))
	pump(client, server)

	events := drainEvents(client)
	require.Len(t, events, 3)
	assert.IsType(t, httpcore.HeadersReceived{}, events[0])
	first := events[1].(httpcore.DataReceived)
	assert.Equal(t, []byte("hello "), first.Data)
	assert.False(t, first.EndStream)
	second := events[2].(httpcore.DataReceived)
	assert.Equal(t, []byte("world"), second.Data)
	assert.True(t, second.EndStream)
}

func TestActionOrderingOnTheWire(t *testing.T) {
	client, server := newPair(t)

	id, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.NoError(t, client.SubmitHeaders(id, getRequest("/"), false))
	require.NoError(t, client.SubmitData(id, []byte("a"), false))
	require.NoError(t, client.SubmitData(id, []byte("b"), true))
	pump(client, server)

	events := streamEvents(drainEvents(server))
	require.Len(t, events, 3)
	assert.IsType(t, httpcore.HeadersReceived{}, events[0].(httpcore.Event))
	assert.Equal(t, []byte("a"), events[1].(httpcore.DataReceived).Data)
	assert.Equal(t, []byte("b"), events[2].(httpcore.DataReceived).Data)
}

func TestStreamReset(t *testing.T) {
	client, server := newPair(t)

	id, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.NoError(t, client.SubmitHeaders(id, getRequest("/"), false))
	pump(client, server)
	drainEvents(server)

	cancel := server.ErrorCodes().Cancel
	require.NoError(t, server.SubmitStreamReset(id, cancel))

	serverEvents := drainEvents(server)
	require.Len(t, serverEvents, 1)
	sent := serverEvents[0].(httpcore.StreamResetSent)
	assert.Equal(t, id, sent.StreamID)
	assert.Equal(t, cancel, sent.ErrorCode)

	pump(client, server)
	clientEvents := drainEvents(client)
	require.Len(t, clientEvents, 1)
	received := clientEvents[0].(httpcore.StreamResetReceived)
	assert.Equal(t, id, received.StreamID)
	assert.Equal(t, cancel, received.ErrorCode)

	err = client.SubmitData(id, []byte("late"), false)
	assert.True(t, httpcore.IsMisuse(err), "writing to a reset stream")
}

func TestGoaway(t *testing.T) {
	client, server := newPair(t)

	id, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.NoError(t, client.SubmitHeaders(id, getRequest("/"), true))
	pump(client, server)
	drainEvents(server)
	require.NoError(t, server.SubmitHeaders(id, okResponse(), true))
	pump(client, server)
	drainEvents(client)

	require.NoError(t, server.SubmitClose(server.ErrorCodes().NoError))
	pump(client, server)

	events := drainEvents(client)
	require.Len(t, events, 1)
	goaway := events[0].(httpcore.GoawayReceived)
	assert.Equal(t, uint64(1), goaway.LastStreamID)

	_, err = client.GetAvailableStreamID()
	assert.ErrorIs(t, err, httpcore.ErrNotAvailable)
	assert.False(t, client.IsAvailable())
	assert.False(t, server.IsAvailable(), "GOAWAY sender stops opening streams too")
}

func TestPrefaceViolation(t *testing.T) {
	_, server := newPair(t)

	server.BytesReceived([]byte("GET / HTTP/1.1\r\nHost: example.test\r\n\r\n"))
	events := drainEvents(server)
	require.Len(t, events, 1)
	term := events[0].(httpcore.ConnectionTerminated)
	assert.Equal(t, httpcore.HTTP2ErrorCodes.ProtocolError, term.ErrorCode)

	for i := 0; i < 3; i++ {
		assert.Nil(t, server.NextEvent())
	}
}

func TestPartialFrameFeeding(t *testing.T) {
	client, server := newPair(t)

	id, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.NoError(t, client.SubmitHeaders(id, getRequest("/"), true))

	// Trickle the client's bytes into the server one byte at a time;
	// no partial frame may produce an event or corrupt the framer.
	for _, b := range client.BytesToSend() {
		server.BytesReceived([]byte{b})
	}
	events := streamEvents(drainEvents(server))
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].Stream())
}

func TestSubmitValidation(t *testing.T) {
	client, _ := newPair(t)

	err := client.SubmitData(1, []byte("x"), false)
	assert.True(t, httpcore.IsMisuse(err), "unallocated stream")

	id, err := client.GetAvailableStreamID()
	require.NoError(t, err)

	err = client.SubmitData(id, []byte("x"), false)
	assert.True(t, httpcore.IsMisuse(err), "data before headers")

	require.NoError(t, client.SubmitHeaders(id, getRequest("/"), true))
	err = client.SubmitData(id, []byte("x"), false)
	assert.True(t, httpcore.IsMisuse(err), "data after end of stream")
}

func TestConnectionLost(t *testing.T) {
	client, _ := newPair(t)

	client.ConnectionLost(assert.AnError)
	events := drainEvents(client)
	require.Len(t, events, 1)
	term := events[0].(httpcore.ConnectionTerminated)
	assert.Equal(t, httpcore.HTTP2ErrorCodes.InternalError, term.ErrorCode)
	assert.NotEmpty(t, term.Message)
	assert.True(t, client.HasExpired())

	assert.ErrorIs(t, client.SubmitClose(0), httpcore.ErrConnectionClosed)
}
