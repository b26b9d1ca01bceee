package http1

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/httpcore"
)

func TestBuildRequestHeadFraming(t *testing.T) {
	tests := []struct {
		name      string
		headers   httpcore.Headers
		endStream bool
		wantKind  bodyKind
		wantLine  string
	}{
		{
			name: "get without body",
			headers: httpcore.Headers{
				{Name: ":method", Value: "GET"},
				{Name: ":scheme", Value: "http"},
				{Name: ":authority", Value: "example.test"},
				{Name: ":path", Value: "/"},
			},
			endStream: true,
			wantKind:  bodyNone,
			wantLine:  "GET / HTTP/1.1\r\n",
		},
		{
			name: "post gets chunked when length unknown",
			headers: httpcore.Headers{
				{Name: ":method", Value: "POST"},
				{Name: ":scheme", Value: "http"},
				{Name: ":authority", Value: "example.test"},
				{Name: ":path", Value: "/submit"},
			},
			endStream: false,
			wantKind:  bodyChunked,
			wantLine:  "POST /submit HTTP/1.1\r\n",
		},
		{
			name: "explicit content-length honored",
			headers: httpcore.Headers{
				{Name: ":method", Value: "PUT"},
				{Name: ":scheme", Value: "http"},
				{Name: ":authority", Value: "example.test"},
				{Name: ":path", Value: "/doc"},
				{Name: "content-length", Value: "12"},
			},
			endStream: false,
			wantKind:  bodyContentLength,
			wantLine:  "PUT /doc HTTP/1.1\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head, err := buildRequestHead(tt.headers, tt.endStream)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, head.kind)
			assert.True(t, strings.HasPrefix(string(head.line), tt.wantLine))
			assert.Contains(t, string(head.line), "Host: example.test\r\n",
				"Host synthesized from :authority")
		})
	}
}

func TestBuildRequestHeadRejectsBadInput(t *testing.T) {
	_, err := buildRequestHead(httpcore.Headers{
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "example.test"},
		{Name: ":path", Value: "/"},
	}, true)
	assert.Error(t, err, "missing :method")

	_, err = buildRequestHead(httpcore.Headers{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "example.test"},
		{Name: ":path", Value: "/"},
		{Name: "host", Value: "other.test"},
	}, true)
	assert.Error(t, err, "Host disagreeing with :authority")

	_, err = buildRequestHead(httpcore.Headers{
		{Name: ":method", Value: "CONNECT"},
		{Name: ":authority", Value: "example.test:443"},
		{Name: ":path", Value: "/"},
	}, false)
	assert.Error(t, err, "CONNECT must not carry :path")
}

func TestBuildResponseHead(t *testing.T) {
	head, err := buildResponseHead(httpcore.Headers{
		{Name: ":status", Value: "200"},
		{Name: "x-thing", Value: "yes"},
	}, "GET", true)
	require.NoError(t, err)
	assert.Equal(t, bodyNone, head.kind)
	assert.True(t, strings.HasPrefix(string(head.line), "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, string(head.line), "X-Thing: yes\r\n", "canonical field case on the wire")
	assert.Contains(t, string(head.line), "Content-Length: 0\r\n")

	head, err = buildResponseHead(httpcore.Headers{
		{Name: ":status", Value: "200"},
	}, "HEAD", false)
	require.NoError(t, err)
	assert.Equal(t, bodyNone, head.kind, "HEAD responses never carry a body")
}

func TestParseRequestHeadSynthesis(t *testing.T) {
	ph, err := parseRequestHead([]byte("GET /x HTTP/1.1\r\nHost: h.test\r\nAccept: */*"), "https")
	require.NoError(t, err)
	assert.Equal(t, "GET", ph.headers.Pseudo(":method"))
	assert.Equal(t, "https", ph.headers.Pseudo(":scheme"))
	assert.Equal(t, "h.test", ph.headers.Pseudo(":authority"))
	assert.Equal(t, "/x", ph.headers.Pseudo(":path"))

	v, ok := ph.headers.Get("accept")
	assert.True(t, ok, "regular header names are lowercased")
	assert.Equal(t, "*/*", v)

	_, ok = ph.headers.Get("host")
	assert.False(t, ok, "Host folds into :authority")
}

func TestParseResponseHeadDiscardsReason(t *testing.T) {
	ph, err := parseResponseHead([]byte("HTTP/1.1 404 Not Found\r\nContent-Length: 5"), "GET")
	require.NoError(t, err)
	assert.Equal(t, "404", ph.headers.Pseudo(":status"))
	assert.Equal(t, bodyContentLength, ph.kind)
	assert.Equal(t, int64(5), ph.length)
}

func TestSplitAbsoluteForm(t *testing.T) {
	authority, path, ok := splitAbsoluteForm("http://a.test/p/q")
	require.True(t, ok)
	assert.Equal(t, "a.test", authority)
	assert.Equal(t, "/p/q", path)

	authority, path, ok = splitAbsoluteForm("https://a.test")
	require.True(t, ok)
	assert.Equal(t, "a.test", authority)
	assert.Equal(t, "/", path)

	_, _, ok = splitAbsoluteForm("/relative")
	assert.False(t, ok)
}
