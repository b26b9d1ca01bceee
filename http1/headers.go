package http1

import (
	"bytes"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"

	"example.com/httpcore"
)

// Mapping between HTTP/2-style header lists with pseudo-headers and
// HTTP/1.1 request/status lines. The send direction consumes
// pseudo-headers and reconstructs the start line; the receive direction
// synthesizes them, so callers always see the required pseudo-headers even
// though the wire never carried them.

type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyContentLength
	bodyChunked
	bodyUntilClose
)

// requestHead is the result of serializing a submitted request header
// list.
type requestHead struct {
	line    []byte
	kind    bodyKind
	length  int64
	method  string
	close   bool
}

// buildRequestHead turns a pseudo-headered list into an HTTP/1.1 request
// head and decides the body framing: an explicit Content-Length is
// honored, endStream with no length means no body, anything else becomes
// chunked transfer coding.
func buildRequestHead(headers httpcore.Headers, endStream bool) (requestHead, error) {
	var out requestHead
	var method, scheme, authority, path, host string
	regular := make(httpcore.Headers, 0, len(headers))

	out.kind = bodyChunked
	if endStream {
		out.kind = bodyNone
	}
	for _, f := range headers {
		name := strings.ToLower(f.Name)
		if strings.HasPrefix(name, ":") {
			switch name {
			case ":method":
				method = f.Value
			case ":scheme":
				scheme = f.Value
			case ":authority":
				authority = f.Value
			case ":path":
				path = f.Value
			default:
				return out, fmt.Errorf("unexpected request pseudo-header %s", f.Name)
			}
			continue
		}
		switch name {
		case "host":
			if host != "" {
				return out, fmt.Errorf("duplicate Host header")
			}
			host = f.Value
		case "content-length":
			n, err := strconv.ParseInt(f.Value, 10, 64)
			if err != nil || n < 0 {
				return out, fmt.Errorf("invalid Content-Length %q", f.Value)
			}
			out.kind = bodyContentLength
			out.length = n
		case "transfer-encoding":
			out.kind = bodyChunked
		case "connection":
			if strings.EqualFold(f.Value, "close") {
				out.close = true
			}
		}
		regular = append(regular, f)
	}

	if method == "" {
		return out, fmt.Errorf("missing request pseudo-header :method")
	}
	if authority == "" {
		return out, fmt.Errorf("missing request pseudo-header :authority")
	}
	target := path
	if method == "CONNECT" {
		// CONNECT uses the authority-form target and has neither
		// :scheme nor :path.
		if scheme != "" || path != "" {
			return out, fmt.Errorf("CONNECT request must not carry :scheme or :path")
		}
		target = authority
	} else {
		if scheme == "" {
			return out, fmt.Errorf("missing request pseudo-header :scheme")
		}
		if path == "" {
			return out, fmt.Errorf("missing request pseudo-header :path")
		}
	}
	if host == "" {
		regular = append(httpcore.Headers{{Name: "host", Value: authority}}, regular...)
	} else if host != authority {
		return out, fmt.Errorf("Host header %q does not match :authority %q", host, authority)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, target)
	writeFieldLines(&b, regular)
	if out.kind == bodyChunked {
		if _, ok := headers.Get("transfer-encoding"); !ok {
			b.WriteString("Transfer-Encoding: chunked\r\n")
		}
	}
	if out.kind == bodyNone && method != "CONNECT" {
		if _, ok := headers.Get("content-length"); !ok {
			b.WriteString("Content-Length: 0\r\n")
		}
	}
	b.WriteString("\r\n")

	out.line = b.Bytes()
	out.method = method
	if out.kind == bodyContentLength && out.length == 0 {
		out.kind = bodyNone
	}
	return out, nil
}

// responseHead is the result of serializing a submitted response header
// list.
type responseHead struct {
	line   []byte
	kind   bodyKind
	length int64
	status int
	close  bool
}

// buildResponseHead turns a pseudo-headered list into an HTTP/1.1 status
// line. Body framing follows the same rules as requests, except that
// responses to HEAD and 1xx/204/304 statuses never carry a body.
func buildResponseHead(headers httpcore.Headers, requestMethod string, endStream bool) (responseHead, error) {
	var out responseHead
	var status string
	regular := make(httpcore.Headers, 0, len(headers))

	out.kind = bodyChunked
	if endStream {
		out.kind = bodyNone
	}
	for _, f := range headers {
		name := strings.ToLower(f.Name)
		if strings.HasPrefix(name, ":") {
			if name != ":status" {
				return out, fmt.Errorf("unexpected response pseudo-header %s", f.Name)
			}
			status = f.Value
			continue
		}
		switch name {
		case "content-length":
			n, err := strconv.ParseInt(f.Value, 10, 64)
			if err != nil || n < 0 {
				return out, fmt.Errorf("invalid Content-Length %q", f.Value)
			}
			out.kind = bodyContentLength
			out.length = n
		case "transfer-encoding":
			out.kind = bodyChunked
		case "connection":
			if strings.EqualFold(f.Value, "close") {
				out.close = true
			}
		}
		regular = append(regular, f)
	}

	if status == "" {
		return out, fmt.Errorf("missing response pseudo-header :status")
	}
	code, err := strconv.Atoi(status)
	if err != nil || code < 100 || code > 999 {
		return out, fmt.Errorf("invalid :status %q", status)
	}
	out.status = code
	if bodilessStatus(code) || requestMethod == "HEAD" {
		out.kind = bodyNone
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %03d %s\r\n", code, reasonPhrase(code))
	writeFieldLines(&b, regular)
	if out.kind == bodyChunked {
		if _, ok := headers.Get("transfer-encoding"); !ok {
			b.WriteString("Transfer-Encoding: chunked\r\n")
		}
	}
	if out.kind == bodyNone && !bodilessStatus(code) && requestMethod != "HEAD" {
		if _, ok := headers.Get("content-length"); !ok {
			b.WriteString("Content-Length: 0\r\n")
		}
	}
	b.WriteString("\r\n")

	out.line = b.Bytes()
	if out.kind == bodyContentLength && out.length == 0 {
		out.kind = bodyNone
	}
	return out, nil
}

// writeFieldLines serializes regular header fields with canonical
// HTTP/1-style capitalization.
func writeFieldLines(b *bytes.Buffer, fields httpcore.Headers) {
	for _, f := range fields {
		b.WriteString(textproto.CanonicalMIMEHeaderKey(f.Name))
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
}

// bodilessStatus reports whether a status code forbids a response body
// (RFC 9110 section 6.4.1).
func bodilessStatus(code int) bool {
	return code < 200 || code == 204 || code == 304
}

// parsedHead is a decoded request or response head with synthesized
// pseudo-headers.
type parsedHead struct {
	headers httpcore.Headers
	kind    bodyKind
	length  int64
	method  string // requests only
	status  int    // responses only
	close   bool
}

// parseRequestHead decodes a request head received by a server and
// synthesizes the :method, :scheme, :authority and :path pseudo-headers.
// The scheme comes from the transport's TLS state. A missing Host header
// is a protocol error; absolute-form targets are split into authority and
// path.
func parseRequestHead(head []byte, scheme string) (parsedHead, error) {
	var out parsedHead
	line, fields, err := splitHead(head)
	if err != nil {
		return out, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/1.") {
		return out, fmt.Errorf("malformed request line %q", line)
	}
	method, target, version := parts[0], parts[1], parts[2]
	if version == "HTTP/1.0" {
		out.close = true
	}

	var host string
	regular := make(httpcore.Headers, 0, len(fields))
	for _, f := range fields {
		name := strings.ToLower(f.Name)
		if strings.HasPrefix(name, ":") {
			return out, fmt.Errorf("pseudo-header %s not allowed in HTTP/1", f.Name)
		}
		switch name {
		case "host":
			if host != "" {
				return out, fmt.Errorf("duplicate Host header")
			}
			host = f.Value
			continue
		case "connection":
			if strings.EqualFold(f.Value, "close") {
				out.close = true
			} else if strings.EqualFold(f.Value, "keep-alive") && version == "HTTP/1.0" {
				out.close = false
			}
		}
		regular = append(regular, httpcore.HeaderField{Name: name, Value: f.Value})
	}

	authority := host
	path := target
	if method == "CONNECT" {
		out.headers = append(httpcore.Headers{
			{Name: ":method", Value: method},
			{Name: ":authority", Value: target},
		}, regular...)
	} else {
		if a, p, ok := splitAbsoluteForm(target); ok {
			authority, path = a, p
		}
		if authority == "" {
			return out, fmt.Errorf("request without Host header")
		}
		out.headers = append(httpcore.Headers{
			{Name: ":method", Value: method},
			{Name: ":scheme", Value: scheme},
			{Name: ":authority", Value: authority},
			{Name: ":path", Value: path},
		}, regular...)
	}

	out.method = method
	out.kind, out.length, err = requestBodyFraming(fields)
	return out, err
}

// parseResponseHead decodes a status line and headers received by a client
// and synthesizes the :status pseudo-header. The reason phrase is
// discarded. The request method decides whether a body may follow.
func parseResponseHead(head []byte, requestMethod string) (parsedHead, error) {
	var out parsedHead
	line, fields, err := splitHead(head)
	if err != nil {
		return out, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/1.") {
		return out, fmt.Errorf("malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return out, fmt.Errorf("invalid status code in %q", line)
	}
	if parts[0] == "HTTP/1.0" {
		out.close = true
	}

	regular := make(httpcore.Headers, 0, len(fields))
	for _, f := range fields {
		name := strings.ToLower(f.Name)
		if strings.HasPrefix(name, ":") {
			return out, fmt.Errorf("pseudo-header %s not allowed in HTTP/1", f.Name)
		}
		if name == "connection" && strings.EqualFold(f.Value, "close") {
			out.close = true
		}
		regular = append(regular, httpcore.HeaderField{Name: name, Value: f.Value})
	}
	out.headers = append(httpcore.Headers{{Name: ":status", Value: parts[1]}}, regular...)
	out.status = code

	if bodilessStatus(code) || requestMethod == "HEAD" {
		out.kind = bodyNone
		return out, nil
	}
	out.kind, out.length, err = requestBodyFraming(fields)
	if err != nil {
		return out, err
	}
	if _, hasLength := fields.Get("content-length"); out.kind == bodyNone && !hasLength {
		// Responses without Content-Length or Transfer-Encoding are
		// delimited by connection close (RFC 9112 section 6.3).
		out.kind = bodyUntilClose
	}
	return out, nil
}

// requestBodyFraming picks the body framing signalled by the field list:
// chunked wins over Content-Length, absence of both means no body for
// requests.
func requestBodyFraming(fields httpcore.Headers) (bodyKind, int64, error) {
	kind := bodyNone
	var length int64
	for _, f := range fields {
		switch strings.ToLower(f.Name) {
		case "transfer-encoding":
			if strings.Contains(strings.ToLower(f.Value), "chunked") {
				return bodyChunked, 0, nil
			}
		case "content-length":
			n, err := strconv.ParseInt(strings.TrimSpace(f.Value), 10, 64)
			if err != nil || n < 0 {
				return kind, 0, fmt.Errorf("invalid Content-Length %q", f.Value)
			}
			kind = bodyContentLength
			length = n
		}
	}
	if kind == bodyContentLength && length == 0 {
		kind = bodyNone
	}
	return kind, length, nil
}

// splitHead cuts a head block (without the terminating blank line) into
// the start line and its header fields, preserving order and duplicates.
func splitHead(head []byte) (string, httpcore.Headers, error) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", nil, fmt.Errorf("empty message head")
	}
	fields := make(httpcore.Headers, 0, len(lines)-1)
	for _, l := range lines[1:] {
		if l == "" {
			continue
		}
		name, value, ok := strings.Cut(l, ":")
		if !ok || name == "" || strings.TrimRight(name, " \t") != name {
			return "", nil, fmt.Errorf("malformed header line %q", l)
		}
		fields = append(fields, httpcore.HeaderField{
			Name:  name,
			Value: strings.Trim(value, " \t"),
		})
	}
	return lines[0], fields, nil
}

// splitAbsoluteForm splits an absolute-form request target into authority
// and path.
func splitAbsoluteForm(target string) (authority, path string, ok bool) {
	rest, found := strings.CutPrefix(target, "http://")
	if !found {
		rest, found = strings.CutPrefix(target, "https://")
	}
	if !found {
		return "", "", false
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		if rest[i] == '/' {
			return rest[:i], rest[i:], true
		}
		return rest[:i], "/" + rest[i:], true
	}
	return rest, "/", true
}

// reasonPhrase returns the conventional reason phrase for a status code.
// Peers must ignore it, but real servers send one.
func reasonPhrase(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Status"
	}
}
