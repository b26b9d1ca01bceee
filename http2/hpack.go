package http2

import (
	"bytes"
	"strings"

	"golang.org/x/net/http2/hpack"

	"example.com/httpcore"
)

// hpackEncoder wraps golang.org/x/net/http2/hpack.Encoder together with
// its output buffer. Decoding is not mirrored here: the framer owns the
// hpack.Decoder through Framer.ReadMetaHeaders.
type hpackEncoder struct {
	enc *hpack.Encoder
	buf bytes.Buffer
}

func newHPACKEncoder(maxTableSize uint32) *hpackEncoder {
	e := &hpackEncoder{}
	e.enc = hpack.NewEncoder(&e.buf)
	e.enc.SetMaxDynamicTableSize(maxTableSize)
	return e
}

// setMaxTableSize applies the peer's SETTINGS_HEADER_TABLE_SIZE. The
// encoder must not use a larger dynamic table than the peer's decoder
// will allocate (RFC 7541 section 4.2).
func (e *hpackEncoder) setMaxTableSize(v uint32) {
	e.enc.SetMaxDynamicTableSize(v)
}

// encode serializes a header list into one HPACK block. Field names are
// lowercased: HTTP/2 requires lowercase names on the wire (RFC 9113
// section 8.2.1).
func (e *hpackEncoder) encode(headers httpcore.Headers) ([]byte, error) {
	e.buf.Reset()
	for _, f := range headers {
		err := e.enc.WriteField(hpack.HeaderField{
			Name:  strings.ToLower(f.Name),
			Value: f.Value,
		})
		if err != nil {
			return nil, err
		}
	}
	block := make([]byte, e.buf.Len())
	copy(block, e.buf.Bytes())
	return block, nil
}

// newMetaDecoder builds the hpack.Decoder handed to the framer for
// header-block assembly.
func newMetaDecoder() *hpack.Decoder {
	return hpack.NewDecoder(initialHeaderTableSize, nil)
}

// fieldsToHeaders converts decoded hpack fields to the common header list.
func fieldsToHeaders(fields []hpack.HeaderField) httpcore.Headers {
	out := make(httpcore.Headers, len(fields))
	for i, f := range fields {
		out[i] = httpcore.HeaderField{Name: f.Name, Value: f.Value}
	}
	return out
}
