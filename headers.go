package httpcore

import "strings"

// HeaderField is one name/value pair of an HTTP header list. Names of
// pseudo-headers start with a colon.
type HeaderField struct {
	Name  string
	Value string
}

// IsPseudo reports whether the field is a pseudo-header (":method",
// ":scheme", ":authority", ":path" or ":status").
func (f HeaderField) IsPseudo() bool {
	return strings.HasPrefix(f.Name, ":")
}

// Headers is an ordered HTTP header list. Duplicates are allowed.
// Pseudo-headers precede regular headers in a well-formed list.
type Headers []HeaderField

// Get returns the value of the first field with the given name, matched
// case-insensitively, and whether such a field exists.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Pseudo returns the value of the named pseudo-header, or "" if absent.
// The name must include the leading colon.
func (h Headers) Pseudo(name string) string {
	for _, f := range h {
		if !f.IsPseudo() {
			break
		}
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Split partitions the list into its pseudo-header prefix and the regular
// fields that follow. Pseudo-headers appearing after a regular field are
// returned with the regular fields; engines treat that as a violation.
func (h Headers) Split() (pseudo, regular Headers) {
	i := 0
	for i < len(h) && h[i].IsPseudo() {
		i++
	}
	return h[:i], h[i:]
}

// Clone returns a copy of the header list that shares no backing storage
// with the original.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}
