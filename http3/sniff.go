package http3

// QUIC packet sniffing. Long-header packets carry both connection IDs in
// a version-independent layout (RFC 8999 section 5.1), which is all the
// engine needs to learn the IDs in play: the destination ID of inbound
// packets and the source ID of outbound packets both name this endpoint.

// sniffLongHeader extracts the destination and source connection IDs from
// a long-header QUIC packet. It returns ok=false for short-header packets
// and for anything too mangled to parse.
func sniffLongHeader(data []byte) (dcid, scid []byte, ok bool) {
	// 1 byte flags + 4 bytes version + 1 byte DCID length minimum.
	if len(data) < 6 || data[0]&0x80 == 0 {
		return nil, nil, false
	}
	off := 5
	dcidLen := int(data[off])
	off++
	if dcidLen > 20 || off+dcidLen+1 > len(data) {
		return nil, nil, false
	}
	dcid = append([]byte(nil), data[off:off+dcidLen]...)
	off += dcidLen
	scidLen := int(data[off])
	off++
	if scidLen > 20 || off+scidLen > len(data) {
		return nil, nil, false
	}
	scid = append([]byte(nil), data[off:off+scidLen]...)
	return dcid, scid, true
}

// sniffVersion returns the version field of a long-header packet.
func sniffVersion(data []byte) (uint32, bool) {
	if len(data) < 5 || data[0]&0x80 == 0 {
		return 0, false
	}
	return uint32(data[1])<<24 | uint32(data[2])<<16 | uint32(data[3])<<8 | uint32(data[4]), true
}
