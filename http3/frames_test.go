package http3

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, 1<<62 - 1}
	for _, v := range values {
		encoded := appendVarint(nil, v)
		br := bufio.NewReader(bytes.NewReader(encoded))
		decoded, err := readVarint(br)
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, decoded)
		_, err = br.ReadByte()
		assert.Error(t, err, "no trailing bytes for %d", v)
	}
}

func TestVarintBoundaryLengths(t *testing.T) {
	assert.Len(t, appendVarint(nil, 63), 1)
	assert.Len(t, appendVarint(nil, 64), 2)
	assert.Len(t, appendVarint(nil, 16383), 2)
	assert.Len(t, appendVarint(nil, 16384), 4)
	assert.Len(t, appendVarint(nil, 1<<30), 8)
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("field section")
	encoded := appendFrame(nil, frameTypeHeaders, payload)
	encoded = appendFrame(encoded, frameTypeData, []byte("body"))

	br := bufio.NewReader(bytes.NewReader(encoded))

	ftype, got, err := readFrame(br)
	require.NoError(t, err)
	assert.Equal(t, uint64(frameTypeHeaders), ftype)
	assert.Equal(t, payload, got)

	ftype, got, err = readFrame(br)
	require.NoError(t, err)
	assert.Equal(t, uint64(frameTypeData), ftype)
	assert.Equal(t, []byte("body"), got)
}

func TestReadFrameTruncated(t *testing.T) {
	encoded := appendFrame(nil, frameTypeData, []byte("body"))
	br := bufio.NewReader(bytes.NewReader(encoded[:len(encoded)-2]))
	_, _, err := readFrame(br)
	assert.Error(t, err)
}

func TestSniffLongHeader(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	scid := []byte{9, 10, 11, 12}
	pkt := []byte{0xC0, 0x00, 0x00, 0x00, 0x01} // long header, version 1
	pkt = append(pkt, byte(len(dcid)))
	pkt = append(pkt, dcid...)
	pkt = append(pkt, byte(len(scid)))
	pkt = append(pkt, scid...)
	pkt = append(pkt, 0xFF) // rest of packet

	gotDCID, gotSCID, ok := sniffLongHeader(pkt)
	require.True(t, ok)
	assert.Equal(t, dcid, gotDCID)
	assert.Equal(t, scid, gotSCID)

	version, ok := sniffVersion(pkt)
	require.True(t, ok)
	assert.Equal(t, uint32(1), version)

	_, _, ok = sniffLongHeader([]byte{0x40, 1, 2, 3})
	assert.False(t, ok, "short header packets carry no source ID")
}
