package header_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnegrimsson/gocfb/header"
)

func TestNewV3Defaults(t *testing.T) {
	h, err := header.New(3)
	require.NoError(t, err)
	assert.EqualValues(t, 9, h.SectorShift)
	assert.EqualValues(t, 6, h.MiniSectorShift)
	assert.EqualValues(t, 512, h.SectorSize())
	assert.EqualValues(t, 64, h.MiniSectorSize())
	assert.EqualValues(t, 4096, h.MiniStreamCutoff)
	assert.Equal(t, header.SectorID(header.EndOfChain), h.FirstDirectorySectorID)
	assert.Equal(t, header.SectorID(header.FreeSect), h.DIFAT[0])
	assert.Equal(t, header.HeaderSize, h.HeaderRegionSize())
}

func TestNewV4Defaults(t *testing.T) {
	h, err := header.New(4)
	require.NoError(t, err)
	assert.EqualValues(t, 12, h.SectorShift)
	assert.EqualValues(t, 4096, h.SectorSize())
	assert.Equal(t, 4096, h.HeaderRegionSize())
}

func TestNewRejectsUnsupportedVersion(t *testing.T) {
	_, err := header.New(5)
	assert.Error(t, err)
}

func TestWriteToThenReadFromRoundTrip(t *testing.T) {
	h, err := header.New(4)
	require.NoError(t, err)
	h.NumFATSectors = 3
	h.NumDirectorySectors = 1
	h.DIFAT[0] = 7

	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))
	assert.Equal(t, header.HeaderSize, buf.Len())

	parsed, err := header.ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, h.MajorVersion, parsed.MajorVersion)
	assert.EqualValues(t, 3, parsed.NumFATSectors)
	assert.Equal(t, header.SectorID(7), parsed.DIFAT[0])
	assert.EqualValues(t, 1, parsed.NumDirectorySectors)
}

func TestWriteToForcesV3DirectorySectorsToZero(t *testing.T) {
	h, err := header.New(3)
	require.NoError(t, err)
	h.NumDirectorySectors = 5

	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))

	parsed, err := header.ReadFrom(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, 0, parsed.NumDirectorySectors)
}

func TestReadFromRejectsBadSignature(t *testing.T) {
	h, err := header.New(3)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))

	raw := buf.Bytes()
	raw[0] ^= 0xFF

	_, err = header.ReadFrom(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestReadFromRejectsMismatchedSectorShift(t *testing.T) {
	h, err := header.New(3)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))

	raw := buf.Bytes()
	// SectorShift is the two bytes right after Signature(8)+CLSID(16)+
	// MinorVersion(2)+MajorVersion(2)+ByteOrder(2).
	offset := 8 + 16 + 2 + 2 + 2
	raw[offset] = 12

	_, err = header.ReadFrom(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestReadFromDefaultsZeroMiniStreamCutoffTo4096(t *testing.T) {
	h, err := header.New(3)
	require.NoError(t, err)
	h.MiniStreamCutoff = 0
	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))

	parsed, err := header.ReadFrom(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, parsed.MiniStreamCutoff)
}

func TestWriteToAlwaysEmitsExactlyHeaderSizeBytes(t *testing.T) {
	for _, version := range []int{3, 4} {
		h, err := header.New(version)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, h.WriteTo(&buf))
		assert.Equal(t, header.HeaderSize, buf.Len(),
			"WriteTo must leave v4 header-region padding to the caller")
	}
}
