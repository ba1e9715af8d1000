package sector_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnegrimsson/gocfb/sector"
)

func TestAddAndAt(t *testing.T) {
	c := sector.New(64, 64)
	s, rangeLockAdded := c.Add(sector.KindNormal)
	assert.False(t, rangeLockAdded)
	require.EqualValues(t, 0, s.ID())
	assert.Equal(t, sector.KindNormal, s.Kind())
	assert.EqualValues(t, 64, s.Size())
	assert.EqualValues(t, 1, c.Len())

	fetched, err := c.At(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, fetched)
}

func TestAtOutOfRangeFails(t *testing.T) {
	c := sector.New(64, 64)
	_, err := c.At(0)
	assert.Error(t, err)
}

func TestGetDataLazyZeroFillWhenNoSource(t *testing.T) {
	c := sector.New(16, 16)
	s, _ := c.Add(sector.KindNormal)

	data, err := s.GetData(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), data)
}

func TestGetDataReadsFromSourceAtOffset(t *testing.T) {
	c := sector.New(8, 8)
	c.Add(sector.KindNormal)
	s2, _ := c.Add(sector.KindNormal)

	backing := make([]byte, 0, 16)
	backing = append(backing, bytes.Repeat([]byte{0xAA}, 8)...)
	backing = append(backing, bytes.Repeat([]byte{0xBB}, 8)...)

	data, err := s2.GetData(bytes.NewReader(backing), 0)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xBB}, 8), data)
}

func TestGetDataShortReadZeroFillsRemainder(t *testing.T) {
	c := sector.New(8, 8)
	s, _ := c.Add(sector.KindNormal)

	backing := []byte{1, 2, 3}
	data, err := s.GetData(bytes.NewReader(backing), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, data)
}

func TestSetDataMarksDirty(t *testing.T) {
	c := sector.New(4, 4)
	s, _ := c.Add(sector.KindNormal)
	assert.False(t, s.Dirty(c))

	require.NoError(t, s.SetData([]byte{1, 2, 3, 4}, c))
	assert.True(t, s.Dirty(c))
}

func TestSetDataWrongSizeFails(t *testing.T) {
	c := sector.New(4, 4)
	s, _ := c.Add(sector.KindNormal)
	assert.Error(t, s.SetData([]byte{1, 2}, c))
}

func TestWriteAtMarksDirtyAndUpdatesBuffer(t *testing.T) {
	c := sector.New(4, 4)
	s, _ := c.Add(sector.KindNormal)

	require.NoError(t, s.WriteAt(nil, 0, 2, []byte{0xFF, 0xFF}, c))
	data, err := s.GetData(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0xFF, 0xFF}, data)
	assert.True(t, s.Dirty(c))
}

func TestWriteAtPastBoundsFails(t *testing.T) {
	c := sector.New(4, 4)
	s, _ := c.Add(sector.KindNormal)
	assert.Error(t, s.WriteAt(nil, 0, 3, []byte{1, 2}, c))
}

func TestForEachInOrderVisitsInOrder(t *testing.T) {
	c := sector.New(8, 8)
	c.Add(sector.KindNormal)
	c.Add(sector.KindFAT)
	c.Add(sector.KindDirectory)

	var visited []sector.ID
	err := c.ForEachInOrder(func(s *sector.Sector) error {
		visited = append(visited, s.ID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []sector.ID{0, 1, 2}, visited)
}

func TestReleaseBufferForcesReload(t *testing.T) {
	c := sector.New(4, 4)
	s, _ := c.Add(sector.KindNormal)
	require.NoError(t, s.SetData([]byte{9, 9, 9, 9}, c))

	s.ReleaseBuffer()
	data, err := s.GetData(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), data)
}

func TestRangeLockNotPendingBelowThreshold(t *testing.T) {
	c := sector.New(512, 64)
	c.Add(sector.KindNormal)
	assert.False(t, c.RangeLockPending())
}
