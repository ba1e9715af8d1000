package direntry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnegrimsson/gocfb/direntry"
	"github.com/arnegrimsson/gocfb/header"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	entry, err := direntry.NewStream("Budget.xlsx")
	require.NoError(t, err)
	entry.CLSID = [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	entry.StateBits = 0xDEADBEEF
	entry.CreatedAt = time.Date(2020, 3, 14, 9, 26, 53, 0, time.UTC)
	entry.ModifiedAt = time.Date(2021, 11, 2, 18, 0, 0, 0, time.UTC)
	entry.StartSector = header.SectorID(42)
	entry.StreamSize = 1 << 33

	data, err := entry.Marshal()
	require.NoError(t, err)
	require.Len(t, data, direntry.Size)

	decoded, err := direntry.Unmarshal(data, 4)
	require.NoError(t, err)
	assert.Equal(t, entry.Name, decoded.Name)
	assert.Equal(t, entry.CLSID, decoded.CLSID)
	assert.Equal(t, entry.StateBits, decoded.StateBits)
	assert.True(t, entry.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, entry.ModifiedAt.Equal(decoded.ModifiedAt))
	assert.Equal(t, entry.StartSector, decoded.StartSector)
	assert.Equal(t, entry.StreamSize, decoded.StreamSize)
}

func TestUnmarshalV3DiscardsHighStreamSizeBits(t *testing.T) {
	entry, err := direntry.NewStream("big.bin")
	require.NoError(t, err)
	entry.StreamSize = 1<<32 + 100

	data, err := entry.Marshal()
	require.NoError(t, err)

	decoded, err := direntry.Unmarshal(data, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 100, decoded.StreamSize)
}

func TestValidateNameRejectsForbiddenCharacters(t *testing.T) {
	for _, bad := range []string{"a/b", "a\\b", "a:b", "a!b", ""} {
		_, err := direntry.NewStream(bad)
		assert.Errorf(t, err, "expected %q to be rejected", bad)
	}
}

func TestValidateNameRejectsTooLong(t *testing.T) {
	longName := ""
	for i := 0; i < 32; i++ {
		longName += "x"
	}
	_, err := direntry.NewStream(longName)
	assert.Error(t, err)
}

func TestLessOrdersByLengthThenUppercase(t *testing.T) {
	assert.True(t, direntry.Less("ab", "abc"))
	assert.False(t, direntry.Less("abc", "ab"))
	assert.True(t, direntry.Less("apple", "Banana"))
	assert.True(t, direntry.Equal("hello", "HELLO"))
	assert.False(t, direntry.Equal("hello", "hellox"))
}

func TestFILETIMERoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)
	ft := direntry.TimeToFILETIME(now)
	back := direntry.FILETIMEToTime(ft)
	assert.True(t, now.Equal(back))

	assert.EqualValues(t, 0, direntry.TimeToFILETIME(time.Time{}))
	assert.True(t, direntry.FILETIMEToTime(0).IsZero())
}

func TestMarkDeletedClearsLinks(t *testing.T) {
	entry, err := direntry.NewStream("foo")
	require.NoError(t, err)
	entry.Left = 3
	entry.Right = 4
	entry.Child = 5

	assert.False(t, entry.IsDeleted())
	entry.MarkDeleted(7)
	assert.True(t, entry.IsDeleted())
	assert.Equal(t, direntry.NoStream, entry.Left)
	assert.Equal(t, direntry.NoStream, entry.Right)
	assert.Equal(t, direntry.NoStream, entry.Child)
}
