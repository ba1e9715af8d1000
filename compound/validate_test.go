package compound_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnegrimsson/gocfb/compound"
	"github.com/arnegrimsson/gocfb/header"
	"github.com/arnegrimsson/gocfb/internal/cfbtest"
)

func TestValidateCleanTreePasses(t *testing.T) {
	engine := cfbtest.NewEngine(t, 3, compound.Default)
	storage, err := engine.AddStorage(compound.RootSID, "Storage")
	require.NoError(t, err)
	sid, err := engine.AddStream(storage, "Stream")
	require.NoError(t, err)
	_, err = engine.WriteStreamAt(sid, cfbtest.RandomBytes(t, 8192), 0)
	require.NoError(t, err)

	assert.NoError(t, engine.Validate())
}

func TestValidateFailsFastWithoutNoValidationException(t *testing.T) {
	engine := cfbtest.NewEngine(t, 3, compound.Default)
	sid, err := engine.AddStream(compound.RootSID, "Bad")
	require.NoError(t, err)
	_, err = engine.WriteStreamAt(sid, cfbtest.RandomBytes(t, 8192), 0)
	require.NoError(t, err)

	entry, err := engine.Entry(sid)
	require.NoError(t, err)
	entry.StartSector = header.SectorID(999999)

	err = engine.Validate()
	assert.Error(t, err)
}

func TestValidateAggregatesFindingsWithNoValidationException(t *testing.T) {
	engine := cfbtest.NewEngine(t, 3, compound.NoValidationException)
	sid1, err := engine.AddStream(compound.RootSID, "Bad1")
	require.NoError(t, err)
	_, err = engine.WriteStreamAt(sid1, cfbtest.RandomBytes(t, 8192), 0)
	require.NoError(t, err)

	sid2, err := engine.AddStream(compound.RootSID, "Bad2")
	require.NoError(t, err)
	_, err = engine.WriteStreamAt(sid2, cfbtest.RandomBytes(t, 8192), 0)
	require.NoError(t, err)

	entry1, err := engine.Entry(sid1)
	require.NoError(t, err)
	entry1.StartSector = header.SectorID(999999)

	entry2, err := engine.Entry(sid2)
	require.NoError(t, err)
	entry2.StartSector = header.SectorID(999998)

	err = engine.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}
