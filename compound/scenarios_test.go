package compound_test

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnegrimsson/gocfb/compound"
	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/internal/cfbtest"
)

// TestScenarioOneStream reproduces spec.md's S1: a v3 file holding a single
// 20 MiB stream "A" filled with 0x0A, saved and reopened read-only.
func TestScenarioOneStream(t *testing.T) {
	engine := cfbtest.NewEngine(t, 3, compound.Default)
	sid, err := engine.AddStream(compound.RootSID, "A")
	require.NoError(t, err)

	const size = 20 * 1024 * 1024
	payload := bytes.Repeat([]byte{0x0A}, size)
	_, err = engine.WriteStreamAt(sid, payload, 0)
	require.NoError(t, err)

	reloaded := cfbtest.RoundTrip(t, engine, compound.ReadOnly, compound.Default)
	found, err := reloaded.FindChild(compound.RootSID, "A")
	require.NoError(t, err)

	readBack := make([]byte, size)
	n, err := reloaded.ReadStreamAt(found, readBack, 0)
	require.NoError(t, err)
	require.Equal(t, size, n)
	assert.Equal(t, byte(0x0A), readBack[0])
	assert.Equal(t, byte(0x0A), readBack[size-1])
}

// TestScenarioEightStreams reproduces spec.md's S2: building S1's 20 MiB
// stream A in the same engine, adding streams B..H at varied sizes and
// confirming all eight round-trip intact.
func TestScenarioEightStreams(t *testing.T) {
	engine := cfbtest.NewEngine(t, 3, compound.Default)
	sidA, err := engine.AddStream(compound.RootSID, "A")
	require.NoError(t, err)
	payloadA := bytes.Repeat([]byte{0x0A}, 20*1024*1024)
	_, err = engine.WriteStreamAt(sidA, payloadA, 0)
	require.NoError(t, err)

	sizes := map[string]int{
		"B": 5 * 1024,
		"C": 5 * 1024,
		"D": 5 * 1024,
		"E": 8*1024*1024 + 1,
		"F": 16 * 1024 * 1024,
		"G": 14 * 1024 * 1024,
		"H": 12 * 1024 * 1024,
	}
	fillBytes := map[string]byte{
		"B": 0x0B, "C": 0x0C, "D": 0x0D, "E": 0x0E,
		"F": 0x0F, "G": 0x10, "H": 0x11,
	}
	payloads := map[string][]byte{"A": payloadA}

	for _, name := range []string{"B", "C", "D", "E", "F", "G", "H"} {
		sid, err := engine.AddStream(compound.RootSID, name)
		require.NoError(t, err)
		payload := bytes.Repeat([]byte{fillBytes[name]}, sizes[name])
		_, err = engine.WriteStreamAt(sid, payload, 0)
		require.NoError(t, err)
		payloads[name] = payload
	}

	reloaded := cfbtest.RoundTrip(t, engine, compound.ReadOnly, compound.Default)
	for name, payload := range payloads {
		sid, err := reloaded.FindChild(compound.RootSID, name)
		require.NoErrorf(t, err, "stream %q missing after reload", name)
		readBack := make([]byte, len(payload))
		_, err = reloaded.ReadStreamAt(sid, readBack, 0)
		require.NoError(t, err)
		assert.Equalf(t, payload[0], readBack[0], "stream %q first byte mismatch", name)
		assert.Equalf(t, payload[len(payload)-1], readBack[len(readBack)-1], "stream %q last byte mismatch", name)
	}
}

// TestScenarioDeleteTwoOfEight reproduces spec.md's S3: deleting streams D
// and G from the eight-stream file leaves exactly six behind.
func TestScenarioDeleteTwoOfEight(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "8streams-*.cfb")
	require.NoError(t, err)
	defer f.Close()

	engine, err := compound.Create(3, compound.LeaveOpen)
	require.NoError(t, err)

	all := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for _, name := range all {
		sid, err := engine.AddStream(compound.RootSID, name)
		require.NoError(t, err)
		_, err = engine.WriteStreamAt(sid, cfbtest.RandomBytes(t, 100), 0)
		require.NoError(t, err)
	}
	require.NoError(t, engine.Save(f))

	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	reloaded, err := compound.Load(f, compound.Update, compound.LeaveOpen)
	require.NoError(t, err)

	require.NoError(t, reloaded.Delete(compound.RootSID, "D"))
	require.NoError(t, reloaded.Delete(compound.RootSID, "G"))

	var remaining int
	require.NoError(t, reloaded.WalkChildren(compound.RootSID, func(direntry.SID) error {
		remaining++
		return nil
	}))
	assert.Equal(t, 6, remaining)

	for _, gone := range []string{"D", "G"} {
		_, err := reloaded.FindChild(compound.RootSID, gone)
		assert.Error(t, err)
	}
	for _, name := range []string{"A", "B", "C", "E", "F", "H"} {
		_, err := reloaded.FindChild(compound.RootSID, name)
		assert.NoErrorf(t, err, "stream %q should still exist", name)
	}
}

// TestScenarioDuplicateStreamNameRejected reproduces spec.md's S4: a second
// stream named "Level2Stream" under storage "Level_1" must fail with
// cfberrors.Duplicated.
func TestScenarioDuplicateStreamNameRejected(t *testing.T) {
	engine := cfbtest.NewEngine(t, 3, compound.Default)
	storage, err := engine.AddStorage(compound.RootSID, "Level_1")
	require.NoError(t, err)
	sid, err := engine.AddStream(storage, "Level2Stream")
	require.NoError(t, err)
	_, err = engine.WriteStreamAt(sid, cfbtest.RandomBytes(t, 100), 0)
	require.NoError(t, err)

	reloaded := cfbtest.RoundTrip(t, engine, compound.Update, compound.Default)
	foundStorage, err := reloaded.FindChild(compound.RootSID, "Level_1")
	require.NoError(t, err)

	_, err = reloaded.AddStream(foundStorage, "Level2Stream")
	assert.ErrorIs(t, err, cfberrors.Duplicated)
}

// TestScenarioManyStreamsFetchOne reproduces spec.md's S5: 5,000 streams are
// created, the file is saved and reopened, and fetching one by name
// succeeds in bounded time. This is a property test, not a timing
// assertion.
func TestScenarioManyStreamsFetchOne(t *testing.T) {
	engine := cfbtest.NewEngine(t, 3, compound.Default)
	const total = 5000
	for i := 0; i < total; i++ {
		sid, err := engine.AddStream(compound.RootSID, fmt.Sprintf("Test%d", i))
		require.NoError(t, err)
		_, err = engine.WriteStreamAt(sid, cfbtest.RandomBytes(t, 300), 0)
		require.NoError(t, err)
	}

	reloaded := cfbtest.RoundTrip(t, engine, compound.ReadOnly, compound.Default)
	sid, err := reloaded.FindChild(compound.RootSID, "Test1")
	require.NoError(t, err)

	readBack := make([]byte, 300)
	n, err := reloaded.ReadStreamAt(sid, readBack, 0)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
}

// TestCommitIsIdempotentWithoutIntermediateMutation reproduces spec.md's
// property 6: committing twice with no mutation in between produces a
// bit-identical file both times.
func TestCommitIsIdempotentWithoutIntermediateMutation(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "idempotent-*.cfb")
	require.NoError(t, err)
	defer f.Close()

	engine, err := compound.Create(3, compound.LeaveOpen)
	require.NoError(t, err)
	require.NoError(t, engine.Save(f))

	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	reloaded, err := compound.Load(f, compound.Update, compound.LeaveOpen)
	require.NoError(t, err)

	sid, err := reloaded.AddStream(compound.RootSID, "Once")
	require.NoError(t, err)
	_, err = reloaded.WriteStreamAt(sid, cfbtest.RandomBytes(t, 2048), 0)
	require.NoError(t, err)

	require.NoError(t, reloaded.Commit(false))
	firstBytes, err := os.ReadFile(f.Name())
	require.NoError(t, err)

	require.NoError(t, reloaded.Commit(false))
	secondBytes, err := os.ReadFile(f.Name())
	require.NoError(t, err)

	assert.Equal(t, firstBytes, secondBytes)
}
