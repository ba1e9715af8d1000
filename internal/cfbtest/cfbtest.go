// Package cfbtest provides shared test fixtures: random payloads and
// freshly built in-memory compound files, so package tests don't each
// reimplement the same setup.
package cfbtest

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/arnegrimsson/gocfb/compound"
)

// RandomBytes returns n cryptographically random bytes. Guaranteed to
// succeed or fail the test.
func RandomBytes(t *testing.T, n int) []byte {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err, "failed to generate %d random bytes", n)
	return buf
}

// NewEngine builds a fresh, empty in-memory compound file of the given
// major version (3 or 4).
func NewEngine(t *testing.T, majorVersion int, flags compound.ConfigFlags) *compound.Engine {
	engine, err := compound.Create(majorVersion, flags)
	require.NoError(t, err, "Create failed")
	return engine
}

// RoundTrip saves engine to an in-memory buffer and reloads it as a fresh
// Engine, so a test can assert that what was written back can be read
// back identically.
func RoundTrip(t *testing.T, engine *compound.Engine, mode compound.Mode, flags compound.ConfigFlags) *compound.Engine {
	var buf []byte
	w := &sliceWriter{}
	err := engine.Save(w)
	require.NoError(t, err, "Save failed")
	buf = w.data

	backing := bytesextra.NewReadWriteSeeker(buf)
	reloaded, err := compound.Load(backing, mode, flags)
	require.NoError(t, err, "Load failed")
	return reloaded
}

// sliceWriter accumulates every Write call into a growable slice, for tests
// that don't want to pre-size a buffer the way bytewriter.New requires.
type sliceWriter struct {
	data []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}
