package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfberrors "github.com/arnegrimsson/gocfb/errors"
)

func TestWithMessageIsMatchesKind(t *testing.T) {
	err := cfberrors.Corrupted.WithMessage("bad SID 42")
	assert.ErrorIs(t, err, cfberrors.Corrupted)
	assert.NotErrorIs(t, err, cfberrors.ItemNotFound)
	assert.Contains(t, err.Error(), "bad SID 42")
}

func TestWrapErrorPreservesUnwrap(t *testing.T) {
	inner := stderrors.New("disk full")
	err := cfberrors.Generic.WrapError(inner)
	assert.ErrorIs(t, err, cfberrors.Generic)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "disk full")
}

func TestFindingsAggregation(t *testing.T) {
	var f cfberrors.Findings
	assert.Equal(t, 0, f.Len())
	assert.Nil(t, f.AsError())

	f.Add(nil)
	assert.Equal(t, 0, f.Len())

	only := cfberrors.Corrupted.WithMessage("first")
	f.Add(only)
	assert.Equal(t, 1, f.Len())
	require.NotNil(t, f.AsError())
	assert.ErrorIs(t, f.AsError(), cfberrors.Corrupted)

	f.Add(cfberrors.Corrupted.WithMessage("second"))
	assert.Equal(t, 2, f.Len())
	assert.NotNil(t, f.AsError())
}
