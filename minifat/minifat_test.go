package minifat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arnegrimsson/gocfb/minifat"
)

func TestMiniSectorsForSize(t *testing.T) {
	assert.EqualValues(t, 0, minifat.MiniSectorsForSize(0))
	assert.EqualValues(t, 1, minifat.MiniSectorsForSize(1))
	assert.EqualValues(t, 1, minifat.MiniSectorsForSize(64))
	assert.EqualValues(t, 2, minifat.MiniSectorsForSize(65))
	assert.EqualValues(t, 16, minifat.MiniSectorsForSize(1024))
}

func TestMiniStreamByteLength(t *testing.T) {
	assert.EqualValues(t, 0, minifat.MiniStreamByteLength(0))
	assert.EqualValues(t, 64, minifat.MiniStreamByteLength(1))
	assert.EqualValues(t, 640, minifat.MiniStreamByteLength(10))
}
