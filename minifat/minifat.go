// Package minifat implements the second-level allocator over 64-byte mini
// sectors carved out of the root entry's regular sector chain, §4.4, §4.6.
package minifat

import (
	"github.com/arnegrimsson/gocfb/fat"
)

// Table is the Mini-FAT: a chain of regular sectors (itself addressed
// through the main FAT) where each regular sector holds sectorSize/4
// 32-bit mini-sector chain entries. It reuses fat.EntryTable directly,
// since "the Mini-FAT is stored in a regular-sector chain" means its
// on-disk shape is identical to the main FAT's, just addressing
// mini-sectors instead of sectors.
type Table struct {
	*fat.EntryTable
}

// New wraps an EntryTable built over the Mini-FAT's backing regular
// sectors (found by walking the main FAT from h.FirstMiniFATSectorID).
func New(entries *fat.EntryTable) *Table {
	return &Table{EntryTable: entries}
}

// MiniSectorsForSize returns the number of 64-byte mini-sectors needed to
// hold byteLength bytes.
func MiniSectorsForSize(byteLength int64) uint {
	const miniSectorSize = 64
	if byteLength <= 0 {
		return 0
	}
	return uint((byteLength + miniSectorSize - 1) / miniSectorSize)
}

// MiniStreamByteLength rounds a mini-chain's sector count up to the root
// entry's mini-stream size contribution, a multiple of 64 bytes, §4.6.
func MiniStreamByteLength(miniSectorCount uint) int64 {
	return int64(miniSectorCount) * 64
}
