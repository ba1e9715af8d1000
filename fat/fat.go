// Package fat implements the FAT and DIFAT allocators: chains of 32-bit
// sector ids, DIFAT-mediated lookup of the sectors that hold the FAT
// itself, and the allocation/freeing of sector chains, §4.3, §4.4, §4.7.
package fat

import (
	"encoding/binary"
	"fmt"

	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/header"
	"github.com/arnegrimsson/gocfb/sector"
)

// EntryTable is a chain of regular sectors, each packed with 32-bit entries,
// addressed by a flat entry index. Both the FAT itself (entry index =
// sector id) and the Mini-FAT (entry index = mini-sector id) are instances
// of this same shape, since the Mini-FAT is "stored in a regular-sector
// chain" per §3.
type EntryTable struct {
	sectors          *sector.Collection
	source           sectorSource
	backingSectorIDs []header.SectorID
	entriesPerSector uint
}

// sectorSource is the minimal read/write-through-the-file surface an
// EntryTable needs; compound.Engine satisfies it.
type sectorSource interface {
	SectorData(id header.SectorID) ([]byte, error)
	MarkSectorDirty(id header.SectorID) error
}

// NewEntryTable builds a table over backingSectorIDs, each of which holds
// entriesPerSector 32-bit entries.
func NewEntryTable(src sectorSource, backingSectorIDs []header.SectorID, entriesPerSector uint) *EntryTable {
	return &EntryTable{
		source:           src,
		backingSectorIDs: backingSectorIDs,
		entriesPerSector: entriesPerSector,
	}
}

// Len returns the total number of addressable entries.
func (t *EntryTable) Len() uint {
	return uint(len(t.backingSectorIDs)) * t.entriesPerSector
}

// BackingSectorIDs returns the ordered list of sectors holding this table's
// entries.
func (t *EntryTable) BackingSectorIDs() []header.SectorID {
	return t.backingSectorIDs
}

// SetBackingSectorIDs replaces the chain of sectors backing this table,
// e.g. after extending it with freshly allocated sectors.
func (t *EntryTable) SetBackingSectorIDs(ids []header.SectorID) {
	t.backingSectorIDs = ids
}

func (t *EntryTable) locate(index uint) (header.SectorID, uint, error) {
	sectorIdx := index / t.entriesPerSector
	if sectorIdx >= uint(len(t.backingSectorIDs)) {
		return 0, 0, cfberrors.Corrupted.WithMessage(
			fmt.Sprintf("entry index %d out of range [0, %d)", index, t.Len()))
	}
	offset := (index % t.entriesPerSector) * 4
	return t.backingSectorIDs[sectorIdx], offset, nil
}

// Get returns the entry at index.
func (t *EntryTable) Get(index uint) (header.SectorID, error) {
	sectorID, offset, err := t.locate(index)
	if err != nil {
		return 0, err
	}
	data, err := t.source.SectorData(sectorID)
	if err != nil {
		return 0, err
	}
	return header.SectorID(binary.LittleEndian.Uint32(data[offset : offset+4])), nil
}

// Set writes value at index and marks the backing sector dirty.
func (t *EntryTable) Set(index uint, value header.SectorID) error {
	sectorID, offset, err := t.locate(index)
	if err != nil {
		return err
	}
	data, err := t.source.SectorData(sectorID)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(data[offset:offset+4], uint32(value))
	return t.source.MarkSectorDirty(sectorID)
}

// WalkChain follows entries in t starting at start until EndOfChain,
// returning the visited entry indices (which double as sector/mini-sector
// ids depending on which table this is). It fails with Corrupted on an
// out-of-range next id or a self-referencing cycle, §4.4.
func (t *EntryTable) WalkChain(start header.SectorID) ([]header.SectorID, error) {
	if start == header.EndOfChain || start == header.FreeSect {
		return nil, nil
	}

	var chain []header.SectorID
	current := start
	for current != header.EndOfChain {
		if current < 0 || uint(current) >= t.Len() {
			return chain, cfberrors.Corrupted.WithMessage(
				fmt.Sprintf("chain references out-of-range id %d", current))
		}
		chain = append(chain, current)

		next, err := t.Get(uint(current))
		if err != nil {
			return chain, err
		}
		if next == current {
			return chain, cfberrors.Corrupted.WithMessage(
				fmt.Sprintf("chain cycle: sector %d points to itself", current))
		}
		current = next
	}
	return chain, nil
}

// FreeChain marks every entry in chain as FreeSect. If erase is non-nil it
// is called with each freed sector's id so the caller can zero its payload
// (§4.5 shrinkage / EraseFreeSectors).
func (t *EntryTable) FreeChain(chain []header.SectorID, erase func(header.SectorID) error) error {
	for _, id := range chain {
		if err := t.Set(uint(id), header.FreeSect); err != nil {
			return err
		}
		if erase != nil {
			if err := erase(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// ChainNewEntries links newEntryIDs start-to-end with a trailing
// EndOfChain, without touching any entry outside that list. Used once the
// caller has decided which (freshly allocated or recycled) entries make up
// a new chain, §4.5.
func (t *EntryTable) ChainNewEntries(newEntryIDs []header.SectorID) error {
	for i, id := range newEntryIDs {
		var next header.SectorID
		if i == len(newEntryIDs)-1 {
			next = header.EndOfChain
		} else {
			next = newEntryIDs[i+1]
		}
		if err := t.Set(uint(id), next); err != nil {
			return err
		}
	}
	return nil
}
