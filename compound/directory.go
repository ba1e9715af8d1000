package compound

import (
	"fmt"

	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/header"
	"github.com/arnegrimsson/gocfb/sector"
)

// Entry returns a mutable pointer to the directory entry at sid, satisfying
// rbtree.Storage. SID 0 is always the Root.
func (e *Engine) Entry(sid direntry.SID) (*direntry.Entry, error) {
	if sid < 0 || int(sid) >= len(e.entries) {
		return nil, cfberrors.Corrupted.WithMessage(
			fmt.Sprintf("SID %d out of range [0, %d)", sid, len(e.entries)))
	}
	return &e.entries[sid], nil
}

func (e *Engine) readDirectoryEntries(chain []header.SectorID) ([]direntry.Entry, error) {
	perSector := e.hdr.SectorSize() / direntry.Size
	entries := make([]direntry.Entry, 0, uint(len(chain))*perSector)

	for _, sectorID := range chain {
		data, err := e.SectorData(sectorID)
		if err != nil {
			return nil, err
		}
		for i := uint(0); i < perSector; i++ {
			record := data[i*direntry.Size : (i+1)*direntry.Size]
			entry, err := direntry.Unmarshal(record, e.hdr.MajorVersion)
			if err != nil {
				if e.flags.has(NoValidationException) {
					entry = direntry.NewInvalid()
				} else {
					return nil, err
				}
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// writeDirectoryEntries serializes e.entries back into e.dirChain,
// extending the chain as needed, and pads the final sector with Invalid
// records, §4.8.
func (e *Engine) writeDirectoryEntries() error {
	perSector := e.hdr.SectorSize() / direntry.Size
	neededSectors := (uint(len(e.entries)) + perSector - 1) / perSector
	if neededSectors == 0 {
		neededSectors = 1
	}
	return e.growDirectoryChain(neededSectors)
}

func (e *Engine) growDirectoryChain(neededSectors uint) error {
	if uint(len(e.dirChain)) < neededSectors {
		newIDs, err := e.allocateDirectorySectors(neededSectors - uint(len(e.dirChain)))
		if err != nil {
			return err
		}
		full := append(append([]header.SectorID{}, e.dirChain...), newIDs...)
		if err := e.fatTable.ChainNewEntries(full); err != nil {
			return err
		}
		e.dirChain = full
		e.hdr.FirstDirectorySectorID = e.dirChain[0]
	}

	perSector := e.hdr.SectorSize() / direntry.Size
	for sectorIdx, sectorID := range e.dirChain {
		data, err := e.SectorData(sectorID)
		if err != nil {
			return err
		}
		for i := uint(0); i < perSector; i++ {
			flatIdx := uint(sectorIdx)*perSector + i
			var record []byte
			if int(flatIdx) < len(e.entries) {
				record, err = e.entries[flatIdx].Marshal()
				if err != nil {
					return err
				}
			} else {
				invalid := direntry.NewInvalid()
				record, err = invalid.Marshal()
				if err != nil {
					return err
				}
			}
			copy(data[i*direntry.Size:(i+1)*direntry.Size], record)
		}
		if err := e.MarkSectorDirty(sectorID); err != nil {
			return err
		}
	}

	e.hdr.NumDirectorySectors = uint32(len(e.dirChain))
	return nil
}

func (e *Engine) allocateDirectorySectors(count uint) ([]header.SectorID, error) {
	ids := make([]header.SectorID, 0, count)
	for i := uint(0); i < count; i++ {
		s, _ := e.sectors.Add(sector.KindDirectory)
		if err := e.zeroSector(header.SectorID(s.ID())); err != nil {
			return nil, err
		}
		ids = append(ids, header.SectorID(s.ID()))
	}
	if err := e.growFAT(); err != nil {
		return nil, err
	}
	return ids, nil
}

// allocateSlot returns the SID of a free slot for a new directory entry:
// the lowest-numbered Invalid entry if one exists, otherwise a freshly
// appended slot, §4.8.
func (e *Engine) allocateSlot() direntry.SID {
	for i := range e.entries {
		if e.entries[i].IsDeleted() {
			return direntry.SID(i)
		}
	}
	e.entries = append(e.entries, direntry.NewInvalid())
	return direntry.SID(len(e.entries) - 1)
}
