package fat

import (
	"encoding/binary"
	"fmt"

	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/header"
)

// ReadDIFAT resolves the full, ordered list of sector ids that hold the
// FAT, by reading the header's 109 embedded entries and then, if
// h.NumFATSectors > header.NumDIFATEntriesInHeader, following the DIFAT
// chain starting at h.FirstDIFATSectorID, §4.3.
//
// Each DIFAT sector holds sectorSize/4 - 1 FAT sector ids followed by a
// 4-byte pointer to the next DIFAT sector. The chain terminates at
// EndOfChain; a FreeSect terminator (seen in some real-world files) is
// treated as equivalent.
func ReadDIFAT(h *header.Header, src sectorSource) ([]header.SectorID, error) {
	ids := make([]header.SectorID, 0, h.NumFATSectors)
	for i := uint32(0); i < uint32(len(h.DIFAT)) && uint32(len(ids)) < h.NumFATSectors; i++ {
		if h.DIFAT[i] == header.FreeSect {
			break
		}
		ids = append(ids, h.DIFAT[i])
	}

	entriesPerDIFATSector := h.SectorSize()/4 - 1

	current := h.FirstDIFATSectorID
	for current != header.EndOfChain && current != header.FreeSect {
		if uint32(len(ids)) >= h.NumFATSectors {
			break
		}
		data, err := src.SectorData(current)
		if err != nil {
			return nil, err
		}
		for i := uint(0); i < entriesPerDIFATSector && uint32(len(ids)) < h.NumFATSectors; i++ {
			offset := i * 4
			id := header.SectorID(binary.LittleEndian.Uint32(data[offset : offset+4]))
			if id == header.FreeSect {
				break
			}
			ids = append(ids, id)
		}
		nextOffset := entriesPerDIFATSector * 4
		current = header.SectorID(binary.LittleEndian.Uint32(data[nextOffset : nextOffset+4]))
	}

	if uint32(len(ids)) != h.NumFATSectors {
		return nil, cfberrors.Corrupted.WithMessage(
			fmt.Sprintf(
				"DIFAT walk yielded %d FAT sectors, header declares %d",
				len(ids), h.NumFATSectors))
	}
	return ids, nil
}

// PlanExtension computes how many FAT and DIFAT sectors in total are
// required so that the FAT can index totalSectorCount sectors plus those
// FAT and DIFAT sectors themselves, starting from currentFATSectors (at
// least 1) and never returning fewer, following the fixed-point
// iteration in §4.7: an added FAT sector can require an added DIFAT sector,
// which in turn needs room in the FAT, which can require another FAT
// sector.
//
// It returns the final (fatSectorCount, difatSectorCount) satisfying:
//
//	fatSectorCount * (sectorSize/4) >= totalSectorCount + fatSectorCount + difatSectorCount
//	difatSectorCount == ceil(max(0, fatSectorCount-109) / (sectorSize/4 - 1))
func PlanExtension(sectorSize uint, totalSectorCount, currentFATSectors uint32) (uint32, uint32) {
	entriesPerFATSector := uint32(sectorSize / 4)
	entriesPerDIFATSector := uint32(sectorSize/4 - 1)

	fatSectors := currentFATSectors
	if fatSectors == 0 {
		fatSectors = 1
	}

	for {
		var difatSectors uint32
		if fatSectors > header.NumDIFATEntriesInHeader {
			extra := fatSectors - header.NumDIFATEntriesInHeader
			difatSectors = (extra + entriesPerDIFATSector - 1) / entriesPerDIFATSector
		}

		// Total sectors consumed by file contents plus the FAT/DIFAT
		// sectors needed to index them; iterate until the FAT has enough
		// entries to cover everything including itself and the DIFAT.
		required := totalSectorCount + fatSectors + difatSectors
		neededFATSectors := (required + entriesPerFATSector - 1) / entriesPerFATSector
		if neededFATSectors <= fatSectors {
			return fatSectors, difatSectors
		}
		fatSectors = neededFATSectors
	}
}
