// Package compound implements the CompoundFile engine: load, lazy sector
// materialization, chain allocation/freeing, mini<->normal transitions,
// directory commit, save, and shrink, §4.10, §4.11, §6.
package compound

import (
	"encoding/binary"
	"io"

	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/fat"
	"github.com/arnegrimsson/gocfb/header"
	"github.com/arnegrimsson/gocfb/minifat"
	"github.com/arnegrimsson/gocfb/sector"
)

// Engine is the single-threaded object owning an entire compound file:
// header, sector collection, FAT/DIFAT, Mini-FAT, and the flat directory
// entry vector, §5.
type Engine struct {
	hdr     *header.Header
	sectors *sector.Collection

	fatTable      *fat.EntryTable
	difatSectorIDs []header.SectorID

	miniFAT         *minifat.Table
	miniStreamChain []header.SectorID
	miniSectorCount uint

	dirChain []header.SectorID
	entries  []direntry.Entry

	backing io.ReadWriteSeeker
	mode    Mode
	flags   ConfigFlags
	closed  bool
}

// Create builds a brand-new, empty compound file of the given major
// version (3 or 4) held entirely in memory. It has no backing stream, so
// Save is the way to persist it; Commit on it fails.
func Create(majorVersion int, flags ConfigFlags) (*Engine, error) {
	hdr, err := header.New(majorVersion)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		hdr:     hdr,
		sectors: sector.New(hdr.SectorSize(), hdr.MiniSectorSize()),
		flags:   flags,
		mode:    Update,
		entries: []direntry.Entry{direntry.NewRoot()},
	}
	e.fatTable = fat.NewEntryTable(e, nil, hdr.SectorSize()/4)
	e.miniFAT = minifat.New(fat.NewEntryTable(e, nil, hdr.SectorSize()/4))

	if err := e.growFAT(); err != nil {
		return nil, err
	}
	if err := e.writeDirectoryEntries(); err != nil {
		return nil, err
	}

	return e, nil
}

// Load opens an existing compound file for reading, and for writing too if
// mode is Update.
func Load(backing io.ReadWriteSeeker, mode Mode, flags ConfigFlags) (*Engine, error) {
	hdr, err := header.ReadFrom(backing)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		hdr:     hdr,
		sectors: sector.New(hdr.SectorSize(), hdr.MiniSectorSize()),
		backing: backing,
		mode:    mode,
		flags:   flags,
	}

	// Touch every sector position up to the file's length so At() accepts
	// any id the DIFAT/FAT walk references.
	if err := e.growSectorSpaceToFileLength(); err != nil {
		return nil, err
	}

	difatIDs, err := fat.ReadDIFAT(hdr, e)
	if err != nil {
		if !flags.has(NoValidationException) {
			return nil, err
		}
	}
	e.fatTable = fat.NewEntryTable(e, difatIDs, hdr.SectorSize()/4)

	dirChain, err := e.fatTable.WalkChain(hdr.FirstDirectorySectorID)
	if err != nil {
		return nil, err
	}
	e.dirChain = dirChain
	entries, err := e.readDirectoryEntries(dirChain)
	if err != nil {
		return nil, err
	}
	e.entries = entries

	miniFATChain, err := e.fatTable.WalkChain(hdr.FirstMiniFATSectorID)
	if err != nil {
		return nil, err
	}
	e.miniFAT = minifat.New(fat.NewEntryTable(e, miniFATChain, hdr.SectorSize()/4))
	e.miniSectorCount = e.miniFAT.Len()

	if len(entries) > 0 {
		rootChain, err := e.fatTable.WalkChain(entries[0].StartSector)
		if err != nil {
			return nil, err
		}
		e.miniStreamChain = rootChain
	}

	return e, nil
}

// growSectorSpaceToFileLength materializes null slots for every sector
// position the file's current length implies, so subsequent At() calls
// against ids read from the header/DIFAT/FAT don't reject them as
// out-of-range.
func (e *Engine) growSectorSpaceToFileLength() error {
	size, err := e.backing.Seek(0, io.SeekEnd)
	if err != nil {
		return cfberrors.Generic.WrapError(err)
	}
	headerSize := int64(e.hdr.HeaderRegionSize())
	if size <= headerSize {
		return nil
	}
	total := (size - headerSize) / int64(e.hdr.SectorSize())
	for int64(e.sectors.Len()) < total {
		e.sectors.Add(sector.KindNormal)
	}
	return nil
}

// SectorData satisfies fat.sectorSource and streamio.Backend (for the
// regular-sector backend): it returns a live, mutable view of sector id's
// bytes, loading them lazily on first touch.
func (e *Engine) SectorData(id header.SectorID) ([]byte, error) {
	s, err := e.sectors.At(sector.ID(id))
	if err != nil {
		return nil, err
	}
	return s.GetData(e.backing, e.hdr.HeaderRegionSize())
}

// MarkSectorDirty satisfies fat.sectorSource and streamio.Backend.
func (e *Engine) MarkSectorDirty(id header.SectorID) error {
	if _, err := e.sectors.At(sector.ID(id)); err != nil {
		return err
	}
	e.sectors.MarkDirty(sector.ID(id))
	return nil
}

func (e *Engine) zeroSector(id header.SectorID) error {
	s, err := e.sectors.At(sector.ID(id))
	if err != nil {
		return err
	}
	return s.SetData(make([]byte, s.Size()), e.sectors)
}

// allocateChain appends count fresh sectors of the given kind, chains them
// start-to-end in the FAT (ENDOFCHAIN at the tail), and returns the new ids.
// If existing is non-nil, the new sectors extend that chain instead of
// starting a fresh one.
func (e *Engine) allocateChain(existing []header.SectorID, count uint, kind sector.Kind) ([]header.SectorID, error) {
	newIDs := make([]header.SectorID, 0, count)
	for i := uint(0); i < count; i++ {
		s, rangeLockAdded := e.sectors.Add(kind)
		if err := e.zeroSector(header.SectorID(s.ID())); err != nil {
			return nil, err
		}
		newIDs = append(newIDs, header.SectorID(s.ID()))
		if rangeLockAdded {
			// The range-lock sector itself occupies one more slot; it's
			// never indexed by the FAT until commit time, §4.2.
			if err := e.zeroSector(header.SectorID(s.ID() + 1)); err != nil {
				return nil, err
			}
		}
	}

	if err := e.growFAT(); err != nil {
		return nil, err
	}

	full := append(append([]header.SectorID{}, existing...), newIDs...)
	if err := e.fatTable.ChainNewEntries(full); err != nil {
		return nil, err
	}
	return full, nil
}

// growFAT ensures the FAT has room to index every currently allocated
// sector, and that the DIFAT can index every FAT sector, following the
// fixed-point algorithm in §4.7.
func (e *Engine) growFAT() error {
	fatIDs := append([]header.SectorID{}, e.fatTable.BackingSectorIDs()...)
	totalSectors := uint32(e.sectors.Len())
	neededFAT, neededDIFAT := fat.PlanExtension(e.hdr.SectorSize(), totalSectors, uint32(len(fatIDs)))

	for uint32(len(fatIDs)) < neededFAT {
		s, _ := e.sectors.Add(sector.KindFAT)
		if err := e.zeroSector(header.SectorID(s.ID())); err != nil {
			return err
		}
		fatIDs = append(fatIDs, header.SectorID(s.ID()))
	}
	e.fatTable.SetBackingSectorIDs(fatIDs)

	if uint32(len(e.difatSectorIDs)) != neededDIFAT {
		for _, id := range e.difatSectorIDs {
			if err := e.fatTable.Set(uint(id), header.FreeSect); err != nil {
				return err
			}
		}
		e.difatSectorIDs = e.difatSectorIDs[:0]
		for uint32(len(e.difatSectorIDs)) < neededDIFAT {
			s, _ := e.sectors.Add(sector.KindDIFAT)
			if err := e.zeroSector(header.SectorID(s.ID())); err != nil {
				return err
			}
			e.difatSectorIDs = append(e.difatSectorIDs, header.SectorID(s.ID()))
		}
	}

	for _, id := range fatIDs {
		if err := e.fatTable.Set(uint(id), header.FATSect); err != nil {
			return err
		}
	}
	for _, id := range e.difatSectorIDs {
		if err := e.fatTable.Set(uint(id), header.DIFATSect); err != nil {
			return err
		}
	}

	if err := e.writeDIFATLayout(fatIDs); err != nil {
		return err
	}

	e.hdr.NumFATSectors = uint32(len(fatIDs))
	e.hdr.NumDIFATSectors = uint32(len(e.difatSectorIDs))
	if len(e.difatSectorIDs) > 0 {
		e.hdr.FirstDIFATSectorID = e.difatSectorIDs[0]
	} else {
		e.hdr.FirstDIFATSectorID = header.SectorID(header.EndOfChain)
	}
	return nil
}

// writeDIFATLayout writes fatIDs into the header's 109 inline DIFAT slots
// and, for the overflow, into the chained DIFAT sectors (each holding
// sectorSize/4-1 entries plus a trailing chain-next pointer), §4.7 step 3-4.
func (e *Engine) writeDIFATLayout(fatIDs []header.SectorID) error {
	for i := range e.hdr.DIFAT {
		e.hdr.DIFAT[i] = header.SectorID(header.FreeSect)
	}
	inHeader := len(fatIDs)
	if inHeader > header.NumDIFATEntriesInHeader {
		inHeader = header.NumDIFATEntriesInHeader
	}
	for i := 0; i < inHeader; i++ {
		e.hdr.DIFAT[i] = fatIDs[i]
	}

	remaining := fatIDs[inHeader:]
	entriesPerDIFAT := e.hdr.SectorSize()/4 - 1

	for si, difatID := range e.difatSectorIDs {
		data, err := e.SectorData(difatID)
		if err != nil {
			return err
		}
		start := si * int(entriesPerDIFAT)
		for j := uint(0); j < entriesPerDIFAT; j++ {
			idx := start + int(j)
			val := header.SectorID(header.FreeSect)
			if idx < len(remaining) {
				val = remaining[idx]
			}
			binary.LittleEndian.PutUint32(data[j*4:j*4+4], uint32(val))
		}
		next := header.SectorID(header.EndOfChain)
		if si < len(e.difatSectorIDs)-1 {
			next = e.difatSectorIDs[si+1]
		}
		binary.LittleEndian.PutUint32(data[entriesPerDIFAT*4:entriesPerDIFAT*4+4], uint32(next))
		if err := e.MarkSectorDirty(difatID); err != nil {
			return err
		}
	}
	return nil
}

// Close invalidates the engine. Per LeaveOpen, the backing stream is closed
// unless the flag is set.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if !e.flags.has(LeaveOpen) {
		if closer, ok := e.backing.(io.Closer); ok {
			return closer.Close()
		}
	}
	return nil
}

func (e *Engine) checkWritable() error {
	if e.closed {
		return cfberrors.Disposed.WithMessage("engine is closed")
	}
	return nil
}
