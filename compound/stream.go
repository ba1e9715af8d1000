package compound

import (
	"io"

	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/header"
	"github.com/arnegrimsson/gocfb/minifat"
	"github.com/arnegrimsson/gocfb/sector"
	"github.com/arnegrimsson/gocfb/streamio"
)

// regularBackend lets a streamio.View operate over a chain of regular
// sectors addressed through the main FAT.
type regularBackend struct{ e *Engine }

func (b regularBackend) UnitSize() uint { return b.e.hdr.SectorSize() }
func (b regularBackend) UnitData(id header.SectorID) ([]byte, error) {
	return b.e.SectorData(id)
}
func (b regularBackend) MarkUnitDirty(id header.SectorID) error {
	return b.e.MarkSectorDirty(id)
}
func (b regularBackend) Resize(chain []header.SectorID, newUnitCount uint) ([]header.SectorID, error) {
	return b.e.resizeChain(chain, newUnitCount, sector.KindNormal)
}

// miniBackend lets a streamio.View operate over a chain of 64-byte mini
// sectors, whose bytes live inside the root entry's regular chain, §4.6.
type miniBackend struct{ e *Engine }

func (b miniBackend) UnitSize() uint { return b.e.hdr.MiniSectorSize() }
func (b miniBackend) UnitData(id header.SectorID) ([]byte, error) {
	return b.e.miniSectorData(id)
}
func (b miniBackend) MarkUnitDirty(id header.SectorID) error {
	return b.e.markMiniSectorDirty(id)
}
func (b miniBackend) Resize(chain []header.SectorID, newUnitCount uint) ([]header.SectorID, error) {
	return b.e.allocateMiniChain(trimChain(chain, newUnitCount), growCount(chain, newUnitCount))
}

// trimChain/growCount split a Resize request into "keep this much of the
// existing chain" plus "how many fresh units to add", or perform a shrink
// directly when newUnitCount is smaller.
func trimChain(chain []header.SectorID, newUnitCount uint) []header.SectorID {
	if uint(len(chain)) <= newUnitCount {
		return chain
	}
	return chain[:newUnitCount]
}

func growCount(chain []header.SectorID, newUnitCount uint) uint {
	if uint(len(chain)) >= newUnitCount {
		return 0
	}
	return newUnitCount - uint(len(chain))
}

func isMiniSize(e *Engine, size int64) bool {
	return size < int64(e.hdr.MiniStreamCutoff)
}

// openStreamView returns a streamio.View over entry's current chain,
// choosing the mini or regular backend by its current size.
func (e *Engine) openStreamView(entry *direntry.Entry, readOnly bool) (*streamio.View, error) {
	if isMiniSize(e, entry.StreamSize) {
		chain, err := e.miniFAT.WalkChain(entry.StartSector)
		if err != nil {
			return nil, err
		}
		return streamio.New(entry.StreamSize, chain, miniBackend{e}, readOnly)
	}
	chain, err := e.fatTable.WalkChain(entry.StartSector)
	if err != nil {
		return nil, err
	}
	return streamio.New(entry.StreamSize, chain, regularBackend{e}, readOnly)
}

func (e *Engine) syncStreamFields(entry *direntry.Entry, view *streamio.View) {
	entry.StreamSize = view.Size()
	chain := view.Chain()
	if len(chain) == 0 {
		entry.StartSector = header.SectorID(header.EndOfChain)
	} else {
		entry.StartSector = chain[0]
	}
}

// ReadStreamAt reads len(buf) bytes of the stream at sid starting at
// offset.
func (e *Engine) ReadStreamAt(sid direntry.SID, buf []byte, offset int64) (int, error) {
	entry, err := e.Entry(sid)
	if err != nil {
		return 0, err
	}
	if entry.Type != direntry.TypeStream {
		return 0, cfberrors.InvalidOperation.WithMessage("SID does not name a stream")
	}
	view, err := e.openStreamView(entry, true)
	if err != nil {
		return 0, err
	}
	return view.ReadAt(buf, offset)
}

// WriteStreamAt writes buf into the stream at sid starting at offset,
// growing the stream (and transitioning between mini and normal storage if
// the threshold is crossed) as needed.
func (e *Engine) WriteStreamAt(sid direntry.SID, buf []byte, offset int64) (int, error) {
	if err := e.checkWritable(); err != nil {
		return 0, err
	}
	entry, err := e.Entry(sid)
	if err != nil {
		return 0, err
	}
	if entry.Type != direntry.TypeStream {
		return 0, cfberrors.InvalidOperation.WithMessage("SID does not name a stream")
	}

	required := offset + int64(len(buf))
	if required > entry.StreamSize {
		if err := e.SetStreamLength(sid, required); err != nil {
			return 0, err
		}
	}

	view, err := e.openStreamView(entry, false)
	if err != nil {
		return 0, err
	}
	n, err := view.WriteAt(buf, offset)
	e.syncStreamFields(entry, view)
	if werr := e.writeDirectoryEntries(); werr != nil && err == nil {
		err = werr
	}
	return n, err
}

// AppendStreamAt appends buf to the end of the stream at sid.
func (e *Engine) AppendStreamAt(sid direntry.SID, buf []byte) (int, error) {
	entry, err := e.Entry(sid)
	if err != nil {
		return 0, err
	}
	return e.WriteStreamAt(sid, buf, entry.StreamSize)
}

// SetStreamLength resizes the stream at sid to newLength bytes, performing
// a mini<->normal transition copy if the mini-stream threshold is crossed,
// §4.5.
func (e *Engine) SetStreamLength(sid direntry.SID, newLength int64) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	entry, err := e.Entry(sid)
	if err != nil {
		return err
	}
	if entry.Type != direntry.TypeStream {
		return cfberrors.InvalidOperation.WithMessage("SID does not name a stream")
	}

	oldIsMini := isMiniSize(e, entry.StreamSize)
	newIsMini := isMiniSize(e, newLength)

	if oldIsMini == newIsMini {
		if err := e.resizeInPlace(entry, newLength, newIsMini); err != nil {
			return err
		}
	} else {
		if err := e.transitionStream(entry, newLength, oldIsMini, newIsMini); err != nil {
			return err
		}
	}
	return e.writeDirectoryEntries()
}

func (e *Engine) resizeInPlace(entry *direntry.Entry, newLength int64, isMini bool) error {
	view, err := e.openStreamView(entry, false)
	if err != nil {
		return err
	}
	if err := view.Truncate(newLength); err != nil {
		return err
	}
	e.syncStreamFields(entry, view)
	return nil
}

// transitionStream moves a stream's bytes from the mini-stream to the
// normal sector chain, or vice versa, using a bounded staging buffer
// (256 bytes mini->normal, 4096 bytes normal->mini), §4.5.
func (e *Engine) transitionStream(entry *direntry.Entry, newLength int64, oldIsMini, newIsMini bool) error {
	var oldChain []header.SectorID
	var oldBackend streamio.Backend
	var err error
	if oldIsMini {
		oldChain, err = e.miniFAT.WalkChain(entry.StartSector)
		oldBackend = miniBackend{e}
	} else {
		oldChain, err = e.fatTable.WalkChain(entry.StartSector)
		oldBackend = regularBackend{e}
	}
	if err != nil {
		return err
	}
	oldView, err := streamio.New(entry.StreamSize, oldChain, oldBackend, true)
	if err != nil {
		return err
	}

	var newChain []header.SectorID
	var newBackend streamio.Backend
	if newIsMini {
		unitCount := minifat.MiniSectorsForSize(newLength)
		newChain, err = e.allocateMiniChain(nil, unitCount)
		newBackend = miniBackend{e}
	} else {
		unitCount := uint((newLength + int64(e.hdr.SectorSize()) - 1) / int64(e.hdr.SectorSize()))
		newChain, err = e.allocateChain(nil, unitCount, sector.KindNormal)
		newBackend = regularBackend{e}
	}
	if err != nil {
		return err
	}
	newView, err := streamio.New(newLength, newChain, newBackend, false)
	if err != nil {
		return err
	}

	bufSize := int64(4096)
	if oldIsMini {
		bufSize = 256
	}
	toCopy := entry.StreamSize
	if newLength < toCopy {
		toCopy = newLength
	}
	buf := make([]byte, bufSize)
	var copied int64
	for copied < toCopy {
		n := bufSize
		if toCopy-copied < n {
			n = toCopy - copied
		}
		read, rerr := oldView.ReadAt(buf[:n], copied)
		if rerr != nil && rerr != io.EOF {
			return rerr
		}
		if read > 0 {
			if _, werr := newView.WriteAt(buf[:read], copied); werr != nil {
				return werr
			}
		}
		copied += int64(read)
		if read == 0 {
			break
		}
	}

	erase := func(id header.SectorID) error {
		if !e.flags.has(EraseFreeSectors) {
			return nil
		}
		return e.zeroSector(id)
	}
	eraseMini := func(id header.SectorID) error {
		if !e.flags.has(EraseFreeSectors) {
			return nil
		}
		data, err := e.miniSectorData(id)
		if err != nil {
			return err
		}
		for i := range data {
			data[i] = 0
		}
		return e.markMiniSectorDirty(id)
	}
	if oldIsMini {
		if err := e.miniFAT.FreeChain(oldChain, eraseMini); err != nil {
			return err
		}
	} else {
		if err := e.fatTable.FreeChain(oldChain, erase); err != nil {
			return err
		}
	}

	e.syncStreamFields(entry, newView)
	return nil
}

// freeStreamChain releases the entire chain backing entry, used when the
// owning stream entry is deleted, §4.8.
func (e *Engine) freeStreamChain(entry *direntry.Entry) error {
	if entry.StreamSize <= 0 && entry.StartSector == header.SectorID(header.EndOfChain) {
		return nil
	}
	isMini := isMiniSize(e, entry.StreamSize)

	erase := func(id header.SectorID) error {
		if !e.flags.has(EraseFreeSectors) {
			return nil
		}
		return e.zeroSector(id)
	}
	eraseMini := func(id header.SectorID) error {
		if !e.flags.has(EraseFreeSectors) {
			return nil
		}
		data, err := e.miniSectorData(id)
		if err != nil {
			return err
		}
		for i := range data {
			data[i] = 0
		}
		return e.markMiniSectorDirty(id)
	}

	if isMini {
		chain, err := e.miniFAT.WalkChain(entry.StartSector)
		if err != nil {
			return err
		}
		if err := e.miniFAT.FreeChain(chain, eraseMini); err != nil {
			return err
		}
	} else {
		chain, err := e.fatTable.WalkChain(entry.StartSector)
		if err != nil {
			return err
		}
		if err := e.fatTable.FreeChain(chain, erase); err != nil {
			return err
		}
	}

	entry.StartSector = header.SectorID(header.EndOfChain)
	entry.StreamSize = 0
	return nil
}

// resizeChain grows or shrinks a regular-sector chain to newUnitCount
// sectors of the given kind, freeing the tail (optionally zeroing it) on
// shrink.
func (e *Engine) resizeChain(chain []header.SectorID, newUnitCount uint, kind sector.Kind) ([]header.SectorID, error) {
	if uint(len(chain)) < newUnitCount {
		return e.allocateChain(chain, newUnitCount-uint(len(chain)), kind)
	}
	if uint(len(chain)) > newUnitCount {
		tail := chain[newUnitCount:]
		kept := append([]header.SectorID{}, chain[:newUnitCount]...)
		erase := func(id header.SectorID) error {
			if !e.flags.has(EraseFreeSectors) {
				return nil
			}
			return e.zeroSector(id)
		}
		if err := e.fatTable.FreeChain(tail, erase); err != nil {
			return nil, err
		}
		if len(kept) > 0 {
			if err := e.fatTable.Set(uint(kept[len(kept)-1]), header.SectorID(header.EndOfChain)); err != nil {
				return nil, err
			}
		}
		return kept, nil
	}
	return chain, nil
}

// allocateMiniChain appends count fresh mini-sector ids to existing,
// growing the Mini-FAT's own backing regular chain and the mini-stream's
// regular backing as needed, §4.6.
func (e *Engine) allocateMiniChain(existing []header.SectorID, count uint) ([]header.SectorID, error) {
	newIDs := make([]header.SectorID, 0, count)
	for i := uint(0); i < count; i++ {
		newIDs = append(newIDs, header.SectorID(e.miniSectorCount))
		e.miniSectorCount++
	}
	if count > 0 {
		if err := e.ensureMiniFATCapacity(e.miniSectorCount); err != nil {
			return nil, err
		}
		if err := e.ensureMiniStreamCapacity(e.miniSectorCount); err != nil {
			return nil, err
		}
	}
	full := append(append([]header.SectorID{}, existing...), newIDs...)
	if len(newIDs) > 0 {
		if err := e.miniFAT.ChainNewEntries(full); err != nil {
			return nil, err
		}
	}
	return full, nil
}

func (e *Engine) ensureMiniFATCapacity(minEntries uint) error {
	if e.miniFAT.Len() >= minEntries {
		return nil
	}
	entriesPerSector := e.hdr.SectorSize() / 4
	neededSectors := (minEntries + entriesPerSector - 1) / entriesPerSector
	currentChain := e.miniFAT.BackingSectorIDs()
	if uint(len(currentChain)) >= neededSectors {
		return nil
	}

	oldCap := uint(len(currentChain)) * entriesPerSector
	newChain, err := e.allocateChain(currentChain, neededSectors-uint(len(currentChain)), sector.KindNormal)
	if err != nil {
		return err
	}
	e.miniFAT.SetBackingSectorIDs(newChain)

	newCap := uint(len(newChain)) * entriesPerSector
	for i := oldCap; i < newCap; i++ {
		if err := e.miniFAT.Set(i, header.SectorID(header.FreeSect)); err != nil {
			return err
		}
	}

	e.hdr.FirstMiniFATSectorID = newChain[0]
	e.hdr.NumMiniFATSectors = uint32(len(newChain))
	return nil
}

func (e *Engine) ensureMiniStreamCapacity(requiredMiniSectors uint) error {
	regularUnitsNeeded := (requiredMiniSectors*64 + e.hdr.SectorSize() - 1) / e.hdr.SectorSize()
	if uint(len(e.miniStreamChain)) >= regularUnitsNeeded {
		return nil
	}
	newChain, err := e.allocateChain(e.miniStreamChain, regularUnitsNeeded-uint(len(e.miniStreamChain)), sector.KindNormal)
	if err != nil {
		return err
	}
	e.miniStreamChain = newChain

	root, err := e.Entry(RootSID)
	if err != nil {
		return err
	}
	root.StartSector = newChain[0]
	root.StreamSize = int64(requiredMiniSectors) * 64
	return nil
}

// miniSectorData returns a live 64-byte slice for mini-sector id, found
// inside the root entry's regular chain at byte offset id*64.
func (e *Engine) miniSectorData(id header.SectorID) ([]byte, error) {
	perRegular := e.hdr.SectorSize() / 64
	regularIdx := uint(id) / perRegular
	offset := (uint(id) % perRegular) * 64
	if regularIdx >= uint(len(e.miniStreamChain)) {
		return nil, cfberrors.Corrupted.WithMessage("mini-sector id references a regular sector outside the mini-stream's chain")
	}
	data, err := e.SectorData(e.miniStreamChain[regularIdx])
	if err != nil {
		return nil, err
	}
	return data[offset : offset+64], nil
}

func (e *Engine) markMiniSectorDirty(id header.SectorID) error {
	perRegular := e.hdr.SectorSize() / 64
	regularIdx := uint(id) / perRegular
	if regularIdx >= uint(len(e.miniStreamChain)) {
		return cfberrors.Corrupted.WithMessage("mini-sector id references a regular sector outside the mini-stream's chain")
	}
	return e.MarkSectorDirty(e.miniStreamChain[regularIdx])
}
