package compound

import (
	"io"

	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/header"
	"github.com/arnegrimsson/gocfb/sector"
)

// Commit flushes every dirty sector and the header to the backing stream in
// place. It fails with InvalidOperation if the engine was opened ReadOnly,
// and Disposed if it has been closed, §4.10.
func (e *Engine) Commit(releaseMemory bool) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if e.mode != Update {
		return cfberrors.InvalidOperation.WithMessage("engine is read-only")
	}
	if e.backing == nil {
		return cfberrors.InvalidOperation.WithMessage("engine has no backing stream to commit to")
	}

	if err := e.commitRangeLock(); err != nil {
		return err
	}
	if err := e.writeDirectoryEntries(); err != nil {
		return err
	}

	if err := e.flushDirtySectors(releaseMemory); err != nil {
		return err
	}
	return e.flushHeader()
}

// commitRangeLock marks the v4 range-lock sector (if one was appended this
// session) ENDOFCHAIN in the FAT, §4.2.
func (e *Engine) commitRangeLock() error {
	if !e.sectors.RangeLockPending() {
		return nil
	}
	id := header.SectorID(e.sectors.RangeLockSectorID())
	if err := e.fatTable.Set(uint(id), header.SectorID(header.EndOfChain)); err != nil {
		return err
	}
	e.sectors.MarkRangeLockAllocated()
	return nil
}

// flushDirtySectors writes every sector flagged dirty to its file position,
// coalescing contiguous dirty runs into a single write call.
func (e *Engine) flushDirtySectors(releaseMemory bool) error {
	headerSize := int64(e.hdr.HeaderRegionSize())
	sectorSize := int64(e.hdr.SectorSize())

	var pending []byte
	var pendingStart sector.ID = -1
	var nextExpected sector.ID = -1

	flush := func() error {
		if pending == nil {
			return nil
		}
		offset := headerSize + int64(pendingStart)*sectorSize
		if _, err := e.backing.Seek(offset, io.SeekStart); err != nil {
			return cfberrors.Generic.WrapError(err)
		}
		if _, err := e.backing.Write(pending); err != nil {
			return cfberrors.Generic.WrapError(err)
		}
		pending = nil
		pendingStart = -1
		nextExpected = -1
		return nil
	}

	err := e.sectors.ForEachInOrder(func(s *sector.Sector) error {
		if !s.IsStreamed || !s.Dirty(e.sectors) {
			return flush()
		}
		data, err := s.GetData(e.backing, e.hdr.HeaderRegionSize())
		if err != nil {
			return err
		}
		if pending != nil && s.ID() == nextExpected {
			pending = append(pending, data...)
		} else {
			if err := flush(); err != nil {
				return err
			}
			pendingStart = s.ID()
			pending = append([]byte{}, data...)
		}
		nextExpected = s.ID() + 1
		if releaseMemory {
			s.ReleaseBuffer()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (e *Engine) flushHeader() error {
	if _, err := e.backing.Seek(0, io.SeekStart); err != nil {
		return cfberrors.Generic.WrapError(err)
	}
	return writeHeaderRegion(e.hdr, e.backing)
}

// writeHeaderRegion writes the header plus, for v4, the zero padding that
// fills out the rest of the reserved 4096-byte header region, §4.1.
func writeHeaderRegion(hdr *header.Header, w io.Writer) error {
	if err := hdr.WriteTo(w); err != nil {
		return err
	}
	padding := hdr.HeaderRegionSize() - header.HeaderSize
	if padding <= 0 {
		return nil
	}
	if _, err := w.Write(make([]byte, padding)); err != nil {
		return cfberrors.Generic.WrapError(err)
	}
	return nil
}

// Save writes the entire compound file, header plus every allocated sector,
// to dest, independent of whatever backing stream (if any) the engine was
// loaded from. Used for Create's first write and for Shrink's rebuild, §6.
func (e *Engine) Save(dest io.Writer) error {
	if err := e.commitRangeLock(); err != nil {
		return err
	}
	if err := e.writeDirectoryEntries(); err != nil {
		return err
	}
	if err := writeHeaderRegion(e.hdr, dest); err != nil {
		return err
	}
	return e.sectors.ForEachInOrder(func(s *sector.Sector) error {
		if !s.IsStreamed {
			return nil
		}
		data, err := s.GetData(e.backing, e.hdr.HeaderRegionSize())
		if err != nil {
			return err
		}
		if _, err := dest.Write(data); err != nil {
			return cfberrors.Generic.WrapError(err)
		}
		return nil
	})
}
