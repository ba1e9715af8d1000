package compound

import (
	"io"

	"github.com/noxer/bytewriter"
	"github.com/xaionaro-go/bytesextra"

	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
)

// truncater is satisfied by *os.File and similarly-capable backing streams.
type truncater interface {
	Truncate(size int64) error
}

// Shrink rebuilds the compound file from scratch, dropping every free
// sector accumulated by prior Commits, and overwrites the backing stream in
// place. v4 files are exempt: the range-lock reservation makes shrinking
// them meaningless, §4.11.
func (e *Engine) Shrink() error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if e.hdr.MajorVersion != 3 {
		return cfberrors.InvalidOperation.WithMessage("Shrink is only defined for version 3 compound files")
	}
	if e.mode != Update {
		return cfberrors.InvalidOperation.WithMessage("engine is read-only")
	}

	fresh, err := Create(int(e.hdr.MajorVersion), e.flags|LeaveOpen)
	if err != nil {
		return err
	}
	defer fresh.Close()

	if err := copyStorage(e, RootSID, fresh, RootSID); err != nil {
		return err
	}

	totalSize := int64(fresh.hdr.HeaderRegionSize()) + int64(fresh.sectors.Len())*int64(fresh.hdr.SectorSize())
	buffer := make([]byte, totalSize)
	writer := bytewriter.New(buffer)
	if err := fresh.Save(writer); err != nil {
		return err
	}

	// bytesextra.NewReadWriteSeeker reopens the freshly rendered bytes as a
	// stream so the write-back can go through io.Copy instead of a direct
	// slice write, matching how the teacher wraps an in-memory image for
	// reuse without a round trip through the filesystem.
	rendered := bytesextra.NewReadWriteSeeker(buffer)
	if _, err := rendered.Seek(0, io.SeekStart); err != nil {
		return cfberrors.Generic.WrapError(err)
	}

	if _, err := e.backing.Seek(0, io.SeekStart); err != nil {
		return cfberrors.Generic.WrapError(err)
	}
	if _, err := io.Copy(e.backing, rendered); err != nil {
		return cfberrors.Generic.WrapError(err)
	}
	if t, ok := e.backing.(truncater); ok {
		if err := t.Truncate(totalSize); err != nil {
			return cfberrors.Generic.WrapError(err)
		}
	}

	backing := e.backing
	*e = *fresh
	e.backing = backing
	return nil
}

// copyStorage recursively copies every child of src's storage at srcSID
// into dst's storage at dstSID, preserving CLSIDs and stream contents.
func copyStorage(src *Engine, srcSID direntry.SID, dst *Engine, dstSID direntry.SID) error {
	var children []direntry.SID
	if err := src.WalkChildren(srcSID, func(sid direntry.SID) error {
		children = append(children, sid)
		return nil
	}); err != nil {
		return err
	}

	for _, childSID := range children {
		child, err := src.Entry(childSID)
		if err != nil {
			return err
		}

		switch child.Type {
		case direntry.TypeStorage:
			newSID, err := dst.AddStorage(dstSID, child.Name)
			if err != nil {
				return err
			}
			if err := dst.SetCLSID(newSID, child.CLSID); err != nil {
				return err
			}
			if err := copyStorage(src, childSID, dst, newSID); err != nil {
				return err
			}
		case direntry.TypeStream:
			newSID, err := dst.AddStream(dstSID, child.Name)
			if err != nil {
				return err
			}
			data, err := src.RawDataBySID(childSID)
			if err != nil {
				return err
			}
			if len(data) > 0 {
				if _, err := dst.WriteStreamAt(newSID, data, 0); err != nil {
					return err
				}
			}
			if err := dst.SetCLSID(newSID, child.CLSID); err != nil {
				return err
			}
		}
	}
	return nil
}
