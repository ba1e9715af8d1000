// Package streamio implements the seekable byte view layered over a sector
// chain (regular or mini), §4.6, §5.
package streamio

import (
	"fmt"
	"io"

	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/header"
)

// Backend lets a View read and resize a chain of fixed-size units (regular
// sectors for a normal stream, mini-sectors for a stream still living in
// the mini-stream) without knowing how sector/mini-sector allocation or the
// mini<->normal transition actually works; compound.Engine supplies it.
type Backend interface {
	UnitSize() uint
	UnitData(id header.SectorID) ([]byte, error)
	MarkUnitDirty(id header.SectorID) error
	// Resize grows or shrinks chain to hold newUnitCount units, allocating
	// or freeing units as needed, and returns the resulting chain.
	Resize(chain []header.SectorID, newUnitCount uint) ([]header.SectorID, error)
}

// View is a file-like wrapper around a Backend-managed sector chain. It
// mirrors the shape of an [io.ReadWriteSeeker] but additionally exposes
// ReaderAt/WriterAt semantics, per §5's Query/Mutate operation set.
type View struct {
	size     int64
	position int64
	chain    []header.SectorID
	backend  Backend
	readOnly bool
}

// New wraps chain (already the stream's full, valid chain) as a view of
// size bytes. size must be between 0 and the chain's total unit capacity.
func New(size int64, chain []header.SectorID, backend Backend, readOnly bool) (*View, error) {
	capacity := int64(len(chain)) * int64(backend.UnitSize())
	if size < 0 || size > capacity {
		return nil, cfberrors.Corrupted.WithMessage(
			fmt.Sprintf("stream size %d out of range [0, %d]", size, capacity))
	}
	return &View{size: size, chain: chain, backend: backend, readOnly: readOnly}, nil
}

// Chain returns the view's current backing chain, e.g. after a Truncate
// has grown or shrunk it.
func (v *View) Chain() []header.SectorID {
	return v.chain
}

func (v *View) unitAt(offset int64) (int, uint) {
	unitSize := int64(v.backend.UnitSize())
	return int(offset / unitSize), uint(offset % unitSize)
}

// Size returns the stream's current logical length in bytes.
func (v *View) Size() int64 {
	return v.size
}

// Tell returns the current stream position.
func (v *View) Tell() int64 {
	return v.position
}

// Seek repositions the stream pointer. Seeking past the end is allowed; the
// stream grows on the next write.
func (v *View) Seek(offset int64, whence int) (int64, error) {
	var absolute int64
	switch whence {
	case io.SeekStart:
		absolute = offset
	case io.SeekCurrent:
		absolute = v.position + offset
	case io.SeekEnd:
		absolute = v.size + offset
	default:
		return v.position, cfberrors.Generic.WithMessage(
			fmt.Sprintf("invalid seek origin %d", whence))
	}
	if absolute < 0 {
		return v.position, cfberrors.Generic.WithMessage("seek would move before the start of the stream")
	}
	v.position = absolute
	return absolute, nil
}

func (v *View) Read(buffer []byte) (int, error) {
	n, err := v.ReadAt(buffer, v.position)
	v.position += int64(n)
	return n, err
}

// ReadAt reads into buffer starting at offset, clamped to the stream's
// current size, reporting io.EOF once the read runs past the end.
func (v *View) ReadAt(buffer []byte, offset int64) (int, error) {
	if offset >= v.size {
		return 0, io.EOF
	}

	toRead := int64(len(buffer))
	atEOF := false
	if offset+toRead > v.size {
		toRead = v.size - offset
		atEOF = true
	}

	firstUnit, firstOffset := v.unitAt(offset)
	unitSize := int64(v.backend.UnitSize())

	read := int64(0)
	for unit := firstUnit; read < toRead; unit++ {
		data, err := v.backend.UnitData(v.chain[unit])
		if err != nil {
			return int(read), err
		}
		start := uint(0)
		if unit == firstUnit {
			start = firstOffset
		}
		remaining := toRead - read
		available := unitSize - int64(start)
		n := remaining
		if available < n {
			n = available
		}
		copy(buffer[read:read+n], data[start:uint(int64(start)+n)])
		read += n
	}

	if atEOF {
		return int(read), io.EOF
	}
	return int(read), nil
}

func (v *View) Write(buffer []byte) (int, error) {
	n, err := v.WriteAt(buffer, v.position)
	v.position += int64(n)
	return n, err
}

// WriteAt writes buffer at offset, growing the chain (via Backend.Resize)
// if the write extends past the current size.
func (v *View) WriteAt(buffer []byte, offset int64) (int, error) {
	if v.readOnly {
		return 0, cfberrors.InvalidOperation.WithMessage("stream is read-only")
	}

	toWrite := int64(len(buffer))
	if toWrite == 0 {
		return 0, nil
	}

	end := offset + toWrite
	if end > v.size {
		if err := v.truncate(end); err != nil {
			return 0, err
		}
	}

	firstUnit, firstOffset := v.unitAt(offset)
	unitSize := int64(v.backend.UnitSize())

	written := int64(0)
	for unit := firstUnit; written < toWrite; unit++ {
		data, err := v.backend.UnitData(v.chain[unit])
		if err != nil {
			return int(written), err
		}
		start := uint(0)
		if unit == firstUnit {
			start = firstOffset
		}
		remaining := toWrite - written
		available := unitSize - int64(start)
		n := remaining
		if available < n {
			n = available
		}
		copy(data[start:uint(int64(start)+n)], buffer[written:written+n])
		written += n
		if err := v.backend.MarkUnitDirty(v.chain[unit]); err != nil {
			return int(written), err
		}
	}
	return int(written), nil
}

// Truncate resizes the stream to size bytes without moving the stream
// pointer.
func (v *View) Truncate(size int64) error {
	if v.readOnly {
		return cfberrors.InvalidOperation.WithMessage("stream is read-only")
	}
	return v.truncate(size)
}

func (v *View) truncate(size int64) error {
	if size < 0 {
		return cfberrors.Generic.WithMessage(fmt.Sprintf("invalid stream size %d", size))
	}
	unitSize := int64(v.backend.UnitSize())
	newUnitCount := uint((size + unitSize - 1) / unitSize)

	newChain, err := v.backend.Resize(v.chain, newUnitCount)
	if err != nil {
		return err
	}
	v.chain = newChain
	v.size = size
	return nil
}

// ReadFrom copies all of r into the view starting at the current position.
func (v *View) ReadFrom(r io.Reader) (int64, error) {
	buffer := make([]byte, v.backend.UnitSize())
	var total int64
	for {
		n, readErr := r.Read(buffer)
		if n > 0 {
			_, writeErr := v.Write(buffer[:n])
			total += int64(n)
			if writeErr != nil {
				return total, writeErr
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// WriteTo copies the remainder of the view, from the current position, to
// w.
func (v *View) WriteTo(w io.Writer) (int64, error) {
	buffer := make([]byte, v.backend.UnitSize())
	var total int64
	for {
		n, readErr := v.Read(buffer)
		if n > 0 {
			if _, err := w.Write(buffer[:n]); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
