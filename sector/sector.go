// Package sector implements the fixed-size byte blocks a compound file is
// built from, and the sparse, lazily-materialized collection that indexes
// them by id.
package sector

import (
	"fmt"
	"io"

	"github.com/boljen/go-bitmap"

	cfberrors "github.com/arnegrimsson/gocfb/errors"
)

// Kind tags what a sector is being used for.
type Kind uint8

const (
	KindNormal Kind = iota
	KindMini
	KindFAT
	KindDIFAT
	KindDirectory
	KindRangeLock
)

// ID is a sector index within the file (held as an int64), or -1 if
// unallocated.
type ID int64

const Unallocated ID = -1

// v4RangeLockThreshold is the collection length (in sectors) past which,
// per §3/§4.2, a single RangeLockSector is appended: the first time the
// collection's length exceeds it.
const v4RangeLockThreshold = 0x7FFFFF

// Sector is a single fixed-size block: identity, size, type tag, dirty
// flag, and a lazily loaded byte buffer. Mini sectors are not independent
// file regions (IsStreamed is false for them); their bytes live inside the
// root entry's regular chain.
type Sector struct {
	id         ID
	size       uint
	kind       Kind
	IsStreamed bool
	data       []byte
	loaded     bool
}

// ID returns the sector's index, or Unallocated.
func (s *Sector) ID() ID { return s.id }

// Kind returns the sector's type tag.
func (s *Sector) Kind() Kind { return s.kind }

// SetKind updates the sector's type tag (used when the FAT/DIFAT allocator
// marks a sector as belonging to itself).
func (s *Sector) SetKind(k Kind) { s.kind = k }

// Size returns the sector's size in bytes: the format's regular sector size
// for Normal/FAT/DIFAT/Directory/RangeLock sectors, or 64 for Mini sectors.
func (s *Sector) Size() uint { return s.size }

// GetData returns the sector's byte buffer, reading it lazily from source
// (seeking to headerRegionSize + id*size) on first access. source may be nil
// for sectors that only ever exist in memory (e.g. freshly allocated, not
// yet backed by a file); in that case a newly allocated zero buffer is
// returned and cached.
func (s *Sector) GetData(source io.ReaderAt, headerRegionSize int) ([]byte, error) {
	if s.loaded {
		return s.data, nil
	}

	buffer := make([]byte, s.size)
	if source != nil && s.id >= 0 && s.IsStreamed {
		offset := int64(headerRegionSize) + int64(s.id)*int64(s.size)
		n, err := source.ReadAt(buffer, offset)
		if err != nil && err != io.EOF {
			return nil, cfberrors.Generic.WrapError(err)
		}
		if n < int(s.size) {
			// Short read past end of file: the remainder is implicitly
			// zero, matching a sector that was allocated but never
			// flushed by a prior writer.
			for i := n; i < int(s.size); i++ {
				buffer[i] = 0
			}
		}
	}

	s.data = buffer
	s.loaded = true
	return s.data, nil
}

// SetData replaces the sector's buffer outright (must be exactly Size()
// bytes) and marks it dirty. Used when a sector is allocated fresh, or
// entirely rewritten.
func (s *Sector) SetData(data []byte, dirty *Collection) error {
	if uint(len(data)) != s.size {
		return cfberrors.Generic.WithMessage(
			fmt.Sprintf("wrong buffer size: want %d, got %d", s.size, len(data)))
	}
	s.data = data
	s.loaded = true
	dirty.markDirty(s.id)
	return nil
}

// WriteAt writes into the sector's buffer at a local offset, loading it
// first if necessary, and marks it dirty.
func (s *Sector) WriteAt(source io.ReaderAt, headerRegionSize int, offset uint, data []byte, dirty *Collection) error {
	buf, err := s.GetData(source, headerRegionSize)
	if err != nil {
		return err
	}
	if offset+uint(len(data)) > s.size {
		return cfberrors.Generic.WithMessage("write exceeds sector bounds")
	}
	copy(buf[offset:], data)
	dirty.markDirty(s.id)
	return nil
}

// Dirty reports whether this sector has unflushed in-memory changes.
func (s *Sector) Dirty(d *Collection) bool {
	if s.id < 0 {
		return false
	}
	return d.dirty.Get(int(s.id))
}

// ReleaseBuffer drops the in-memory payload, forcing the next GetData to
// reload from source. Used by Commit's optional releaseMemory path, §4.10.
func (s *Sector) ReleaseBuffer() {
	s.data = nil
	s.loaded = false
}

// Collection is a sparse, growable sequence of sectors indexed by id,
// implemented as a list of fixed-capacity slabs so that a multi-gigabyte
// file doesn't require one giant contiguous allocation. Dirty/loaded
// tracking is bitmap-backed, mirroring a block cache's per-block dirty
// bitmap but at whole-file sector granularity.
type Collection struct {
	regularSize uint
	miniSize    uint

	slabs    [][]*Sector
	slabSize int

	dirty       bitmap.Bitmap
	loaded      bitmap.Bitmap
	bitsCap     int

	// rangeLockAdded is set once the v4 threshold is first crossed by Add;
	// the engine observes it at commit time (§4.2, §5).
	rangeLockAdded     bool
	rangeLockAllocated bool
	rangeLockSectorID  ID
}

const defaultSlabSize = 4096
const bitmapGrowChunk = 4096

// New creates an empty Collection for the given regular and mini sector
// sizes.
func New(regularSectorSize, miniSectorSize uint) *Collection {
	return &Collection{
		regularSize: regularSectorSize,
		miniSize:    miniSectorSize,
		slabSize:    defaultSlabSize,
		dirty:       bitmap.New(bitmapGrowChunk),
		loaded:      bitmap.New(bitmapGrowChunk),
		bitsCap:     bitmapGrowChunk,
	}
}

// Len returns the number of sector slots tracked (including never-touched
// null slots).
func (c *Collection) Len() int {
	total := 0
	for _, slab := range c.slabs {
		total += len(slab)
	}
	return total
}

func (c *Collection) ensureBitmapCapacity(n int) {
	if n <= c.bitsCap {
		return
	}
	newCap := c.bitsCap
	for newCap < n {
		newCap += bitmapGrowChunk
	}
	newDirty := bitmap.New(newCap)
	newLoaded := bitmap.New(newCap)
	copy(newDirty, c.dirty)
	copy(newLoaded, c.loaded)
	c.dirty = newDirty
	c.loaded = newLoaded
	c.bitsCap = newCap
}

// MarkDirty flags the sector at id as holding unflushed changes, without
// replacing its buffer. Used when a caller mutated a buffer slice returned
// by GetData directly.
func (c *Collection) MarkDirty(id ID) {
	c.markDirty(id)
}

func (c *Collection) markDirty(id ID) {
	if id < 0 {
		return
	}
	c.ensureBitmapCapacity(int(id) + 1)
	c.dirty.Set(int(id), true)
}

// At returns the sector at id, synthesizing a null-buffer descriptor on
// first reference if the slot has never been touched. It returns Corrupted
// if id is out of the collection's current range.
func (c *Collection) At(id ID) (*Sector, error) {
	if id < 0 || int(id) >= c.Len() {
		return nil, cfberrors.Corrupted.WithMessage(
			fmt.Sprintf("sector id %d out of range [0, %d)", id, c.Len()))
	}

	slabIdx := int(id) / c.slabSize
	within := int(id) % c.slabSize
	if c.slabs[slabIdx][within] == nil {
		c.slabs[slabIdx][within] = &Sector{
			id:         id,
			size:       c.regularSize,
			kind:       KindNormal,
			IsStreamed: true,
		}
		c.ensureBitmapCapacity(int(id) + 1)
		c.loaded.Set(int(id), true)
	}
	return c.slabs[slabIdx][within], nil
}

// Touched reports whether the slot at id has ever been materialized into a
// concrete *Sector (as opposed to a never-referenced null slot).
func (c *Collection) Touched(id ID) bool {
	if id < 0 || int(id) >= c.bitsCap {
		return false
	}
	return c.loaded.Get(int(id))
}

// Add appends one new regular sector to the collection, of the given kind,
// and returns it. If this Add first causes the collection's length to
// exceed the v4 range-lock threshold, it also appends a single
// RangeLockSector right after it (at the returned sector's ID+1) and reports
// that through its second return value and RangeLockPending.
func (c *Collection) Add(kind Kind) (*Sector, bool) {
	id := ID(c.Len())
	c.appendSlot(&Sector{id: id, size: c.regularSize, kind: kind, IsStreamed: true})

	rangeLockJustAdded := false
	if !c.rangeLockAdded && c.Len() > v4RangeLockThreshold {
		c.rangeLockAdded = true
		rangeLockJustAdded = true
		lockID := ID(c.Len())
		c.appendSlot(&Sector{id: lockID, size: c.regularSize, kind: KindRangeLock, IsStreamed: true})
		c.rangeLockSectorID = lockID
	}
	return c.slabs[int(id)/c.slabSize][int(id)%c.slabSize], rangeLockJustAdded
}

func (c *Collection) appendSlot(s *Sector) {
	if len(c.slabs) == 0 || len(c.slabs[len(c.slabs)-1]) == c.slabSize {
		c.slabs = append(c.slabs, make([]*Sector, 0, c.slabSize))
	}
	last := len(c.slabs) - 1
	c.slabs[last] = append(c.slabs[last], s)
	c.ensureBitmapCapacity(c.Len())
	if s.id >= 0 {
		c.loaded.Set(int(s.id), true)
	}
}

// RangeLockPending reports whether a RangeLockSector was added by Add but
// has not yet been marked ENDOFCHAIN in the FAT (TransactionLockAdded in
// §4.2's terms).
func (c *Collection) RangeLockPending() bool {
	return c.rangeLockAdded && !c.rangeLockAllocated
}

// MarkRangeLockAllocated records that the engine has written ENDOFCHAIN for
// the range-lock sector in the FAT (TransactionLockAllocated).
func (c *Collection) MarkRangeLockAllocated() {
	c.rangeLockAllocated = true
}

// RangeLockSectorID returns the id of the sector added to satisfy the v4
// range-lock requirement, valid once RangeLockPending or
// MarkRangeLockAllocated has been observed true at least once.
func (c *Collection) RangeLockSectorID() ID {
	return c.rangeLockSectorID
}

// ForEachInOrder visits every non-null sector slot in id order. Used by
// Commit to flush dirty sectors and by Save to write every sector.
func (c *Collection) ForEachInOrder(visit func(*Sector) error) error {
	for id := 0; id < c.Len(); id++ {
		slabIdx := id / c.slabSize
		within := id % c.slabSize
		s := c.slabs[slabIdx][within]
		if s == nil {
			continue
		}
		if err := visit(s); err != nil {
			return err
		}
	}
	return nil
}
