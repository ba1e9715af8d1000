// Package direntry implements the 128-byte directory entry record: storage
// and stream metadata, the format-mandated name ordering, and FILETIME
// conversions, §3, §4.8.
package direntry

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/header"
)

// SID is a directory-entry index: 0 is always the Root. NoStream (-1) means
// "no sibling/child".
type SID int32

const NoStream SID = -1

// Type tags what kind of thing a directory entry represents.
type Type uint8

const (
	TypeInvalid Type = 0
	TypeStorage Type = 1
	TypeStream  Type = 2
	TypeRoot    Type = 5
)

// Color is the entry's position in the red-black sibling tree.
type Color uint8

const (
	Red   Color = 0
	Black Color = 1
)

// Size is the fixed on-disk record size.
const Size = 128

const maxNameUTF16Units = 32 // including the NUL terminator

// filetimeEpochOffset100ns is the number of 100ns ticks between the
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochOffset100ns = 116444736000000000

// Entry is one 128-byte directory record, held in a flat, owning slice
// indexed by SID (§9's design note: cross-references are SIDs plus a
// lookup into the vector, never pointers).
type Entry struct {
	Name string // decoded, without the NUL padding

	Type  Type
	Color Color

	Left  SID
	Right SID
	Child SID

	CLSID     [16]byte
	StateBits uint32

	CreatedAt  time.Time
	ModifiedAt time.Time

	StartSector header.SectorID
	StreamSize  int64

	// deleted marks a slot that's free for reuse; its Name carries a
	// tombstone (§3's "Lifecycles").
	deleted bool
}

// NewInvalid returns a zero directory entry suitable for a free slot.
func NewInvalid() Entry {
	return Entry{
		Type:        TypeInvalid,
		Left:        NoStream,
		Right:       NoStream,
		Child:       NoStream,
		StartSector: header.SectorID(header.EndOfChain),
		deleted:     true,
	}
}

// NewRoot returns a freshly initialized Root entry.
func NewRoot() Entry {
	return Entry{
		Name:        "Root Entry",
		Type:        TypeRoot,
		Color:       Black,
		Left:        NoStream,
		Right:       NoStream,
		Child:       NoStream,
		StartSector: header.SectorID(header.EndOfChain),
	}
}

// NewStorage returns a freshly initialized storage entry with the given
// name.
func NewStorage(name string) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:        name,
		Type:        TypeStorage,
		Color:       Red,
		Left:        NoStream,
		Right:       NoStream,
		Child:       NoStream,
		StartSector: header.SectorID(header.EndOfChain),
	}, nil
}

// NewStream returns a freshly initialized, empty stream entry with the
// given name.
func NewStream(name string) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:        name,
		Type:        TypeStream,
		Color:       Red,
		Left:        NoStream,
		Right:       NoStream,
		Child:       NoStream,
		StartSector: header.SectorID(header.EndOfChain),
	}, nil
}

// IsDeleted reports whether this slot is a free/invalid tombstone.
func (e *Entry) IsDeleted() bool {
	return e.deleted || e.Type == TypeInvalid
}

// MarkDeleted turns e into a free slot, per §4.8: stamped Invalid, its name
// replaced by the _DELETED_NAME_<sid> tombstone, and its sibling and child
// pointers nulled.
func (e *Entry) MarkDeleted(sid SID) {
	e.Name = fmt.Sprintf("_DELETED_NAME_%d", sid)
	e.Type = TypeInvalid
	e.Left = NoStream
	e.Right = NoStream
	e.Child = NoStream
	e.StartSector = header.SectorID(header.EndOfChain)
	e.StreamSize = 0
	e.deleted = true
}

// ValidateName enforces the §3 name invariants: at most 31 UTF-16 code
// units (32 including the NUL terminator) and none of the four forbidden
// characters.
func ValidateName(name string) error {
	units := utf16.Encode([]rune(name))
	if len(units)+1 > maxNameUTF16Units {
		return cfberrors.Generic.WithMessage(
			fmt.Sprintf("name %q is too long: %d UTF-16 units, max %d",
				name, len(units), maxNameUTF16Units-1))
	}
	if strings.ContainsAny(name, "\\/:!") {
		return cfberrors.Generic.WithMessage(
			fmt.Sprintf("name %q contains a forbidden character (\\ / : !)", name))
	}
	if name == "" {
		return cfberrors.Generic.WithMessage("name must not be empty")
	}
	return nil
}

// OrderingKey returns the format-mandated comparison key: first the
// encoded byte length of the name, then its upper-cased UTF-16 code units,
// §3.
func OrderingKey(name string) (int, []uint16) {
	upper := strings.ToUpper(name)
	units := utf16.Encode([]rune(upper))
	// The on-disk length includes the NUL terminator, i.e. 2 bytes per
	// UTF-16 unit plus the 2-byte terminator.
	byteLen := (len(utf16.Encode([]rune(name))) + 1) * 2
	return byteLen, units
}

// Less implements the ordering rule for two names: compare by encoded byte
// length first, then lexicographically by upper-cased UTF-16 code unit.
func Less(a, b string) bool {
	aLen, aUnits := OrderingKey(a)
	bLen, bUnits := OrderingKey(b)
	if aLen != bLen {
		return aLen < bLen
	}
	for i := 0; i < len(aUnits) && i < len(bUnits); i++ {
		if aUnits[i] != bUnits[i] {
			return aUnits[i] < bUnits[i]
		}
	}
	return len(aUnits) < len(bUnits)
}

// Equal reports whether two names compare equal under the format's
// ordering rule (same length, same upper-cased units).
func Equal(a, b string) bool {
	aLen, aUnits := OrderingKey(a)
	bLen, bUnits := OrderingKey(b)
	if aLen != bLen || len(aUnits) != len(bUnits) {
		return false
	}
	for i := range aUnits {
		if aUnits[i] != bUnits[i] {
			return false
		}
	}
	return true
}

// TimeToFILETIME converts a Go time to a CFB FILETIME: 100ns ticks since
// 1601-01-01.
func TimeToFILETIME(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	unixNanos := t.UnixNano()
	return uint64(unixNanos/100) + filetimeEpochOffset100ns
}

// FILETIMEToTime converts a FILETIME back to a Go time. A zero FILETIME
// maps to the zero time.Time.
func FILETIMEToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	unixNanos := (int64(ft) - filetimeEpochOffset100ns) * 100
	return time.Unix(0, unixNanos).UTC()
}

// rawEntry is the exact 128-byte on-disk layout.
type rawEntry struct {
	Name         [64]byte
	NameLenBytes uint16
	EntryType    uint8
	NodeColor    uint8
	Left         uint32
	Right        uint32
	Child        uint32
	CLSID        [16]byte
	StateBits    uint32
	CreatedAt    uint64
	ModifiedAt   uint64
	StartSector  uint32
	StreamSizeLo uint32
	StreamSizeHi uint32
}

// Marshal serializes e into exactly Size bytes.
func (e *Entry) Marshal() ([]byte, error) {
	var raw rawEntry

	units := utf16.Encode([]rune(e.Name))
	if len(units)+1 > maxNameUTF16Units {
		return nil, cfberrors.Generic.WithMessage("name too long to marshal")
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw.Name[i*2:i*2+2], u)
	}
	if e.Name == "" {
		raw.NameLenBytes = 0
	} else {
		raw.NameLenBytes = uint16((len(units) + 1) * 2)
	}

	raw.EntryType = uint8(e.Type)
	raw.NodeColor = uint8(e.Color)
	raw.Left = uint32(e.Left)
	raw.Right = uint32(e.Right)
	raw.Child = uint32(e.Child)
	raw.CLSID = e.CLSID
	raw.StateBits = e.StateBits
	raw.CreatedAt = TimeToFILETIME(e.CreatedAt)
	raw.ModifiedAt = TimeToFILETIME(e.ModifiedAt)
	raw.StartSector = uint32(e.StartSector)
	raw.StreamSizeLo = uint32(e.StreamSize)
	raw.StreamSizeHi = uint32(e.StreamSize >> 32)

	out := make([]byte, Size)
	binary.LittleEndian.PutUint16(out[64:66], raw.NameLenBytes)
	out[66] = raw.EntryType
	out[67] = raw.NodeColor
	binary.LittleEndian.PutUint32(out[68:72], raw.Left)
	binary.LittleEndian.PutUint32(out[72:76], raw.Right)
	binary.LittleEndian.PutUint32(out[76:80], raw.Child)
	copy(out[80:96], raw.CLSID[:])
	binary.LittleEndian.PutUint32(out[96:100], raw.StateBits)
	binary.LittleEndian.PutUint64(out[100:108], raw.CreatedAt)
	binary.LittleEndian.PutUint64(out[108:116], raw.ModifiedAt)
	binary.LittleEndian.PutUint32(out[116:120], raw.StartSector)
	binary.LittleEndian.PutUint32(out[120:124], raw.StreamSizeLo)
	binary.LittleEndian.PutUint32(out[124:128], raw.StreamSizeHi)
	copy(out[0:64], raw.Name[:])
	return out, nil
}

// Unmarshal decodes a 128-byte record. majorVersion 3 files only use the
// low 32 bits of the 64-bit size field; the high 32 bits must be discarded
// when read, §3.
func Unmarshal(data []byte, majorVersion int) (Entry, error) {
	if len(data) != Size {
		return Entry{}, cfberrors.Corrupted.WithMessage(
			fmt.Sprintf("directory entry must be %d bytes, got %d", Size, len(data)))
	}

	nameLenBytes := binary.LittleEndian.Uint16(data[64:66])
	entryType := Type(data[66])
	color := Color(data[67])
	left := SID(int32(binary.LittleEndian.Uint32(data[68:72])))
	right := SID(int32(binary.LittleEndian.Uint32(data[72:76])))
	child := SID(int32(binary.LittleEndian.Uint32(data[76:80])))
	var clsid [16]byte
	copy(clsid[:], data[80:96])
	stateBits := binary.LittleEndian.Uint32(data[96:100])
	createdRaw := binary.LittleEndian.Uint64(data[100:108])
	modifiedRaw := binary.LittleEndian.Uint64(data[108:116])
	startSector := header.SectorID(binary.LittleEndian.Uint32(data[116:120]))
	sizeLo := binary.LittleEndian.Uint32(data[120:124])
	sizeHi := binary.LittleEndian.Uint32(data[124:128])

	var size int64
	if majorVersion == 3 {
		size = int64(sizeLo)
	} else {
		size = int64(sizeHi)<<32 | int64(sizeLo)
	}

	var name string
	if nameLenBytes >= 2 {
		numUnits := int(nameLenBytes)/2 - 1
		if numUnits < 0 || numUnits*2 > 64 {
			return Entry{}, cfberrors.Corrupted.WithMessage("directory entry name length out of range")
		}
		units := make([]uint16, numUnits)
		for i := 0; i < numUnits; i++ {
			units[i] = binary.LittleEndian.Uint16(data[i*2 : i*2+2])
		}
		name = string(utf16.Decode(units))
	}

	if entryType != TypeInvalid {
		if strings.ContainsAny(name, "\\/:!") {
			return Entry{}, cfberrors.Corrupted.WithMessage(
				fmt.Sprintf("directory entry name %q contains a forbidden character", name))
		}
	}

	return Entry{
		Name:        name,
		Type:        entryType,
		Color:       color,
		Left:        left,
		Right:       right,
		Child:       child,
		CLSID:       clsid,
		StateBits:   stateBits,
		CreatedAt:   FILETIMEToTime(createdRaw),
		ModifiedAt:  FILETIMEToTime(modifiedRaw),
		StartSector: startSector,
		StreamSize:  size,
		deleted:     entryType == TypeInvalid,
	}, nil
}
