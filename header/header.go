// Package header implements the fixed-layout prefix of a Compound File
// Binary image: signature, versions, sector shifts, and the locations of
// the FAT/DIFAT/MiniFAT/Directory chains.
package header

import (
	"encoding/binary"
	"fmt"
	"io"

	cfberrors "github.com/arnegrimsson/gocfb/errors"
)

// SectorID is a 32-bit sector index, or one of the FAT sentinel values
// below.
type SectorID uint32

const (
	// FreeSect marks a sector as unallocated.
	FreeSect SectorID = 0xFFFFFFFF
	// EndOfChain terminates a sector chain.
	EndOfChain SectorID = 0xFFFFFFFE
	// FATSect marks a sector as belonging to the FAT itself.
	FATSect SectorID = 0xFFFFFFFD
	// DIFATSect marks a sector as belonging to the DIFAT.
	DIFATSect SectorID = 0xFFFFFFFC
	// NoStream marks the absence of a stream/sibling/child reference in the
	// header's FirstDirectorySectorID-adjacent fields. It shares the
	// FreeSect bit pattern per the format.
	NoStream SectorID = 0xFFFFFFFF
)

// Signature is the fixed 8-byte magic every compound file begins with.
var Signature = [8]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// NumDIFATEntriesInHeader is the number of DIFAT entries stored directly in
// the header, before any DIFAT sector chaining is needed.
const NumDIFATEntriesInHeader = 109

// HeaderSize is the number of bytes occupied by the fixed-layout header
// prefix described by this package, independent of sector size.
const HeaderSize = 512

// rawHeader is the on-disk byte layout of the header, little-endian
// throughout. It mirrors file_systems/fat's split between the raw wire
// struct and the derived, validated struct: this is the wire struct.
type rawHeader struct {
	Signature             [8]byte
	CLSID                 [16]byte
	MinorVersion          uint16
	MajorVersion          uint16
	ByteOrder             uint16
	SectorShift           uint16
	MiniSectorShift       uint16
	Reserved              [6]byte
	NumDirectorySectors   uint32
	NumFATSectors         uint32
	FirstDirectorySectorID uint32
	TransactionSignature  uint32
	MiniStreamCutoff      uint32
	FirstMiniFATSectorID  uint32
	NumMiniFATSectors     uint32
	FirstDIFATSectorID    uint32
	NumDIFATSectors       uint32
	DIFAT                 [NumDIFATEntriesInHeader]uint32
}

// Header is the fully parsed and validated compound-file header, §4.1.
type Header struct {
	MajorVersion int    // 3 or 4
	MinorVersion int    // informative only
	CLSID        [16]byte

	SectorShift     uint // 9 (v3) or 12 (v4)
	MiniSectorShift uint // always 6 (64 bytes)

	NumDirectorySectors uint32 // forced to 0 on disk for v3; meaningful for v4
	NumFATSectors       uint32
	NumMiniFATSectors   uint32
	NumDIFATSectors     uint32

	FirstDirectorySectorID SectorID
	FirstMiniFATSectorID   SectorID
	FirstDIFATSectorID     SectorID

	// MiniStreamCutoff is the minimum size, in bytes, a stream must reach
	// before it's promoted out of the mini-stream. Normally 4096.
	MiniStreamCutoff uint32

	// DIFAT holds the first 109 FAT sector IDs, taken straight from the
	// header. Additional entries (if NumFATSectors > 109) live in chained
	// DIFAT sectors and are not part of this struct.
	DIFAT [NumDIFATEntriesInHeader]SectorID
}

// SectorSize returns 1 << SectorShift: 512 for v3, 4096 for v4.
func (h *Header) SectorSize() uint {
	return 1 << h.SectorShift
}

// MiniSectorSize returns 1 << MiniSectorShift: always 64.
func (h *Header) MiniSectorSize() uint {
	return 1 << h.MiniSectorShift
}

// New builds a fresh, empty header for the given major version (3 or 4).
// All chain-start fields default to EndOfChain/FreeSect per §4.1's write
// semantics.
func New(majorVersion int) (*Header, error) {
	var sectorShift uint
	switch majorVersion {
	case 3:
		sectorShift = 9
	case 4:
		sectorShift = 12
	default:
		return nil, cfberrors.FileFormat.WithMessage(
			fmt.Sprintf("unsupported major version %d: must be 3 or 4", majorVersion))
	}

	h := &Header{
		MajorVersion:           majorVersion,
		MinorVersion:           0x003E,
		SectorShift:            sectorShift,
		MiniSectorShift:        6,
		MiniStreamCutoff:       4096,
		FirstDirectorySectorID: SectorID(EndOfChain),
		FirstMiniFATSectorID:   SectorID(EndOfChain),
		FirstDIFATSectorID:     SectorID(EndOfChain),
	}
	for i := range h.DIFAT {
		h.DIFAT[i] = FreeSect
	}
	return h, nil
}

// ReadFrom parses a header from the first HeaderSize bytes of reader.
func ReadFrom(reader io.Reader) (*Header, error) {
	var raw rawHeader
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return nil, cfberrors.Generic.WrapError(err)
	}

	if raw.Signature != Signature {
		return nil, cfberrors.FileFormat.WithMessage("bad magic signature")
	}

	if raw.MajorVersion != 3 && raw.MajorVersion != 4 {
		return nil, cfberrors.FileFormat.WithMessage(
			fmt.Sprintf("unsupported major version %d", raw.MajorVersion))
	}

	expectedShift := uint16(9)
	if raw.MajorVersion == 4 {
		expectedShift = 12
	}
	if raw.SectorShift != expectedShift {
		return nil, cfberrors.Corrupted.WithMessage(
			fmt.Sprintf(
				"sector shift %d doesn't match major version %d",
				raw.SectorShift, raw.MajorVersion))
	}
	if raw.MiniSectorShift != 6 {
		return nil, cfberrors.Corrupted.WithMessage(
			fmt.Sprintf("mini sector shift must be 6, got %d", raw.MiniSectorShift))
	}

	h := &Header{
		MajorVersion:           int(raw.MajorVersion),
		MinorVersion:           int(raw.MinorVersion),
		CLSID:                  raw.CLSID,
		SectorShift:            uint(raw.SectorShift),
		MiniSectorShift:        uint(raw.MiniSectorShift),
		NumDirectorySectors:    raw.NumDirectorySectors,
		NumFATSectors:          raw.NumFATSectors,
		NumMiniFATSectors:      raw.NumMiniFATSectors,
		NumDIFATSectors:        raw.NumDIFATSectors,
		FirstDirectorySectorID: SectorID(raw.FirstDirectorySectorID),
		FirstMiniFATSectorID:   SectorID(raw.FirstMiniFATSectorID),
		FirstDIFATSectorID:     SectorID(raw.FirstDIFATSectorID),
		MiniStreamCutoff:       raw.MiniStreamCutoff,
	}
	if h.MiniStreamCutoff == 0 {
		h.MiniStreamCutoff = 4096
	}
	for i, id := range raw.DIFAT {
		h.DIFAT[i] = SectorID(id)
	}

	return h, nil
}

// WriteTo serializes the header. For v4, the caller is responsible for
// padding the remaining 3584 bytes of the reserved 4096-byte header region
// with zeroes (§4.1); this function writes exactly HeaderSize bytes.
func (h *Header) WriteTo(writer io.Writer) error {
	raw := rawHeader{
		Signature:              Signature,
		CLSID:                  h.CLSID,
		MinorVersion:           uint16(h.MinorVersion),
		MajorVersion:           uint16(h.MajorVersion),
		ByteOrder:              0xFFFE,
		SectorShift:            uint16(h.SectorShift),
		MiniSectorShift:        uint16(h.MiniSectorShift),
		NumDirectorySectors:    h.NumDirectorySectors,
		NumFATSectors:          h.NumFATSectors,
		FirstDirectorySectorID: uint32(h.FirstDirectorySectorID),
		MiniStreamCutoff:       h.MiniStreamCutoff,
		FirstMiniFATSectorID:   uint32(h.FirstMiniFATSectorID),
		NumMiniFATSectors:      h.NumMiniFATSectors,
		FirstDIFATSectorID:     uint32(h.FirstDIFATSectorID),
		NumDIFATSectors:        h.NumDIFATSectors,
	}
	// v3 forces the directory sector count to 0 on disk; v4 reports it.
	if h.MajorVersion == 3 {
		raw.NumDirectorySectors = 0
	}
	for i, id := range h.DIFAT {
		raw.DIFAT[i] = uint32(id)
	}

	if err := binary.Write(writer, binary.LittleEndian, &raw); err != nil {
		return cfberrors.Generic.WrapError(err)
	}
	return nil
}

// HeaderRegionSize returns the total size of the reserved header region on
// disk: HeaderSize for v3, 4096 for v4 (§4.1).
func (h *Header) HeaderRegionSize() int {
	if h.MajorVersion == 4 {
		return 4096
	}
	return HeaderSize
}
