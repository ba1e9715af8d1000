package compound

// ConfigFlags governs engine behavior that has no bearing on the on-disk
// format itself, §6. All bits off is the legacy default; Default is a named
// alias for that zero value, not a flag of its own.
type ConfigFlags uint32

const (
	Default ConfigFlags = 0

	// SectorRecycle is accepted but not consulted by the allocator: freed
	// sectors are marked FREESECT and are not reused, and new sectors are
	// always appended.
	SectorRecycle ConfigFlags = 1 << iota

	// EraseFreeSectors zeroes a sector's payload when it's freed.
	EraseFreeSectors

	// NoValidationException downgrades certain corruption findings from
	// fatal to best-effort skip: an undecodable directory record is read as
	// an Invalid entry, a DIFAT walk error during Load is ignored, and
	// Validate collects its findings instead of stopping at the first.
	NoValidationException

	// LeaveOpen keeps the backing stream open across Close.
	LeaveOpen
)

func (f ConfigFlags) has(bit ConfigFlags) bool { return f&bit != 0 }

// Mode selects whether mutations may be persisted in place.
type Mode uint8

const (
	// ReadOnly keeps mutations in memory; only Save (to a different
	// target) can persist them.
	ReadOnly Mode = iota
	// Update allows Commit to persist mutations in place.
	Update
)
