package compound

import (
	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/rbtree"
)

// Validate walks the entire directory tree, checking that every storage's
// sibling red-black tree satisfies rbtree.VerifyInvariants and that every
// stream's sector chain can be walked end to end.
//
// With NoValidationException unset, Validate returns the first Corrupted
// finding it hits. With the flag set, a bad subtree is skipped rather than
// aborting the walk, and every finding encountered is accumulated; Validate
// then returns nil if none were found, the single finding if exactly one
// was, or an aggregated *multierror.Error otherwise, via cfberrors.Findings.
func (e *Engine) Validate() error {
	var findings cfberrors.Findings
	if err := e.validateStorage(RootSID, &findings); err != nil {
		return err
	}
	return findings.AsError()
}

func (e *Engine) validateStorage(sid direntry.SID, findings *cfberrors.Findings) error {
	entry, err := e.Entry(sid)
	if err != nil {
		return e.record(findings, err)
	}

	if err := rbtree.VerifyInvariants(e, entry.Child); err != nil {
		if err := e.record(findings, err); err != nil {
			return err
		}
		return nil
	}

	var children []direntry.SID
	if err := e.WalkChildren(sid, func(child direntry.SID) error {
		children = append(children, child)
		return nil
	}); err != nil {
		return e.record(findings, err)
	}

	for _, child := range children {
		childEntry, err := e.Entry(child)
		if err != nil {
			if err := e.record(findings, err); err != nil {
				return err
			}
			continue
		}
		switch childEntry.Type {
		case direntry.TypeStorage:
			if err := e.validateStorage(child, findings); err != nil {
				return err
			}
		case direntry.TypeStream:
			if err := e.validateStream(childEntry, findings); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) validateStream(entry *direntry.Entry, findings *cfberrors.Findings) error {
	if _, err := e.openStreamView(entry, true); err != nil {
		return e.record(findings, err)
	}
	return nil
}

// record adds err to findings and, unless NoValidationException is set,
// returns it so the caller aborts the walk immediately.
func (e *Engine) record(findings *cfberrors.Findings, err error) error {
	findings.Add(err)
	if !e.flags.has(NoValidationException) {
		return err
	}
	return nil
}
