package compound

import (
	"io"

	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/rbtree"
)

// RootSID is the directory-entry index of the Root storage.
const RootSID direntry.SID = 0

// FindChild looks up name under the storage at parentSID's red-black tree.
func (e *Engine) FindChild(parentSID direntry.SID, name string) (direntry.SID, error) {
	parent, err := e.Entry(parentSID)
	if err != nil {
		return direntry.NoStream, err
	}
	return rbtree.Find(e, parent.Child, name)
}

// WalkChildren visits every direct child of the storage at parentSID, in
// the format's name order.
func (e *Engine) WalkChildren(parentSID direntry.SID, visit func(direntry.SID) error) error {
	parent, err := e.Entry(parentSID)
	if err != nil {
		return err
	}
	return rbtree.Walk(e, parent.Child, visit)
}

// AddStorage creates a new, empty storage named name under parentSID.
func (e *Engine) AddStorage(parentSID direntry.SID, name string) (direntry.SID, error) {
	return e.addChild(parentSID, func() (direntry.Entry, error) { return direntry.NewStorage(name) })
}

// AddStream creates a new, empty stream named name under parentSID.
func (e *Engine) AddStream(parentSID direntry.SID, name string) (direntry.SID, error) {
	return e.addChild(parentSID, func() (direntry.Entry, error) { return direntry.NewStream(name) })
}

func (e *Engine) addChild(parentSID direntry.SID, build func() (direntry.Entry, error)) (direntry.SID, error) {
	if err := e.checkWritable(); err != nil {
		return direntry.NoStream, err
	}
	entry, err := build()
	if err != nil {
		return direntry.NoStream, err
	}

	parent, err := e.Entry(parentSID)
	if err != nil {
		return direntry.NoStream, err
	}

	sid := e.allocateSlot()
	e.entries[sid] = entry

	newRoot, err := rbtree.Insert(e, parent.Child, sid)
	if err != nil {
		// Roll the slot back to Invalid; it was never linked into the tree.
		e.entries[sid].MarkDeleted(sid)
		return direntry.NoStream, err
	}

	parent, err = e.Entry(parentSID)
	if err != nil {
		return direntry.NoStream, err
	}
	parent.Child = newRoot

	if err := e.writeDirectoryEntries(); err != nil {
		return direntry.NoStream, err
	}
	return sid, nil
}

// Delete removes the child named name from the storage at parentSID. For a
// storage, all of its descendants are deleted first (§4.8).
func (e *Engine) Delete(parentSID direntry.SID, name string) error {
	if err := e.checkWritable(); err != nil {
		return err
	}

	parent, err := e.Entry(parentSID)
	if err != nil {
		return err
	}
	targetSID, err := rbtree.Find(e, parent.Child, name)
	if err != nil {
		return err
	}

	target, err := e.Entry(targetSID)
	if err != nil {
		return err
	}
	if target.Type == direntry.TypeStorage {
		if err := e.deleteAllChildren(targetSID); err != nil {
			return err
		}
	} else if target.Type == direntry.TypeStream {
		if err := e.freeStreamChain(target); err != nil {
			return err
		}
	}

	newRoot, altDeleted, err := rbtree.Delete(e, parent.Child, name)
	if err != nil {
		return err
	}

	parent, err = e.Entry(parentSID)
	if err != nil {
		return err
	}
	parent.Child = newRoot

	if altDeleted != direntry.NoStream {
		victim, err := e.Entry(altDeleted)
		if err != nil {
			return err
		}
		victim.MarkDeleted(altDeleted)
	}

	return e.writeDirectoryEntries()
}

func (e *Engine) deleteAllChildren(storageSID direntry.SID) error {
	storage, err := e.Entry(storageSID)
	if err != nil {
		return err
	}
	var names []string
	if err := rbtree.Walk(e, storage.Child, func(sid direntry.SID) error {
		child, err := e.Entry(sid)
		if err != nil {
			return err
		}
		names = append(names, child.Name)
		return nil
	}); err != nil {
		return err
	}
	for _, name := range names {
		if err := e.Delete(storageSID, name); err != nil {
			return err
		}
	}
	return nil
}

// SetCLSID sets the CLSID of the storage/stream at sid.
func (e *Engine) SetCLSID(sid direntry.SID, clsid [16]byte) error {
	entry, err := e.Entry(sid)
	if err != nil {
		return err
	}
	entry.CLSID = clsid
	return e.writeDirectoryEntries()
}

// NumDirectories returns the number of live (non-Invalid) entries.
func (e *Engine) NumDirectories() int {
	n := 0
	for i := range e.entries {
		if !e.entries[i].IsDeleted() {
			n++
		}
	}
	return n
}

// FindAllNamed returns the SIDs of every live entry named name, anywhere in
// the flat directory list, regardless of which storage owns it.
func (e *Engine) FindAllNamed(name string) []direntry.SID {
	var found []direntry.SID
	for i := range e.entries {
		if e.entries[i].IsDeleted() {
			continue
		}
		if direntry.Equal(e.entries[i].Name, name) {
			found = append(found, direntry.SID(i))
		}
	}
	return found
}

// CLSIDBySID returns the CLSID of the entry at sid.
func (e *Engine) CLSIDBySID(sid direntry.SID) ([16]byte, error) {
	entry, err := e.Entry(sid)
	if err != nil {
		return [16]byte{}, err
	}
	return entry.CLSID, nil
}

// RawDataBySID makes a best-effort attempt to read the full contents of the
// stream at sid, independent of which storage (if any) still references it.
func (e *Engine) RawDataBySID(sid direntry.SID) ([]byte, error) {
	entry, err := e.Entry(sid)
	if err != nil {
		return nil, err
	}
	if entry.Type != direntry.TypeStream {
		return nil, cfberrors.InvalidOperation.WithMessage("SID does not name a stream")
	}
	view, err := e.openStreamView(entry, true)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, entry.StreamSize)
	if _, err := view.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
