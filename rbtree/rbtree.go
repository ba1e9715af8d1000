// Package rbtree implements the per-storage red-black sibling index, §4.9.
// It does not allocate its own nodes: it reuses the Left/Right/Color fields
// already present on direntry.Entry, addressing nodes by SID rather than by
// pointer, per §9's design note.
package rbtree

import (
	"fmt"

	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
)

// Storage is the minimal accessor rbtree needs: a mutable view of a single
// directory entry given its SID. compound.Engine's flat entry vector
// satisfies this directly.
type Storage interface {
	Entry(sid direntry.SID) (*direntry.Entry, error)
}

// Find locates the SID of the child named name under the tree rooted at
// root. Returns ItemNotFound if absent.
func Find(storage Storage, root direntry.SID, name string) (direntry.SID, error) {
	current := root
	for current != direntry.NoStream {
		e, err := storage.Entry(current)
		if err != nil {
			return direntry.NoStream, err
		}
		if direntry.Equal(name, e.Name) {
			return current, nil
		}
		if direntry.Less(name, e.Name) {
			current = e.Left
		} else {
			current = e.Right
		}
	}
	return direntry.NoStream, cfberrors.ItemNotFound.WithMessage(
		fmt.Sprintf("no entry named %q", name))
}

// Walk visits every SID in the tree rooted at root, in ascending name
// order.
func Walk(storage Storage, root direntry.SID, visit func(direntry.SID) error) error {
	if root == direntry.NoStream {
		return nil
	}
	e, err := storage.Entry(root)
	if err != nil {
		return err
	}
	if err := Walk(storage, e.Left, visit); err != nil {
		return err
	}
	if err := visit(root); err != nil {
		return err
	}
	return Walk(storage, e.Right, visit)
}

// Insert adds newSID (whose Entry.Name is already set) into the tree rooted
// at root, returning the tree's new root SID. Returns Duplicated if an
// entry with the same format-ordering key already exists.
func Insert(storage Storage, root direntry.SID, newSID direntry.SID) (direntry.SID, error) {
	newRoot, err := insert(storage, root, newSID)
	if err != nil {
		return root, err
	}
	rootEntry, err := storage.Entry(newRoot)
	if err != nil {
		return root, err
	}
	rootEntry.Color = direntry.Black
	return newRoot, nil
}

func insert(storage Storage, root, newSID direntry.SID) (direntry.SID, error) {
	if root == direntry.NoStream {
		n, err := storage.Entry(newSID)
		if err != nil {
			return direntry.NoStream, err
		}
		n.Color = direntry.Red
		n.Left = direntry.NoStream
		n.Right = direntry.NoStream
		return newSID, nil
	}

	rootEntry, err := storage.Entry(root)
	if err != nil {
		return direntry.NoStream, err
	}
	newEntry, err := storage.Entry(newSID)
	if err != nil {
		return direntry.NoStream, err
	}

	switch {
	case direntry.Equal(newEntry.Name, rootEntry.Name):
		return direntry.NoStream, cfberrors.Duplicated.WithMessage(
			fmt.Sprintf("an entry named %q already exists", newEntry.Name))
	case direntry.Less(newEntry.Name, rootEntry.Name):
		newLeft, err := insert(storage, rootEntry.Left, newSID)
		if err != nil {
			return direntry.NoStream, err
		}
		rootEntry.Left = newLeft
	default:
		newRight, err := insert(storage, rootEntry.Right, newSID)
		if err != nil {
			return direntry.NoStream, err
		}
		rootEntry.Right = newRight
	}

	return balance(storage, root)
}

// balance resolves a red-red violation in the immediate vicinity of a black
// node zSID, following Okasaki's four-case restructuring. At most one such
// violation can exist along the path just modified by insert.
func balance(storage Storage, zSID direntry.SID) (direntry.SID, error) {
	z, err := storage.Entry(zSID)
	if err != nil {
		return direntry.NoStream, err
	}
	if z.Color != direntry.Black {
		return zSID, nil
	}

	if ySID := z.Left; ySID != direntry.NoStream {
		y, err := storage.Entry(ySID)
		if err != nil {
			return direntry.NoStream, err
		}
		if y.Color == direntry.Red {
			if xSID := y.Left; xSID != direntry.NoStream {
				x, err := storage.Entry(xSID)
				if err != nil {
					return direntry.NoStream, err
				}
				if x.Color == direntry.Red { // LL
					return restructure(storage, xSID, ySID, zSID, x.Left, x.Right, y.Right, z.Right)
				}
			}
			if xSID := y.Right; xSID != direntry.NoStream {
				x, err := storage.Entry(xSID)
				if err != nil {
					return direntry.NoStream, err
				}
				if x.Color == direntry.Red { // LR
					return restructure(storage, ySID, xSID, zSID, y.Left, x.Left, x.Right, z.Right)
				}
			}
		}
	}

	if ySID := z.Right; ySID != direntry.NoStream {
		y, err := storage.Entry(ySID)
		if err != nil {
			return direntry.NoStream, err
		}
		if y.Color == direntry.Red {
			if xSID := y.Right; xSID != direntry.NoStream {
				x, err := storage.Entry(xSID)
				if err != nil {
					return direntry.NoStream, err
				}
				if x.Color == direntry.Red { // RR
					return restructure(storage, zSID, ySID, xSID, z.Left, y.Left, x.Left, x.Right)
				}
			}
			if xSID := y.Left; xSID != direntry.NoStream {
				x, err := storage.Entry(xSID)
				if err != nil {
					return direntry.NoStream, err
				}
				if x.Color == direntry.Red { // RL
					return restructure(storage, zSID, xSID, ySID, z.Left, x.Left, x.Right, y.Right)
				}
			}
		}
	}

	return zSID, nil
}

// restructure rebuilds the 4-node chain leftSID-midSID-rightSID (with
// subtrees a,b,c,d) into a single red node midSID over two black children
// leftSID{a,b} and rightSID{c,d}.
func restructure(storage Storage, leftSID, midSID, rightSID, a, b, c, d direntry.SID) (direntry.SID, error) {
	left, err := storage.Entry(leftSID)
	if err != nil {
		return direntry.NoStream, err
	}
	mid, err := storage.Entry(midSID)
	if err != nil {
		return direntry.NoStream, err
	}
	right, err := storage.Entry(rightSID)
	if err != nil {
		return direntry.NoStream, err
	}

	left.Left, left.Right, left.Color = a, b, direntry.Black
	right.Left, right.Right, right.Color = c, d, direntry.Black
	mid.Left, mid.Right, mid.Color = leftSID, rightSID, direntry.Red
	return midSID, nil
}

// Delete removes the entry named name from the tree rooted at root. It
// returns the tree's new root SID, and altDeleted: the SID that was
// physically vacated by the deletion and must be stamped Invalid by the
// caller. Per §4.9, when the target has two children, its key/value fields
// are overwritten with its in-order predecessor's, and the predecessor's
// SID (not the originally-named entry's SID) is the one reported as
// altDeleted.
func Delete(storage Storage, root direntry.SID, name string) (newRoot direntry.SID, altDeleted direntry.SID, err error) {
	newRoot, altDeleted, _, err = del(storage, root, name)
	if err != nil {
		return root, direntry.NoStream, err
	}
	if newRoot != direntry.NoStream {
		rootEntry, err := storage.Entry(newRoot)
		if err != nil {
			return root, direntry.NoStream, err
		}
		rootEntry.Color = direntry.Black
	}
	return newRoot, altDeleted, nil
}

func del(storage Storage, root direntry.SID, name string) (direntry.SID, direntry.SID, bool, error) {
	if root == direntry.NoStream {
		return direntry.NoStream, direntry.NoStream, false, cfberrors.ItemNotFound.WithMessage(
			fmt.Sprintf("no entry named %q", name))
	}

	rootEntry, err := storage.Entry(root)
	if err != nil {
		return direntry.NoStream, direntry.NoStream, false, err
	}

	if direntry.Less(name, rootEntry.Name) {
		newLeft, altDel, dbl, err := del(storage, rootEntry.Left, name)
		if err != nil {
			return direntry.NoStream, direntry.NoStream, false, err
		}
		rootEntry.Left = newLeft
		if dbl {
			newRoot, stillDbl, err := fixDoubleBlackLeft(storage, root)
			return newRoot, altDel, stillDbl, err
		}
		return root, altDel, false, nil
	}

	if !direntry.Equal(name, rootEntry.Name) {
		newRight, altDel, dbl, err := del(storage, rootEntry.Right, name)
		if err != nil {
			return direntry.NoStream, direntry.NoStream, false, err
		}
		rootEntry.Right = newRight
		if dbl {
			newRoot, stillDbl, err := fixDoubleBlackRight(storage, root)
			return newRoot, altDel, stillDbl, err
		}
		return root, altDel, false, nil
	}

	// root is the target.
	switch {
	case rootEntry.Left == direntry.NoStream && rootEntry.Right == direntry.NoStream:
		return direntry.NoStream, root, rootEntry.Color == direntry.Black, nil

	case rootEntry.Left == direntry.NoStream || rootEntry.Right == direntry.NoStream:
		var childSID direntry.SID
		if rootEntry.Left != direntry.NoStream {
			childSID = rootEntry.Left
		} else {
			childSID = rootEntry.Right
		}
		child, err := storage.Entry(childSID)
		if err != nil {
			return direntry.NoStream, direntry.NoStream, false, err
		}
		child.Color = direntry.Black
		return childSID, root, false, nil

	default:
		predSID, err := maxNode(storage, rootEntry.Left)
		if err != nil {
			return direntry.NoStream, direntry.NoStream, false, err
		}
		predEntry, err := storage.Entry(predSID)
		if err != nil {
			return direntry.NoStream, direntry.NoStream, false, err
		}
		predName := predEntry.Name
		copyValueFields(rootEntry, predEntry)

		newLeft, altDel, dbl, err := del(storage, rootEntry.Left, predName)
		if err != nil {
			return direntry.NoStream, direntry.NoStream, false, err
		}
		rootEntry.Left = newLeft
		if dbl {
			newRoot, stillDbl, err := fixDoubleBlackLeft(storage, root)
			return newRoot, altDel, stillDbl, err
		}
		return root, altDel, false, nil
	}
}

func maxNode(storage Storage, root direntry.SID) (direntry.SID, error) {
	current := root
	for {
		e, err := storage.Entry(current)
		if err != nil {
			return direntry.NoStream, err
		}
		if e.Right == direntry.NoStream {
			return current, nil
		}
		current = e.Right
	}
}

func copyValueFields(dst, src *direntry.Entry) {
	dst.Name = src.Name
	dst.Type = src.Type
	dst.CLSID = src.CLSID
	dst.StateBits = src.StateBits
	dst.CreatedAt = src.CreatedAt
	dst.ModifiedAt = src.ModifiedAt
	dst.StartSector = src.StartSector
	dst.StreamSize = src.StreamSize
	dst.Child = src.Child
}

func rotateLeft(storage Storage, xSID direntry.SID) (direntry.SID, error) {
	x, err := storage.Entry(xSID)
	if err != nil {
		return direntry.NoStream, err
	}
	ySID := x.Right
	y, err := storage.Entry(ySID)
	if err != nil {
		return direntry.NoStream, err
	}
	x.Right = y.Left
	y.Left = xSID
	return ySID, nil
}

func rotateRight(storage Storage, xSID direntry.SID) (direntry.SID, error) {
	x, err := storage.Entry(xSID)
	if err != nil {
		return direntry.NoStream, err
	}
	ySID := x.Left
	y, err := storage.Entry(ySID)
	if err != nil {
		return direntry.NoStream, err
	}
	x.Left = y.Right
	y.Right = xSID
	return ySID, nil
}

// fixDoubleBlackLeft resolves a double-black deficiency at zSID's left
// child (which may by now be NoStream or a real, already-relinked SID),
// following CLRS's RB-DELETE-FIXUP, adapted to recurse instead of walking
// explicit parent pointers (directory entries carry none).
func fixDoubleBlackLeft(storage Storage, zSID direntry.SID) (direntry.SID, bool, error) {
	z, err := storage.Entry(zSID)
	if err != nil {
		return direntry.NoStream, false, err
	}
	wSID := z.Right
	w, err := storage.Entry(wSID)
	if err != nil {
		return direntry.NoStream, false, err
	}

	if w.Color == direntry.Red {
		z.Color = direntry.Red
		w.Color = direntry.Black
		newRoot, err := rotateLeft(storage, zSID)
		if err != nil {
			return direntry.NoStream, false, err
		}
		fixedZ, stillDbl, err := fixDoubleBlackLeft(storage, zSID)
		if err != nil {
			return direntry.NoStream, false, err
		}
		newRootEntry, err := storage.Entry(newRoot)
		if err != nil {
			return direntry.NoStream, false, err
		}
		newRootEntry.Left = fixedZ
		return newRoot, stillDbl, nil
	}

	var wLeftColor, wRightColor direntry.Color = direntry.Black, direntry.Black
	if w.Left != direntry.NoStream {
		e, err := storage.Entry(w.Left)
		if err != nil {
			return direntry.NoStream, false, err
		}
		wLeftColor = e.Color
	}
	if w.Right != direntry.NoStream {
		e, err := storage.Entry(w.Right)
		if err != nil {
			return direntry.NoStream, false, err
		}
		wRightColor = e.Color
	}

	if wLeftColor == direntry.Black && wRightColor == direntry.Black {
		w.Color = direntry.Red
		if z.Color == direntry.Red {
			z.Color = direntry.Black
			return zSID, false, nil
		}
		return zSID, true, nil
	}

	if wRightColor != direntry.Red {
		wl, err := storage.Entry(w.Left)
		if err != nil {
			return direntry.NoStream, false, err
		}
		wl.Color = direntry.Black
		w.Color = direntry.Red
		newWSID, err := rotateRight(storage, wSID)
		if err != nil {
			return direntry.NoStream, false, err
		}
		z.Right = newWSID
		wSID = newWSID
		if w, err = storage.Entry(wSID); err != nil {
			return direntry.NoStream, false, err
		}
	}

	w.Color = z.Color
	z.Color = direntry.Black
	if w.Right != direntry.NoStream {
		wr, err := storage.Entry(w.Right)
		if err != nil {
			return direntry.NoStream, false, err
		}
		wr.Color = direntry.Black
	}
	newRoot, err := rotateLeft(storage, zSID)
	if err != nil {
		return direntry.NoStream, false, err
	}
	return newRoot, false, nil
}

// fixDoubleBlackRight is the mirror image of fixDoubleBlackLeft, for a
// deficiency at zSID's right child.
func fixDoubleBlackRight(storage Storage, zSID direntry.SID) (direntry.SID, bool, error) {
	z, err := storage.Entry(zSID)
	if err != nil {
		return direntry.NoStream, false, err
	}
	wSID := z.Left
	w, err := storage.Entry(wSID)
	if err != nil {
		return direntry.NoStream, false, err
	}

	if w.Color == direntry.Red {
		z.Color = direntry.Red
		w.Color = direntry.Black
		newRoot, err := rotateRight(storage, zSID)
		if err != nil {
			return direntry.NoStream, false, err
		}
		fixedZ, stillDbl, err := fixDoubleBlackRight(storage, zSID)
		if err != nil {
			return direntry.NoStream, false, err
		}
		newRootEntry, err := storage.Entry(newRoot)
		if err != nil {
			return direntry.NoStream, false, err
		}
		newRootEntry.Right = fixedZ
		return newRoot, stillDbl, nil
	}

	var wLeftColor, wRightColor direntry.Color = direntry.Black, direntry.Black
	if w.Left != direntry.NoStream {
		e, err := storage.Entry(w.Left)
		if err != nil {
			return direntry.NoStream, false, err
		}
		wLeftColor = e.Color
	}
	if w.Right != direntry.NoStream {
		e, err := storage.Entry(w.Right)
		if err != nil {
			return direntry.NoStream, false, err
		}
		wRightColor = e.Color
	}

	if wLeftColor == direntry.Black && wRightColor == direntry.Black {
		w.Color = direntry.Red
		if z.Color == direntry.Red {
			z.Color = direntry.Black
			return zSID, false, nil
		}
		return zSID, true, nil
	}

	if wLeftColor != direntry.Red {
		wr, err := storage.Entry(w.Right)
		if err != nil {
			return direntry.NoStream, false, err
		}
		wr.Color = direntry.Black
		w.Color = direntry.Red
		newWSID, err := rotateLeft(storage, wSID)
		if err != nil {
			return direntry.NoStream, false, err
		}
		z.Left = newWSID
		wSID = newWSID
		if w, err = storage.Entry(wSID); err != nil {
			return direntry.NoStream, false, err
		}
	}

	w.Color = z.Color
	z.Color = direntry.Black
	if w.Left != direntry.NoStream {
		wl, err := storage.Entry(w.Left)
		if err != nil {
			return direntry.NoStream, false, err
		}
		wl.Color = direntry.Black
	}
	newRoot, err := rotateRight(storage, zSID)
	if err != nil {
		return direntry.NoStream, false, err
	}
	return newRoot, false, nil
}

// VerifyInvariants checks the three RB invariants required by property #3:
// the root is black, no red node has a red child, and every root-to-leaf
// path has equal black height.
func VerifyInvariants(storage Storage, root direntry.SID) error {
	if root == direntry.NoStream {
		return nil
	}
	rootEntry, err := storage.Entry(root)
	if err != nil {
		return err
	}
	if rootEntry.Color != direntry.Black {
		return cfberrors.Corrupted.WithMessage("red-black tree root is not black")
	}
	_, err = blackHeight(storage, root)
	return err
}

func blackHeight(storage Storage, sid direntry.SID) (int, error) {
	if sid == direntry.NoStream {
		return 0, nil
	}
	e, err := storage.Entry(sid)
	if err != nil {
		return 0, err
	}

	if e.Color == direntry.Red {
		if e.Left != direntry.NoStream {
			le, err := storage.Entry(e.Left)
			if err != nil {
				return 0, err
			}
			if le.Color == direntry.Red {
				return 0, cfberrors.Corrupted.WithMessage("red node has a red left child")
			}
		}
		if e.Right != direntry.NoStream {
			re, err := storage.Entry(e.Right)
			if err != nil {
				return 0, err
			}
			if re.Color == direntry.Red {
				return 0, cfberrors.Corrupted.WithMessage("red node has a red right child")
			}
		}
	}

	leftHeight, err := blackHeight(storage, e.Left)
	if err != nil {
		return 0, err
	}
	rightHeight, err := blackHeight(storage, e.Right)
	if err != nil {
		return 0, err
	}
	if leftHeight != rightHeight {
		return 0, cfberrors.Corrupted.WithMessage("unequal black height between sibling subtrees")
	}

	if e.Color == direntry.Black {
		return leftHeight + 1, nil
	}
	return leftHeight, nil
}
