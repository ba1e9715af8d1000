package rbtree_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnegrimsson/gocfb/direntry"
	cfberrors "github.com/arnegrimsson/gocfb/errors"
	"github.com/arnegrimsson/gocfb/rbtree"
)

// fakeStorage is a minimal rbtree.Storage backed by a plain slice, letting
// these tests exercise the tree algorithms without a real compound file.
type fakeStorage struct {
	entries []direntry.Entry
}

func (s *fakeStorage) Entry(sid direntry.SID) (*direntry.Entry, error) {
	if sid < 0 || int(sid) >= len(s.entries) {
		return nil, cfberrors.Corrupted.WithMessage("SID out of range")
	}
	return &s.entries[sid], nil
}

func (s *fakeStorage) add(name string) direntry.SID {
	entry, err := direntry.NewStream(name)
	if err != nil {
		panic(err)
	}
	s.entries = append(s.entries, entry)
	return direntry.SID(len(s.entries) - 1)
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{}
}

func TestInsertFindRoundTrip(t *testing.T) {
	s := newFakeStorage()
	names := []string{"zeta", "alpha", "gamma", "beta", "epsilon", "delta", "eta"}

	root := direntry.NoStream
	var err error
	for _, name := range names {
		sid := s.add(name)
		root, err = rbtree.Insert(s, root, sid)
		require.NoError(t, err)
		require.NoError(t, rbtree.VerifyInvariants(s, root))
	}

	for _, name := range names {
		found, err := rbtree.Find(s, root, name)
		require.NoError(t, err)
		entry, err := s.Entry(found)
		require.NoError(t, err)
		assert.Equal(t, name, entry.Name)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	s := newFakeStorage()
	root, err := rbtree.Insert(s, direntry.NoStream, s.add("foo"))
	require.NoError(t, err)

	_, err = rbtree.Insert(s, root, s.add("foo"))
	assert.ErrorIs(t, err, cfberrors.Duplicated)
}

func TestFindMissingReturnsItemNotFound(t *testing.T) {
	s := newFakeStorage()
	root, err := rbtree.Insert(s, direntry.NoStream, s.add("foo"))
	require.NoError(t, err)

	_, err = rbtree.Find(s, root, "bar")
	assert.ErrorIs(t, err, cfberrors.ItemNotFound)
}

func TestDeleteMaintainsInvariantsAcrossAllOrders(t *testing.T) {
	names := []string{"m", "f", "t", "b", "h", "p", "z", "a", "c", "g", "i", "n", "r", "v", "y"}

	for skip := 0; skip < len(names); skip++ {
		s := newFakeStorage()
		root := direntry.NoStream
		var err error
		for _, name := range names {
			root, err = rbtree.Insert(s, root, s.add(name))
			require.NoError(t, err)
		}

		deleted := names[skip]
		var altDeleted direntry.SID
		root, altDeleted, err = rbtree.Delete(s, root, deleted)
		require.NoError(t, err, "deleting %q", deleted)
		require.NoError(t, rbtree.VerifyInvariants(s, root))

		_, err = rbtree.Find(s, root, deleted)
		assert.ErrorIs(t, err, cfberrors.ItemNotFound)

		if altDeleted != direntry.NoStream {
			victim, err := s.Entry(altDeleted)
			require.NoError(t, err)
			found, _ := rbtree.Find(s, root, victim.Name)
			assert.NotEqual(t, altDeleted, found, "vacated SID still linked after deleting %q", deleted)
		}

		for _, name := range names {
			if name == deleted {
				continue
			}
			_, err := rbtree.Find(s, root, name)
			assert.NoErrorf(t, err, "lost %q after deleting %q", name, deleted)
		}
	}
}

func TestInvariantsHoldAtScale(t *testing.T) {
	for _, n := range []int{25, 10000} {
		n := n
		t.Run(fmt.Sprintf("%d entries", n), func(t *testing.T) {
			s := newFakeStorage()
			root := direntry.NoStream
			var err error
			for i := 0; i < n; i++ {
				name := fmt.Sprintf("entry-%05d", i)
				root, err = rbtree.Insert(s, root, s.add(name))
				require.NoError(t, err)
			}
			require.NoError(t, rbtree.VerifyInvariants(s, root))

			for i := 0; i < n; i++ {
				name := fmt.Sprintf("entry-%05d", i)
				found, err := rbtree.Find(s, root, name)
				require.NoError(t, err)
				entry, err := s.Entry(found)
				require.NoError(t, err)
				assert.Equal(t, name, entry.Name)
			}
		})
	}
}

func TestWalkVisitsInOrder(t *testing.T) {
	s := newFakeStorage()
	names := []string{"d", "b", "f", "a", "c", "e", "g"}
	root := direntry.NoStream
	var err error
	for _, name := range names {
		root, err = rbtree.Insert(s, root, s.add(name))
		require.NoError(t, err)
	}

	var visited []string
	err = rbtree.Walk(s, root, func(sid direntry.SID) error {
		entry, err := s.Entry(sid)
		if err != nil {
			return err
		}
		visited = append(visited, entry.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, visited)
}
