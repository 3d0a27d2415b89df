// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewMem()
	defer s.Close()

	_, err := s.Get([]byte("k"))
	assert.True(t, s.IsNotFound(err))

	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	has, err := s.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.Delete([]byte("k")))
	has, _ = s.Has([]byte("k"))
	assert.False(t, has)
}

func TestBulkIsAtomic(t *testing.T) {
	s := NewMem()
	defer s.Close()

	bulk := s.Bulk()
	require.NoError(t, bulk.Put([]byte("a"), []byte("1")))
	require.NoError(t, bulk.Put([]byte("b"), []byte("2")))
	assert.Equal(t, 2, bulk.Len())

	has, _ := s.Has([]byte("a"))
	assert.False(t, has, "nothing visible before write")

	require.NoError(t, bulk.Write())
	has, _ = s.Has([]byte("b"))
	assert.True(t, has)
	assert.Equal(t, 0, bulk.Len())
}

func TestBucket(t *testing.T) {
	s := NewMem()
	defer s.Close()

	a := Bucket("a").NewStore(s)
	b := Bucket("b").NewStore(s)

	require.NoError(t, a.Put([]byte{1}, []byte("x")))
	require.NoError(t, a.Put([]byte{2}, []byte("y")))
	require.NoError(t, b.Put([]byte{1}, []byte("z")))

	raw, err := s.Get([]byte{'a', 1})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), raw)

	var keys [][]byte
	require.NoError(t, a.Iterate(Range{}, func(p Pair) bool {
		keys = append(keys, append([]byte{}, p.Key()...))
		return true
	}))
	assert.Equal(t, [][]byte{{1}, {2}}, keys)

	keys = nil
	require.NoError(t, a.Iterate(Range{Start: []byte{2}}, func(p Pair) bool {
		keys = append(keys, append([]byte{}, p.Key()...))
		return true
	}))
	assert.Equal(t, [][]byte{{2}}, keys)

	bulk := b.Bulk()
	require.NoError(t, bulk.Delete([]byte{1}))
	require.NoError(t, bulk.Write())
	has, _ := b.Has([]byte{1})
	assert.False(t, has)
}

func TestRLPHelpers(t *testing.T) {
	s := NewMem()
	defer s.Close()

	type rec struct {
		A uint64
		B []byte
	}
	found, err := GetRLP(s, []byte("r"), &rec{})
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, PutRLP(s, []byte("r"), &rec{A: 7, B: []byte("x")}))
	var out rec
	found, err = GetRLP(s, []byte("r"), &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(7), out.A)

	require.NoError(t, s.Put([]byte("bad"), []byte{0xff}))
	found, err = GetRLP(s, []byte("bad"), &out)
	assert.True(t, found)
	assert.Error(t, err)
}

func TestOpenPersistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir, Options{SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	s, err = Open(dir, Options{})
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}
