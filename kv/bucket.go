// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Bucket provides logical bucket for kv store.
type Bucket string

func (b Bucket) key(key []byte) []byte {
	return append(append(make([]byte, 0, len(b)+len(key)), b...), key...)
}

// NewPutter creates a bucket putter from the source putter.
func (b Bucket) NewPutter(src Putter) Putter {
	return &struct {
		PutFunc
		DeleteFunc
	}{
		func(key, val []byte) error {
			return src.Put(b.key(key), val)
		},
		func(key []byte) error {
			return src.Delete(b.key(key))
		},
	}
}

// NewBulk wraps a bulk so keys land in the bucket.
func (b Bucket) NewBulk(src Bulk) Bulk {
	p := b.NewPutter(src)
	return &struct {
		Putter
		LenFunc
		WriteFunc
	}{p, src.Len, src.Write}
}

// NewStore creates a bucket store from the source store.
func (b Bucket) NewStore(src Store) Store {
	return &struct {
		GetFunc
		HasFunc
		IsNotFoundFunc
		Putter
		BulkFunc
		IterateFunc
	}{
		func(key []byte) ([]byte, error) {
			return src.Get(b.key(key))
		},
		func(key []byte) (bool, error) {
			return src.Has(b.key(key))
		},
		src.IsNotFound,
		b.NewPutter(src),
		func() Bulk {
			return b.NewBulk(src.Bulk())
		},
		func(r Range, fn func(Pair) bool) error {
			r.Start = b.key(r.Start)
			if len(r.Limit) == 0 {
				r.Limit = util.BytesPrefix([]byte(b)).Limit
			} else {
				r.Limit = b.key(r.Limit)
			}
			return src.Iterate(r, func(p Pair) bool {
				// strip the bucket
				return fn(&pair{p.Key()[len(b):], p.Value()})
			})
		},
	}
}

type pair struct {
	k, v []byte
}

func (p *pair) Key() []byte   { return p.k }
func (p *pair) Value() []byte { return p.v }
