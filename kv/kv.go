// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package kv is the storage collaborator: a key-value abstraction over
// goleveldb with logical buckets, atomic bulk writes and rlp record helpers.
package kv

// Getter wraps methods for getting kvs.
type Getter interface {
	// Get value for given key.
	// An error returned if key not found. It can be checked via IsNotFound.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	IsNotFound(err error) bool
}

// Putter wraps methods for putting kvs.
type Putter interface {
	Put(key, val []byte) error
	Delete(key []byte) error
}

// Bulk collects puts and deletes and applies them atomically on Write.
type Bulk interface {
	Putter
	Len() int
	Write() error
}

// Pair is a key/value pair yielded by Iterate.
type Pair interface {
	Key() []byte
	Value() []byte
}

// Range is the key range [Start, Limit) to iterate. An empty Limit means
// to the end of the key space (or bucket).
type Range struct {
	Start []byte
	Limit []byte
}

// Store defines the full functional kv store.
type Store interface {
	Getter
	Putter

	Bulk() Bulk
	Iterate(r Range, fn func(Pair) bool) error
}

// StoreCloser is a Store owning an underlying database.
type StoreCloser interface {
	Store
	Close() error
}
