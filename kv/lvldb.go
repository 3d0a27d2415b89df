// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	writeOpt = &opt.WriteOptions{}
	syncOpt  = &opt.WriteOptions{Sync: true}
	readOpt  = &opt.ReadOptions{}
)

// Options for opening a leveldb backed store.
type Options struct {
	CacheSize              int // MiB
	OpenFilesCacheCapacity int
	// SyncWrites fsyncs every bulk write, for audit data that must survive power loss.
	SyncWrites bool
}

type levelStore struct {
	db   *leveldb.DB
	sync bool
}

func openLevelDB(stg storage.Storage, opts Options) (*levelStore, error) {
	if opts.CacheSize < 16 {
		opts.CacheSize = 16
	}
	if opts.OpenFilesCacheCapacity < 64 {
		opts.OpenFilesCacheCapacity = 64
	}

	db, err := leveldb.Open(stg, &opt.Options{
		OpenFilesCacheCapacity: opts.OpenFilesCacheCapacity,
		BlockCacheCapacity:     opts.CacheSize / 2 * opt.MiB,
		WriteBuffer:            opts.CacheSize / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open level db")
	}
	return &levelStore{db: db, sync: opts.SyncWrites}, nil
}

// Open opens (or creates) a persistent store at path.
func Open(path string, opts Options) (StoreCloser, error) {
	stg, err := storage.OpenFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}
	return openLevelDB(stg, opts)
}

// NewMem creates an in-memory store, used by the devnet and tests.
func NewMem() StoreCloser {
	s, err := openLevelDB(storage.NewMemStorage(), Options{})
	if err != nil {
		panic(err) // memory storage never fails to open
	}
	return s
}

func (s *levelStore) Get(key []byte) ([]byte, error) {
	return s.db.Get(key, readOpt)
}

func (s *levelStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, readOpt)
}

func (s *levelStore) IsNotFound(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}

func (s *levelStore) Put(key, val []byte) error {
	return s.db.Put(key, val, writeOpt)
}

func (s *levelStore) Delete(key []byte) error {
	return s.db.Delete(key, writeOpt)
}

func (s *levelStore) Close() error {
	return s.db.Close()
}

func (s *levelStore) Bulk() Bulk {
	batch := &leveldb.Batch{}
	wo := writeOpt
	if s.sync {
		wo = syncOpt
	}
	return &struct {
		PutFunc
		DeleteFunc
		LenFunc
		WriteFunc
	}{
		func(key, val []byte) error {
			batch.Put(key, val)
			return nil
		},
		func(key []byte) error {
			batch.Delete(key)
			return nil
		},
		batch.Len,
		func() error {
			if batch.Len() == 0 {
				return nil
			}
			if err := s.db.Write(batch, wo); err != nil {
				return err
			}
			batch.Reset()
			return nil
		},
	}
}

func (s *levelStore) Iterate(r Range, fn func(Pair) bool) error {
	it := s.db.NewIterator(&util.Range{Start: r.Start, Limit: r.Limit}, readOpt)
	defer it.Release()

	for it.Next() {
		if !fn(it) {
			break
		}
	}
	return it.Error()
}
