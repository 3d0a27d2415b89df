// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// PutRLP rlp-encodes v and stores it under key.
func PutRLP(p Putter, key []byte, v any) error {
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	return p.Put(key, data)
}

// GetRLP loads key and rlp-decodes it into v. It reports false with a nil
// error when the key does not exist.
func GetRLP(g Getter, key []byte, v any) (bool, error) {
	data, err := g.Get(key)
	if err != nil {
		if g.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(data, v); err != nil {
		return true, errors.Wrap(err, "decode")
	}
	return true, nil
}
