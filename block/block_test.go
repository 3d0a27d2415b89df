// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/tx"
)

var (
	alice = core.BytesToAddress([]byte{0xa})
	bob   = core.BytesToAddress([]byte{0xb})
	prev  = core.Blake2b([]byte("prev"))
)

func precommit(id core.Address) *bft.Vote {
	return &bft.Vote{Height: 4, Round: 1, Phase: bft.PhasePreCommit, Validator: id, BlockHash: &prev, Signature: []byte{1}}
}

func TestEncodeDecode(t *testing.T) {
	exit := tx.NewBuilder(tx.Exit, bob).Build().WithSignature([]byte{9})
	blk := new(Builder).
		Height(5).
		Payload([]byte("payload")).
		LastCommit([]*bft.Vote{precommit(alice), precommit(bob)}).
		Evidence(&evidence.Evidence{Type: evidence.Unavailability, Validator: bob, Height: 4, Round: 2, Severity: 10_000}).
		Transaction(exit).
		Build()

	data, err := blk.Encode()
	require.NoError(t, err)
	assert.Equal(t, core.Blake2b(data), blk.Hash())

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, blk.Hash(), decoded.Hash())
	assert.Equal(t, uint64(5), decoded.Height())
	assert.Equal(t, []byte("payload"), decoded.Payload())
	require.Len(t, decoded.Evidence(), 1)
	assert.Equal(t, blk.Evidence()[0].ID(), decoded.Evidence()[0].ID())
	require.Len(t, decoded.Transactions(), 1)
	assert.Equal(t, exit.ID(), decoded.Transactions()[0].ID())
	assert.Equal(t, []core.Address{alice, bob}, decoded.Signers())
}

func TestHashCoversContent(t *testing.T) {
	a := new(Builder).Height(5).Payload([]byte("a")).Build()
	b := new(Builder).Height(5).Payload([]byte("b")).Build()
	c := new(Builder).Height(6).Payload([]byte("a")).Build()
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestSignersDeduplicate(t *testing.T) {
	blk := new(Builder).LastCommit([]*bft.Vote{precommit(bob), precommit(alice), precommit(bob)}).Build()
	assert.Equal(t, []core.Address{bob, alice}, blk.Signers())
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02})
	assert.Equal(t, core.MalformedMessage, core.CodeOf(err))

	_, err = Decode(make([]byte, MaxSize+1))
	assert.Equal(t, core.MalformedMessage, core.CodeOf(err))
}
