// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package comm

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
	hashX = core.Blake2b([]byte("X"))
)

func TestHubDeliversCopies(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ch1 := make(chan RoundMessage, 4)
	ch2 := make(chan RoundMessage, 4)
	h.Subscribe(ch1)
	h.Subscribe(ch2)

	vote := &bft.Vote{Height: 2, Round: 1, Phase: bft.PhasePreVote, Validator: alice, BlockHash: &hashX, Signature: []byte{1, 2}}
	require.NoError(t, h.Publish(RoundMessage{From: alice, Vote: vote}))

	got := <-ch1
	assert.Equal(t, "vote", got.Kind())
	assert.Equal(t, uint64(2), got.Height())
	assert.Equal(t, vote, got.Vote)
	assert.NotSame(t, vote, got.Vote)
	assert.Equal(t, got, <-ch2)
}

func TestHubMute(t *testing.T) {
	h := NewHub()
	defer h.Close()
	ch := make(chan RoundMessage, 4)
	h.Subscribe(ch)

	h.Mute(alice, true)
	require.NoError(t, h.Publish(RoundMessage{From: alice, Vote: &bft.Vote{Height: 1, Validator: alice}}))
	require.NoError(t, h.Publish(RoundMessage{From: bob, Proposal: &bft.Proposal{Height: 1, Proposer: bob}}))

	got := <-ch
	assert.Equal(t, bob, got.From)
	assert.Empty(t, ch)
}

func TestMessageValidation(t *testing.T) {
	h := NewHub()
	defer h.Close()

	err := h.Publish(RoundMessage{From: alice})
	assert.Equal(t, core.MalformedMessage, core.CodeOf(err))

	err = h.Publish(RoundMessage{From: alice, Vote: &bft.Vote{}, Proposal: &bft.Proposal{}})
	assert.Equal(t, core.MalformedMessage, core.CodeOf(err))

	_, err = DecodeRoundMessage([]byte{0x01})
	assert.Equal(t, core.MalformedMessage, core.CodeOf(err))

	ev := &evidence.Evidence{Type: evidence.Unavailability, Validator: bob, Height: 9}
	data, err := (&RoundMessage{From: alice, Evidence: ev}).Encode()
	require.NoError(t, err)
	m, err := DecodeRoundMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "evidence", m.Kind())
	assert.Equal(t, ev.ID(), m.Evidence.ID())

	exit := tx.NewBuilder(tx.Exit, bob).Build().WithSignature([]byte{1})
	data, err = (&RoundMessage{From: bob, Tx: exit}).Encode()
	require.NoError(t, err)
	m, err = DecodeRoundMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "tx", m.Kind())
	assert.Zero(t, m.Height())
	assert.Equal(t, exit.ID(), m.Tx.ID())
}
