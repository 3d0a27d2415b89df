// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package evidence detects Byzantine faults from vote traffic, proposer
// silence and proof verification failures.
package evidence

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/scoring"
)

// Type is the kind of fault.
type Type uint8

const (
	DoubleVote Type = iota + 1
	Unavailability
	InvalidProof
)

func (t Type) String() string {
	switch t {
	case DoubleVote:
		return "DoubleVote"
	case Unavailability:
		return "Unavailability"
	case InvalidProof:
		return "InvalidProof"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType parses the name of a fault type.
func ParseType(s string) (Type, error) {
	for _, t := range []Type{DoubleVote, Unavailability, InvalidProof} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown fault type %q", s)
}

// SeverityKey returns the parameter holding the severity of t.
func (t Type) SeverityKey() params.Key {
	switch t {
	case DoubleVote:
		return params.SeverityDoubleVote
	case Unavailability:
		return params.SeverityUnavailability
	default:
		return params.SeverityInvalidProof
	}
}

// Evidence is a detected fault. Height is the round reference used for
// slashing windows and exit cut-offs.
type Evidence struct {
	Type      Type
	Validator core.Address
	Height    uint64
	Round     uint64
	Severity  core.Ratio

	// DoubleVote: the two conflicting signed votes
	Votes []*bft.Vote
	// InvalidProof: the rejected proof
	ProofKind  scoring.ProofKind
	ProofRound uint64
}

// ID identifies the fault independently of vote order and severity. An
// invalid proof is identified by the proof, so it is charged once however many
// heights it was scored in.
func (e *Evidence) ID() core.Bytes32 {
	switch e.Type {
	case DoubleVote:
		hashes := make([]core.Bytes32, 0, len(e.Votes))
		for _, v := range e.Votes {
			hashes = append(hashes, v.SigningHash())
		}
		if len(hashes) == 2 && bytes.Compare(hashes[0][:], hashes[1][:]) > 0 {
			hashes[0], hashes[1] = hashes[1], hashes[0]
		}
		return core.RLPHash([]any{e.Type, e.Validator, e.Height, e.Round, hashes})
	case InvalidProof:
		return core.RLPHash([]any{e.Type, e.Validator, e.ProofKind, e.ProofRound})
	default:
		return core.RLPHash([]any{e.Type, e.Validator, e.Height, e.Round})
	}
}

func (e *Evidence) String() string {
	return fmt.Sprintf("%s(%s h=%d r=%d)", e.Type, e.Validator, e.Height, e.Round)
}
