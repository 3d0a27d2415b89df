// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package tx defines the signed operations carried in blocks. Every mutation
// of replicated state other than consensus itself enters through one.
package tx

import (
	"bytes"
	"io"
	"math"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/governance"
	"github.com/vechain/mpbft/scoring"
)

// MaxSize bounds the encoded size of a transaction.
const MaxSize = 16 * 1024

// Kind is the operation a transaction performs.
type Kind uint8

const (
	Register Kind = iota + 1
	Exit
	Stake
	Proof
	Propose
	Sponsor
	Ballot
)

var kindNames = map[Kind]string{
	Register: "register",
	Exit:     "exit",
	Stake:    "stake",
	Proof:    "proof",
	Propose:  "propose",
	Sponsor:  "sponsor",
	Ballot:   "ballot",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Transaction is an immutable signed operation.
type Transaction struct {
	body body

	cache struct {
		id atomic.Pointer[core.Bytes32]
	}
}

// body describes details of a tx. Which fields apply depends on Kind.
type body struct {
	Kind       Kind
	Origin     core.Address
	Nonce      uint64
	Amount     uint64 // Register: stake; Stake: delta
	Decrease   bool
	Storage    uint64
	Key        []byte
	Commission uint64
	ProofKind  scoring.ProofKind
	ProofRound uint64
	ProofData  []byte
	Change     governance.Change
	Proposal   core.Bytes32
	Choice     governance.Choice
	Signature  []byte
}

// ID returns the hash of the signed tx.
func (t *Transaction) ID() core.Bytes32 {
	if cached := t.cache.id.Load(); cached != nil {
		return *cached
	}
	id := core.RLPHash(&t.body)
	t.cache.id.Store(&id)
	return id
}

// SigningHash returns the hash the origin signs. It excludes the signature.
func (t *Transaction) SigningHash() core.Bytes32 {
	b := t.body
	b.Signature = nil
	return core.RLPHash(&b)
}

func (t *Transaction) Kind() Kind             { return t.body.Kind }
func (t *Transaction) Origin() core.Address   { return t.body.Origin }
func (t *Transaction) Nonce() uint64          { return t.body.Nonce }
func (t *Transaction) Storage() uint64        { return t.body.Storage }
func (t *Transaction) Commission() core.Ratio { return core.Ratio(t.body.Commission) }
func (t *Transaction) Proposal() core.Bytes32 { return t.body.Proposal }

// Stake returns the stake to register with.
func (t *Transaction) Stake() uint64 {
	return t.body.Amount
}

// StakeDelta returns the signed stake change of a Stake tx.
func (t *Transaction) StakeDelta() int64 {
	if t.body.Decrease {
		return -int64(t.body.Amount)
	}
	return int64(t.body.Amount)
}

// ConsensusKey returns a copy of the key being registered.
func (t *Transaction) ConsensusKey() []byte {
	return bytes.Clone(t.body.Key)
}

// Proof returns the proof being submitted.
func (t *Transaction) Proof() (scoring.ProofKind, scoring.Proof) {
	return t.body.ProofKind, scoring.Proof{Round: t.body.ProofRound, Data: bytes.Clone(t.body.ProofData)}
}

// Change returns the change being proposed.
func (t *Transaction) Change() governance.Change {
	return t.body.Change
}

// Choice returns the ballot choice.
func (t *Transaction) Choice() governance.Choice {
	return t.body.Choice
}

// Signature returns a copy of the signature.
func (t *Transaction) Signature() []byte {
	return bytes.Clone(t.body.Signature)
}

// WithSignature creates a new tx with signature set.
func (t *Transaction) WithSignature(sig []byte) *Transaction {
	newTx := Transaction{body: t.body}
	newTx.body.Signature = bytes.Clone(sig)
	return &newTx
}

// Validate checks that the tx is well formed. It does not verify the
// signature, which needs the registry.
func (t *Transaction) Validate() error {
	malformed := func(format string, args ...any) error {
		return core.NewError(core.ValidationError, core.MalformedMessage).
			WithValidator(t.body.Origin).
			WithMsg(format, args...)
	}
	if t.body.Origin.IsZero() {
		return malformed("no origin")
	}
	switch t.body.Kind {
	case Register:
		if len(t.body.Key) == 0 {
			return malformed("register without consensus key")
		}
		if t.body.Commission > uint64(core.One) {
			return malformed("commission %d above one", t.body.Commission)
		}
	case Exit:
	case Stake:
		if t.body.Amount == 0 || t.body.Amount > math.MaxInt64 {
			return malformed("stake delta %d out of range", t.body.Amount)
		}
	case Proof:
		if t.body.ProofKind != scoring.ProofStorage && t.body.ProofKind != scoring.ProofWork {
			return malformed("proof kind %d", t.body.ProofKind)
		}
		if len(t.body.ProofData) == 0 {
			return malformed("empty proof")
		}
	case Propose:
		// the change itself is checked by governance on execution
	case Sponsor:
		if t.body.Proposal.IsZero() {
			return malformed("sponsor without proposal")
		}
	case Ballot:
		if t.body.Proposal.IsZero() {
			return malformed("ballot without proposal")
		}
		if t.body.Choice < governance.Yes || t.body.Choice > governance.Abstain {
			return malformed("choice %d", t.body.Choice)
		}
	default:
		return malformed("kind %d", t.body.Kind)
	}
	if len(t.body.Signature) == 0 {
		return core.NewError(core.ValidationError, core.InvalidSignature).WithValidator(t.body.Origin).WithMsg("unsigned")
	}
	return nil
}

// EncodeRLP implements rlp.Encoder.
func (t *Transaction) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &t.body)
}

// DecodeRLP implements rlp.Decoder.
func (t *Transaction) DecodeRLP(s *rlp.Stream) error {
	var b body
	if err := s.Decode(&b); err != nil {
		return err
	}
	*t = Transaction{body: b}
	return nil
}

// Transactions is a slice of transactions.
type Transactions []*Transaction

// Copy returns a shallow copy.
func (txs Transactions) Copy() Transactions {
	return append(Transactions(nil), txs...)
}
