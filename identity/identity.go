// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package identity signs consensus messages and verifies them against the
// consensus keys held in the registry.
package identity

import (
	"bytes"
	"crypto/ecdsa"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/cache"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/registry"
	"github.com/vechain/mpbft/tx"
)

const keyCacheSize = 1024

var (
	ErrBadSignature = errors.New("bad signature")
	ErrWrongSigner  = errors.New("signature not by the validator key")
)

// Signer signs votes and proposals with a node key. The validator id is the
// address derived from the key.
type Signer struct {
	key *ecdsa.PrivateKey
	id  core.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, id: core.Address(crypto.PubkeyToAddress(key.PublicKey))}
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// LoadOrGenerateKey loads the key in keyFile, creating it when missing.
func LoadOrGenerateKey(keyFile string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(keyFile)
	if err == nil {
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	if key, err = crypto.GenerateKey(); err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(keyFile, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Address returns the validator id of the signer.
func (s *Signer) Address() core.Address {
	return s.id
}

// PublicKey returns the compressed public key registered as consensus key.
func (s *Signer) PublicKey() []byte {
	return crypto.CompressPubkey(&s.key.PublicKey)
}

func (s *Signer) SignVote(v *bft.Vote) error {
	hash := v.SigningHash()
	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return errors.Wrap(err, "sign vote")
	}
	v.Signature = sig
	return nil
}

func (s *Signer) SignProposal(p *bft.Proposal) error {
	hash := p.SigningHash()
	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return errors.Wrap(err, "sign proposal")
	}
	p.Signature = sig
	return nil
}

// SignTx returns t signed by the signer. The signer must be t's origin.
func (s *Signer) SignTx(t *tx.Transaction) (*tx.Transaction, error) {
	if t.Origin() != s.id {
		return nil, errors.Wrapf(ErrWrongSigner, "tx origin %s", t.Origin())
	}
	hash := t.SigningHash()
	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign tx")
	}
	return t.WithSignature(sig), nil
}

// Resolver maps a validator id to its consensus public key.
type Resolver interface {
	ResolvePublicKey(id core.Address) ([]byte, error)
}

// RegistryResolver resolves keys from validator records.
type RegistryResolver struct {
	Registry *registry.Registry
}

func (r RegistryResolver) ResolvePublicKey(id core.Address) ([]byte, error) {
	v, err := r.Registry.Get(id)
	if err != nil {
		return nil, err
	}
	return v.ConsensusKey(), nil
}

// Verifier checks message signatures. Decoded keys are cached by their
// registered form.
type Verifier struct {
	resolver Resolver
	keys     *cache.LRU[string, []byte]
}

func NewVerifier(resolver Resolver) *Verifier {
	keys, _ := cache.NewLRU[string, []byte](keyCacheSize)
	return &Verifier{resolver: resolver, keys: keys}
}

// ResolvePublicKey returns the consensus key of id.
func (v *Verifier) ResolvePublicKey(id core.Address) ([]byte, error) {
	return v.resolver.ResolvePublicKey(id)
}

func (v *Verifier) VerifyVote(vote *bft.Vote) error {
	return v.verify(vote.Validator, vote.SigningHash(), vote.Signature)
}

func (v *Verifier) VerifyProposal(p *bft.Proposal) error {
	return v.verify(p.Proposer, p.SigningHash(), p.Signature)
}

// VerifyTx checks the origin signature of t. A Register tx is checked
// against the key it registers, whose address must be the origin.
func (v *Verifier) VerifyTx(t *tx.Transaction) error {
	if t.Kind() != tx.Register {
		return v.verify(t.Origin(), t.SigningHash(), t.Signature())
	}
	key := t.ConsensusKey()
	pub, err := crypto.DecompressPubkey(key)
	if err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}
	if core.Address(crypto.PubkeyToAddress(*pub)) != t.Origin() {
		return ErrWrongSigner
	}
	return v.verifyKey(key, t.SigningHash(), t.Signature())
}

func (v *Verifier) verify(id core.Address, hash core.Bytes32, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return ErrBadSignature
	}
	registered, err := v.resolver.ResolvePublicKey(id)
	if err != nil {
		return err
	}
	return v.verifyKey(registered, hash, sig)
}

func (v *Verifier) verifyKey(registered []byte, hash core.Bytes32, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return ErrBadSignature
	}
	expected, err := v.keys.GetOrLoad(string(registered), func(k string) ([]byte, error) {
		pub, err := crypto.DecompressPubkey([]byte(k))
		if err != nil {
			return nil, errors.Wrap(err, "consensus key")
		}
		return crypto.FromECDSAPub(pub), nil
	})
	if err != nil {
		return err
	}
	recovered, err := crypto.Ecrecover(hash[:], sig)
	if err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}
	if !bytes.Equal(recovered, expected) {
		return ErrWrongSigner
	}
	return nil
}
