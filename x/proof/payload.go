// Package proof defines the payload solvers submit and the verification
// capability the oracle consumes.
package proof

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	// ProofWords is the number of uint256 words in the proof component.
	ProofWords = 24
	// SignalCount is the number of public signals: (query id, answer bit).
	SignalCount = 2
	// CalldataSize is the ABI-encoded size of (uint256[24], uint256[2]).
	CalldataSize = (ProofWords + SignalCount) * 32
)

var (
	maxWord       = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	scalarModulus = fr.Modulus()
)

// Payload is a proof plus its public signals.
type Payload struct {
	Proof         [ProofWords]*big.Int
	PublicSignals [SignalCount]*big.Int
}

// Validate checks that every word is a uint256 and that public signals are
// BN254 scalar field elements with a boolean answer bit.
func (p *Payload) Validate() error {
	for i, w := range p.Proof {
		if w == nil {
			return fmt.Errorf("proof word %d missing", i)
		}
		if w.Sign() < 0 || w.Cmp(maxWord) > 0 {
			return fmt.Errorf("proof word %d out of uint256 range", i)
		}
	}
	for i, s := range p.PublicSignals {
		if s == nil {
			return fmt.Errorf("public signal %d missing", i)
		}
		if s.Sign() < 0 || s.Cmp(scalarModulus) >= 0 {
			return fmt.Errorf("public signal %d is not a field element", i)
		}
	}
	if bit := p.PublicSignals[1]; !bit.IsUint64() || bit.Uint64() > 1 {
		return fmt.Errorf("answer bit must be 0 or 1, got %s", bit)
	}
	return nil
}

// QueryID returns the first public signal.
func (p *Payload) QueryID() *big.Int {
	return new(big.Int).Set(p.PublicSignals[0])
}

// AnswerBit returns the second public signal. Call Validate first.
func (p *Payload) AnswerBit() uint64 {
	return p.PublicSignals[1].Uint64()
}

// Clone returns a deep copy.
func (p *Payload) Clone() *Payload {
	out := &Payload{}
	for i, w := range p.Proof {
		if w != nil {
			out.Proof[i] = new(big.Int).Set(w)
		}
	}
	for i, s := range p.PublicSignals {
		if s != nil {
			out.PublicSignals[i] = new(big.Int).Set(s)
		}
	}
	return out
}

// NewPayload builds a payload from loose slices, as decoded from JSON.
func NewPayload(proofWords, signals []*big.Int) (*Payload, error) {
	if len(proofWords) != ProofWords {
		return nil, fmt.Errorf("expected %d proof words, got %d", ProofWords, len(proofWords))
	}
	if len(signals) != SignalCount {
		return nil, fmt.Errorf("expected %d public signals, got %d", SignalCount, len(signals))
	}
	p := &Payload{}
	copy(p.Proof[:], proofWords)
	copy(p.PublicSignals[:], signals)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
