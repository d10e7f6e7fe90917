package groth16

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	gnarkgroth16 "github.com/consensys/gnark/backend/groth16"

	"github.com/compose-network/oracle/x/proof"
)

// Proof bytes layout inside the 24 words: word 0 holds the byte length, words
// 1..23 hold the serialized gnark proof, zero padded.
const maxProofBytes = (proof.ProofWords - 1) * 32

func packProof(p gnarkgroth16.Proof) ([proof.ProofWords]*big.Int, error) {
	var words [proof.ProofWords]*big.Int

	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return words, fmt.Errorf("serialize proof: %w", err)
	}
	raw := buf.Bytes()
	if len(raw) > maxProofBytes {
		return words, fmt.Errorf("serialized proof is %d bytes, limit %d", len(raw), maxProofBytes)
	}

	padded := make([]byte, maxProofBytes)
	copy(padded, raw)

	words[0] = big.NewInt(int64(len(raw)))
	for i := 1; i < proof.ProofWords; i++ {
		off := (i - 1) * 32
		words[i] = new(big.Int).SetBytes(padded[off : off+32])
	}
	return words, nil
}

func unpackProof(words [proof.ProofWords]*big.Int) (gnarkgroth16.Proof, error) {
	for i, w := range words {
		if w == nil || w.Sign() < 0 || w.BitLen() > 256 {
			return nil, fmt.Errorf("proof word %d invalid", i)
		}
	}
	if !words[0].IsUint64() || words[0].Uint64() > maxProofBytes {
		return nil, fmt.Errorf("proof length out of range")
	}
	n := int(words[0].Uint64())

	padded := make([]byte, maxProofBytes)
	for i := 1; i < proof.ProofWords; i++ {
		off := (i - 1) * 32
		words[i].FillBytes(padded[off : off+32])
	}

	p := gnarkgroth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(padded[:n])); err != nil {
		return nil, fmt.Errorf("deserialize proof: %w", err)
	}
	return p, nil
}
