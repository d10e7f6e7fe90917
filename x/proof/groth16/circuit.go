// Package groth16 is a development proving backend for the oracle. It proves
// the "number is less than 100" query over BN254 with gnark and packs the
// proof into the 24-word proof slot of a proof.Payload.
package groth16

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
)

// Threshold is the bound of the less-than query.
const Threshold = 100

// LessThanCircuit constrains IsLess to be 1 iff Number < Threshold. Both
// inputs are public, in the order of the payload's public signals.
type LessThanCircuit struct {
	Number frontend.Variable `gnark:",public"`
	IsLess frontend.Variable `gnark:",public"`
}

func (c *LessThanCircuit) Define(api frontend.API) error {
	api.AssertIsBoolean(c.IsLess)
	// Cmp yields -1 when Number < Threshold.
	cmp := api.Cmp(c.Number, Threshold)
	api.AssertIsEqual(c.IsLess, api.IsZero(api.Add(cmp, 1)))
	return nil
}

// Answer evaluates the query natively.
func Answer(number *big.Int) uint64 {
	if number.Cmp(big.NewInt(Threshold)) < 0 {
		return 1
	}
	return 0
}
