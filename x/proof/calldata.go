package proof

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var calldataArgs = mustArguments()

func mustArguments() abi.Arguments {
	proofTy, err := abi.NewType(fmt.Sprintf("uint256[%d]", ProofWords), "", nil)
	if err != nil {
		panic(err)
	}
	signalsTy, err := abi.NewType(fmt.Sprintf("uint256[%d]", SignalCount), "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "_proof", Type: proofTy},
		{Name: "publicSignals", Type: signalsTy},
	}
}

// EncodeCalldata ABI-encodes the payload as (uint256[24], uint256[2]).
func (p *Payload) EncodeCalldata() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return calldataArgs.Pack(p.Proof, p.PublicSignals)
}

// DecodeCalldata parses and validates an ABI-encoded payload.
func DecodeCalldata(data []byte) (*Payload, error) {
	if len(data) != CalldataSize {
		return nil, fmt.Errorf("calldata must be %d bytes, got %d", CalldataSize, len(data))
	}
	values, err := calldataArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack calldata: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected calldata arity %d", len(values))
	}

	proofWords, ok := values[0].([ProofWords]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected proof type %T", values[0])
	}
	signals, ok := values[1].([SignalCount]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected public signals type %T", values[1])
	}

	p := &Payload{Proof: proofWords, PublicSignals: signals}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
