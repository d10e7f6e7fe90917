package proof

import (
	"context"
	"errors"
	"math/big"
)

// ErrBackendUnavailable is wrapped by verifiers whose backend could not be
// reached. It never means the proof was rejected.
var ErrBackendUnavailable = errors.New("verifier backend unavailable")

// Verifier decides whether a proof attests to the given public signals.
// A rejected proof is (false, nil); a non-nil error means no decision.
type Verifier interface {
	Verify(ctx context.Context, proof [ProofWords]*big.Int, signals [SignalCount]*big.Int) (bool, error)
	Name() string
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, proof [ProofWords]*big.Int, signals [SignalCount]*big.Int) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, p [ProofWords]*big.Int, s [SignalCount]*big.Int) (bool, error) {
	return f(ctx, p, s)
}

func (f VerifierFunc) Name() string {
	return "func"
}
