package groth16

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	gnarkgroth16 "github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"

	"github.com/compose-network/oracle/x/proof"
)

const (
	ProvingKeyFile   = "proving.key"
	VerifyingKeyFile = "verifying.key"
)

var (
	silenceOnce sync.Once
	scalarField = fr.Modulus()
)

// silenceGnark routes gnark's internal logging to a discard logger.
func silenceGnark() {
	silenceOnce.Do(func() {
		gnarklogger.Set(zerolog.New(io.Discard).Level(zerolog.Disabled))
	})
}

// Compile builds the constraint system of LessThanCircuit.
func Compile() (constraint.ConstraintSystem, error) {
	silenceGnark()
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &LessThanCircuit{})
	if err != nil {
		return nil, fmt.Errorf("compile circuit: %w", err)
	}
	return cs, nil
}

// Prover holds the compiled circuit and proving key.
type Prover struct {
	cs constraint.ConstraintSystem
	pk gnarkgroth16.ProvingKey
	vk gnarkgroth16.VerifyingKey
}

// Setup runs a fresh (insecure, single-party) trusted setup.
func Setup() (*Prover, error) {
	cs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := gnarkgroth16.Setup(cs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}
	return &Prover{cs: cs, pk: pk, vk: vk}, nil
}

// LoadProver reads keys written by SaveKeys.
func LoadProver(dir string) (*Prover, error) {
	cs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk := gnarkgroth16.NewProvingKey(ecc.BN254)
	if err := readKey(filepath.Join(dir, ProvingKeyFile), pk); err != nil {
		return nil, err
	}
	vk, err := LoadVerifyingKey(filepath.Join(dir, VerifyingKeyFile))
	if err != nil {
		return nil, err
	}
	return &Prover{cs: cs, pk: pk, vk: vk}, nil
}

// SaveKeys writes the proving and verifying keys into dir.
func (p *Prover) SaveKeys(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := writeKey(filepath.Join(dir, ProvingKeyFile), p.pk); err != nil {
		return err
	}
	return writeKey(filepath.Join(dir, VerifyingKeyFile), p.vk)
}

// Verifier returns a verifier bound to this prover's verifying key.
func (p *Prover) Verifier() *Verifier {
	return NewVerifier(p.vk)
}

// Prove produces a payload attesting to the true answer for number.
func (p *Prover) Prove(number *big.Int) (*proof.Payload, error) {
	if number == nil || number.Sign() < 0 {
		return nil, fmt.Errorf("number must be non-negative")
	}
	bit := Answer(number)
	return p.prove(number, bit)
}

// ProveClaim attempts to prove an arbitrary answer bit. It fails unless the
// claim is true.
func (p *Prover) ProveClaim(number *big.Int, bit uint64) (*proof.Payload, error) {
	return p.prove(number, bit)
}

func (p *Prover) prove(number *big.Int, bit uint64) (*proof.Payload, error) {
	assignment := &LessThanCircuit{Number: number, IsLess: bit}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	prf, err := gnarkgroth16.Prove(p.cs, p.pk, w)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	words, err := packProof(prf)
	if err != nil {
		return nil, err
	}

	payload := &proof.Payload{Proof: words}
	payload.PublicSignals[0] = new(big.Int).Set(number)
	payload.PublicSignals[1] = new(big.Int).SetUint64(bit)
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// Verifier checks packed groth16 proofs against a verifying key.
type Verifier struct {
	vk gnarkgroth16.VerifyingKey
}

var _ proof.Verifier = (*Verifier)(nil)

// NewVerifier wraps vk.
func NewVerifier(vk gnarkgroth16.VerifyingKey) *Verifier {
	silenceGnark()
	return &Verifier{vk: vk}
}

// LoadVerifyingKey reads a verifying key file.
func LoadVerifyingKey(path string) (gnarkgroth16.VerifyingKey, error) {
	vk := gnarkgroth16.NewVerifyingKey(ecc.BN254)
	if err := readKey(path, vk); err != nil {
		return nil, err
	}
	return vk, nil
}

func (v *Verifier) Name() string {
	return "groth16"
}

// Verify never returns an error for malformed proofs; they are rejected.
func (v *Verifier) Verify(
	ctx context.Context,
	words [proof.ProofWords]*big.Int,
	signals [proof.SignalCount]*big.Int,
) (ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	defer func() {
		if r := recover(); r != nil {
			ok, err = false, nil
		}
	}()

	prf, err := unpackProof(words)
	if err != nil {
		return false, nil
	}
	// The witness reduces mod r, so an out-of-range signal would verify as its residue.
	for _, sig := range signals {
		if sig == nil || sig.Sign() < 0 || sig.Cmp(scalarField) >= 0 {
			return false, nil
		}
	}

	assignment := &LessThanCircuit{Number: signals[0], IsLess: signals[1]}
	public, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, nil
	}
	if err := gnarkgroth16.Verify(prf, v.vk, public); err != nil {
		return false, nil
	}
	return true, nil
}

func writeKey(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := w.WriteTo(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Sync()
}

func readKey(path string, r io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := r.ReadFrom(f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
