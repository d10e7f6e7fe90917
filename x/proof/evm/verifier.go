// Package evm verifies oracle proofs by calling a deployed PLONK verifier
// contract through an Ethereum JSON-RPC endpoint.
package evm

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/compose-network/oracle/x/proof"
)

//go:embed abi/plonk_verifier.json
var plonkVerifierABIJSON string

const verifyMethod = "verifyProof"

// ContractCaller is the read-only subset of an Ethereum client the verifier
// needs. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config selects the verifier contract and RPC endpoint.
type Config struct {
	RPC         string        `mapstructure:"rpc"          yaml:"rpc"`
	Address     string        `mapstructure:"address"      yaml:"address"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// Verifier checks proofs with eth_call against verifyProof(uint256[24],uint256[2]).
type Verifier struct {
	caller  ContractCaller
	address common.Address
	abi     abi.ABI
	timeout time.Duration
	log     zerolog.Logger
	closer  func()
}

var _ proof.Verifier = (*Verifier)(nil)

// New binds a verifier contract at address.
func New(caller ContractCaller, address common.Address, timeout time.Duration, log zerolog.Logger) (*Verifier, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("verifier address cannot be zero")
	}

	parsedABI, err := abi.JSON(strings.NewReader(plonkVerifierABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	return &Verifier{
		caller:  caller,
		address: address,
		abi:     parsedABI,
		timeout: timeout,
		log:     log.With().Str("component", "evm-verifier").Str("address", address.Hex()).Logger(),
	}, nil
}

// Dial connects to cfg.RPC and binds the verifier at cfg.Address.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Verifier, error) {
	if strings.TrimSpace(cfg.RPC) == "" {
		return nil, fmt.Errorf("verifier rpc cannot be empty")
	}
	if !common.IsHexAddress(cfg.Address) {
		return nil, fmt.Errorf("invalid verifier address %q", cfg.Address)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPC, err)
	}

	v, err := New(client, common.HexToAddress(cfg.Address), cfg.CallTimeout, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	v.closer = client.Close
	return v, nil
}

// Address returns the verifier contract address.
func (v *Verifier) Address() common.Address {
	return v.address
}

func (v *Verifier) Name() string {
	return "evm"
}

// Verify reports the contract's verdict. Transport failures are returned
// wrapped in proof.ErrBackendUnavailable.
func (v *Verifier) Verify(
	ctx context.Context,
	words [proof.ProofWords]*big.Int,
	signals [proof.SignalCount]*big.Int,
) (bool, error) {
	for _, w := range append(words[:], signals[:]...) {
		if w == nil {
			return false, nil
		}
	}

	data, err := v.abi.Pack(verifyMethod, words, signals)
	if err != nil {
		// Values the ABI cannot encode are not a valid proof.
		v.log.Debug().Err(err).Msg("Rejecting unencodable proof")
		return false, nil
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	out, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &v.address, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("%w: eth_call: %w", proof.ErrBackendUnavailable, err)
	}

	res, err := v.abi.Unpack(verifyMethod, out)
	if err != nil {
		return false, fmt.Errorf("%w: decode verifyProof result: %w", proof.ErrBackendUnavailable, err)
	}
	if len(res) != 1 {
		return false, fmt.Errorf("%w: unexpected verifyProof outputs: %d", proof.ErrBackendUnavailable, len(res))
	}
	ok, isBool := res[0].(bool)
	if !isBool {
		return false, fmt.Errorf("%w: verifyProof returned %T", proof.ErrBackendUnavailable, res[0])
	}
	return ok, nil
}

// Close releases the RPC client when the verifier owns one.
func (v *Verifier) Close() {
	if v.closer != nil {
		v.closer()
	}
}
