package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/oracle/x/proof"
)

type fakeCaller struct {
	verdict bool
	err     error
	calls   []ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	parsed, err := abi.JSON(strings.NewReader(plonkVerifierABIJSON))
	if err != nil {
		return nil, err
	}
	return parsed.Methods[verifyMethod].Outputs.Pack(f.verdict)
}

func testWords() ([proof.ProofWords]*big.Int, [proof.SignalCount]*big.Int) {
	var words [proof.ProofWords]*big.Int
	for i := range words {
		words[i] = big.NewInt(int64(i))
	}
	return words, [proof.SignalCount]*big.Int{big.NewInt(7), big.NewInt(1)}
}

func TestVerifyForwardsCalldata(t *testing.T) {
	caller := &fakeCaller{verdict: true}
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	v, err := New(caller, addr, 0, zerolog.Nop())
	require.NoError(t, err)

	words, signals := testWords()
	ok, err := v.Verify(t.Context(), words, signals)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, caller.calls, 1)
	require.Equal(t, addr, *caller.calls[0].To)

	// selector + 26 words; the arguments match the oracle calldata layout.
	data := caller.calls[0].Data
	require.Len(t, data, 4+proof.CalldataSize)
	decoded, err := proof.DecodeCalldata(data[4:])
	require.NoError(t, err)
	require.Equal(t, int64(7), decoded.QueryID().Int64())
}

func TestVerifyRejection(t *testing.T) {
	v, err := New(&fakeCaller{verdict: false}, common.HexToAddress("0x01"), 0, zerolog.Nop())
	require.NoError(t, err)

	words, signals := testWords()
	ok, err := v.Verify(t.Context(), words, signals)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyTransportError(t *testing.T) {
	v, err := New(&fakeCaller{err: errors.New("connection refused")}, common.HexToAddress("0x01"), 0, zerolog.Nop())
	require.NoError(t, err)

	words, signals := testWords()
	_, err = v.Verify(t.Context(), words, signals)
	require.ErrorIs(t, err, proof.ErrBackendUnavailable)
}

func TestVerifyNilWord(t *testing.T) {
	caller := &fakeCaller{verdict: true}
	v, err := New(caller, common.HexToAddress("0x01"), 0, zerolog.Nop())
	require.NoError(t, err)

	words, signals := testWords()
	words[3] = nil
	ok, err := v.Verify(t.Context(), words, signals)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, caller.calls)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, common.HexToAddress("0x01"), 0, zerolog.Nop())
	require.Error(t, err)

	_, err = New(&fakeCaller{}, common.Address{}, 0, zerolog.Nop())
	require.Error(t, err)

	_, err = Dial(t.Context(), Config{RPC: "", Address: "0x01"}, zerolog.Nop())
	require.Error(t, err)

	_, err = Dial(t.Context(), Config{RPC: "http://127.0.0.1:1", Address: "nope"}, zerolog.Nop())
	require.Error(t, err)
}
