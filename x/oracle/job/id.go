package job

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// ID identifies a query. It is a 256-bit unsigned integer so that any public
// signal value can address a job. ID is comparable and usable as a map key.
type ID uint256.Int

// NewID returns the ID for a small integer.
func NewID(v uint64) ID {
	return ID(*uint256.NewInt(v))
}

// IDFromBig converts a non-negative big integer that fits in 256 bits.
func IDFromBig(b *big.Int) (ID, error) {
	if b == nil || b.Sign() < 0 {
		return ID{}, fmt.Errorf("job id must be non-negative")
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return ID{}, fmt.Errorf("job id exceeds 256 bits")
	}
	return ID(*v), nil
}

// ParseID accepts a decimal string or a 0x-prefixed hex string.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, digits = 16, s[2:]
	}
	if digits == "" || strings.HasPrefix(digits, "+") || strings.HasPrefix(digits, "-") {
		return ID{}, fmt.Errorf("invalid job id %q", s)
	}
	b, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return ID{}, fmt.Errorf("invalid job id %q", s)
	}
	return IDFromBig(b)
}

func (id ID) u256() *uint256.Int {
	v := uint256.Int(id)
	return &v
}

// Big returns the ID as a big integer.
func (id ID) Big() *big.Int {
	return id.u256().ToBig()
}

// Bytes32 returns the big-endian 32-byte representation.
func (id ID) Bytes32() [32]byte {
	return id.u256().Bytes32()
}

// String returns the decimal form.
func (id ID) String() string {
	return id.u256().Dec()
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	v, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
