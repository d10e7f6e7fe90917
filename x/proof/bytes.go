package proof

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Calldata handles flexible JSON representations of an encoded payload.
//
// Accepts either 0x-prefixed hex strings, base64 strings, or arrays of byte
// values. MarshalJSON always emits a 0x-prefixed hex string.
type Calldata []byte

// UnmarshalJSON implements json.Unmarshaler, allowing multiple encodings.
func (c *Calldata) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if data[0] == '[' {
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return fmt.Errorf("calldata array must contain integers: %w", err)
		}
		buf := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return fmt.Errorf("calldata byte out of range: %d", v)
			}
			buf[i] = byte(v)
		}
		*c = buf
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("calldata string invalid: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = nil
			return nil
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			decoded, err := hexutil.Decode("0x" + s[2:])
			if err != nil {
				return fmt.Errorf("calldata hex decode failed: %w", err)
			}
			*c = decoded
			return nil
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("calldata base64 decode failed: %w", err)
		}
		*c = decoded
		return nil
	}
	return fmt.Errorf("unsupported calldata encoding")
}

// MarshalJSON emits a 0x-prefixed hex string representation.
func (c Calldata) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(hexutil.Encode(c))
}

// Bytes returns the underlying slice without copying.
func (c Calldata) Bytes() []byte {
	return c
}
