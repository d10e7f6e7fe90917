package oracle

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const DefaultMaxBatchSize = 64

// Config holds the setup-time parameters of the service. It is immutable
// once the service is built.
type Config struct {
	// Admin may delete any job. Empty disables the override.
	Admin           string `mapstructure:"admin"            yaml:"admin"`
	EnforceDeadline bool   `mapstructure:"enforce_deadline" yaml:"enforce_deadline"`
	MaxBatchSize    int    `mapstructure:"max_batch_size"   yaml:"max_batch_size"`
}

func DefaultConfig() Config {
	return Config{MaxBatchSize: DefaultMaxBatchSize}
}

func (c Config) Validate() error {
	if admin := strings.TrimSpace(c.Admin); admin != "" {
		if !common.IsHexAddress(admin) {
			return fmt.Errorf("admin %q is not an address", c.Admin)
		}
		if common.HexToAddress(admin) == (common.Address{}) {
			return fmt.Errorf("admin cannot be the zero address")
		}
	}
	if c.MaxBatchSize < 0 {
		return fmt.Errorf("max_batch_size cannot be negative")
	}
	return nil
}

// AdminAddress returns the admin, or the zero address when none is set.
func (c Config) AdminAddress() common.Address {
	if strings.TrimSpace(c.Admin) == "" {
		return common.Address{}
	}
	return common.HexToAddress(strings.TrimSpace(c.Admin))
}
