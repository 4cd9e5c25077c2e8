package medchain

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/firasabs/medSmartContract/log"
	"github.com/firasabs/medSmartContract/retry"
)

// Config validation errors
var (
	ErrMissingRPCURL          = errors.New("medchain: RPC URL is required")
	ErrMissingPrivateKey      = errors.New("medchain: private key is required")
	ErrMissingContractAddress = errors.New("medchain: contract address is required")
	ErrInvalidContractAddress = errors.New("medchain: contract address is not a hex address")
)

// Config is the client configuration. Every value can be supplied through the
// environment, see LoadConfigFromEnv.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the network hosting the contract
	RPCURL string
	// PrivateKey is the hex-encoded key of the connected account
	PrivateKey string
	// ContractAddress is the inventory contract
	ContractAddress string
	// PricePerUnit is the ether price of one unit (default 0.02)
	PricePerUnit string

	// ConfirmationTimeout bounds each wait for a transaction to be mined
	ConfirmationTimeout time.Duration
	// ReceiptPollInterval is the delay between receipt lookups
	ReceiptPollInterval time.Duration
	// CompletionRetry bounds resubmission of the completion call
	CompletionRetry retry.Config
	// IdempotencyTTL is how long successful completions are remembered
	IdempotencyTTL time.Duration

	// Port the HTTP API listens on
	Port string

	Log log.Config
}

// Defaults
const (
	DefaultReceiptPollInterval = 1 * time.Second
	DefaultIdempotencyTTL      = 10 * time.Minute
	DefaultPort                = "4030"
)

// Validate checks if the config has all required fields
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return ErrMissingRPCURL
	}
	if c.PrivateKey == "" {
		return ErrMissingPrivateKey
	}
	if c.ContractAddress == "" {
		return ErrMissingContractAddress
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return ErrInvalidContractAddress
	}
	if _, err := c.PricePerUnitWei(); err != nil {
		return err
	}
	return nil
}

// PricePerUnitWei parses PricePerUnit, defaulting to DefaultPricePerUnit
func (c *Config) PricePerUnitWei() (*big.Int, error) {
	price := c.PricePerUnit
	if price == "" {
		price = DefaultPricePerUnit
	}
	wei, err := ParseEther(price)
	if err != nil {
		return nil, fmt.Errorf("medchain: invalid price per unit: %w", err)
	}
	if wei.Sign() == 0 {
		return nil, fmt.Errorf("medchain: price per unit must be positive")
	}
	return wei, nil
}

// GetConfirmationTimeout returns the confirmation timeout, defaulting if not set
func (c *Config) GetConfirmationTimeout() time.Duration {
	if c.ConfirmationTimeout <= 0 {
		return DefaultConfirmationTimeout
	}
	return c.ConfirmationTimeout
}

// GetReceiptPollInterval returns the receipt poll interval, defaulting if not set
func (c *Config) GetReceiptPollInterval() time.Duration {
	if c.ReceiptPollInterval <= 0 {
		return DefaultReceiptPollInterval
	}
	return c.ReceiptPollInterval
}

// GetIdempotencyTTL returns the idempotency TTL, defaulting if not set
func (c *Config) GetIdempotencyTTL() time.Duration {
	if c.IdempotencyTTL <= 0 {
		return DefaultIdempotencyTTL
	}
	return c.IdempotencyTTL
}

// GetPort returns the listen port, defaulting if not set
func (c *Config) GetPort() string {
	if c.Port == "" {
		return DefaultPort
	}
	return c.Port
}

// LoadConfigFromEnv builds a Config from environment variables. It does not
// validate; call Validate on the result.
func LoadConfigFromEnv() (*Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (*Config, error) {
	c := &Config{
		RPCURL:          getenv("RPC_URL"),
		PrivateKey:      getenv("EVM_PRIVATE_KEY"),
		ContractAddress: getenv("CONTRACT_ADDRESS"),
		PricePerUnit:    getenv("PRICE_PER_UNIT"),
		Port:            getenv("PORT"),
		Log: log.Config{
			Level:  getenv("LOG_LEVEL"),
			Format: getenv("LOG_FORMAT"),
			Output: getenv("LOG_OUTPUT"),
			File: log.FileConfig{
				Filename: getenv("LOG_FILE"),
			},
		},
	}

	durations := []struct {
		env    string
		target *time.Duration
	}{
		{"CONFIRMATION_TIMEOUT", &c.ConfirmationTimeout},
		{"RECEIPT_POLL_INTERVAL", &c.ReceiptPollInterval},
		{"COMPLETION_RETRY_DELAY", &c.CompletionRetry.InitialDelay},
		{"COMPLETION_RETRY_MAX_DELAY", &c.CompletionRetry.MaxDelay},
		{"IDEMPOTENCY_TTL", &c.IdempotencyTTL},
	}
	for _, d := range durations {
		v := getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.env, v, err)
		}
		*d.target = parsed
	}

	if v := getenv("COMPLETION_MAX_ATTEMPTS"); v != "" {
		attempts, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid COMPLETION_MAX_ATTEMPTS %q: %w", v, err)
		}
		c.CompletionRetry.MaxAttempts = attempts
	}

	return c, nil
}
