package params

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Exchange struct {
	Address    common.Address
	FeeAccount common.Address
	FeePercent uint64
}

type Node struct {
	// BlockTime paces block production. Empty blocks are skipped, so a short
	// interval only costs an idle tick.
	BlockTime   time.Duration
	DataDir     string
	LogFile     string
	GenesisFile string
	ChainID     int64
	// MaxBlockBytes caps the raw transaction bytes pulled into one block.
	MaxBlockBytes int64
}

type API struct {
	Addr string
}

type Config struct {
	Exchange Exchange
	Node     Node
	API      API
}

var (
	DefaultExchangeAddress = common.HexToAddress("0x00000000000000000000000000000000000E0C01")
	DefaultFeeAccount      = common.HexToAddress("0x00000000000000000000000000000000000FEE01")
)

func Default() Config {
	return Config{
		Exchange: Exchange{
			Address:    DefaultExchangeAddress,
			FeeAccount: DefaultFeeAccount,
			FeePercent: 10,
		},
		Node: Node{
			BlockTime:     200 * time.Millisecond,
			DataDir:       "./data",
			LogFile:       "./logs/node.log",
			ChainID:       1337,
			MaxBlockBytes: 1 << 24,
		},
		API: API{Addr: ":8080"},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("EXCHANGE_ADDRESS"); v != "" {
		addr, err := parseAddress("EXCHANGE_ADDRESS", v)
		if err != nil {
			return cfg, err
		}
		cfg.Exchange.Address = addr
	}
	if v := os.Getenv("FEE_ACCOUNT"); v != "" {
		addr, err := parseAddress("FEE_ACCOUNT", v)
		if err != nil {
			return cfg, err
		}
		cfg.Exchange.FeeAccount = addr
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		pct, err := strconv.ParseUint(v, 10, 64)
		if err != nil || pct > 100 {
			return cfg, fmt.Errorf("FEE_PERCENT must be an integer in [0,100], got %q", v)
		}
		cfg.Exchange.FeePercent = pct
	}

	if v := os.Getenv("NODE_BLOCK_TIME_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return cfg, fmt.Errorf("NODE_BLOCK_TIME_MS must be a positive integer, got %q", v)
		}
		cfg.Node.BlockTime = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.Node.ChainID = id
	}
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.GenesisFile = getEnv("GENESIS_FILE", cfg.Node.GenesisFile)
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)

	return cfg, nil
}

func parseAddress(name, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s is not a hex address: %q", name, v)
	}
	return common.HexToAddress(v), nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
