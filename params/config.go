package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// AssetSpec is one pool asset; its id is its position in Config.Assets
type AssetSpec struct {
	Symbol string
	Stable bool
}

type Node struct {
	DataDir        string // empty keeps the book in memory
	APIAddr        string
	LogFile        string // empty logs to stdout only
	AllowedOrigins []string
}

type Chain struct {
	ChainID *big.Int
	Brokers []common.Address
	Assets  []AssetSpec
	// Devnet faucet: each listed address gets FundAmount of every asset token
	Fund       []common.Address
	FundAmount *big.Int
}

type Kafka struct {
	Brokers []string // empty disables the Kafka sink
	Topic   string
}

type P2P struct {
	Listen    string // empty disables gossip
	Bootstrap []string
	Topic     string
}

type Feeder struct {
	Enabled  bool
	Interval time.Duration
	Traders  int
}

type Config struct {
	Node   Node
	Chain  Chain
	Kafka  Kafka
	P2P    P2P
	Feeder Feeder
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:        "data/orders",
			APIAddr:        ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Chain: Chain{
			ChainID: big.NewInt(1337),
			Assets: []AssetSpec{
				{Symbol: "USDC", Stable: true},
				{Symbol: "WETH"},
				{Symbol: "WBTC"},
			},
			FundAmount: new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18)),
		},
		Kafka: Kafka{Topic: "hyperorders.events"},
		P2P:   P2P{Topic: "hyperorders/events/1"},
		Feeder: Feeder{
			Interval: 200 * time.Millisecond,
			Traders:  8,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	if os.Getenv("DATA_DIR") == "memory" {
		cfg.Node.DataDir = ""
	}
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok || id.Sign() <= 0 {
			return cfg, fmt.Errorf("CHAIN_ID: invalid value %q", v)
		}
		cfg.Chain.ChainID = id
	}
	if v := os.Getenv("BROKERS"); v != "" {
		addrs, err := parseAddresses(v)
		if err != nil {
			return cfg, fmt.Errorf("BROKERS: %w", err)
		}
		cfg.Chain.Brokers = addrs
	}
	if v := os.Getenv("ASSETS"); v != "" {
		assets, err := parseAssets(v)
		if err != nil {
			return cfg, fmt.Errorf("ASSETS: %w", err)
		}
		cfg.Chain.Assets = assets
	}
	if v := os.Getenv("FUND_ACCOUNTS"); v != "" {
		addrs, err := parseAddresses(v)
		if err != nil {
			return cfg, fmt.Errorf("FUND_ACCOUNTS: %w", err)
		}
		cfg.Chain.Fund = addrs
	}
	if v := os.Getenv("FUND_AMOUNT"); v != "" {
		amt, ok := new(big.Int).SetString(v, 10)
		if !ok || amt.Sign() < 0 {
			return cfg, fmt.Errorf("FUND_AMOUNT: invalid value %q", v)
		}
		cfg.Chain.FundAmount = amt
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	if v := os.Getenv("P2P_BOOTSTRAP"); v != "" {
		cfg.P2P.Bootstrap = splitList(v)
	}
	cfg.P2P.Topic = getEnv("P2P_TOPIC", cfg.P2P.Topic)

	if v := os.Getenv("FEEDER"); v != "" {
		cfg.Feeder.Enabled = v == "true"
	}
	if v := os.Getenv("FEEDER_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return cfg, fmt.Errorf("FEEDER_INTERVAL_MS: invalid value %q", v)
		}
		cfg.Feeder.Interval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("FEEDER_TRADERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("FEEDER_TRADERS: invalid value %q", v)
		}
		cfg.Feeder.Traders = n
	}

	return cfg, nil
}

// parseAssets reads "USDC:stable,WETH,WBTC"
func parseAssets(v string) ([]AssetSpec, error) {
	var out []AssetSpec
	for _, item := range splitList(v) {
		sym, opt, _ := strings.Cut(item, ":")
		if sym == "" {
			return nil, fmt.Errorf("empty symbol in %q", item)
		}
		spec := AssetSpec{Symbol: strings.ToUpper(sym)}
		switch opt {
		case "":
		case "stable":
			spec.Stable = true
		default:
			return nil, fmt.Errorf("unknown asset option %q", opt)
		}
		out = append(out, spec)
	}
	if len(out) > 256 {
		return nil, fmt.Errorf("%d assets, ids are one byte", len(out))
	}
	return out, nil
}

func parseAddresses(v string) ([]common.Address, error) {
	var out []common.Address
	for _, item := range splitList(v) {
		if !common.IsHexAddress(item) {
			return nil, fmt.Errorf("invalid address %q", item)
		}
		out = append(out, common.HexToAddress(item))
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
