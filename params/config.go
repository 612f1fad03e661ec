package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Node struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	LogFile    string `yaml:"log_file"`
}

// Demo controls the fixed-supply token the node registers at boot so a fresh
// instance has something to trade.
type Demo struct {
	Enabled     bool   `yaml:"enabled"`
	TokenSymbol string `yaml:"token_symbol"`
	TokenSupply int64  `yaml:"token_supply"`
}

type Config struct {
	Node Node `yaml:"node"`
	Demo Demo `yaml:"demo"`
}

func Default() Config {
	return Config{
		Node: Node{
			ListenAddr: ":8080",
			DataDir:    "data",
			LogFile:    "data/exchange.log",
		},
		Demo: Demo{
			Enabled:     true,
			TokenSymbol: "FIXED",
			TokenSupply: 1_000_000,
		},
	}
}

// Load reads an optional YAML config file, then applies .env file and
// environment overrides. Priority: ENV > .env > yaml > defaults.
func Load(yamlPath string) Config {
	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}

	_ = godotenv.Load() // loads .env from current directory if present

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("DEMO_TOKEN"); v != "" {
		cfg.Demo.TokenSymbol = v
	}
	if v := os.Getenv("DEMO_SUPPLY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Demo.TokenSupply = n
		}
	}
	if v := os.Getenv("DEMO_ENABLED"); v != "" {
		cfg.Demo.Enabled = v == "true" || v == "1"
	}

	return cfg
}
