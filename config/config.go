// Package config resolves a node's runtime settings from the environment,
// with the defaults mandated by the external interface design.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/haschain/miniroha/internal/consensus"
)

// Config holds per-node runtime settings. Unlike genesis data (protocol
// rules shared by the whole cluster), these can vary freely between nodes.
type Config struct {
	Port   int
	DBPath string
	UseBFT bool

	// Consensus
	SelfID           string
	ValidatorKeyPath string
	Timeouts         consensus.Timeouts
	MaxTxPerBlock    int
	MaxBytesPerBlock int

	// P2P
	P2PListenAddr string
	P2PPort       int
	P2PSeeds      []string
	P2PDataDir    string

	// Genesis
	GenesisPath string
}

// Default returns the documented defaults, overridable by FromEnv.
func Default() Config {
	return Config{
		Port:             3000,
		DBPath:           "./miniroha-db",
		UseBFT:           false,
		Timeouts:         consensus.DefaultTimeouts(),
		MaxTxPerBlock:    500,
		MaxBytesPerBlock: 1 << 20,
		P2PListenAddr:    "0.0.0.0",
		P2PPort:          26656,
	}
}

// FromEnv overlays environment variables onto the defaults: PORT, DB_PATH,
// USE_BFT, SELF_ID, VALIDATOR_KEY_PATH, GENESIS_PATH, P2P_LISTEN_ADDR,
// P2P_PORT, P2P_SEEDS (comma-separated), P2P_DATA_DIR, and the consensus
// timeout overrides PROPOSE_TIMEOUT_MS / PREVOTE_TIMEOUT_MS /
// PRECOMMIT_TIMEOUT_MS / BLOCK_INTERVAL_MS.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("USE_BFT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseBFT = b
		}
	}
	if v := os.Getenv("SELF_ID"); v != "" {
		cfg.SelfID = v
	}
	if v := os.Getenv("VALIDATOR_KEY_PATH"); v != "" {
		cfg.ValidatorKeyPath = v
	}
	if v := os.Getenv("GENESIS_PATH"); v != "" {
		cfg.GenesisPath = v
	}
	if v := os.Getenv("P2P_LISTEN_ADDR"); v != "" {
		cfg.P2PListenAddr = v
	}
	if v := os.Getenv("P2P_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.P2PPort = n
		}
	}
	if v := os.Getenv("P2P_SEEDS"); v != "" {
		cfg.P2PSeeds = splitNonEmpty(v, ',')
	}
	if v := os.Getenv("P2P_DATA_DIR"); v != "" {
		cfg.P2PDataDir = v
	}

	if ms := envMillis("PROPOSE_TIMEOUT_MS"); ms > 0 {
		cfg.Timeouts.Propose = ms
	}
	if ms := envMillis("PREVOTE_TIMEOUT_MS"); ms > 0 {
		cfg.Timeouts.Prevote = ms
	}
	if ms := envMillis("PRECOMMIT_TIMEOUT_MS"); ms > 0 {
		cfg.Timeouts.Precommit = ms
	}
	if ms := envMillis("BLOCK_INTERVAL_MS"); ms > 0 {
		cfg.Timeouts.BlockInterval = ms
	}

	return cfg
}

func envMillis(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
