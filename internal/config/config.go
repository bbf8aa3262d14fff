package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Redis  RedisConfig
	Chain  ChainConfig
	Escrow EscrowConfig
	Server ServerConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// ChainConfig selects and configures the funds-transfer backend. Backend
// "erc20" moves a token on chain; "memory" keeps an in-process ledger and is
// meant for local development only.
type ChainConfig struct {
	Backend          string `mapstructure:"backend"`
	RPCURL           string `mapstructure:"rpc_url"`
	TokenAddress     string `mapstructure:"token_address"`
	EscrowPrivateKey string `mapstructure:"escrow_private_key"`
	ChainID          int64  `mapstructure:"chain_id"`
}

type EscrowConfig struct {
	SignerAddress    string `mapstructure:"signer_address"`
	OwnerAddress     string `mapstructure:"owner_address"`
	FeeWalletAddress string `mapstructure:"fee_wallet_address"`
	// AccountAddress is the escrow account for the memory backend; the erc20
	// backend derives it from the escrow private key.
	AccountAddress     string `mapstructure:"account_address"`
	MonitorIntervalSec int64  `mapstructure:"monitor_interval_sec"`
	StaleAfterSec      int64  `mapstructure:"stale_after_sec"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("chain.backend", "erc20")
	v.SetDefault("escrow.monitor_interval_sec", 3600)
	v.SetDefault("escrow.stale_after_sec", 30*24*3600)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"chain.backend":               "TRANSFER_BACKEND",
		"chain.rpc_url":               "RPC_URL",
		"chain.token_address":         "TOKEN_CONTRACT",
		"chain.escrow_private_key":    "ESCROW_SIGNING_KEY",
		"chain.chain_id":              "CHAIN_ID",
		"escrow.signer_address":       "BACKEND_SIGNER_ADDRESS",
		"escrow.owner_address":        "OWNER_ADDRESS",
		"escrow.fee_wallet_address":   "FEE_WALLET_ADDRESS",
		"escrow.account_address":      "ESCROW_ACCOUNT_ADDRESS",
		"escrow.monitor_interval_sec": "MONITOR_INTERVAL_SEC",
		"escrow.stale_after_sec":      "STALE_AFTER_SEC",
		"server.port":                 "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	required := []req{
		{c.Escrow.SignerAddress, "BACKEND_SIGNER_ADDRESS"},
		{c.Escrow.OwnerAddress, "OWNER_ADDRESS"},
		{c.Escrow.FeeWalletAddress, "FEE_WALLET_ADDRESS"},
	}
	switch c.Chain.Backend {
	case "erc20":
		required = append(required,
			req{c.Chain.RPCURL, "RPC_URL"},
			req{c.Chain.TokenAddress, "TOKEN_CONTRACT"},
			req{c.Chain.EscrowPrivateKey, "ESCROW_SIGNING_KEY"},
		)
	case "memory":
		required = append(required,
			req{c.Escrow.AccountAddress, "ESCROW_ACCOUNT_ADDRESS"},
		)
	default:
		return fmt.Errorf("unknown transfer backend %q", c.Chain.Backend)
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	return nil
}
