// Package config provides a reusable loader for witnessd configuration
// files and environment variables, layered with Viper so CLI, daemon and
// tests all resolve settings the same way.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/concilium-chain/witnessd/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a witnessd node. It mirrors the
// YAML files under cmd/config.
type Config struct {
	Network struct {
		ListenAddr     string        `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
		AdvertiseAddr  string        `mapstructure:"advertise_addr" json:"advertise_addr" yaml:"advertise_addr"`
		Port           int           `mapstructure:"port" json:"port" yaml:"port"`
		DNSSeeds       []string      `mapstructure:"dns_seeds" json:"dns_seeds" yaml:"dns_seeds"`
		StaticSeeds    []string      `mapstructure:"static_seeds" json:"static_seeds" yaml:"static_seeds"`
		MaxPeers       int           `mapstructure:"max_peers" json:"max_peers" yaml:"max_peers"`
		MinPeers       int           `mapstructure:"min_peers" json:"min_peers" yaml:"min_peers"`
		EnableNATPMP   bool          `mapstructure:"enable_nat_pmp" json:"enable_nat_pmp" yaml:"enable_nat_pmp"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout"`
	} `mapstructure:"network" json:"network" yaml:"network"`

	Witness struct {
		Enabled      bool     `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
		PublicKeyHex string   `mapstructure:"public_key_hex" json:"public_key_hex" yaml:"public_key_hex"`
		Conciliums   []uint64 `mapstructure:"conciliums" json:"conciliums" yaml:"conciliums"`
	} `mapstructure:"witness" json:"witness" yaml:"witness"`

	Mempool struct {
		MaxTxns int           `mapstructure:"max_txns" json:"max_txns" yaml:"max_txns"`
		TTL     time.Duration `mapstructure:"ttl" json:"ttl" yaml:"ttl"`
	} `mapstructure:"mempool" json:"mempool" yaml:"mempool"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" json:"data_dir" yaml:"data_dir"`
	} `mapstructure:"storage" json:"storage" yaml:"storage"`

	Ops struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
		Enabled    bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	} `mapstructure:"ops" json:"ops" yaml:"ops"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
		File  string `mapstructure:"file" json:"file" yaml:"file"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads cmd/config/default.yaml and merges an optional environment
// specific overlay (cmd/config/<env>.yaml) plus WITNESSD_-prefixed
// environment variables. The resulting configuration is stored in
// AppConfig and returned.
//
// A .env file in the working directory, if present, is loaded first so a
// developer can override WITNESSD_-prefixed variables without exporting
// them in the shell; its absence is not an error.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("witnessd")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	AppConfig = cfg
	return &cfg, nil
}

// YAML renders the effective configuration back to YAML, used by the ops
// surface's /config endpoint so an operator can see what the node actually
// resolved after the default/overlay/environment merge.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, utils.Wrap(err, "marshal config")
	}
	return out, nil
}
