package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendpool/native/lending"
)

// Config captures the runtime settings for lendpoold.
type Config struct {
	ListenAddress      string   `toml:"ListenAddress"`
	DataDir            string   `toml:"DataDir"`
	SharedSecretHeader string   `toml:"SharedSecretHeader"`
	SharedSecretValue  string   `toml:"SharedSecretValue"`
	PoolAddress        string   `toml:"PoolAddress"`
	FeeRecipient       string   `toml:"FeeRecipient"`
	Borrowers          []string `toml:"Borrowers"`
	Admins             []string `toml:"Admins"`

	Pool PoolConfig `toml:"pool"`
	Log  LogConfig  `toml:"log"`
}

// PoolConfig holds the rate model and fee parameters as decimal strings. All
// values are interpreted as 1e18 fixed-point.
type PoolConfig struct {
	OptimalUtilization string `toml:"OptimalUtilization"`
	Slope1             string `toml:"Slope1"`
	Slope2             string `toml:"Slope2"`
	MaxRatePerSecond   string `toml:"MaxRatePerSecond"`
	PerformanceFee     string `toml:"PerformanceFee"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	Level   string `toml:"Level"`
	Format  string `toml:"Format"`
	File    string `toml:"File"`
	MaxSize int    `toml:"MaxSizeMB"`
	Backups int    `toml:"Backups"`
}

// Load reads the configuration from path, writing a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8440"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lendpool-data"
	}
	if strings.TrimSpace(cfg.SharedSecretHeader) == "" {
		cfg.SharedSecretHeader = "X-Lendpool-Secret"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks addresses and fixed-point parameters without mutating the
// config.
func (cfg *Config) Validate() error {
	if _, err := cfg.ParsePoolAddress(); err != nil {
		return err
	}
	if _, err := cfg.ParseFeeRecipient(); err != nil {
		return err
	}
	if _, err := parseAddressList(cfg.Borrowers, "Borrowers"); err != nil {
		return err
	}
	if _, err := parseAddressList(cfg.Admins, "Admins"); err != nil {
		return err
	}
	if _, err := cfg.RateModel(); err != nil {
		return err
	}
	if _, err := cfg.PerformanceFee(); err != nil {
		return err
	}
	return nil
}

// RateModel parses the pool section into a validated rate model.
func (cfg *Config) RateModel() (*lending.RateModel, error) {
	optimal, err := parseWadField(cfg.Pool.OptimalUtilization, "pool.OptimalUtilization")
	if err != nil {
		return nil, err
	}
	slope1, err := parseWadField(cfg.Pool.Slope1, "pool.Slope1")
	if err != nil {
		return nil, err
	}
	slope2, err := parseWadField(cfg.Pool.Slope2, "pool.Slope2")
	if err != nil {
		return nil, err
	}
	maxRate, err := parseWadField(cfg.Pool.MaxRatePerSecond, "pool.MaxRatePerSecond")
	if err != nil {
		return nil, err
	}
	model := lending.NewRateModel(optimal, slope1, slope2, maxRate)
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return model, nil
}

// PerformanceFee parses the configured performance fee fraction.
func (cfg *Config) PerformanceFee() (*uint256.Int, error) {
	return parseWadField(cfg.Pool.PerformanceFee, "pool.PerformanceFee")
}

// ParsePoolAddress returns the pool's custody address.
func (cfg *Config) ParsePoolAddress() (common.Address, error) {
	return parseAddressField(cfg.PoolAddress, "PoolAddress")
}

// ParseFeeRecipient returns the address fees are swept to.
func (cfg *Config) ParseFeeRecipient() (common.Address, error) {
	return parseAddressField(cfg.FeeRecipient, "FeeRecipient")
}

// BorrowerAddresses returns the parsed borrower allow list.
func (cfg *Config) BorrowerAddresses() ([]common.Address, error) {
	return parseAddressList(cfg.Borrowers, "Borrowers")
}

// AdminAddresses returns the parsed admin allow list.
func (cfg *Config) AdminAddresses() ([]common.Address, error) {
	return parseAddressList(cfg.Admins, "Admins")
}

func parseWadField(value, field string) (*uint256.Int, error) {
	parsed, err := lending.ParseWad(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", field, err)
	}
	return parsed, nil
}

func parseAddressField(value, field string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("config: %s: invalid address %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAddressList(values []string, field string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, value := range values {
		addr, err := parseAddressField(value, field)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// createDefault writes a runnable default configuration and returns it.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8440",
		DataDir:       "./lendpool-data",
		PoolAddress:   "0x0000000000000000000000000000000000000100",
		FeeRecipient:  "0x0000000000000000000000000000000000000101",
		Pool: PoolConfig{
			OptimalUtilization: "0.9",
			Slope1:             "0.2",
			Slope2:             "0.6",
			MaxRatePerSecond:   "0.000000031709791983",
			PerformanceFee:     "0.1",
		},
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
