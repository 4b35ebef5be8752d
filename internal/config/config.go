package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DenominationAlgorithm selects how the round denomination is computed.
type DenominationAlgorithm string

const (
	// DenominationFixedBTC uses the constant DenominationBTC every round.
	DenominationFixedBTC DenominationAlgorithm = "FixedBtc"
	// DenominationFixedUSD targets DenominationUSD worth of BTC at the
	// current exchange rate.
	DenominationFixedUSD DenominationAlgorithm = "FixedUsd"
)

// Config is the read-only parameter bundle for the coordinator. It is
// loaded once at startup and shared by handle; nothing mutates it after
// Validate.
type Config struct {
	InputRegistrationTimeout      time.Duration
	ConnectionConfirmationTimeout time.Duration
	OutputRegistrationTimeout     time.Duration
	SigningTimeout                time.Duration

	MinAnonymitySet int
	MaxAnonymitySet int

	// AverageInputRegistration is the target wall-clock duration of the
	// InputRegistration phase; the anonymity target adapts around it.
	AverageInputRegistration time.Duration

	DenominationAlgorithm DenominationAlgorithm
	DenominationBTC       float64
	DenominationUSD       float64

	// FallbackSatPerByte is used when the node's fee estimator has never
	// produced a usable rate.
	FallbackSatPerByte int64
}

// Default returns the coordinator defaults used when an env var is unset.
func Default() *Config {
	return &Config{
		InputRegistrationTimeout:      1 * time.Hour,
		ConnectionConfirmationTimeout: 60 * time.Second,
		OutputRegistrationTimeout:     60 * time.Second,
		SigningTimeout:                60 * time.Second,
		MinAnonymitySet:               3,
		MaxAnonymitySet:               100,
		AverageInputRegistration:      3 * time.Minute,
		DenominationAlgorithm:         DenominationFixedBTC,
		DenominationBTC:               0.1,
		DenominationUSD:               100,
		FallbackSatPerByte:            20,
	}
}

// FromEnv builds a Config from environment variables, falling back to
// defaults for anything unset. Returns an error on malformed values or a
// bundle that fails Validate.
func FromEnv() (*Config, error) {
	cfg := Default()

	var err error
	if cfg.InputRegistrationTimeout, err = envSeconds("INPUT_REGISTRATION_PHASE_TIMEOUT_SECONDS", cfg.InputRegistrationTimeout); err != nil {
		return nil, err
	}
	if cfg.ConnectionConfirmationTimeout, err = envSeconds("CONNECTION_CONFIRMATION_PHASE_TIMEOUT_SECONDS", cfg.ConnectionConfirmationTimeout); err != nil {
		return nil, err
	}
	if cfg.OutputRegistrationTimeout, err = envSeconds("OUTPUT_REGISTRATION_PHASE_TIMEOUT_SECONDS", cfg.OutputRegistrationTimeout); err != nil {
		return nil, err
	}
	if cfg.SigningTimeout, err = envSeconds("SIGNING_PHASE_TIMEOUT_SECONDS", cfg.SigningTimeout); err != nil {
		return nil, err
	}
	if cfg.MinAnonymitySet, err = envInt("MINIMUM_ANONYMITY_SET", cfg.MinAnonymitySet); err != nil {
		return nil, err
	}
	if cfg.MaxAnonymitySet, err = envInt("MAXIMUM_ANONYMITY_SET", cfg.MaxAnonymitySet); err != nil {
		return nil, err
	}
	if cfg.AverageInputRegistration, err = envSeconds("AVERAGE_TIME_TO_SPEND_IN_INPUT_REGISTRATION_SECONDS", cfg.AverageInputRegistration); err != nil {
		return nil, err
	}
	if v := os.Getenv("DENOMINATION_ALGORITHM"); v != "" {
		cfg.DenominationAlgorithm = DenominationAlgorithm(v)
	}
	if cfg.DenominationBTC, err = envFloat("DENOMINATION_BTC", cfg.DenominationBTC); err != nil {
		return nil, err
	}
	if cfg.DenominationUSD, err = envFloat("DENOMINATION_USD", cfg.DenominationUSD); err != nil {
		return nil, err
	}
	if cfg.FallbackSatPerByte, err = envInt64("FALLBACK_SAT_PER_BYTE", cfg.FallbackSatPerByte); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects bundles the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.InputRegistrationTimeout <= 0 || c.ConnectionConfirmationTimeout <= 0 ||
		c.OutputRegistrationTimeout <= 0 || c.SigningTimeout <= 0 {
		return fmt.Errorf("config: all phase timeouts must be positive")
	}
	if c.MinAnonymitySet < 1 {
		return fmt.Errorf("config: minimum anonymity set must be at least 1, got %d", c.MinAnonymitySet)
	}
	if c.MaxAnonymitySet < c.MinAnonymitySet {
		return fmt.Errorf("config: maximum anonymity set %d is below minimum %d", c.MaxAnonymitySet, c.MinAnonymitySet)
	}
	if c.AverageInputRegistration <= 0 {
		return fmt.Errorf("config: average input registration time must be positive")
	}
	switch c.DenominationAlgorithm {
	case DenominationFixedBTC, DenominationFixedUSD:
	default:
		return fmt.Errorf("config: unrecognized denomination algorithm %q", c.DenominationAlgorithm)
	}
	if c.DenominationBTC <= 0 {
		return fmt.Errorf("config: denomination BTC must be positive")
	}
	if c.DenominationAlgorithm == DenominationFixedUSD && c.DenominationUSD <= 0 {
		return fmt.Errorf("config: denomination USD must be positive for FixedUsd")
	}
	if c.FallbackSatPerByte <= 0 {
		return fmt.Errorf("config: fallback sat/byte must be positive")
	}
	return nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %v", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %v", key, err)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %v", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %v", key, err)
	}
	return f, nil
}
