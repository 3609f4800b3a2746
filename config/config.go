// Package config loads and validates the process configuration from the
// environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Blockstream/cln-lsps/lsps/common"
	"github.com/Blockstream/cln-lsps/lsps/lsps1"
)

// Load reads a .env file if present, then the environment, and fills in
// derived defaults (workdir, database path).
func Load() (*AppConfig, error) {
	godotenv.Load(".env")

	appConfig := &AppConfig{}
	if err := envconfig.Process("", appConfig); err != nil {
		return nil, err
	}

	if appConfig.Workdir == "" {
		appConfig.Workdir = filepath.Join(xdg.DataHome, "cln-lsps")
	}
	if err := os.MkdirAll(appConfig.Workdir, os.ModePerm); err != nil {
		return nil, err
	}

	// If DATABASE_URI is a URI or a path, leave it unchanged. If it only
	// contains a filename, prepend the workdir.
	if !strings.HasPrefix(appConfig.DatabaseUri, "file:") {
		databasePath, _ := filepath.Split(appConfig.DatabaseUri)
		if databasePath == "" {
			appConfig.DatabaseUri = filepath.Join(appConfig.Workdir, appConfig.DatabaseUri)
		}
	}

	return appConfig, nil
}

// LNDCertHexValue resolves the TLS certificate, preferring the inline hex
// value over the file path.
func (c *AppConfig) LNDCertHexValue() (string, error) {
	return hexOrFile(c.LNDCertHex, c.LNDCertFile)
}

// LNDMacaroonHexValue resolves the macaroon, preferring the inline hex value
// over the file path.
func (c *AppConfig) LNDMacaroonHexValue() (string, error) {
	if c.LNDMacaroonHex == "" && c.LNDMacaroonFile == "" {
		return "", errors.New("one of LND_MACAROON_HEX or LND_MACAROON_FILE is required")
	}
	return hexOrFile(c.LNDMacaroonHex, c.LNDMacaroonFile)
}

func hexOrFile(hexValue, file string) (string, error) {
	if hexValue != "" {
		return hexValue, nil
	}
	if file == "" {
		return "", nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file, err)
	}
	return hex.EncodeToString(raw), nil
}

// Lsps1Options builds the advertised provider limits.
func (c *AppConfig) Lsps1Options() lsps1.Options {
	return lsps1.Options{
		MinimumChannelConfirmations: c.Lsps1MinChannelConfirmations,
		SupportsZeroChannelReserve:  c.Lsps1SupportsZeroChannelReserve,
		MaxChannelExpiryBlocks:      c.Lsps1MaxChannelExpiryBlocks,
		MinInitialClientBalanceSat:  common.Amount(c.Lsps1MinInitialClientBalanceSat),
		MaxInitialClientBalanceSat:  common.Amount(c.Lsps1MaxInitialClientBalanceSat),
		MinInitialLspBalanceSat:     common.Amount(c.Lsps1MinInitialLspBalanceSat),
		MaxInitialLspBalanceSat:     common.Amount(c.Lsps1MaxInitialLspBalanceSat),
		MinChannelBalanceSat:        common.Amount(c.Lsps1MinChannelBalanceSat),
		MaxChannelBalanceSat:        common.Amount(c.Lsps1MaxChannelBalanceSat),
	}
}

// ChainParams maps the configured network name to its chain parameters.
func (c *AppConfig) ChainParams() *chaincfg.Params {
	switch c.Network {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// OrderLifetime parses the configured order lifetime, falling back to one
// hour on a bad value.
func (c *AppConfig) OrderLifetime() time.Duration {
	return parseDuration(c.Lsps1OrderLifetime, time.Hour)
}

// SagaBudget parses the configured channel-open budget, falling back to ten
// minutes on a bad value.
func (c *AppConfig) SagaBudget() time.Duration {
	return parseDuration(c.Lsps1SagaBudget, 10*time.Minute)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
