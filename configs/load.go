package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	EnvAddress        = "OASIS_ADDR"
	EnvRedisAddress   = "OASIS_REDIS_ADDR"
	EnvTLSCert        = "OASIS_TLS_CERT"
	EnvTLSKey         = "OASIS_TLS_KEY"
	EnvMaxFailedJoins = "OASIS_MAX_FAILED_JOINS"
	EnvKDF            = "OASIS_KDF"
	EnvRelayURL       = "OASIS_RELAY_URL"
)

// Config is the runtime configuration of the relay and the client. Zero
// fields fall back to the package defaults.
type Config struct {
	Address        string
	RedisAddress   string
	TLSCert        string
	TLSKey         string
	MaxFailedJoins int
	KDFAlgorithm   string
	// RelayURL is the websocket URL a client dials. The relay ignores it.
	RelayURL string
}

// Default returns a Config built from the package defaults.
func Default() *Config {
	return &Config{
		Address:        ServerAddress,
		RedisAddress:   RedisAddress,
		MaxFailedJoins: MaxFailedJoins,
		KDFAlgorithm:   KDFAlgorithm,
	}
}

// Load reads the given .env files (".env" when none are named) and then the
// process environment. Missing files are ignored. Variables already set in
// the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", f, err)
		}
	}

	cfg := Default()
	if v := os.Getenv(EnvAddress); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv(EnvRedisAddress); v != "" {
		cfg.RedisAddress = v
	}
	cfg.TLSCert = os.Getenv(EnvTLSCert)
	cfg.TLSKey = os.Getenv(EnvTLSKey)
	if v := os.Getenv(EnvMaxFailedJoins); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s %q", EnvMaxFailedJoins, v)
		}
		cfg.MaxFailedJoins = n
	}
	if v := os.Getenv(EnvKDF); v != "" {
		cfg.KDFAlgorithm = v
	}
	cfg.RelayURL = os.Getenv(EnvRelayURL)
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("%s and %s must be set together", EnvTLSCert, EnvTLSKey)
	}
	return cfg, nil
}

// WebSocketURL returns the relay URL a client should dial: RelayURL when
// set, plain ws on Address otherwise.
func (c *Config) WebSocketURL() string {
	if c.RelayURL != "" {
		return c.RelayURL
	}
	return "ws://" + c.Address + WebSocketPath
}
