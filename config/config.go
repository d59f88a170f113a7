package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ledgerpay/crypto"

	"github.com/BurntSushi/toml"
)

// EnvRPCURL overrides JSONRPCURL when set.
const EnvRPCURL = "LEDGERPAY_RPC_URL"

type Config struct {
	JSONRPCURL         string    `toml:"JSONRPCURL"`
	RPCAuthToken       string    `toml:"RPCAuthToken,omitempty"`
	KeypairPath        string    `toml:"KeypairPath"`
	Commitment         string    `toml:"Commitment"`
	ConfirmTimeoutSecs int       `toml:"ConfirmTimeoutSecs"`
	PollIntervalMillis int       `toml:"PollIntervalMillis"`
	MaxSendAttempts    int       `toml:"MaxSendAttempts"`
	RequestsPerSecond  float64   `toml:"RequestsPerSecond"`
	OutputFormat       string    `toml:"OutputFormat"`
	JournalPath        string    `toml:"JournalPath"`
	LogFile            string    `toml:"LogFile,omitempty"`
	Environment        string    `toml:"Environment,omitempty"`
	Telemetry          Telemetry `toml:"telemetry"`
	RemoteSigner       *Remote   `toml:"remote_signer,omitempty"`
}

// DefaultPath returns ~/.config/ledgerpay/config.toml, or a relative path when
// the user config directory is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".ledgerpay", "config.toml")
	}
	return filepath.Join(dir, "ledgerpay", "config.toml")
}

// Load loads the configuration from the given path, creating a default file
// and key when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
		}
		if err := ensureKeypair(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults(path)
	if url := strings.TrimSpace(os.Getenv(EnvRPCURL)); url != "" {
		cfg.JSONRPCURL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults(path string) {
	def := defaults(path)
	if strings.TrimSpace(cfg.JSONRPCURL) == "" {
		cfg.JSONRPCURL = def.JSONRPCURL
	}
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if cfg.ConfirmTimeoutSecs == 0 {
		cfg.ConfirmTimeoutSecs = def.ConfirmTimeoutSecs
	}
	if cfg.PollIntervalMillis == 0 {
		cfg.PollIntervalMillis = def.PollIntervalMillis
	}
	if cfg.MaxSendAttempts == 0 {
		cfg.MaxSendAttempts = def.MaxSendAttempts
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = def.OutputFormat
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = def.JournalPath
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
}

// ConfirmTimeout is the confirmation deadline.
func (cfg *Config) ConfirmTimeout() time.Duration {
	return time.Duration(cfg.ConfirmTimeoutSecs) * time.Second
}

// PollInterval is the delay between status queries.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollIntervalMillis) * time.Millisecond
}

func ensureKeypair(configPath string, cfg *Config) error {
	keypairPath := cfg.KeypairPath
	if keypairPath == "" {
		keypairPath = defaultKeypairPath(configPath)
	}

	if _, err := os.Stat(keypairPath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.WriteKeyFile(keypairPath, key); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.KeypairPath != keypairPath {
		cfg.KeypairPath = keypairPath
		return persist(configPath, cfg)
	}
	return nil
}

func defaults(path string) *Config {
	dir := filepath.Dir(path)
	return &Config{
		JSONRPCURL:         "http://127.0.0.1:8899",
		KeypairPath:        defaultKeypairPath(path),
		Commitment:         "finalized",
		ConfirmTimeoutSecs: 60,
		PollIntervalMillis: 500,
		MaxSendAttempts:    5,
		OutputFormat:       "text",
		JournalPath:        filepath.Join(dir, "journal"),
		Telemetry:          Telemetry{ServiceName: "pay-cli", Endpoint: "localhost:4318"},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := defaults(path)
	if err := crypto.WriteKeyFile(cfg.KeypairPath, key); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeypairPath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "id.json")
}
