package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerpay/crypto"
)

func TestLoadCreatesDefaultConfigAndKey(t *testing.T) {
	t.Setenv(EnvRPCURL, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8899", cfg.JSONRPCURL)
	require.Equal(t, "finalized", cfg.Commitment)
	require.Equal(t, 60*time.Second, cfg.ConfirmTimeout())
	require.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	require.Equal(t, filepath.Join(dir, "nested", "id.json"), cfg.KeypairPath)

	key, err := crypto.LoadKeyFile(cfg.KeypairPath, nil)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.KeypairPath, again.KeypairPath)
	reloaded, err := crypto.LoadKeyFile(again.KeypairPath, nil)
	require.NoError(t, err)
	require.Equal(t, key.Address(), reloaded.Address())
}

func TestLoadParsesFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keyPath := filepath.Join(dir, "payer.json")
	contents := `JSONRPCURL = "http://ledger.internal:8899"
KeypairPath = "` + filepath.ToSlash(keyPath) + `"
Commitment = "confirmed"
ConfirmTimeoutSecs = 5
PollIntervalMillis = 50
MaxSendAttempts = 2
OutputFormat = "yaml"

[telemetry]
Enabled = true
Endpoint = "otel:4318"
Insecure = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	t.Setenv(EnvRPCURL, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://ledger.internal:8899", cfg.JSONRPCURL)
	require.Equal(t, "confirmed", cfg.Commitment)
	require.Equal(t, 5*time.Second, cfg.ConfirmTimeout())
	require.Equal(t, 2, cfg.MaxSendAttempts)
	require.Equal(t, "yaml", cfg.OutputFormat)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "pay-cli", cfg.Telemetry.ServiceName)
	_, err = os.Stat(keyPath)
	require.NoError(t, err, "missing key file is generated")

	t.Setenv(EnvRPCURL, "http://override:1")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://override:1", cfg.JSONRPCURL)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ValidatorKey = \"abc\"\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "ValidatorKey"))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{JSONRPCURL: "http://localhost:8899", Commitment: "recent", OutputFormat: "json"}
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"relative url":    func(c *Config) { c.JSONRPCURL = "localhost" },
		"bad commitment":  func(c *Config) { c.Commitment = "max" },
		"bad format":      func(c *Config) { c.OutputFormat = "xml" },
		"negative poll":   func(c *Config) { c.PollIntervalMillis = -1 },
		"negative rate":   func(c *Config) { c.RequestsPerSecond = -1 },
		"remote address":  func(c *Config) { c.RemoteSigner = &Remote{BaseURL: "https://hsm", Address: "nope"} },
		"remote base url": func(c *Config) { c.RemoteSigner = &Remote{Address: crypto.Address{1}.String()} },
		"sample ratio":    func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvRPCURL, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.JSONRPCURL = "https://ledger.example:443"
	cfg.RemoteSigner = &Remote{BaseURL: "https://hsm.internal", Address: crypto.Address{9}.String()}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.JSONRPCURL, loaded.JSONRPCURL)
	require.Equal(t, cfg.RemoteSigner.Address, loaded.RemoteSigner.Address)

	cfg.OutputFormat = "xml"
	require.Error(t, Save(path, cfg))
}
