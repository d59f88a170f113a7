package config

import (
	"fmt"
	"net/url"
	"strings"

	"ledgerpay/crypto"
	"ledgerpay/ledger"
)

var outputFormats = map[string]struct{}{"text": {}, "json": {}, "yaml": {}}

// Validate checks the values a command depends on.
func (cfg *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(cfg.JSONRPCURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: JSONRPCURL %q is not an absolute URL", cfg.JSONRPCURL)
	}
	if _, err := ledger.ParseCommitment(cfg.Commitment); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, ok := outputFormats[cfg.OutputFormat]; !ok {
		return fmt.Errorf("config: OutputFormat %q must be text, json or yaml", cfg.OutputFormat)
	}
	if cfg.ConfirmTimeoutSecs < 0 || cfg.PollIntervalMillis < 0 || cfg.MaxSendAttempts < 0 {
		return fmt.Errorf("config: timeouts and attempts must not be negative")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("config: RequestsPerSecond must not be negative")
	}
	if ratio := cfg.Telemetry.SampleRatio; ratio < 0 || ratio > 1 {
		return fmt.Errorf("config: telemetry.SampleRatio %v must be between 0 and 1", ratio)
	}
	if r := cfg.RemoteSigner; r != nil {
		if strings.TrimSpace(r.BaseURL) == "" {
			return fmt.Errorf("config: remote_signer.BaseURL required")
		}
		if _, err := crypto.DecodeAddress(r.Address); err != nil {
			return fmt.Errorf("config: remote_signer.Address: %w", err)
		}
	}
	return nil
}
