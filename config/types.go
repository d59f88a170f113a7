package config

// Telemetry controls OpenTelemetry export.
type Telemetry struct {
	Enabled     bool              `toml:"Enabled"`
	ServiceName string            `toml:"ServiceName"`
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers,omitempty"`
	Metrics     bool              `toml:"Metrics"`
	// SampleRatio is the fraction of root traces kept; 0 means all.
	SampleRatio float64 `toml:"SampleRatio,omitempty"`
}

// Remote describes an HTTP signing service that holds the fee payer key.
type Remote struct {
	BaseURL     string `toml:"BaseURL"`
	Address     string `toml:"Address"`
	KeyLabel    string `toml:"KeyLabel,omitempty"`
	CACertPath  string `toml:"CACertPath,omitempty"`
	ClientCert  string `toml:"ClientCert,omitempty"`
	ClientKey   string `toml:"ClientKey,omitempty"`
	TimeoutSecs int    `toml:"TimeoutSecs,omitempty"`
}
