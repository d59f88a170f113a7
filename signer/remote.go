package signer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"ledgerpay/crypto"
)

// ErrRemoteSignature is returned when a signing service answers with a
// signature that does not verify for the configured address.
var ErrRemoteSignature = errors.New("signer: remote signature invalid")

// RemoteConfig describes an HTTP signing service. The client certificate is
// optional; when set the session is mutually authenticated.
type RemoteConfig struct {
	BaseURL    string
	Address    crypto.Address
	KeyLabel   string
	CACertPath string
	ClientCert string
	ClientKey  string
	Timeout    time.Duration
	SignPath   string
}

// RemoteSigner asks a signing service to sign message bytes for one address.
type RemoteSigner struct {
	address    crypto.Address
	keyLabel   string
	httpClient *http.Client
	baseURL    string
	signPath   string
}

// NewRemoteSigner builds a signer for cfg.
func NewRemoteSigner(cfg RemoteConfig) (*RemoteSigner, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("signer: remote base url required")
	}
	if cfg.Address.IsZero() {
		return nil, fmt.Errorf("signer: remote signer address required")
	}
	keyLabel := strings.TrimSpace(cfg.KeyLabel)
	if keyLabel == "" {
		keyLabel = cfg.Address.String()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ClientCert != "" || cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	signPath := strings.TrimSpace(cfg.SignPath)
	if signPath == "" {
		signPath = "/sign"
	}
	return &RemoteSigner{
		address:  cfg.Address,
		keyLabel: keyLabel,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		signPath: signPath,
	}, nil
}

func buildTLSConfig(cfg RemoteConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("signer: load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.CACertPath != "" {
		pemBytes, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("signer: read ca certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("signer: failed to append ca certificate %s", cfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

type signRequest struct {
	KeyLabel string `json:"key"`
	Message  string `json:"message"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

func (r *RemoteSigner) Address() crypto.Address { return r.address }

// Sign sends the base64 message to the service and verifies the returned
// base58 signature before handing it out.
func (r *RemoteSigner) Sign(ctx context.Context, message []byte) (crypto.Signature, error) {
	if r == nil || r.httpClient == nil {
		return crypto.Signature{}, fmt.Errorf("signer: remote signer not configured")
	}
	buf, err := json.Marshal(signRequest{KeyLabel: r.keyLabel, Message: base64.StdEncoding.EncodeToString(message)})
	if err != nil {
		return crypto.Signature{}, err
	}
	url := r.baseURL + path.Clean("/"+r.signPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return crypto.Signature{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return crypto.Signature{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return crypto.Signature{}, fmt.Errorf("signer: remote sign failed: status=%d", resp.StatusCode)
	}
	var decoded signResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return crypto.Signature{}, fmt.Errorf("signer: decode response: %w", err)
	}
	sig, err := crypto.DecodeSignature(strings.TrimSpace(decoded.Signature))
	if err != nil {
		return crypto.Signature{}, fmt.Errorf("%w: %v", ErrRemoteSignature, err)
	}
	if !sig.Verify(r.address, message) {
		return crypto.Signature{}, fmt.Errorf("%w: %s", ErrRemoteSignature, r.address)
	}
	return sig, nil
}

var _ crypto.Signer = (*RemoteSigner)(nil)
