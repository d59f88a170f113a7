package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerpay/crypto"
	"ledgerpay/localnet"
	"ledgerpay/observability/logging"
	"ledgerpay/rpc"
	"ledgerpay/rpc/client"
)

func envOf(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParseOptionsEnvironmentFallback(t *testing.T) {
	opts, err := parseOptions([]string{"-addr", ":0"}, envOf(map[string]string{
		authTokenEnv:    " static ",
		jwtSecretEnv:    "secret",
		"LEDGERPAY_ENV": "dev",
	}))
	require.NoError(t, err)
	require.Equal(t, ":0", opts.addr)
	require.Equal(t, "static", opts.authToken)
	require.Equal(t, "secret", opts.jwtSecret)
	require.Equal(t, "dev", opts.env)
	require.EqualValues(t, 5000, opts.lamportsPerSignature)

	opts, err = parseOptions([]string{"-jwt-secret", "flag"}, envOf(map[string]string{jwtSecretEnv: "env"}))
	require.NoError(t, err)
	require.Equal(t, "flag", opts.jwtSecret)

	_, err = parseOptions([]string{"-issue-token", "alice"}, envOf(nil))
	require.ErrorContains(t, err, "-jwt-secret")

	_, err = parseOptions([]string{"-send-rate", "-1"}, envOf(nil))
	require.Error(t, err)

	_, err = parseOptions([]string{"-bogus"}, envOf(nil))
	require.Error(t, err)
}

func TestIssuedTokenAuthorisesAirdrop(t *testing.T) {
	t.Setenv(jwtSecretEnv, "")
	t.Setenv(authTokenEnv, "")
	out := &bytes.Buffer{}
	require.NoError(t, run(context.Background(), []string{"-jwt-secret", "s3cret", "-issue-token", "tester"}, out))
	token := strings.TrimSpace(out.String())
	require.Equal(t, 2, strings.Count(token, "."))

	opts, err := parseOptions([]string{"-jwt-secret", "s3cret"}, envOf(nil))
	require.NoError(t, err)
	ledger, err := localnet.New()
	require.NoError(t, err)
	logger := logging.Setup("localnet-test", "", logging.Options{})
	srv := httptest.NewServer(rpc.NewServer(ledger, serverOptions(opts, ledger, logger)...).Handler())
	defer srv.Close()

	recipient := crypto.Address{42}
	anonymous, err := client.New(srv.URL)
	require.NoError(t, err)
	_, err = anonymous.RequestAirdrop(context.Background(), recipient, 10)
	require.Error(t, err)

	authed, err := client.New(srv.URL, client.WithAuthToken(token))
	require.NoError(t, err)
	_, err = authed.RequestAirdrop(context.Background(), recipient, 10)
	require.NoError(t, err)
	require.EqualValues(t, 10, ledger.Balance(recipient))
}

func TestTelemetryConfigFollowsEndpoint(t *testing.T) {
	env := map[string]string{}
	getenv := func(key string) string { return env[key] }
	cfg := telemetryConfig("dev", getenv)
	require.False(t, cfg.Enabled)

	env["OTEL_EXPORTER_OTLP_ENDPOINT"] = "collector:4318"
	env["OTEL_EXPORTER_OTLP_INSECURE"] = "false"
	env["OTEL_EXPORTER_OTLP_HEADERS"] = "x-api-key=abc"
	cfg = telemetryConfig("dev", getenv)
	require.True(t, cfg.Enabled)
	require.False(t, cfg.Insecure)
	require.Equal(t, "abc", cfg.Headers["x-api-key"])
	require.Equal(t, "localnet", cfg.ServiceName)
}
