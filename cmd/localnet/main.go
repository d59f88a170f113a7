package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"ledgerpay/localnet"
	"ledgerpay/observability/logging"
	telemetry "ledgerpay/observability/otel"
	"ledgerpay/rpc"
)

const (
	authTokenEnv = "LEDGERPAY_LOCALNET_TOKEN"
	jwtSecretEnv = "LEDGERPAY_LOCALNET_JWT_SECRET"
)

// options are the daemon's command-line settings.
type options struct {
	addr                 string
	env                  string
	logFile              string
	lamportsPerSignature uint64
	pendingPolls         int
	sendRate             float64
	sendBurst            int
	authToken            string
	jwtSecret            string
	jwtIssuer            string
	issueToken           string
	tokenTTL             time.Duration
	verbose              bool
}

func parseOptions(args []string, lookupEnv func(string) (string, bool)) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("localnet", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:8899", "JSON-RPC listen address")
	fs.StringVar(&opts.env, "env", "", "deployment environment tag for logs and traces")
	fs.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")
	fs.Uint64Var(&opts.lamportsPerSignature, "lamports-per-signature", 5000, "fee rate")
	fs.IntVar(&opts.pendingPolls, "pending-polls", 0, "status polls a transaction stays unfinalized for")
	fs.Float64Var(&opts.sendRate, "send-rate", 0, "sendTransaction calls per second per client (0 keeps the server default)")
	fs.IntVar(&opts.sendBurst, "send-burst", 0, "sendTransaction burst per client")
	fs.StringVar(&opts.authToken, "auth-token", "", "static bearer token required for airdrops (env "+authTokenEnv+")")
	fs.StringVar(&opts.jwtSecret, "jwt-secret", "", "HMAC secret for airdrop bearer JWTs (env "+jwtSecretEnv+")")
	fs.StringVar(&opts.jwtIssuer, "jwt-issuer", "ledgerpay-localnet", "required issuer claim of airdrop JWTs")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an airdrop JWT for this subject and exit")
	fs.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.authToken == "" {
		if value, ok := lookupEnv(authTokenEnv); ok {
			opts.authToken = strings.TrimSpace(value)
		}
	}
	if opts.jwtSecret == "" {
		if value, ok := lookupEnv(jwtSecretEnv); ok {
			opts.jwtSecret = strings.TrimSpace(value)
		}
	}
	if opts.env == "" {
		if value, ok := lookupEnv("LEDGERPAY_ENV"); ok {
			opts.env = strings.TrimSpace(value)
		}
	}
	if opts.issueToken != "" && opts.jwtSecret == "" {
		return nil, fmt.Errorf("-issue-token requires -jwt-secret or %s", jwtSecretEnv)
	}
	if opts.sendRate < 0 || opts.sendBurst < 0 {
		return nil, errors.New("send rate and burst must not be negative")
	}
	return opts, nil
}

// serverOptions translates opts into RPC server settings.
func serverOptions(opts *options, ledger *localnet.Ledger, logger *slog.Logger) []rpc.ServerOption {
	serverOpts := []rpc.ServerOption{
		rpc.WithFaucet(ledger),
		rpc.WithServerLogger(logger),
		rpc.WithAuthToken(opts.authToken),
	}
	if opts.jwtSecret != "" {
		serverOpts = append(serverOpts, rpc.WithJWTAuth([]byte(opts.jwtSecret), opts.jwtIssuer))
	}
	if opts.sendRate > 0 {
		burst := opts.sendBurst
		if burst == 0 {
			burst = int(opts.sendRate)
			if burst < 1 {
				burst = 1
			}
		}
		serverOpts = append(serverOpts, rpc.WithSendRateLimit(rate.Limit(opts.sendRate), burst))
	}
	return serverOpts
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseOptions(args, os.LookupEnv)
	if err != nil {
		return err
	}
	if opts.issueToken != "" {
		token, err := rpc.IssueToken([]byte(opts.jwtSecret), opts.jwtIssuer, opts.issueToken, opts.tokenTTL, time.Now())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, token)
		return err
	}

	logger := logging.Setup("localnet", opts.env, logging.Options{File: opts.logFile, Debug: opts.verbose})
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(opts.env, os.Getenv))
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	ledgerOpts := []localnet.Option{
		localnet.WithLamportsPerSignature(opts.lamportsPerSignature),
		localnet.WithLogger(logger),
	}
	if opts.pendingPolls > 0 {
		ledgerOpts = append(ledgerOpts, localnet.WithPendingPolls(opts.pendingPolls))
	}
	ledger, err := localnet.New(ledgerOpts...)
	if err != nil {
		return err
	}
	if opts.authToken == "" && opts.jwtSecret == "" {
		logger.Warn("airdrops are unauthenticated")
	}
	return rpc.NewServer(ledger, serverOptions(opts, ledger, logger)...).Start(ctx, opts.addr)
}

// telemetryConfig enables exporters only when an OTLP endpoint is configured.
func telemetryConfig(env string, getenv func(string) string) telemetry.Config {
	endpoint := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Config{
		Enabled:     endpoint != "",
		ServiceName: "localnet",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "localnet: %v\n", err)
		os.Exit(1)
	}
}
