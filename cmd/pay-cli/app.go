package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"ledgerpay/cmd/internal/passphrase"
	"ledgerpay/config"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/observability/logging"
	"ledgerpay/observability/otel"
	"ledgerpay/processor"
	"ledgerpay/rpc/client"
	"ledgerpay/signer"
	"ledgerpay/storage"
	"ledgerpay/submit"
)

const serviceName = "pay-cli"

// globalFlags override values from the config file.
type globalFlags struct {
	ConfigPath string
	URL        string
	Keypair    string
	Output     string
	Commitment string
	Verbose    bool
}

// cli holds everything one invocation needs. Connections are opened on first
// use so offline commands never touch the network or the journal.
type cli struct {
	flags  globalFlags
	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	passphrase *passphrase.Source

	cfg      *config.Config
	logger   *slog.Logger
	client   *client.Client
	db       storage.Database
	journal  *storage.Journal
	proc     *processor.Processor
	shutdown func(context.Context) error
}

func newCLI(out, errOut io.Writer) *cli {
	return &cli{
		out:        out,
		errOut:     errOut,
		now:        time.Now,
		passphrase: passphrase.NewSource(passphrase.DefaultEnv),
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "pay-cli",
		Short:         "Build, sign, submit and inspect ledger payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	pf := root.PersistentFlags()
	pf.StringVarP(&c.flags.ConfigPath, "config", "c", config.DefaultPath(), "configuration file")
	pf.StringVarP(&c.flags.URL, "url", "u", "", "JSON-RPC URL of the ledger node")
	pf.StringVarP(&c.flags.Keypair, "keypair", "k", "", "default signer key file")
	pf.StringVarP(&c.flags.Output, "output", "o", "", "output format: text, json or yaml")
	pf.StringVar(&c.flags.Commitment, "commitment", "", "commitment to wait for: recent, confirmed or finalized")
	pf.BoolVarP(&c.flags.Verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newPayCmd(c),
		newReleaseCmd(c),
		newCancelCmd(c),
		newCreateNonceAccountCmd(c),
		newBalanceCmd(c),
		newAirdropCmd(c),
		newConfirmCmd(c),
		newDecodeCmd(c),
		newJournalCmd(c),
		newKeygenCmd(c),
	)
	return root
}

// run executes one command line and releases everything it opened, even when
// the command fails.
func run(ctx context.Context, c *cli, args []string) error {
	root := newRootCmd(c)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if closeErr := c.close(context.Background()); err == nil {
		err = closeErr
	}
	return err
}

// load reads the configuration and applies flag overrides.
func (c *cli) load(ctx context.Context) error {
	if c.cfg != nil {
		return nil
	}
	cfg, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if url := strings.TrimSpace(c.flags.URL); url != "" {
		cfg.JSONRPCURL = url
	}
	if c.flags.Keypair != "" {
		cfg.KeypairPath = c.flags.Keypair
	}
	if c.flags.Output != "" {
		cfg.OutputFormat = c.flags.Output
	}
	if c.flags.Commitment != "" {
		cfg.Commitment = c.flags.Commitment
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	c.logger = logging.Setup(serviceName, cfg.Environment, logging.Options{File: cfg.LogFile, Debug: c.flags.Verbose})
	shutdown, err := otel.Init(ctx, otel.FromTelemetry(cfg.Telemetry, cfg.Environment))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	c.shutdown = shutdown
	return nil
}

func (c *cli) commitment() ledger.Commitment {
	commitment, err := ledger.ParseCommitment(c.cfg.Commitment)
	if err != nil {
		return ledger.CommitmentFinalized
	}
	return commitment
}

// ledgerClient returns the RPC client, dialing lazily.
func (c *cli) ledgerClient(ctx context.Context) (*client.Client, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	if c.client != nil {
		return c.client, nil
	}
	opts := []client.Option{
		client.WithAuthToken(c.cfg.RPCAuthToken),
		client.WithCircuitBreaker(gobreaker.Settings{
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("rpc circuit breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
	if c.cfg.RequestsPerSecond > 0 {
		burst := int(c.cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, client.WithRateLimit(rate.Limit(c.cfg.RequestsPerSecond), burst))
	}
	cl, err := client.New(c.cfg.JSONRPCURL, opts...)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("rpc client ready",
		slog.String("url", c.cfg.JSONRPCURL),
		logging.MaskField("auth_token", c.cfg.RPCAuthToken))
	c.client = cl
	return cl, nil
}

// processor wires the submission pipeline. Commands that only sign still get
// a processor; it reaches the network only when the blockhash query needs it.
func (c *cli) processor(ctx context.Context) (*processor.Processor, error) {
	if c.proc != nil {
		return c.proc, nil
	}
	cl, err := c.ledgerClient(ctx)
	if err != nil {
		return nil, err
	}
	journal, err := c.openJournal()
	if err != nil {
		return nil, err
	}
	controller := submit.NewController(cl, submit.Config{
		Commitment:      c.commitment(),
		PollInterval:    c.cfg.PollInterval(),
		Timeout:         c.cfg.ConfirmTimeout(),
		MaxSendAttempts: c.cfg.MaxSendAttempts,
	}, submit.WithJournal(journal), submit.WithLogger(c.logger))
	c.proc = processor.New(cl, controller,
		processor.WithCommitment(c.commitment()),
		processor.WithLogger(c.logger))
	return c.proc, nil
}

func (c *cli) openJournal() (*storage.Journal, error) {
	if c.journal != nil {
		return c.journal, nil
	}
	db, err := storage.Open(c.cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", c.cfg.JournalPath, err)
	}
	c.db = db
	c.journal = storage.NewJournal(db)
	return c.journal, nil
}

// defaultSigner is the configured remote signer, or the local key file.
func (c *cli) defaultSigner(ctx context.Context) (crypto.Signer, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	if r := c.cfg.RemoteSigner; r != nil && c.flags.Keypair == "" {
		addr, err := crypto.DecodeAddress(r.Address)
		if err != nil {
			return nil, err
		}
		return signer.NewRemoteSigner(signer.RemoteConfig{
			BaseURL:    r.BaseURL,
			Address:    addr,
			KeyLabel:   r.KeyLabel,
			CACertPath: r.CACertPath,
			ClientCert: r.ClientCert,
			ClientKey:  r.ClientKey,
			Timeout:    time.Duration(r.TimeoutSecs) * time.Second,
		})
	}
	return c.loadKey(c.cfg.KeypairPath)
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, error) {
	key, err := crypto.LoadKeyFile(path, c.passphrase.Get)
	if err != nil {
		c.logger.Debug("key load failed", logging.MaskPath("path", path))
		return nil, fmt.Errorf("load key %s: %w", path, err)
	}
	return key, nil
}

func (c *cli) close(ctx context.Context) error {
	if c.db != nil {
		c.db.Close()
		c.db, c.journal, c.proc = nil, nil, nil
	}
	if c.shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := c.shutdown(shutdownCtx)
		c.shutdown = nil
		return err
	}
	return nil
}
