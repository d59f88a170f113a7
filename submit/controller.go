// Package submit sends signed transactions and waits for the ledger to
// confirm them.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/observability"
	"ledgerpay/storage"
)

const (
	defaultPollInterval    = 500 * time.Millisecond
	defaultTimeout         = 60 * time.Second
	defaultMaxSendAttempts = 5
	defaultInitialBackoff  = 200 * time.Millisecond
)

// ErrTimeout is returned when the commitment target is not reached in time.
var ErrTimeout = errors.New("submit: confirmation timed out")

// TransactionFailedError reports a transaction the ledger executed and
// rejected. The fee was still charged.
type TransactionFailedError struct {
	Signature crypto.Signature
	Reason    string
	Cause     *ledger.TransactionError
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("submit: transaction %s failed: %s", e.Signature, e.Reason)
}

func (e *TransactionFailedError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Config tunes sending and polling. Zero values take defaults.
type Config struct {
	Commitment      ledger.Commitment
	PollInterval    time.Duration
	Timeout         time.Duration
	MaxSendAttempts int
	InitialBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Commitment == "" {
		c.Commitment = ledger.CommitmentFinalized
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxSendAttempts <= 0 {
		c.MaxSendAttempts = defaultMaxSendAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	return c
}

// Controller submits transactions to one ledger.
type Controller struct {
	client  ledger.Client
	cfg     Config
	journal *storage.Journal
	metrics *observability.SubmitMetrics
	logger  *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithJournal records every submission and its outcome.
func WithJournal(j *storage.Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithMetrics overrides the default-registry submission metrics.
func WithMetrics(m *observability.SubmitMetrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController returns a controller for client.
func NewController(client ledger.Client, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		client:  client,
		cfg:     cfg.withDefaults(),
		metrics: observability.Submission(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Commitment is the level Confirm waits for.
func (c *Controller) Commitment() ledger.Commitment { return c.cfg.Commitment }

// Outcome describes a confirmed submission.
type Outcome struct {
	Signature crypto.Signature
	Slot      uint64
	Attempts  int
	Elapsed   time.Duration
}

type submitOptions struct {
	kind string
}

// SubmitOption annotates a single submission.
type SubmitOption func(*submitOptions)

// WithKind labels the submission in the journal.
func WithKind(kind string) SubmitOption {
	return func(o *submitOptions) { o.kind = kind }
}

// Submit sends tx and waits for confirmation.
func (c *Controller) Submit(ctx context.Context, tx *types.Transaction, opts ...SubmitOption) (crypto.Signature, error) {
	outcome, err := c.SubmitAndWait(ctx, tx, opts...)
	if outcome == nil {
		return crypto.Signature{}, err
	}
	return outcome.Signature, err
}

// SubmitAndWait is Submit with details. On a ledger or timeout failure after a
// successful send the partial outcome is returned along with the error.
func (c *Controller) SubmitAndWait(ctx context.Context, tx *types.Transaction, opts ...SubmitOption) (*Outcome, error) {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}
	start := time.Now()
	sig, attempts, err := c.Send(ctx, tx)
	if err != nil {
		c.metrics.RecordOutcome("rejected", time.Since(start))
		if id := tx.ID(); attempts > 0 && !id.IsZero() {
			c.journalRecord(storage.Submission{Signature: id, Kind: so.kind, Blockhash: tx.Message.RecentBlockhash, Status: storage.StatusRejected, Attempts: attempts, Error: err.Error()})
		}
		return nil, err
	}
	outcome := &Outcome{Signature: sig, Attempts: attempts}
	entry := storage.Submission{Signature: sig, Kind: so.kind, Blockhash: tx.Message.RecentBlockhash, Status: storage.StatusSubmitted, Attempts: attempts}
	c.journalRecord(entry)

	status, err := c.Confirm(ctx, sig)
	outcome.Elapsed = time.Since(start)
	if status != nil {
		outcome.Slot = status.Slot
		entry.Slot = status.Slot
	}
	var failed *TransactionFailedError
	switch {
	case err == nil:
		entry.Status = storage.StatusConfirmed
		c.metrics.RecordOutcome("confirmed", outcome.Elapsed)
	case errors.As(err, &failed):
		entry.Status = storage.StatusFailed
		entry.Error = failed.Reason
		c.metrics.RecordOutcome("failed", outcome.Elapsed)
	case errors.Is(err, ErrTimeout):
		entry.Status = storage.StatusTimedOut
		entry.Error = err.Error()
		c.metrics.RecordOutcome("timeout", outcome.Elapsed)
	default:
		entry.Error = err.Error()
		c.metrics.RecordOutcome("error", outcome.Elapsed)
	}
	c.journalRecord(entry)
	return outcome, err
}

// Send delivers tx, retrying the same bytes on transient errors. A resend the
// ledger reports as already processed, or rejects while already knowing the
// signature, counts as delivered.
func (c *Controller) Send(ctx context.Context, tx *types.Transaction) (crypto.Signature, int, error) {
	if err := tx.VerifySignatures(); err != nil {
		return crypto.Signature{}, 0, fmt.Errorf("submit: %w", err)
	}
	raw := tx.Serialize()
	expected := tx.ID()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxSendAttempts-1)), ctx)

	attempts := 0
	var sig crypto.Signature
	op := func() error {
		attempts++
		got, err := c.client.SendTransaction(ctx, raw)
		switch {
		case err == nil:
			sig = got
			c.metrics.RecordSend("ok")
			return nil
		case attempts > 1 && errors.Is(err, ledger.ErrAlreadyProcessed):
			sig = expected
			c.metrics.RecordSend("duplicate")
			return nil
		case ledger.IsTransient(err):
			c.metrics.RecordSend("transient")
			return err
		default:
			// A resend can be refused for replay reasons (consumed nonce,
			// expired blockhash) because an earlier copy landed and its
			// response was lost.
			if attempts > 1 && c.landed(ctx, expected) {
				sig = expected
				c.metrics.RecordSend("duplicate")
				return nil
			}
			c.metrics.RecordSend("rejected")
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("send failed, retrying",
			slog.String("signature", expected.String()),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return crypto.Signature{}, attempts, fmt.Errorf("submit: send after %d attempt(s): %w", attempts, err)
	}
	if sig != expected {
		return sig, attempts, fmt.Errorf("submit: ledger returned signature %s, expected %s", sig, expected)
	}
	c.logger.Info("transaction sent", slog.String("signature", sig.String()), slog.Int("attempts", attempts))
	return sig, attempts, nil
}

// landed reports whether the ledger already knows sig. Lookup errors count
// as not landed; the caller then surfaces the original send error.
func (c *Controller) landed(ctx context.Context, sig crypto.Signature) bool {
	status, err := c.client.GetSignatureStatus(ctx, sig)
	if err != nil {
		c.logger.Warn("status lookup after rejected resend failed", slog.String("signature", sig.String()), slog.Any("error", err))
		return false
	}
	return status != nil
}

// Confirm polls until sig reaches the configured commitment, fails, or the
// timeout elapses. The last status seen is returned with the error.
func (c *Controller) Confirm(ctx context.Context, sig crypto.Signature) (*ledger.SignatureStatus, error) {
	deadline, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var last *ledger.SignatureStatus
	for {
		c.metrics.RecordPoll()
		status, err := c.client.GetSignatureStatus(deadline, sig)
		switch {
		case err != nil && !ledger.IsTransient(err) && deadline.Err() == nil:
			return last, fmt.Errorf("submit: status of %s: %w", sig, err)
		case status != nil:
			last = status
			if status.Err != nil {
				return last, &TransactionFailedError{Signature: sig, Reason: status.Err.Reason, Cause: status.Err}
			}
			if status.Commitment.Satisfies(c.cfg.Commitment) {
				return last, nil
			}
		}

		select {
		case <-deadline.Done():
			if err := ctx.Err(); err != nil {
				return last, err
			}
			return last, fmt.Errorf("%w: %s not %s after %s", ErrTimeout, sig, c.cfg.Commitment, c.cfg.Timeout)
		case <-ticker.C:
		}
	}
}

func (c *Controller) journalRecord(entry storage.Submission) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(entry); err != nil {
		c.logger.Warn("journal write failed", slog.String("signature", entry.Signature.String()), slog.Any("error", err))
	}
}
