// Package processor runs commands end to end: resolve a blockhash, build,
// sign, optionally hand off for offline signing, submit and confirm.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledgerpay/blockhash"
	"ledgerpay/builder"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/native/system"
	"ledgerpay/observability"
	"ledgerpay/signer"
	"ledgerpay/submit"
)

// ErrFeeChanged is returned when the fee rate moved between building and
// submitting a transaction whose amount was derived from it.
var ErrFeeChanged = errors.New("processor: fee rate changed since build")

// Request is one command plus everything needed to sign it.
type Request struct {
	Command builder.Command
	// FeePayer pays the fee. A signer.NullSigner leaves its slot for an
	// offline party.
	FeePayer crypto.Signer
	// Signers are the other local signers: witnesses, time authorities, new
	// account keys, the nonce authority.
	Signers []crypto.Signer
	// Query defaults to fetching a cluster blockhash.
	Query blockhash.Query
	// SignOnly stops after signing and returns the offline payload.
	SignOnly bool
	// Reply carries signatures made offline by other parties.
	Reply *signer.Reply
}

// Result reports what a command did.
type Result struct {
	Kind      string
	Signature crypto.Signature
	Slot      uint64
	Fee       uint64
	Amount    uint64
	Contract  *crypto.Address
	// Reply is set for sign-only requests.
	Reply *signer.Reply
	// Rebuilt is true when a stale durable nonce forced a second build.
	Rebuilt bool
}

// Processor executes commands against one ledger.
type Processor struct {
	client     ledger.Client
	submitter  *submit.Controller
	commitment ledger.Commitment
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *observability.CommandMetrics
}

// Option configures a Processor.
type Option func(*Processor)

// WithCommitment sets the commitment used for reads.
func WithCommitment(c ledger.Commitment) Option {
	return func(p *Processor) {
		if c != "" {
			p.commitment = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Processor) {
		if tp != nil {
			p.tracer = tp.Tracer("ledgerpay/processor")
		}
	}
}

// New returns a processor. client and submitter may be nil when only
// sign-only requests with static blockhashes are processed.
func New(client ledger.Client, submitter *submit.Controller, opts ...Option) *Processor {
	p := &Processor{
		client:     client,
		submitter:  submitter,
		commitment: ledger.CommitmentRecent,
		logger:     slog.Default(),
		tracer:     otel.Tracer("ledgerpay/processor"),
		metrics:    observability.Commands(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Process runs req.
func (p *Processor) Process(ctx context.Context, req Request) (result *Result, err error) {
	if req.Command == nil || req.FeePayer == nil {
		return nil, fmt.Errorf("processor: command and fee payer required")
	}
	kind := req.Command.Kind()
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "processor.process", trace.WithAttributes(
		attribute.String("command", kind),
		attribute.Bool("sign_only", req.SignOnly),
	))
	defer func() {
		p.metrics.Observe(kind, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error("command failed", slog.String("command", kind), slog.Any("error", err))
		}
		span.End()
	}()

	query := req.Query
	if query == nil {
		query = blockhash.Fetch{Source: blockhash.Cluster{}}
	}
	if req.SignOnly {
		return p.signOnly(ctx, req, query)
	}
	if p.client == nil || p.submitter == nil {
		return nil, fmt.Errorf("processor: %s needs a ledger connection", kind)
	}

	built, err := p.prepare(ctx, req, query)
	if err == nil {
		result, err = p.submit(ctx, req, built)
	}
	if err == nil || !errors.Is(err, ledger.ErrNonceMismatch) || !rebuildable(req, query) {
		return result, err
	}
	if built != nil {
		// The nonce may have been consumed by this very payload when an
		// earlier send response was lost.
		landed, err := p.landed(ctx, built.Tx.ID())
		if err != nil {
			return nil, err
		}
		if landed {
			p.logger.Warn("durable nonce consumed by this transaction, not rebuilding",
				slog.String("command", kind),
				slog.String("signature", built.Tx.ID().String()))
			span.AddEvent("landed")
			return p.confirmLanded(ctx, req, built)
		}
	}
	p.logger.Warn("durable nonce moved, rebuilding", slog.String("command", kind))
	span.AddEvent("rebuild")
	built, err = p.prepare(ctx, req, query)
	if err != nil {
		return nil, err
	}
	result, err = p.submit(ctx, req, built)
	if result != nil {
		result.Rebuilt = true
	}
	return result, err
}

// rebuildable reports whether a fresh nonce can be fetched and every
// signature produced locally again.
func rebuildable(req Request, query blockhash.Query) bool {
	fetch, ok := query.(blockhash.Fetch)
	if !ok || req.Reply != nil {
		return false
	}
	_, nonce := fetch.Source.(blockhash.NonceAccount)
	return nonce
}

func (p *Processor) signOnly(ctx context.Context, req Request, query blockhash.Query) (*Result, error) {
	resolved, err := p.resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	built, err := p.build(ctx, req, resolved, builder.Inputs{})
	if err != nil {
		return nil, err
	}
	_, span := p.tracer.Start(ctx, "processor.sign")
	defer span.End()
	reply, err := signer.SignOnly(ctx, built.Tx, p.signers(req)...)
	if err != nil {
		return nil, err
	}
	p.logger.Info("signed offline",
		slog.String("command", req.Command.Kind()),
		slog.String("reply", reply.ID),
		slog.Bool("all_signed", reply.AllSigned))
	return &Result{
		Kind:     req.Command.Kind(),
		Fee:      built.Fee,
		Amount:   built.Amount,
		Contract: built.Contract,
		Reply:    reply,
	}, nil
}

// prepare resolves, builds and fully signs a transaction. The returned
// transaction has not been sent.
func (p *Processor) prepare(ctx context.Context, req Request, query blockhash.Query) (*builder.Built, error) {
	resolved, err := p.resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	inputs, err := p.inputs(ctx, req)
	if err != nil {
		return nil, err
	}
	built, err := p.build(ctx, req, resolved, inputs)
	if err != nil {
		return nil, err
	}
	digest := signer.Digest(built.Tx)
	if req.Reply != nil {
		digest = req.Reply.Digest
	}

	signCtx, span := p.tracer.Start(ctx, "processor.sign")
	err = signer.Merge(signCtx, built.Tx, req.Reply, p.signers(req)...)
	span.End()
	if err != nil {
		return nil, err
	}

	if cmdSpendsAll(req.Command) {
		if err := p.checkFee(ctx, query, resolved); err != nil {
			return built, err
		}
	}
	// Last gate before the bytes leave: the message must be the one that was
	// built (or signed offline) and every slot must verify.
	if err := signer.VerifyDigest(built.Tx, digest); err != nil {
		return nil, err
	}
	return built, nil
}

func (p *Processor) submit(ctx context.Context, req Request, built *builder.Built) (*Result, error) {
	submitCtx, span := p.tracer.Start(ctx, "processor.submit")
	defer span.End()
	outcome, err := p.submitter.SubmitAndWait(submitCtx, built.Tx, submit.WithKind(req.Command.Kind()))
	result := newResult(req, built)
	if outcome != nil {
		result.Signature = outcome.Signature
		result.Slot = outcome.Slot
		span.SetAttributes(attribute.String("signature", outcome.Signature.String()))
	}
	if err != nil {
		if outcome == nil {
			return nil, err
		}
		return result, err
	}
	p.logConfirmed(result)
	return result, nil
}

// landed reports whether the ledger has seen sig.
func (p *Processor) landed(ctx context.Context, sig crypto.Signature) (bool, error) {
	if sig.IsZero() {
		return false, nil
	}
	status, err := p.client.GetSignatureStatus(ctx, sig)
	if err != nil {
		return false, fmt.Errorf("processor: status of %s: %w", sig, err)
	}
	return status != nil, nil
}

// confirmLanded waits for a transaction that reached the ledger even though
// sending it reported an error.
func (p *Processor) confirmLanded(ctx context.Context, req Request, built *builder.Built) (*Result, error) {
	result := newResult(req, built)
	result.Signature = built.Tx.ID()
	status, err := p.submitter.Confirm(ctx, result.Signature)
	if status != nil {
		result.Slot = status.Slot
	}
	if err != nil {
		return result, err
	}
	p.logConfirmed(result)
	return result, nil
}

func newResult(req Request, built *builder.Built) *Result {
	return &Result{
		Kind:     req.Command.Kind(),
		Fee:      built.Fee,
		Amount:   built.Amount,
		Contract: built.Contract,
	}
}

func (p *Processor) logConfirmed(result *Result) {
	p.logger.Info("command confirmed",
		slog.String("command", result.Kind),
		slog.String("signature", result.Signature.String()),
		slog.Uint64("slot", result.Slot),
		slog.Uint64("fee", result.Fee))
}

func (p *Processor) resolve(ctx context.Context, query blockhash.Query) (*blockhash.Resolved, error) {
	ctx, span := p.tracer.Start(ctx, "processor.resolve")
	defer span.End()
	resolved, err := blockhash.NewResolver(p.client, p.commitment).Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("blockhash", resolved.Blockhash.String()))
	return resolved, nil
}

func (p *Processor) build(ctx context.Context, req Request, resolved *blockhash.Resolved, inputs builder.Inputs) (*builder.Built, error) {
	_, span := p.tracer.Start(ctx, "processor.build")
	defer span.End()
	built, err := builder.Build(req.Command, resolved, req.FeePayer.Address(), inputs)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("fee", int64(built.Fee)),
		attribute.Int("signers", len(built.Signers)),
	)
	return built, nil
}

// inputs samples balances of the fee payer and every debited account, and
// the rent minimum when a nonce account is created.
func (p *Processor) inputs(ctx context.Context, req Request) (builder.Inputs, error) {
	addrs := append([]crypto.Address{req.FeePayer.Address()}, builder.Debits(req.Command)...)
	inputs := builder.Inputs{Balances: make(map[crypto.Address]uint64, len(addrs))}
	for _, addr := range addrs {
		if _, done := inputs.Balances[addr]; done {
			continue
		}
		balance, err := p.client.GetBalance(ctx, addr, p.commitment)
		if err != nil {
			return builder.Inputs{}, fmt.Errorf("processor: balance of %s: %w", addr, err)
		}
		inputs.Balances[addr] = balance
	}
	if _, ok := req.Command.(*builder.CreateNonceAccount); ok {
		minimum, err := p.client.GetMinimumBalanceForRentExemption(ctx, system.NonceStateSize)
		if err != nil {
			return builder.Inputs{}, fmt.Errorf("processor: rent minimum: %w", err)
		}
		inputs.RentExemptMinimum = minimum
	}
	return inputs, nil
}

// checkFee re-reads the fee rate for the blockhash the transaction was built
// against.
func (p *Processor) checkFee(ctx context.Context, query blockhash.Query, resolved *blockhash.Resolved) error {
	if resolved.FeeCalculator == nil {
		return nil
	}
	source := blockhash.Source(blockhash.Cluster{})
	switch q := query.(type) {
	case blockhash.Fetch:
		source = q.Source
	case blockhash.Validated:
		source = q.Source
	}
	current, err := p.resolve(ctx, blockhash.Validated{Source: source, Blockhash: resolved.Blockhash})
	if err != nil {
		return err
	}
	if current.FeeCalculator == nil || *current.FeeCalculator != *resolved.FeeCalculator {
		return fmt.Errorf("%w: built at %d lamports per signature", ErrFeeChanged, resolved.FeeCalculator.LamportsPerSignature)
	}
	return nil
}

func (p *Processor) signers(req Request) []crypto.Signer {
	return append([]crypto.Signer{req.FeePayer}, req.Signers...)
}

func cmdSpendsAll(cmd builder.Command) bool {
	switch c := cmd.(type) {
	case *builder.Transfer:
		return c.Amount.IsAll()
	case *builder.ConditionalPay:
		return c.Amount.IsAll()
	case *builder.CreateNonceAccount:
		return c.Amount.IsAll()
	}
	return false
}

// RequestAndConfirmAirdrop asks faucet for lamports and waits until the
// funding transaction is confirmed.
func (p *Processor) RequestAndConfirmAirdrop(ctx context.Context, faucet ledger.Faucet, addr crypto.Address, lamports uint64) (crypto.Signature, error) {
	ctx, span := p.tracer.Start(ctx, "processor.airdrop")
	defer span.End()
	if faucet == nil || p.submitter == nil {
		return crypto.Signature{}, fmt.Errorf("processor: airdrop needs a faucet and a ledger connection")
	}
	start := time.Now()
	sig, err := faucet.RequestAirdrop(ctx, addr, lamports)
	if err == nil {
		_, err = p.submitter.Confirm(ctx, sig)
	}
	p.metrics.Observe("airdrop", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sig, fmt.Errorf("processor: airdrop to %s: %w", addr, err)
	}
	p.logger.Info("airdrop confirmed", slog.String("recipient", addr.String()), slog.Uint64("lamports", lamports), slog.String("signature", sig.String()))
	return sig, nil
}

// Confirmed loads a landed transaction for status reporting. It returns nil,
// nil when the signature is unknown.
func (p *Processor) Confirmed(ctx context.Context, sig crypto.Signature) (*ledger.ConfirmedTransaction, error) {
	if p.client == nil {
		return nil, fmt.Errorf("processor: no ledger connection")
	}
	return p.client.GetConfirmedTransaction(ctx, sig)
}
