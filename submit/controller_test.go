package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/localnet"
	"ledgerpay/native/system"
	"ledgerpay/observability"
	"ledgerpay/storage"
)

type harness struct {
	net     *localnet.Ledger
	payer   *crypto.PrivateKey
	reg     *prometheus.Registry
	metrics *observability.SubmitMetrics
	journal *storage.Journal
}

func newHarness(t *testing.T, opts ...localnet.Option) *harness {
	t.Helper()
	opts = append([]localnet.Option{localnet.WithLamportsPerSignature(10)}, opts...)
	net, err := localnet.New(opts...)
	require.NoError(t, err)
	payer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	net.Fund(payer.Address(), 10_000)
	reg := prometheus.NewRegistry()
	return &harness{
		net:     net,
		payer:   payer,
		reg:     reg,
		metrics: observability.NewSubmitMetrics(reg),
		journal: storage.NewJournal(storage.NewMemDB()),
	}
}

func (h *harness) controller(client ledger.Client, cfg Config) *Controller {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	cfg.InitialBackoff = time.Millisecond
	return NewController(client, cfg, WithJournal(h.journal), WithMetrics(h.metrics))
}

func (h *harness) transfer(t *testing.T, to crypto.Address, lamports uint64) *types.Transaction {
	t.Helper()
	payer := h.payer.Address()
	msg, err := types.NewMessage([]types.Instruction{system.Transfer(payer, to, lamports)}, &payer)
	require.NoError(t, err)
	blockhash, _, err := h.net.GetRecentBlockhash(context.Background(), ledger.CommitmentRecent)
	require.NoError(t, err)
	msg.RecentBlockhash = blockhash
	tx := types.NewTransaction(msg)
	require.NoError(t, tx.AddSignature(payer, h.payer.SignMessage(tx.MessageBytes())))
	return tx
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, labelName, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == labelName && pair.GetValue() == labelValue {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSubmitRetriesTransientSends(t *testing.T) {
	h := newHarness(t)
	to := crypto.Address{7}
	h.net.FailNextSends(2)

	sig, err := h.controller(h.net, Config{}).Submit(context.Background(), h.transfer(t, to, 100), WithKind("transfer"))
	require.NoError(t, err)
	require.EqualValues(t, 100, h.net.Balance(to))
	require.EqualValues(t, 10_000-100-10, h.net.Balance(h.payer.Address()))

	entry, err := h.journal.Get(sig)
	require.NoError(t, err)
	require.Equal(t, storage.StatusConfirmed, entry.Status)
	require.Equal(t, 3, entry.Attempts)
	require.Equal(t, "transfer", entry.Kind)

	require.Equal(t, 2.0, counterValue(t, h.reg, "ledgerpay_submit_send_attempts_total", "result", "transient"))
	require.Equal(t, 1.0, counterValue(t, h.reg, "ledgerpay_submit_send_attempts_total", "result", "ok"))
	require.Equal(t, 1.0, counterValue(t, h.reg, "ledgerpay_submit_outcomes_total", "outcome", "confirmed"))
}

func TestSubmitGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.net.FailNextSends(10)
	tx := h.transfer(t, crypto.Address{7}, 100)

	_, err := h.controller(h.net, Config{MaxSendAttempts: 3}).Submit(context.Background(), tx)
	require.Error(t, err)
	require.True(t, ledger.IsTransient(err))
	require.ErrorIs(t, err, ledger.ErrBusy)

	entry, err := h.journal.Get(tx.ID())
	require.NoError(t, err)
	require.Equal(t, storage.StatusRejected, entry.Status)
	require.Equal(t, 3, entry.Attempts)
}

func TestSubmitDoesNotRetryPermanentRejection(t *testing.T) {
	h := newHarness(t)
	tx := h.transfer(t, crypto.Address{7}, 100)
	h.net.AdvanceBlockhash()
	h.net.ExpireBlockhashes()

	_, err := h.controller(h.net, Config{}).Submit(context.Background(), tx)
	require.ErrorIs(t, err, ledger.ErrBlockhashNotFound)
	require.Equal(t, 1.0, counterValue(t, h.reg, "ledgerpay_submit_send_attempts_total", "result", "rejected"))
	require.Zero(t, counterValue(t, h.reg, "ledgerpay_submit_send_attempts_total", "result", "transient"))
}

func TestSubmitRejectsUnsignedTransaction(t *testing.T) {
	h := newHarness(t)
	tx := h.transfer(t, crypto.Address{7}, 100)
	tx.Signatures[0] = crypto.Signature{}

	_, err := h.controller(h.net, Config{}).Submit(context.Background(), tx)
	require.ErrorIs(t, err, types.ErrSignatureVerification)
}

func TestConfirmWaitsForCommitment(t *testing.T) {
	h := newHarness(t, localnet.WithPendingPolls(3))
	tx := h.transfer(t, crypto.Address{7}, 100)

	outcome, err := h.controller(h.net, Config{Commitment: ledger.CommitmentFinalized}).SubmitAndWait(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.ID(), outcome.Signature)
	require.NotZero(t, outcome.Slot)
	polls, err := h.reg.Gather()
	require.NoError(t, err)
	for _, family := range polls {
		if family.GetName() == "ledgerpay_submit_status_polls_total" {
			require.GreaterOrEqual(t, family.GetMetric()[0].GetCounter().GetValue(), 4.0)
		}
	}

	h.net.SetPendingPolls(5)
	tx = h.transfer(t, crypto.Address{8}, 100)
	_, err = h.controller(h.net, Config{Commitment: ledger.CommitmentRecent}).Submit(context.Background(), tx)
	require.NoError(t, err)
}

func TestConfirmTimeout(t *testing.T) {
	h := newHarness(t, localnet.WithPendingPolls(1_000_000))
	tx := h.transfer(t, crypto.Address{7}, 100)

	sig, err := h.controller(h.net, Config{Timeout: 20 * time.Millisecond}).Submit(context.Background(), tx)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, tx.ID(), sig)

	entry, err := h.journal.Get(sig)
	require.NoError(t, err)
	require.Equal(t, storage.StatusTimedOut, entry.Status)
}

func TestSubmitReportsLedgerFailure(t *testing.T) {
	h := newHarness(t)
	tx := h.transfer(t, crypto.Address{7}, 1_000_000)

	sig, err := h.controller(h.net, Config{}).Submit(context.Background(), tx)
	var failed *TransactionFailedError
	require.True(t, errors.As(err, &failed))
	require.Equal(t, sig, failed.Signature)
	require.NotEmpty(t, failed.Reason)

	var ledgerErr *ledger.TransactionError
	require.True(t, errors.As(err, &ledgerErr))
	require.Equal(t, 0, ledgerErr.InstructionIndex)

	require.EqualValues(t, 10_000-10, h.net.Balance(h.payer.Address()))
	entry, err := h.journal.Get(sig)
	require.NoError(t, err)
	require.Equal(t, storage.StatusFailed, entry.Status)
}

// lostReply delivers the first send but reports a transient error, the way a
// dropped HTTP response looks to the client.
type lostReply struct {
	ledger.Client
	dropped bool
}

func (c *lostReply) SendTransaction(ctx context.Context, raw []byte) (crypto.Signature, error) {
	sig, err := c.Client.SendTransaction(ctx, raw)
	if !c.dropped {
		c.dropped = true
		return crypto.Signature{}, &ledger.TransientError{Err: errors.New("connection reset")}
	}
	return sig, err
}

func TestResendOfDeliveredTransactionCountsAsSent(t *testing.T) {
	h := newHarness(t)
	to := crypto.Address{7}
	tx := h.transfer(t, to, 100)

	sig, err := h.controller(&lostReply{Client: h.net}, Config{}).Submit(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.ID(), sig)
	require.EqualValues(t, 100, h.net.Balance(to))
	require.Equal(t, 1.0, counterValue(t, h.reg, "ledgerpay_submit_send_attempts_total", "result", "duplicate"))
}

// expiringReply drops the first send response and then expires every
// blockhash, so the resend is refused before the ledger looks for duplicates.
type expiringReply struct {
	lostReply
	net *localnet.Ledger
}

func (c *expiringReply) SendTransaction(ctx context.Context, raw []byte) (crypto.Signature, error) {
	first := !c.dropped
	sig, err := c.lostReply.SendTransaction(ctx, raw)
	if first {
		c.net.AdvanceBlockhash()
		c.net.ExpireBlockhashes()
	}
	return sig, err
}

func TestRefusedResendOfLandedTransactionCountsAsSent(t *testing.T) {
	h := newHarness(t)
	to := crypto.Address{8}
	tx := h.transfer(t, to, 100)

	client := &expiringReply{lostReply: lostReply{Client: h.net}, net: h.net}
	sig, err := h.controller(client, Config{}).Submit(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.ID(), sig)
	require.EqualValues(t, 100, h.net.Balance(to))
	require.Equal(t, 1.0, counterValue(t, h.reg, "ledgerpay_submit_send_attempts_total", "result", "duplicate"))
	require.Zero(t, counterValue(t, h.reg, "ledgerpay_submit_send_attempts_total", "result", "rejected"))
}
