package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerpay/blockhash"
	"ledgerpay/builder"
	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/localnet"
	"ledgerpay/native/escrow"
	"ledgerpay/observability"
	"ledgerpay/signer"
	"ledgerpay/submit"
)

const rate = 10

type env struct {
	net  *localnet.Ledger
	proc *Processor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	net, err := localnet.New(localnet.WithLamportsPerSignature(rate))
	require.NoError(t, err)
	return &env{net: net, proc: connect(net)}
}

func connect(client ledger.Client) *Processor {
	submitter := submit.NewController(client, submit.Config{
		PollInterval:   time.Millisecond,
		Timeout:        5 * time.Second,
		InitialBackoff: time.Millisecond,
	}, submit.WithMetrics(observability.NewSubmitMetrics(nil)))
	return New(client, submitter)
}

func (e *env) funded(t *testing.T, lamports uint64) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	if lamports > 0 {
		e.net.Fund(key.Address(), lamports)
	}
	return key
}

func (e *env) total(addrs ...crypto.Address) uint64 {
	var sum uint64
	for _, addr := range addrs {
		sum += e.net.Balance(addr)
	}
	return sum
}

func (e *env) pay(t *testing.T, from *crypto.PrivateKey, cmd *builder.ConditionalPay) *crypto.PrivateKey {
	t.Helper()
	contract := e.funded(t, 0)
	cmd.From = from.Address()
	cmd.Contract = contract.Address()
	res, err := e.proc.Process(context.Background(), Request{Command: cmd, FeePayer: from, Signers: []crypto.Signer{contract}})
	require.NoError(t, err)
	require.NotNil(t, res.Contract)
	require.Equal(t, contract.Address(), *res.Contract)
	return contract
}

func TestWitnessReleaseSignedOffline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob, witness := e.funded(t, 10_000), e.funded(t, 1_000), e.funded(t, 0)
	everyone := func(contract crypto.Address) uint64 {
		return e.total(alice.Address(), bob.Address(), witness.Address(), contract)
	}

	contract := e.pay(t, alice, &builder.ConditionalPay{
		Recipient: bob.Address(),
		Amount:    builder.Spend(5_000),
		Witnesses: []crypto.Address{witness.Address()},
	})
	require.EqualValues(t, 10_000-5_000-2*rate, e.net.Balance(alice.Address()))
	require.EqualValues(t, 5_000, e.net.Balance(contract.Address()))
	require.EqualValues(t, 11_000-2*rate, everyone(contract.Address()))

	hash, _, err := e.net.GetRecentBlockhash(ctx, ledger.CommitmentRecent)
	require.NoError(t, err)
	release := &builder.ReleaseByWitness{Witness: witness.Address(), Contract: contract.Address(), Recipient: bob.Address()}

	offline, err := New(nil, nil).Process(ctx, Request{
		Command:  release,
		FeePayer: signer.NewNullSigner(bob.Address()),
		Signers:  []crypto.Signer{witness},
		Query:    blockhash.Static{Blockhash: hash},
		SignOnly: true,
	})
	require.NoError(t, err)
	require.False(t, offline.Reply.AllSigned)
	require.Equal(t, []crypto.Address{bob.Address()}, offline.Reply.Absent())
	require.Zero(t, offline.Fee)

	text, err := offline.Reply.Encode()
	require.NoError(t, err)
	reply, err := signer.ParseReply(text)
	require.NoError(t, err)

	res, err := e.proc.Process(ctx, Request{
		Command:  release,
		FeePayer: bob,
		Query:    blockhash.Validated{Source: blockhash.Cluster{}, Blockhash: hash},
		Reply:    reply,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2*rate, res.Fee)
	require.EqualValues(t, 1_000+5_000-2*rate, e.net.Balance(bob.Address()))
	require.Zero(t, e.net.Balance(contract.Address()))
	require.EqualValues(t, 11_000-4*rate, everyone(contract.Address()))

	confirmed, err := e.proc.Confirmed(ctx, res.Signature)
	require.NoError(t, err)
	require.Len(t, confirmed.Meta.Events, 1)
	require.Equal(t, escrow.EventTypeReleased, confirmed.Meta.Events[0].Type)

	// The contract is closed: a second release cannot pay out again.
	_, err = e.proc.Process(ctx, Request{Command: release, FeePayer: bob, Signers: []crypto.Signer{witness}})
	var failed *submit.TransactionFailedError
	require.True(t, errors.As(err, &failed))
	require.EqualValues(t, 11_000-6*rate, everyone(contract.Address()))
}

func TestMergeWithoutOfflineSignatureFails(t *testing.T) {
	e := newEnv(t)
	alice, bob, witness := e.funded(t, 10_000), e.funded(t, 1_000), e.funded(t, 0)
	contract := e.pay(t, alice, &builder.ConditionalPay{
		Recipient: bob.Address(),
		Amount:    builder.Spend(5_000),
		Witnesses: []crypto.Address{witness.Address()},
	})

	_, err := e.proc.Process(context.Background(), Request{
		Command:  &builder.ReleaseByWitness{Witness: witness.Address(), Contract: contract.Address(), Recipient: bob.Address()},
		FeePayer: bob,
		Signers:  []crypto.Signer{signer.NewNullSigner(witness.Address())},
	})
	var missing *signer.MissingSignaturesError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []crypto.Address{witness.Address()}, missing.Signers)
	require.EqualValues(t, 1_000, e.net.Balance(bob.Address()))
}

func TestTimeRelease(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob, authority := e.funded(t, 10_000), e.funded(t, 1_000), e.funded(t, 0)
	contract := e.pay(t, alice, &builder.ConditionalPay{
		Recipient: bob.Address(),
		Amount:    builder.Spend(3_000),
		Time:      &escrow.TimeCondition{Threshold: 1_000, Authority: authority.Address()},
	})

	early := &builder.ReleaseByTime{Authority: authority.Address(), Contract: contract.Address(), Recipient: bob.Address(), Timestamp: 999}
	_, err := e.proc.Process(ctx, Request{Command: early, FeePayer: bob, Signers: []crypto.Signer{authority}})
	var failed *submit.TransactionFailedError
	require.True(t, errors.As(err, &failed))
	require.Contains(t, failed.Reason, "condition not met")
	require.EqualValues(t, 3_000, e.net.Balance(contract.Address()))
	require.EqualValues(t, 1_000-2*rate, e.net.Balance(bob.Address()))

	onTime := &builder.ReleaseByTime{Authority: authority.Address(), Contract: contract.Address(), Recipient: bob.Address(), Timestamp: 1_000}
	_, err = e.proc.Process(ctx, Request{Command: onTime, FeePayer: bob, Signers: []crypto.Signer{authority}})
	require.NoError(t, err)
	require.Zero(t, e.net.Balance(contract.Address()))
	require.EqualValues(t, 1_000-4*rate+3_000, e.net.Balance(bob.Address()))
}

func TestCancelWithSeparateFeePayer(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob, carol, witness := e.funded(t, 10_000), e.funded(t, 0), e.funded(t, 1_000), e.funded(t, 0)
	contract := e.pay(t, alice, &builder.ConditionalPay{
		Recipient:  bob.Address(),
		Amount:     builder.Spend(4_000),
		Witnesses:  []crypto.Address{witness.Address()},
		Cancelable: true,
	})

	res, err := e.proc.Process(ctx, Request{
		Command:  &builder.Cancel{Payer: alice.Address(), Contract: contract.Address()},
		FeePayer: carol,
		Signers:  []crypto.Signer{alice},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2*rate, res.Fee)
	require.EqualValues(t, 10_000-2*rate, e.net.Balance(alice.Address()))
	require.EqualValues(t, 1_000-2*rate, e.net.Balance(carol.Address()))
	require.Zero(t, e.net.Balance(bob.Address()))
	require.Zero(t, e.net.Balance(contract.Address()))
}

func TestCancelRequiresCancelableContract(t *testing.T) {
	e := newEnv(t)
	alice, bob, witness := e.funded(t, 10_000), e.funded(t, 0), e.funded(t, 0)
	contract := e.pay(t, alice, &builder.ConditionalPay{
		Recipient: bob.Address(),
		Amount:    builder.Spend(4_000),
		Witnesses: []crypto.Address{witness.Address()},
	})

	_, err := e.proc.Process(context.Background(), Request{
		Command:  &builder.Cancel{Payer: alice.Address(), Contract: contract.Address()},
		FeePayer: alice,
	})
	var failed *submit.TransactionFailedError
	require.True(t, errors.As(err, &failed))
	require.EqualValues(t, 4_000, e.net.Balance(contract.Address()))
}

func (e *env) createNonce(t *testing.T, from *crypto.PrivateKey) *crypto.PrivateKey {
	t.Helper()
	nonce := e.funded(t, 0)
	res, err := e.proc.Process(context.Background(), Request{
		Command:  &builder.CreateNonceAccount{From: from.Address(), NonceAccount: nonce.Address(), Authority: from.Address(), Amount: builder.Spend(2_080)},
		FeePayer: from,
		Signers:  []crypto.Signer{nonce},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2_080, res.Amount)
	return nonce
}

func TestCreateNonceAccount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.funded(t, 10_000)
	nonce := e.createNonce(t, alice)

	state, err := blockhash.FetchNonceState(ctx, e.net, nonce.Address(), ledger.CommitmentRecent)
	require.NoError(t, err)
	require.Equal(t, alice.Address(), state.Authority)
	require.EqualValues(t, rate, state.LamportsPerSignature)
	require.EqualValues(t, 10_000-2_080-2*rate, e.net.Balance(alice.Address()))

	_, err = e.proc.Process(ctx, Request{
		Command:  &builder.CreateNonceAccount{From: alice.Address(), NonceAccount: e.funded(t, 0).Address(), Authority: alice.Address(), Amount: builder.Spend(2_079)},
		FeePayer: alice,
	})
	require.ErrorIs(t, err, builder.ErrBelowRentExemption)
}

func TestDurableNonceCannotBeReused(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob := e.funded(t, 10_000), e.funded(t, 0)
	nonce := e.createNonce(t, alice)
	before, err := blockhash.FetchNonceState(ctx, e.net, nonce.Address(), ledger.CommitmentRecent)
	require.NoError(t, err)

	transfer := &builder.Transfer{From: alice.Address(), To: bob.Address(), Amount: builder.Spend(100)}
	offline, err := New(nil, nil).Process(ctx, Request{
		Command:  transfer,
		FeePayer: alice,
		Query: blockhash.Static{
			Blockhash: before.Blockhash,
			Nonce:     &blockhash.DurableNonce{Account: nonce.Address(), Authority: alice.Address()},
		},
		SignOnly: true,
	})
	require.NoError(t, err)
	require.True(t, offline.Reply.AllSigned)

	submitted := Request{
		Command:  transfer,
		FeePayer: signer.NewNullSigner(alice.Address()),
		Query:    blockhash.Validated{Source: blockhash.NonceAccount{Address: nonce.Address()}, Blockhash: before.Blockhash},
		Reply:    offline.Reply,
	}
	res, err := e.proc.Process(ctx, submitted)
	require.NoError(t, err)
	require.EqualValues(t, 100, e.net.Balance(bob.Address()))

	after, err := blockhash.FetchNonceState(ctx, e.net, nonce.Address(), ledger.CommitmentRecent)
	require.NoError(t, err)
	require.NotEqual(t, before.Blockhash, after.Blockhash)

	_, err = e.proc.Process(ctx, submitted)
	require.ErrorIs(t, err, ledger.ErrNonceMismatch)

	confirmed, err := e.proc.Confirmed(ctx, res.Signature)
	require.NoError(t, err)
	_, err = e.net.SendTransaction(ctx, confirmed.Transaction.Serialize())
	require.ErrorIs(t, err, ledger.ErrNonceMismatch)
	require.EqualValues(t, 100, e.net.Balance(bob.Address()))
}

// staleNonce serves an old copy of one account once, as a lagging node would.
type staleNonce struct {
	ledger.Client
	mu    sync.Mutex
	addr  crypto.Address
	stale *types.Account
}

func (c *staleNonce) GetAccount(ctx context.Context, addr crypto.Address, commitment ledger.Commitment) (*types.Account, error) {
	c.mu.Lock()
	stale := c.stale
	if addr == c.addr {
		c.stale = nil
	}
	c.mu.Unlock()
	if addr == c.addr && stale != nil {
		return stale, nil
	}
	return c.Client.GetAccount(ctx, addr, commitment)
}

func TestStaleNonceIsRebuiltOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob := e.funded(t, 10_000), e.funded(t, 0)
	nonce := e.createNonce(t, alice)
	snapshot, err := e.net.GetAccount(ctx, nonce.Address(), ledger.CommitmentRecent)
	require.NoError(t, err)

	query := blockhash.Fetch{Source: blockhash.NonceAccount{Address: nonce.Address()}}
	transfer := &builder.Transfer{From: alice.Address(), To: bob.Address(), Amount: builder.Spend(100)}
	res, err := e.proc.Process(ctx, Request{Command: transfer, FeePayer: alice, Query: query})
	require.NoError(t, err)
	require.False(t, res.Rebuilt)

	lagging := &staleNonce{Client: e.net, addr: nonce.Address(), stale: snapshot}
	res, err = connect(lagging).Process(ctx, Request{Command: transfer, FeePayer: alice, Query: query})
	require.NoError(t, err)
	require.True(t, res.Rebuilt)
	require.EqualValues(t, 200, e.net.Balance(bob.Address()))
}

// droppedAck lets the first send reach the ledger but answers it with err, as
// when the node's response is lost or it reports a replay after applying.
type droppedAck struct {
	ledger.Client
	err  error
	sent bool
}

func (c *droppedAck) SendTransaction(ctx context.Context, raw []byte) (crypto.Signature, error) {
	sig, err := c.Client.SendTransaction(ctx, raw)
	if !c.sent && err == nil {
		c.sent = true
		return crypto.Signature{}, c.err
	}
	return sig, err
}

func TestLostSendResponseWithDurableNoncePaysOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob := e.funded(t, 10_000), e.funded(t, 0)
	nonce := e.createNonce(t, alice)
	before := e.net.Balance(alice.Address())

	flaky := &droppedAck{Client: e.net, err: &ledger.TransientError{Err: ledger.ErrBusy}}
	res, err := connect(flaky).Process(ctx, Request{
		Command:  &builder.Transfer{From: alice.Address(), To: bob.Address(), Amount: builder.Spend(100)},
		FeePayer: alice,
		Query:    blockhash.Fetch{Source: blockhash.NonceAccount{Address: nonce.Address()}},
	})
	require.NoError(t, err)
	require.False(t, res.Rebuilt)
	require.EqualValues(t, 100, e.net.Balance(bob.Address()))
	require.Equal(t, before-100-res.Fee, e.net.Balance(alice.Address()))
}

func TestNonceMismatchForLandedPayloadIsNotRebuilt(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob := e.funded(t, 10_000), e.funded(t, 0)
	nonce := e.createNonce(t, alice)

	replayed := &droppedAck{Client: e.net, err: ledger.ErrNonceMismatch}
	res, err := connect(replayed).Process(ctx, Request{
		Command:  &builder.Transfer{From: alice.Address(), To: bob.Address(), Amount: builder.Spend(100)},
		FeePayer: alice,
		Query:    blockhash.Fetch{Source: blockhash.NonceAccount{Address: nonce.Address()}},
	})
	require.NoError(t, err)
	require.False(t, res.Rebuilt)
	require.False(t, res.Signature.IsZero())
	require.EqualValues(t, 100, e.net.Balance(bob.Address()))

	status, err := e.net.GetSignatureStatus(ctx, res.Signature)
	require.NoError(t, err)
	require.NotNil(t, status)
}

// offlineConditionalPay signs a conditional payment as the payer only,
// leaving the contract slot for the online side.
func (e *env) offlineConditionalPay(t *testing.T, cmd *builder.ConditionalPay, payer, contract *crypto.PrivateKey) (crypto.Hash, *signer.Reply) {
	t.Helper()
	ctx := context.Background()
	hash, _, err := e.net.GetRecentBlockhash(ctx, ledger.CommitmentRecent)
	require.NoError(t, err)
	offline, err := New(nil, nil).Process(ctx, Request{
		Command:  cmd,
		FeePayer: payer,
		Signers:  []crypto.Signer{signer.NewNullSigner(contract.Address())},
		Query:    blockhash.Static{Blockhash: hash},
		SignOnly: true,
	})
	require.NoError(t, err)
	require.False(t, offline.Reply.AllSigned)
	require.Equal(t, []crypto.Address{contract.Address()}, offline.Reply.Absent())

	text, err := offline.Reply.Encode()
	require.NoError(t, err)
	reply, err := signer.ParseReply(text)
	require.NoError(t, err)
	return hash, reply
}

func TestOfflineConditionalPayConservesFunds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob, witness, contract := e.funded(t, 10_000), e.funded(t, 1_000), e.funded(t, 100), e.funded(t, 0)
	aliceBefore, bobBefore := e.net.Balance(alice.Address()), e.net.Balance(bob.Address())

	pay := &builder.ConditionalPay{
		From:      alice.Address(),
		Recipient: bob.Address(),
		Contract:  contract.Address(),
		Amount:    builder.Spend(5_000),
		Witnesses: []crypto.Address{witness.Address()},
	}
	hash, reply := e.offlineConditionalPay(t, pay, alice, contract)

	res, err := e.proc.Process(ctx, Request{
		Command:  pay,
		FeePayer: signer.NewNullSigner(alice.Address()),
		Signers:  []crypto.Signer{contract},
		Query:    blockhash.Validated{Source: blockhash.Cluster{}, Blockhash: hash},
		Reply:    reply,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Contract)
	require.Equal(t, contract.Address(), *res.Contract)
	require.EqualValues(t, 5_000, e.net.Balance(contract.Address()))

	_, err = e.proc.Process(ctx, Request{
		Command:  &builder.ReleaseByWitness{Witness: witness.Address(), Contract: contract.Address(), Recipient: bob.Address()},
		FeePayer: witness,
	})
	require.NoError(t, err)

	require.Equal(t, aliceBefore-5_000-res.Fee, e.net.Balance(alice.Address()))
	require.Zero(t, e.net.Balance(contract.Address()))
	require.Equal(t, bobBefore+5_000, e.net.Balance(bob.Address()))
}

func TestReplyForDifferentMessageIsRefused(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob, witness, contract := e.funded(t, 10_000), e.funded(t, 0), e.funded(t, 0), e.funded(t, 0)

	pay := &builder.ConditionalPay{
		From:      alice.Address(),
		Recipient: bob.Address(),
		Contract:  contract.Address(),
		Amount:    builder.Spend(5_000),
		Witnesses: []crypto.Address{witness.Address()},
	}
	hash, reply := e.offlineConditionalPay(t, pay, alice, contract)

	changed := *pay
	changed.Amount = builder.Spend(9_000)
	_, err := e.proc.Process(ctx, Request{
		Command:  &changed,
		FeePayer: signer.NewNullSigner(alice.Address()),
		Signers:  []crypto.Signer{contract},
		Query:    blockhash.Validated{Source: blockhash.Cluster{}, Blockhash: hash},
		Reply:    reply,
	})
	require.ErrorIs(t, err, signer.ErrDigestMismatch)
	require.EqualValues(t, 10_000, e.net.Balance(alice.Address()))
	require.Zero(t, e.net.Balance(contract.Address()))
}

func TestWitnessReleasesContractWithTimeCondition(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob, witness, clock := e.funded(t, 10_000), e.funded(t, 0), e.funded(t, 100), e.funded(t, 100)

	contract := e.pay(t, alice, &builder.ConditionalPay{
		Recipient: bob.Address(),
		Amount:    builder.Spend(5_000),
		Time:      &escrow.TimeCondition{Threshold: 1_000, Authority: clock.Address()},
		Witnesses: []crypto.Address{witness.Address()},
	})

	_, err := e.proc.Process(ctx, Request{
		Command:  &builder.ReleaseByWitness{Witness: witness.Address(), Contract: contract.Address(), Recipient: bob.Address()},
		FeePayer: witness,
	})
	require.NoError(t, err)
	require.EqualValues(t, 5_000, e.net.Balance(bob.Address()))
	require.Zero(t, e.net.Balance(contract.Address()))

	_, err = e.proc.Process(ctx, Request{
		Command:  &builder.ReleaseByTime{Authority: clock.Address(), Contract: contract.Address(), Recipient: bob.Address(), Timestamp: 2_000},
		FeePayer: clock,
	})
	var failed *submit.TransactionFailedError
	require.True(t, errors.As(err, &failed))
	require.EqualValues(t, 5_000, e.net.Balance(bob.Address()))
}

func TestSpendAll(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.funded(t, 10_000), e.funded(t, 0)

	res, err := e.proc.Process(context.Background(), Request{
		Command:  &builder.Transfer{From: alice.Address(), To: bob.Address(), Amount: builder.SpendAll()},
		FeePayer: alice,
	})
	require.NoError(t, err)
	require.EqualValues(t, 10_000-rate, res.Amount)
	require.Zero(t, e.net.Balance(alice.Address()))
	require.EqualValues(t, 10_000-rate, e.net.Balance(bob.Address()))
}

// feeDrift reports a different fee rate when a blockhash is revalidated.
type feeDrift struct {
	ledger.Client
}

func (c feeDrift) GetFeeCalculatorForBlockhash(ctx context.Context, hash crypto.Hash) (ledger.FeeCalculator, error) {
	calc, err := c.Client.GetFeeCalculatorForBlockhash(ctx, hash)
	calc.LamportsPerSignature++
	return calc, err
}

func TestSpendAllRejectsFeeChange(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.funded(t, 10_000), e.funded(t, 0)

	_, err := connect(feeDrift{Client: e.net}).Process(context.Background(), Request{
		Command:  &builder.Transfer{From: alice.Address(), To: bob.Address(), Amount: builder.SpendAll()},
		FeePayer: alice,
	})
	require.ErrorIs(t, err, ErrFeeChanged)
	require.EqualValues(t, 10_000, e.net.Balance(alice.Address()))

	_, err = connect(feeDrift{Client: e.net}).Process(context.Background(), Request{
		Command:  &builder.Transfer{From: alice.Address(), To: bob.Address(), Amount: builder.Spend(100)},
		FeePayer: alice,
	})
	require.NoError(t, err)
}

func TestInsufficientFunds(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.funded(t, 100), e.funded(t, 0)
	_, err := e.proc.Process(context.Background(), Request{
		Command:  &builder.Transfer{From: alice.Address(), To: bob.Address(), Amount: builder.Spend(100)},
		FeePayer: alice,
	})
	require.ErrorIs(t, err, builder.ErrInsufficientFunds)
}

func TestOfflineProcessorNeedsStaticBlockhash(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	transfer := &builder.Transfer{From: key.Address(), To: crypto.Address{2}, Amount: builder.Spend(1)}
	offline := New(nil, nil)

	_, err = offline.Process(context.Background(), Request{Command: transfer, FeePayer: key, SignOnly: true})
	require.Error(t, err)
	_, err = offline.Process(context.Background(), Request{Command: transfer, FeePayer: key})
	require.Error(t, err)

	_, err = offline.Process(context.Background(), Request{
		Command:  &builder.Transfer{From: key.Address(), To: crypto.Address{2}, Amount: builder.SpendAll()},
		FeePayer: key,
		Query:    blockhash.Static{Blockhash: crypto.HashData([]byte("offline"))},
		SignOnly: true,
	})
	require.ErrorIs(t, err, builder.ErrSpendAllOffline)
}

func TestRequestAndConfirmAirdrop(t *testing.T) {
	e := newEnv(t)
	addr := crypto.Address{42}
	sig, err := e.proc.RequestAndConfirmAirdrop(context.Background(), e.net, addr, 500)
	require.NoError(t, err)
	require.False(t, sig.IsZero())
	require.EqualValues(t, 500, e.net.Balance(addr))
}
