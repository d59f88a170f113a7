// Package client implements ledger.Client over the JSON-RPC endpoint served by
// package rpc.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/rpc"
)

const (
	jsonRPCVersion        = "2.0"
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 1024
)

// Client wraps a JSON-RPC endpoint and exposes it as a ledger.Client.
type Client struct {
	endpoint   string
	httpClient *http.Client
	authToken  string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	nextID     atomic.Int64
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAuthToken sets the bearer token attached to privileged RPC requests.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithRateLimit throttles outgoing calls. Calls wait for a token rather than
// failing.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithCircuitBreaker trips after repeated transient failures so callers back
// off from an unhealthy node instead of hammering it.
func WithCircuitBreaker(settings gobreaker.Settings) Option {
	return func(c *Client) {
		if settings.Name == "" {
			settings.Name = "ledger-rpc"
		}
		if settings.IsSuccessful == nil {
			settings.IsSuccessful = func(err error) bool {
				return err == nil || !ledger.IsTransient(err)
			}
		}
		c.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

// New initialises a client bound to the provided JSON-RPC endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("client: endpoint required")
	}
	c := &Client{
		endpoint: trimmed,
		httpClient: &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c, nil
}

func (c *Client) GetRecentBlockhash(ctx context.Context, commitment ledger.Commitment) (crypto.Hash, ledger.FeeCalculator, error) {
	var out rpc.BlockhashResult
	found, err := c.call(ctx, rpc.MethodGetRecentBlockhash, []interface{}{rpc.CommitmentConfig{Commitment: commitment}}, false, &out)
	if err != nil {
		return crypto.Hash{}, ledger.FeeCalculator{}, err
	}
	if !found {
		return crypto.Hash{}, ledger.FeeCalculator{}, fmt.Errorf("client: %s returned no result", rpc.MethodGetRecentBlockhash)
	}
	return out.Blockhash, out.FeeCalculator, nil
}

func (c *Client) GetFeeCalculatorForBlockhash(ctx context.Context, blockhash crypto.Hash) (ledger.FeeCalculator, error) {
	var out rpc.FeeCalculatorResult
	found, err := c.call(ctx, rpc.MethodGetFeeCalculatorForBlockhash, []interface{}{blockhash}, false, &out)
	if err != nil {
		return ledger.FeeCalculator{}, err
	}
	if !found {
		return ledger.FeeCalculator{}, fmt.Errorf("%w: %s", ledger.ErrBlockhashNotFound, blockhash)
	}
	return out.FeeCalculator, nil
}

func (c *Client) GetAccount(ctx context.Context, addr crypto.Address, commitment ledger.Commitment) (*types.Account, error) {
	var out rpc.AccountResult
	found, err := c.call(ctx, rpc.MethodGetAccountInfo, []interface{}{addr, rpc.CommitmentConfig{Commitment: commitment}}, false, &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	return out.Account()
}

func (c *Client) GetBalance(ctx context.Context, addr crypto.Address, commitment ledger.Commitment) (uint64, error) {
	var out uint64
	if _, err := c.call(ctx, rpc.MethodGetBalance, []interface{}{addr, rpc.CommitmentConfig{Commitment: commitment}}, false, &out); err != nil {
		return 0, err
	}
	return out, nil
}

func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, size int) (uint64, error) {
	var out uint64
	if _, err := c.call(ctx, rpc.MethodGetMinimumBalanceForRentExemption, []interface{}{size}, false, &out); err != nil {
		return 0, err
	}
	return out, nil
}

func (c *Client) SendTransaction(ctx context.Context, raw []byte) (crypto.Signature, error) {
	var out crypto.Signature
	found, err := c.call(ctx, rpc.MethodSendTransaction, []interface{}{base64.StdEncoding.EncodeToString(raw)}, false, &out)
	if err != nil {
		return crypto.Signature{}, err
	}
	if !found {
		return crypto.Signature{}, fmt.Errorf("client: %s returned no signature", rpc.MethodSendTransaction)
	}
	return out, nil
}

func (c *Client) GetSignatureStatus(ctx context.Context, sig crypto.Signature) (*ledger.SignatureStatus, error) {
	var out ledger.SignatureStatus
	found, err := c.call(ctx, rpc.MethodGetSignatureStatus, []interface{}{sig}, false, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetConfirmedTransaction(ctx context.Context, sig crypto.Signature) (*ledger.ConfirmedTransaction, error) {
	var out rpc.ConfirmedTransactionResult
	found, err := c.call(ctx, rpc.MethodGetConfirmedTransaction, []interface{}{sig}, false, &out)
	if err != nil || !found {
		return nil, err
	}
	return out.ConfirmedTransaction()
}

// RequestAirdrop asks the node's faucet to fund addr. Requires an auth token
// when the node enforces one.
func (c *Client) RequestAirdrop(ctx context.Context, addr crypto.Address, lamports uint64) (crypto.Signature, error) {
	var out crypto.Signature
	found, err := c.call(ctx, rpc.MethodRequestAirdrop, []interface{}{addr, lamports}, c.authToken != "", &out)
	if err != nil {
		return crypto.Signature{}, err
	}
	if !found {
		return crypto.Signature{}, fmt.Errorf("client: %s returned no signature", rpc.MethodRequestAirdrop)
	}
	return out, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc,omitempty"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip. found is false when the node answered
// with a null result.
func (c *Client) call(ctx context.Context, method string, params []interface{}, requireAuth bool, out interface{}) (bool, error) {
	if requireAuth && c.authToken == "" {
		return false, fmt.Errorf("client: auth token required for %s", method)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("client: rate limit wait: %w", err)
		}
	}
	var result json.RawMessage
	roundTrip := func() (interface{}, error) {
		raw, err := c.do(ctx, method, params, requireAuth)
		if err != nil {
			return nil, err
		}
		result = raw
		return nil, nil
	}
	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(roundTrip)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &ledger.TransientError{Err: fmt.Errorf("client: %s: %w", method, err)}
		}
	} else {
		_, err = roundTrip()
	}
	if err != nil {
		return false, err
	}
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return false, fmt.Errorf("client: decode %s result: %w", method, err)
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, method string, params []interface{}, requireAuth bool) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	payload := rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("client: encode rpc payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("client: %s: %w", method, ctx.Err())
		}
		return nil, &ledger.TransientError{Err: fmt.Errorf("client: rpc call failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ledger.TransientError{Err: fmt.Errorf("client: read response: %w", err)}
	}
	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, statusError(resp.StatusCode, raw, err)
	}
	if decoded.Error != nil {
		return nil, decodeError(method, decoded.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw, nil)
	}
	return decoded.Result, nil
}

func statusError(status int, body []byte, decodeErr error) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := fmt.Errorf("client: rpc error status %d: %s", status, strings.TrimSpace(string(body)))
	if status == http.StatusOK && decodeErr != nil {
		return fmt.Errorf("client: decode rpc response: %w", decodeErr)
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return &ledger.TransientError{Err: err}
	}
	return err
}

// decodeError maps node error codes back onto the ledger sentinels.
func decodeError(method string, e *rpcError) error {
	detail := fmt.Sprintf("%s: %s", method, e.Message)
	switch e.Code {
	case rpc.CodeTransactionFailed:
		var txErr ledger.TransactionError
		if len(e.Data) > 0 && json.Unmarshal(e.Data, &txErr) == nil {
			return &txErr
		}
		return &ledger.TransactionError{InstructionIndex: -1, Reason: e.Message}
	case rpc.CodeNonceMismatch:
		return fmt.Errorf("%w: %s", ledger.ErrNonceMismatch, detail)
	case rpc.CodeBlockhashNotFound:
		return fmt.Errorf("%w: %s", ledger.ErrBlockhashNotFound, detail)
	case rpc.CodeAlreadyProcessed:
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyProcessed, detail)
	case rpc.CodeInvalidSignature:
		return fmt.Errorf("%w: %s", ledger.ErrInvalidSignature, detail)
	case rpc.CodeNodeBusy, rpc.CodeRateLimited:
		return &ledger.TransientError{Err: fmt.Errorf("%w: %s", ledger.ErrBusy, detail)}
	default:
		return fmt.Errorf("client: rpc error %d: %s", e.Code, detail)
	}
}

var (
	_ ledger.Client = (*Client)(nil)
	_ ledger.Faucet = (*Client)(nil)
)
