package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/localnet"
)

type decodedResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func post(t *testing.T, handler http.Handler, body string, header http.Header) (*httptest.ResponseRecorder, decodedResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:4321"
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var decoded decodedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func newLocalnet(t *testing.T) *localnet.Ledger {
	t.Helper()
	l, err := localnet.New(localnet.WithLamportsPerSignature(10))
	require.NoError(t, err)
	return l
}

func TestGetRecentBlockhashAndFeeCalculator(t *testing.T) {
	l := newLocalnet(t)
	handler := NewServer(l).Handler()

	_, resp := post(t, handler, `{"jsonrpc":"2.0","id":1,"method":"getRecentBlockhash","params":[{"commitment":"recent"}]}`, nil)
	require.Nil(t, resp.Error)
	var result BlockhashResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.EqualValues(t, 10, result.FeeCalculator.LamportsPerSignature)

	body, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 2, "method": MethodGetFeeCalculatorForBlockhash, "params": []interface{}{result.Blockhash}})
	require.NoError(t, err)
	_, resp = post(t, handler, string(body), nil)
	require.Nil(t, resp.Error)
	require.JSONEq(t, `{"feeCalculator":{"lamportsPerSignature":10}}`, string(resp.Result))

	body, err = json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 3, "method": MethodGetFeeCalculatorForBlockhash, "params": []interface{}{crypto.Hash{1}}})
	require.NoError(t, err)
	_, resp = post(t, handler, string(body), nil)
	require.Nil(t, resp.Error)
	require.Equal(t, "null", string(resp.Result))
}

func TestGetAccountInfoReturnsNullForMissingAccount(t *testing.T) {
	l := newLocalnet(t)
	addr := crypto.Address{5}
	handler := NewServer(l).Handler()

	body := `{"jsonrpc":"2.0","id":1,"method":"getAccountInfo","params":["` + addr.String() + `"]}`
	_, resp := post(t, handler, body, nil)
	require.Nil(t, resp.Error)
	require.Equal(t, "null", string(resp.Result))

	l.Fund(addr, 77)
	_, resp = post(t, handler, body, nil)
	require.Nil(t, resp.Error)
	var acct AccountResult
	require.NoError(t, json.Unmarshal(resp.Result, &acct))
	require.EqualValues(t, 77, acct.Lamports)
}

func TestRequestErrors(t *testing.T) {
	handler := NewServer(newLocalnet(t)).Handler()

	rec, resp := post(t, handler, `{`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeParseError, resp.Error.Code)

	rec, resp = post(t, handler, `{"jsonrpc":"2.0","id":1,"method":"nope"}`, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)

	rec, resp = post(t, handler, `{"jsonrpc":"2.0","id":1,"method":"getBalance","params":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)

	rec, resp = post(t, handler, `{"jsonrpc":"2.0","id":1,"method":"sendTransaction","params":["!!!"]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestOversizedBodyRejected(t *testing.T) {
	handler := NewServer(newLocalnet(t)).Handler()
	big := bytes.Repeat([]byte("a"), maxRequestBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSendTransactionMapsLedgerErrors(t *testing.T) {
	l := newLocalnet(t)
	l.FailNextSends(1)
	handler := NewServer(l).Handler()

	rec, resp := post(t, handler, `{"jsonrpc":"2.0","id":1,"method":"sendTransaction","params":["AA=="]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, CodeNodeBusy, resp.Error.Code)
}

func TestWriteLedgerErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ledger.ErrNonceMismatch, CodeNonceMismatch},
		{ledger.ErrBlockhashNotFound, CodeBlockhashNotFound},
		{ledger.ErrAlreadyProcessed, CodeAlreadyProcessed},
		{ledger.ErrInvalidSignature, CodeInvalidSignature},
		{&ledger.TransientError{Err: ledger.ErrBusy}, CodeNodeBusy},
		{&ledger.TransactionError{InstructionIndex: 1, Reason: "boom"}, CodeTransactionFailed},
		{context.DeadlineExceeded, CodeServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		require.Equal(t, tc.code, writeLedgerError(rec, 1, tc.err))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestSendRateLimitPerSource(t *testing.T) {
	handler := NewServer(newLocalnet(t), WithSendRateLimit(rate.Limit(0), 1)).Handler()
	body := `{"jsonrpc":"2.0","id":1,"method":"sendTransaction","params":["AA=="]}`

	_, resp := post(t, handler, body, nil)
	require.NotEqual(t, CodeRateLimited, resp.Error.Code)
	rec, resp := post(t, handler, body, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, CodeRateLimited, resp.Error.Code)
}

func TestRequestAirdropAuth(t *testing.T) {
	l := newLocalnet(t)
	recipient := crypto.Address{9}
	body := `{"jsonrpc":"2.0","id":1,"method":"requestAirdrop","params":["` + recipient.String() + `",500]}`

	_, resp := post(t, NewServer(l).Handler(), body, nil)
	require.Equal(t, CodeFaucetNotConfigured, resp.Error.Code)

	handler := NewServer(l, WithFaucet(l), WithAuthToken("secret")).Handler()
	rec, resp := post(t, handler, body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeUnauthorized, resp.Error.Code)

	rec, resp = post(t, handler, body, http.Header{"Authorization": []string{"Bearer wrong"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeUnauthorized, resp.Error.Code)

	_, resp = post(t, handler, body, http.Header{"Authorization": []string{"Bearer secret"}})
	require.Nil(t, resp.Error)
	var sig crypto.Signature
	require.NoError(t, json.Unmarshal(resp.Result, &sig))
	require.False(t, sig.IsZero())
	require.EqualValues(t, 500, l.Balance(recipient))
}

func TestRequestAirdropJWTAuth(t *testing.T) {
	l := newLocalnet(t)
	recipient := crypto.Address{10}
	body := `{"jsonrpc":"2.0","id":1,"method":"requestAirdrop","params":["` + recipient.String() + `",700]}`
	secret := []byte("faucet-signing-key")
	handler := NewServer(l, WithFaucet(l), WithJWTAuth(secret, "localnet")).Handler()
	bearer := func(token string) http.Header {
		return http.Header{"Authorization": []string{"Bearer " + token}}
	}

	expired, err := IssueToken(secret, "localnet", "tester", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	rec, resp := post(t, handler, body, bearer(expired))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeUnauthorized, resp.Error.Code)

	wrongIssuer, err := IssueToken(secret, "elsewhere", "tester", time.Minute, time.Now())
	require.NoError(t, err)
	_, resp = post(t, handler, body, bearer(wrongIssuer))
	require.Equal(t, CodeUnauthorized, resp.Error.Code)

	forged, err := IssueToken([]byte("other-key"), "localnet", "tester", time.Minute, time.Now())
	require.NoError(t, err)
	_, resp = post(t, handler, body, bearer(forged))
	require.Equal(t, CodeUnauthorized, resp.Error.Code)

	valid, err := IssueToken(secret, "localnet", "tester", time.Minute, time.Now())
	require.NoError(t, err)
	_, resp = post(t, handler, body, bearer(valid))
	require.Nil(t, resp.Error)
	require.EqualValues(t, 700, l.Balance(recipient))

	_, err = IssueToken(nil, "localnet", "tester", time.Minute, time.Now())
	require.Error(t, err)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	handler := NewServer(newLocalnet(t)).Handler()
	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
