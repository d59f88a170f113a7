package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"ledgerpay/ledger"
	"ledgerpay/observability"
)

const (
	jsonRPCVersion     = "2.0"
	maxRequestBytes    = 1 << 20 // 1 MiB
	defaultSendRate    = rate.Limit(20)
	defaultSendBurst   = 40
	limiterIdleTimeout = 10 * time.Minute
)

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server exposes a ledger.Client over JSON-RPC.
type Server struct {
	ledger ledger.Client
	faucet ledger.Faucet
	logger *slog.Logger

	authToken string
	jwtSecret []byte
	jwtIssuer string
	sendLimit rate.Limit
	sendBurst int

	mu       sync.Mutex
	limiters map[string]*sourceLimiter
	nowFn    func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFaucet enables requestAirdrop.
func WithFaucet(faucet ledger.Faucet) ServerOption {
	return func(s *Server) { s.faucet = faucet }
}

// WithAuthToken requires a bearer token for requestAirdrop.
func WithAuthToken(token string) ServerOption {
	return func(s *Server) { s.authToken = strings.TrimSpace(token) }
}

// WithJWTAuth additionally accepts HMAC-signed bearer tokens for
// requestAirdrop. An empty issuer accepts any issuer.
func WithJWTAuth(secret []byte, issuer string) ServerOption {
	return func(s *Server) {
		s.jwtSecret = append([]byte(nil), secret...)
		s.jwtIssuer = strings.TrimSpace(issuer)
	}
}

// WithSendRateLimit bounds sendTransaction calls per client source.
func WithSendRateLimit(limit rate.Limit, burst int) ServerOption {
	return func(s *Server) {
		s.sendLimit = limit
		s.sendBurst = burst
	}
}

// WithServerLogger overrides the request logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(client ledger.Client, opts ...ServerOption) *Server {
	s := &Server{
		ledger:    client,
		logger:    slog.Default(),
		sendLimit: defaultSendRate,
		sendBurst: defaultSendBurst,
		limiters:  make(map[string]*sourceLimiter),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the HTTP routes: JSON-RPC on POST /, health and metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(r, "ledgerpay.rpc")
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	if result == nil {
		// Encode an explicit null so clients can tell "absent" from "missing field".
		_ = json.NewEncoder(w).Encode(struct {
			JSONRPC string      `json:"jsonrpc"`
			ID      interface{} `json:"id"`
			Result  interface{} `json:"result"`
		}{jsonRPCVersion, id, nil})
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeLedgerError maps ledger errors onto stable RPC codes. Ledger-level
// failures are reported with HTTP 200 so clients always see the code.
func writeLedgerError(w http.ResponseWriter, id interface{}, err error) int {
	var txErr *ledger.TransactionError
	code := CodeServerError
	var data interface{}
	switch {
	case errors.As(err, &txErr):
		code, data = CodeTransactionFailed, txErr
	case errors.Is(err, ledger.ErrNonceMismatch):
		code = CodeNonceMismatch
	case errors.Is(err, ledger.ErrBlockhashNotFound):
		code = CodeBlockhashNotFound
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		code = CodeAlreadyProcessed
	case errors.Is(err, ledger.ErrInvalidSignature):
		code = CodeInvalidSignature
	case ledger.IsTransient(err):
		code = CodeNodeBusy
	}
	writeError(w, http.StatusOK, id, code, err.Error(), data)
	return code
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := s.nowFn()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, CodeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, CodeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, CodeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, CodeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, CodeInvalidRequest, "method required", nil)
		return
	}

	code := 0
	switch req.Method {
	case MethodGetRecentBlockhash:
		code = s.handleGetRecentBlockhash(w, r, req)
	case MethodGetFeeCalculatorForBlockhash:
		code = s.handleGetFeeCalculatorForBlockhash(w, r, req)
	case MethodGetAccountInfo:
		code = s.handleGetAccountInfo(w, r, req)
	case MethodGetBalance:
		code = s.handleGetBalance(w, r, req)
	case MethodGetMinimumBalanceForRentExemption:
		code = s.handleGetMinimumBalance(w, r, req)
	case MethodSendTransaction:
		if !s.allowSource(clientSource(r)) {
			writeError(w, http.StatusTooManyRequests, req.ID, CodeRateLimited, "transaction rate limit exceeded", clientSource(r))
			code = CodeRateLimited
			break
		}
		code = s.handleSendTransaction(w, r, req)
	case MethodGetSignatureStatus:
		code = s.handleGetSignatureStatus(w, r, req)
	case MethodGetConfirmedTransaction:
		code = s.handleGetConfirmedTransaction(w, r, req)
	case MethodRequestAirdrop:
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			code = authErr.Code
			break
		}
		code = s.handleRequestAirdrop(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		code = CodeMethodNotFound
	}
	observability.RPC().Observe(req.Method, code, s.nowFn().Sub(start))
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTimeout {
			delete(s.limiters, key)
		}
	}
	entry, ok := s.limiters[source]
	if !ok {
		entry = &sourceLimiter{limiter: rate.NewLimiter(s.sendLimit, s.sendBurst)}
		s.limiters[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
