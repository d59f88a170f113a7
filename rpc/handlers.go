package rpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"ledgerpay/crypto"
	"ledgerpay/ledger"
)

func paramCount(req *RPCRequest, minimum int) error {
	if len(req.Params) < minimum {
		return fmt.Errorf("expected at least %d params, got %d", minimum, len(req.Params))
	}
	return nil
}

func decodeParam(req *RPCRequest, idx int, out interface{}) error {
	if err := json.Unmarshal(req.Params[idx], out); err != nil {
		return fmt.Errorf("param %d: %w", idx, err)
	}
	return nil
}

// commitmentParam reads an optional commitment config at idx, defaulting to
// finalized.
func commitmentParam(req *RPCRequest, idx int) (ledger.Commitment, error) {
	if len(req.Params) <= idx {
		return ledger.CommitmentFinalized, nil
	}
	var cfg CommitmentConfig
	if err := decodeParam(req, idx, &cfg); err != nil {
		return "", err
	}
	if cfg.Commitment == "" {
		return ledger.CommitmentFinalized, nil
	}
	return ledger.ParseCommitment(string(cfg.Commitment))
}

func invalidParams(w http.ResponseWriter, id interface{}, err error) int {
	writeError(w, http.StatusBadRequest, id, CodeInvalidParams, "invalid params", err.Error())
	return CodeInvalidParams
}

func (s *Server) handleGetRecentBlockhash(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	commitment, err := commitmentParam(req, 0)
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	hash, fee, err := s.ledger.GetRecentBlockhash(r.Context(), commitment)
	if err != nil {
		return writeLedgerError(w, req.ID, err)
	}
	writeResult(w, req.ID, BlockhashResult{Blockhash: hash, FeeCalculator: fee})
	return 0
}

func (s *Server) handleGetFeeCalculatorForBlockhash(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if err := paramCount(req, 1); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var hash crypto.Hash
	if err := decodeParam(req, 0, &hash); err != nil {
		return invalidParams(w, req.ID, err)
	}
	fee, err := s.ledger.GetFeeCalculatorForBlockhash(r.Context(), hash)
	if errors.Is(err, ledger.ErrBlockhashNotFound) {
		writeResult(w, req.ID, nil)
		return 0
	}
	if err != nil {
		return writeLedgerError(w, req.ID, err)
	}
	writeResult(w, req.ID, FeeCalculatorResult{FeeCalculator: fee})
	return 0
}

func (s *Server) handleGetAccountInfo(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if err := paramCount(req, 1); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var addr crypto.Address
	if err := decodeParam(req, 0, &addr); err != nil {
		return invalidParams(w, req.ID, err)
	}
	commitment, err := commitmentParam(req, 1)
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	acct, err := s.ledger.GetAccount(r.Context(), addr, commitment)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeResult(w, req.ID, nil)
		return 0
	}
	if err != nil {
		return writeLedgerError(w, req.ID, err)
	}
	writeResult(w, req.ID, accountResultFrom(acct))
	return 0
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if err := paramCount(req, 1); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var addr crypto.Address
	if err := decodeParam(req, 0, &addr); err != nil {
		return invalidParams(w, req.ID, err)
	}
	commitment, err := commitmentParam(req, 1)
	if err != nil {
		return invalidParams(w, req.ID, err)
	}
	balance, err := s.ledger.GetBalance(r.Context(), addr, commitment)
	if err != nil {
		return writeLedgerError(w, req.ID, err)
	}
	writeResult(w, req.ID, balance)
	return 0
}

func (s *Server) handleGetMinimumBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if err := paramCount(req, 1); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var size int
	if err := decodeParam(req, 0, &size); err != nil {
		return invalidParams(w, req.ID, err)
	}
	if size < 0 {
		return invalidParams(w, req.ID, fmt.Errorf("negative account size %d", size))
	}
	lamports, err := s.ledger.GetMinimumBalanceForRentExemption(r.Context(), size)
	if err != nil {
		return writeLedgerError(w, req.ID, err)
	}
	writeResult(w, req.ID, lamports)
	return 0
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if err := paramCount(req, 1); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var encoded string
	if err := decodeParam(req, 0, &encoded); err != nil {
		return invalidParams(w, req.ID, err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return invalidParams(w, req.ID, fmt.Errorf("transaction must be base64: %w", err))
	}
	sig, err := s.ledger.SendTransaction(r.Context(), raw)
	if err != nil {
		s.logger.Debug("sendTransaction rejected",
			slog.String("source", clientSource(r)),
			slog.Any("error", err),
		)
		return writeLedgerError(w, req.ID, err)
	}
	writeResult(w, req.ID, sig)
	return 0
}

func (s *Server) handleGetSignatureStatus(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if err := paramCount(req, 1); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var sig crypto.Signature
	if err := decodeParam(req, 0, &sig); err != nil {
		return invalidParams(w, req.ID, err)
	}
	status, err := s.ledger.GetSignatureStatus(r.Context(), sig)
	if err != nil {
		return writeLedgerError(w, req.ID, err)
	}
	if status == nil {
		writeResult(w, req.ID, nil)
		return 0
	}
	writeResult(w, req.ID, status)
	return 0
}

func (s *Server) handleGetConfirmedTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if err := paramCount(req, 1); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var sig crypto.Signature
	if err := decodeParam(req, 0, &sig); err != nil {
		return invalidParams(w, req.ID, err)
	}
	confirmed, err := s.ledger.GetConfirmedTransaction(r.Context(), sig)
	if err != nil {
		return writeLedgerError(w, req.ID, err)
	}
	if confirmed == nil {
		writeResult(w, req.ID, nil)
		return 0
	}
	writeResult(w, req.ID, ConfirmedTransactionResult{
		Slot:        confirmed.Slot,
		Transaction: confirmed.Transaction.EncodeBase64(),
		Meta:        confirmed.Meta,
	})
	return 0
}

func (s *Server) handleRequestAirdrop(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if s.faucet == nil {
		writeError(w, http.StatusOK, req.ID, CodeFaucetNotConfigured, "faucet not configured", nil)
		return CodeFaucetNotConfigured
	}
	if err := paramCount(req, 2); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var addr crypto.Address
	if err := decodeParam(req, 0, &addr); err != nil {
		return invalidParams(w, req.ID, err)
	}
	var lamports uint64
	if err := decodeParam(req, 1, &lamports); err != nil {
		return invalidParams(w, req.ID, err)
	}
	if !s.allowSource("airdrop:" + clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, req.ID, CodeRateLimited, "airdrop rate limit exceeded", nil)
		return CodeRateLimited
	}
	sig, err := s.faucet.RequestAirdrop(r.Context(), addr, lamports)
	if err != nil {
		return writeLedgerError(w, req.ID, err)
	}
	s.logger.Info("airdrop issued",
		slog.String("recipient", addr.String()),
		slog.Uint64("lamports", lamports),
		slog.String("signature", sig.String()),
	)
	writeResult(w, req.ID, sig)
	return 0
}
