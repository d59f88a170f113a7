package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
)

// Method names served by the JSON-RPC endpoint.
const (
	MethodGetRecentBlockhash                = "getRecentBlockhash"
	MethodGetFeeCalculatorForBlockhash      = "getFeeCalculatorForBlockhash"
	MethodGetAccountInfo                    = "getAccountInfo"
	MethodGetBalance                        = "getBalance"
	MethodGetMinimumBalanceForRentExemption = "getMinimumBalanceForRentExemption"
	MethodSendTransaction                   = "sendTransaction"
	MethodGetSignatureStatus                = "getSignatureStatus"
	MethodGetConfirmedTransaction           = "getConfirmedTransaction"
	MethodRequestAirdrop                    = "requestAirdrop"
)

// Error codes beyond the JSON-RPC 2.0 reserved range.
const (
	CodeParseError          = -32700
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodeServerError         = -32000
	CodeUnauthorized        = -32001
	CodeTransactionFailed   = -32002
	CodeInvalidSignature    = -32003
	CodeNodeBusy            = -32005
	CodeAlreadyProcessed    = -32010
	CodeBlockhashNotFound   = -32011
	CodeNonceMismatch       = -32012
	CodeRateLimited         = -32020
	CodeFaucetNotConfigured = -32030
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CommitmentConfig is the optional trailing parameter of read methods.
type CommitmentConfig struct {
	Commitment ledger.Commitment `json:"commitment,omitempty"`
}

type BlockhashResult struct {
	Blockhash     crypto.Hash          `json:"blockhash"`
	FeeCalculator ledger.FeeCalculator `json:"feeCalculator"`
}

type FeeCalculatorResult struct {
	FeeCalculator ledger.FeeCalculator `json:"feeCalculator"`
}

type AccountResult struct {
	Lamports   uint64         `json:"lamports"`
	Owner      crypto.Address `json:"owner"`
	Data       string         `json:"data"`
	Executable bool           `json:"executable"`
}

func accountResultFrom(acct *types.Account) *AccountResult {
	return &AccountResult{
		Lamports:   acct.Lamports,
		Owner:      acct.Owner,
		Data:       base64.StdEncoding.EncodeToString(acct.Data),
		Executable: acct.Executable,
	}
}

// Account converts the wire form back into an account.
func (r *AccountResult) Account() (*types.Account, error) {
	data, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return &types.Account{Lamports: r.Lamports, Owner: r.Owner, Data: data, Executable: r.Executable}, nil
}

type ConfirmedTransactionResult struct {
	Slot        uint64                 `json:"slot"`
	Transaction string                 `json:"transaction"`
	Meta        ledger.TransactionMeta `json:"meta"`
}

// ConfirmedTransaction converts the wire form back into ledger types.
func (r *ConfirmedTransactionResult) ConfirmedTransaction() (*ledger.ConfirmedTransaction, error) {
	tx, err := types.DecodeBase64Transaction(r.Transaction)
	if err != nil {
		return nil, err
	}
	return &ledger.ConfirmedTransaction{Slot: r.Slot, Transaction: tx, Meta: r.Meta}, nil
}
