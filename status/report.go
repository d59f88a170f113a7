package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/native/escrow"
	"ledgerpay/native/system"
	"ledgerpay/native/token"
)

// TransactionReport is the display form of a landed transaction.
type TransactionReport struct {
	Slot            uint64              `json:"slot" yaml:"slot"`
	Signatures      []string            `json:"signatures" yaml:"signatures"`
	AccountKeys     []AccountKeyReport  `json:"accountKeys" yaml:"accountKeys"`
	RecentBlockhash string              `json:"recentBlockhash" yaml:"recentBlockhash"`
	Instructions    []InstructionReport `json:"instructions" yaml:"instructions"`
	Meta            *MetaReport         `json:"meta,omitempty" yaml:"meta,omitempty"`
}

type AccountKeyReport struct {
	Pubkey   string `json:"pubkey" yaml:"pubkey"`
	Signer   bool   `json:"signer" yaml:"signer"`
	Writable bool   `json:"writable" yaml:"writable"`
}

// InstructionReport holds either Parsed (programs with a decoder) or the raw
// compiled fields.
type InstructionReport struct {
	Program   string             `json:"program" yaml:"program"`
	ProgramID string             `json:"programId" yaml:"programId"`
	Parsed    *ParsedInstruction `json:"parsed,omitempty" yaml:"parsed,omitempty"`
	Accounts  []string           `json:"accounts,omitempty" yaml:"accounts,omitempty"`
	Data      string             `json:"data,omitempty" yaml:"data,omitempty"`
}

type MetaReport struct {
	Fee          uint64        `json:"fee" yaml:"fee"`
	Err          string        `json:"err,omitempty" yaml:"err,omitempty"`
	PreBalances  []uint64      `json:"preBalances" yaml:"preBalances"`
	PostBalances []uint64      `json:"postBalances" yaml:"postBalances"`
	LogMessages  []string      `json:"logMessages,omitempty" yaml:"logMessages,omitempty"`
	Events       []types.Event `json:"events,omitempty" yaml:"events,omitempty"`
}

// ProgramName labels well-known program ids.
func ProgramName(id crypto.Address) string {
	switch id {
	case system.ProgramID:
		return "system"
	case escrow.ProgramID:
		return "escrow"
	case token.ProgramID:
		return ProgramToken
	default:
		return "unknown"
	}
}

// ParseTransaction builds a report for tx. meta may be nil. A token
// instruction that fails to decode fails the whole report.
func ParseTransaction(slot uint64, tx *types.Transaction, meta *ledger.TransactionMeta) (*TransactionReport, error) {
	if tx == nil {
		return nil, fmt.Errorf("status: transaction required")
	}
	msg := &tx.Message
	report := &TransactionReport{
		Slot:            slot,
		Signatures:      make([]string, len(tx.Signatures)),
		AccountKeys:     make([]AccountKeyReport, len(msg.AccountKeys)),
		RecentBlockhash: msg.RecentBlockhash.String(),
		Instructions:    make([]InstructionReport, 0, len(msg.Instructions)),
	}
	for i, sig := range tx.Signatures {
		report.Signatures[i] = sig.String()
	}
	for i, key := range msg.AccountKeys {
		report.AccountKeys[i] = AccountKeyReport{
			Pubkey:   key.String(),
			Signer:   msg.IsSigner(i),
			Writable: msg.IsWritable(i),
		}
	}
	for i, ix := range msg.Instructions {
		programID, err := msg.ProgramID(ix)
		if err != nil {
			return nil, fmt.Errorf("status: instruction %d: %w", i, err)
		}
		entry := InstructionReport{Program: ProgramName(programID), ProgramID: programID.String()}
		if programID == token.ProgramID {
			parsed, err := ParseToken(ix, msg.AccountKeys)
			if err != nil {
				return nil, fmt.Errorf("status: instruction %d: %w", i, err)
			}
			entry.Parsed = parsed
		} else {
			entry.Accounts = make([]string, len(ix.Accounts))
			for j, idx := range ix.Accounts {
				if int(idx) >= len(msg.AccountKeys) {
					return nil, fmt.Errorf("status: instruction %d: %w", i, ErrIndexOutOfRange)
				}
				entry.Accounts[j] = msg.AccountKeys[idx].String()
			}
			entry.Data = base58.Encode(ix.Data)
		}
		report.Instructions = append(report.Instructions, entry)
	}
	if meta != nil {
		report.Meta = &MetaReport{
			Fee:          meta.Fee,
			PreBalances:  meta.PreBalances,
			PostBalances: meta.PostBalances,
			LogMessages:  meta.LogMessages,
			Events:       meta.Events,
		}
		if meta.Err != nil {
			report.Meta.Err = meta.Err.Error()
		}
	}
	return report, nil
}

// Render writes v as "json" (indented) or "yaml".
func Render(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("status: unsupported output format %q", format)
	}
}
