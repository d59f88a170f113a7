package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ledgerpay/blockhash"
	"ledgerpay/builder"
	"ledgerpay/crypto"
	"ledgerpay/processor"
	"ledgerpay/signer"
)

// txFlags are shared by every command that produces a transaction.
type txFlags struct {
	SignOnly       bool
	Blockhash      string
	Nonce          string
	NonceAuthority string
	FeePayer       string
	Signers        []string
	Reply          string
}

func (f *txFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.SignOnly, "sign-only", false, "sign and print the offline payload instead of submitting")
	fs.StringVar(&f.Blockhash, "blockhash", "", "use this blockhash (or durable nonce value) instead of fetching one")
	fs.StringVar(&f.Nonce, "nonce", "", "durable nonce account supplying the blockhash")
	fs.StringVar(&f.NonceAuthority, "nonce-authority", "", "nonce authority key file or address")
	fs.StringVar(&f.FeePayer, "fee-payer", "", "fee payer key file or address (default: the configured signer)")
	fs.StringArrayVar(&f.Signers, "signer", nil, "offline signature as PUBKEY=SIGNATURE (repeatable)")
	fs.StringVar(&f.Reply, "reply", "", "offline payload text, or @FILE to read it from a file")
}

// identity is either a loaded signer or just an address whose signature is
// produced elsewhere.
type identity struct {
	address crypto.Address
	signer  crypto.Signer
}

// resolveIdentity reads value as a key file when one exists at that path and as
// an address otherwise. An empty value yields fallback.
func (c *cli) resolveIdentity(value string, fallback crypto.Signer) (identity, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return identity{address: fallback.Address(), signer: fallback}, nil
	}
	if _, err := os.Stat(value); err == nil {
		key, err := c.loadKey(value)
		if err != nil {
			return identity{}, err
		}
		return identity{address: key.Address(), signer: key}, nil
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return identity{}, fmt.Errorf("%q is neither a key file nor an address", value)
	}
	return identity{address: addr}, nil
}

// txContext is the shared part of a Request, resolved from txFlags.
type txContext struct {
	feePayer crypto.Signer
	signers  []crypto.Signer
	query    blockhash.Query
	reply    *signer.Reply
	signOnly bool
}

func (c *cli) txContext(ctx context.Context, f *txFlags) (*txContext, error) {
	def, err := c.defaultSigner(ctx)
	if err != nil {
		return nil, err
	}
	tc := &txContext{signOnly: f.SignOnly}

	payer, err := c.resolveIdentity(f.FeePayer, def)
	if err != nil {
		return nil, fmt.Errorf("--fee-payer: %w", err)
	}
	tc.feePayer = payer.signer
	if tc.feePayer == nil {
		tc.feePayer = signer.NewNullSigner(payer.address)
	}

	var hash *crypto.Hash
	if f.Blockhash != "" {
		h, err := crypto.DecodeHash(f.Blockhash)
		if err != nil {
			return nil, fmt.Errorf("--blockhash: %w", err)
		}
		hash = &h
	}
	var nonceAccount, nonceAuthority *crypto.Address
	if f.Nonce != "" {
		addr, err := crypto.DecodeAddress(f.Nonce)
		if err != nil {
			return nil, fmt.Errorf("--nonce: %w", err)
		}
		nonceAccount = &addr
		auth, err := c.resolveIdentity(f.NonceAuthority, def)
		if err != nil {
			return nil, fmt.Errorf("--nonce-authority: %w", err)
		}
		nonceAuthority = &auth.address
		if auth.signer != nil {
			tc.signers = append(tc.signers, auth.signer)
		}
	}
	tc.query, err = blockhash.NewQuery(hash, f.SignOnly, nonceAccount, nonceAuthority)
	if err != nil {
		return nil, err
	}

	for _, raw := range f.Signers {
		pre, err := parsePresigner(raw)
		if err != nil {
			return nil, err
		}
		tc.signers = append(tc.signers, pre)
	}
	if f.Reply != "" {
		text := f.Reply
		if path, ok := strings.CutPrefix(text, "@"); ok {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("--reply: %w", err)
			}
			text = string(raw)
		}
		tc.reply, err = signer.ParseReply(text)
		if err != nil {
			return nil, err
		}
	}
	return tc, nil
}

// parsePresigner reads PUBKEY=SIGNATURE.
func parsePresigner(raw string) (*signer.Presigner, error) {
	pub, sig, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return nil, fmt.Errorf("--signer %q: expected PUBKEY=SIGNATURE", raw)
	}
	addr, err := crypto.DecodeAddress(pub)
	if err != nil {
		return nil, fmt.Errorf("--signer %q: %w", raw, err)
	}
	signature, err := crypto.DecodeSignature(sig)
	if err != nil {
		return nil, fmt.Errorf("--signer %q: %w", raw, err)
	}
	return signer.NewPresigner(addr, signature), nil
}

// request assembles a processor request. extra are command-specific signers
// such as a witness or a freshly generated account key.
func (tc *txContext) request(cmd builder.Command, extra ...crypto.Signer) processor.Request {
	signers := make([]crypto.Signer, 0, len(tc.signers)+len(extra))
	signers = append(signers, extra...)
	signers = append(signers, tc.signers...)
	return processor.Request{
		Command:  cmd,
		FeePayer: tc.feePayer,
		Signers:  signers,
		Query:    tc.query,
		SignOnly: tc.signOnly,
		Reply:    tc.reply,
	}
}

// execute runs req and prints the result.
func (c *cli) execute(ctx context.Context, req processor.Request) error {
	proc, err := c.processor(ctx)
	if err != nil {
		return err
	}
	result, err := proc.Process(ctx, req)
	if err != nil {
		return err
	}
	return c.printResult(result)
}
