package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ledgerpay/builder"
	"ledgerpay/crypto"
	"ledgerpay/native/escrow"
	"ledgerpay/observability/logging"
)

// role resolves a participant flag. An empty value means the fee payer.
func (c *cli) role(value string, tc *txContext) (identity, error) {
	return c.resolveIdentity(value, tc.feePayer)
}

func withSigner(id identity, signers []crypto.Signer) []crypto.Signer {
	if id.signer != nil {
		signers = append(signers, id.signer)
	}
	return signers
}

func newPayCmd(c *cli) *cobra.Command {
	var (
		tx              txFlags
		from            string
		witnesses       []string
		after           string
		timeAuthority   string
		cancelable      bool
		contractKeyPath string
	)
	cmd := &cobra.Command{
		Use:   "pay RECIPIENT AMOUNT",
		Short: "Send a payment, optionally held in escrow until conditions are met",
		Long: `Send AMOUNT (in coins, or ALL) to RECIPIENT.

With --witness or --after the funds go to a new escrow contract that releases
to RECIPIENT once every witness has signed or the time condition holds,
whichever happens first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			recipient, err := crypto.DecodeAddress(args[0])
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}
			amount, err := builder.ParseAmount(args[1])
			if err != nil {
				return err
			}
			tc, err := c.txContext(ctx, &tx)
			if err != nil {
				return err
			}
			payer, err := c.role(from, tc)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			pay := &builder.ConditionalPay{
				From:       payer.address,
				Recipient:  recipient,
				Amount:     amount,
				Cancelable: cancelable,
			}
			for _, raw := range witnesses {
				addr, err := crypto.DecodeAddress(raw)
				if err != nil {
					return fmt.Errorf("--witness: %w", err)
				}
				pay.Witnesses = append(pay.Witnesses, addr)
			}
			if after != "" {
				threshold, err := parseTimestamp(after)
				if err != nil {
					return fmt.Errorf("--after: %w", err)
				}
				authority, err := c.role(timeAuthority, tc)
				if err != nil {
					return fmt.Errorf("--time-authority: %w", err)
				}
				pay.Time = &escrow.TimeCondition{Threshold: threshold, Authority: authority.address}
			}

			extra := withSigner(payer, nil)
			if pay.Terms().HasConditions() {
				contract, err := c.contractKey(contractKeyPath, tx.SignOnly)
				if err != nil {
					return err
				}
				pay.Contract = contract.Address()
				extra = append(extra, contract)
			}
			return c.execute(ctx, tc.request(pay, extra...))
		},
	}
	tx.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "paying account key file or address (default: the fee payer)")
	flags.StringArrayVar(&witnesses, "witness", nil, "address whose signature releases the payment (repeatable)")
	flags.StringVar(&after, "after", "", "release no earlier than this RFC3339 time or unix timestamp")
	flags.StringVar(&timeAuthority, "time-authority", "", "address allowed to assert the time (default: the fee payer)")
	flags.BoolVar(&cancelable, "cancelable", false, "let the payer cancel the contract before release")
	flags.StringVar(&contractKeyPath, "contract-keypair", "", "key file for the escrow contract account (default: generate one)")
	return cmd
}

// contractKey loads or generates the escrow account key. Offline signing needs
// a stable key so the submitting side rebuilds the same message.
func (c *cli) contractKey(path string, signOnly bool) (*crypto.PrivateKey, error) {
	if path != "" {
		return c.loadKey(path)
	}
	if signOnly {
		return nil, fmt.Errorf("conditional payments signed offline need --contract-keypair")
	}
	return crypto.GeneratePrivateKey()
}

func newReleaseCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Satisfy a release condition on an escrow contract",
	}
	cmd.AddCommand(newReleaseWitnessCmd(c), newReleaseTimeCmd(c))
	return cmd
}

func newReleaseWitnessCmd(c *cli) *cobra.Command {
	var (
		tx      txFlags
		witness string
	)
	cmd := &cobra.Command{
		Use:   "witness CONTRACT RECIPIENT",
		Short: "Sign a contract as one of its witnesses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			contract, recipient, err := contractAndRecipient(args)
			if err != nil {
				return err
			}
			tc, err := c.txContext(ctx, &tx)
			if err != nil {
				return err
			}
			id, err := c.role(witness, tc)
			if err != nil {
				return fmt.Errorf("--witness: %w", err)
			}
			release := &builder.ReleaseByWitness{Witness: id.address, Contract: contract, Recipient: recipient}
			return c.execute(ctx, tc.request(release, withSigner(id, nil)...))
		},
	}
	tx.register(cmd)
	cmd.Flags().StringVar(&witness, "witness", "", "witness key file or address (default: the fee payer)")
	return cmd
}

func newReleaseTimeCmd(c *cli) *cobra.Command {
	var (
		tx        txFlags
		authority string
		at        string
	)
	cmd := &cobra.Command{
		Use:   "time CONTRACT RECIPIENT",
		Short: "Assert the current time to a contract's time authority condition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			contract, recipient, err := contractAndRecipient(args)
			if err != nil {
				return err
			}
			timestamp := c.now().Unix()
			if at != "" {
				if timestamp, err = parseTimestamp(at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			tc, err := c.txContext(ctx, &tx)
			if err != nil {
				return err
			}
			id, err := c.role(authority, tc)
			if err != nil {
				return fmt.Errorf("--authority: %w", err)
			}
			release := &builder.ReleaseByTime{Authority: id.address, Contract: contract, Recipient: recipient, Timestamp: timestamp}
			return c.execute(ctx, tc.request(release, withSigner(id, nil)...))
		},
	}
	tx.register(cmd)
	cmd.Flags().StringVar(&authority, "authority", "", "time authority key file or address (default: the fee payer)")
	cmd.Flags().StringVar(&at, "at", "", "asserted RFC3339 time or unix timestamp (default: now)")
	return cmd
}

func newCancelCmd(c *cli) *cobra.Command {
	var (
		tx    txFlags
		payer string
	)
	cmd := &cobra.Command{
		Use:   "cancel CONTRACT",
		Short: "Return the funds of a cancelable escrow contract to its payer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			contract, err := crypto.DecodeAddress(args[0])
			if err != nil {
				return fmt.Errorf("contract: %w", err)
			}
			tc, err := c.txContext(ctx, &tx)
			if err != nil {
				return err
			}
			id, err := c.role(payer, tc)
			if err != nil {
				return fmt.Errorf("--payer: %w", err)
			}
			return c.execute(ctx, tc.request(&builder.Cancel{Payer: id.address, Contract: contract}, withSigner(id, nil)...))
		},
	}
	tx.register(cmd)
	cmd.Flags().StringVar(&payer, "payer", "", "contract payer key file or address (default: the fee payer)")
	return cmd
}

func newCreateNonceAccountCmd(c *cli) *cobra.Command {
	var (
		tx        txFlags
		from      string
		authority string
	)
	cmd := &cobra.Command{
		Use:   "create-nonce-account NONCE_KEYPAIR AMOUNT",
		Short: "Create and fund a durable nonce account",
		Long: `Create a durable nonce account funded with AMOUNT (in coins, or ALL).

NONCE_KEYPAIR is read when the file exists; otherwise a new key is generated
and written there.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			amount, err := builder.ParseAmount(args[1])
			if err != nil {
				return err
			}
			tc, err := c.txContext(ctx, &tx)
			if err != nil {
				return err
			}
			nonceKey, err := c.loadOrCreateKey(args[0])
			if err != nil {
				return err
			}
			funder, err := c.role(from, tc)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			auth := nonceKey.Address()
			if authority != "" {
				if auth, err = crypto.DecodeAddress(authority); err != nil {
					return fmt.Errorf("--authority: %w", err)
				}
			}
			create := &builder.CreateNonceAccount{
				From:         funder.address,
				NonceAccount: nonceKey.Address(),
				Authority:    auth,
				Amount:       amount,
			}
			return c.execute(ctx, tc.request(create, withSigner(funder, []crypto.Signer{nonceKey})...))
		},
	}
	tx.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "funding account key file or address (default: the fee payer)")
	flags.StringVar(&authority, "authority", "", "address allowed to advance the nonce (default: the nonce account)")
	return cmd
}

func (c *cli) loadOrCreateKey(path string) (*crypto.PrivateKey, error) {
	key, err := crypto.LoadKeyFile(path, c.passphrase.Get)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load key %s: %w", path, err)
	}
	key, err = crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.WriteKeyFile(path, key); err != nil {
		return nil, err
	}
	c.logger.Info("generated key", logging.MaskPath("path", path), slog.String("address", key.Address().String()))
	return key, nil
}

func contractAndRecipient(args []string) (crypto.Address, crypto.Address, error) {
	contract, err := crypto.DecodeAddress(args[0])
	if err != nil {
		return crypto.Address{}, crypto.Address{}, fmt.Errorf("contract: %w", err)
	}
	recipient, err := crypto.DecodeAddress(args[1])
	if err != nil {
		return crypto.Address{}, crypto.Address{}, fmt.Errorf("recipient: %w", err)
	}
	return contract, recipient, nil
}

// parseTimestamp accepts unix seconds or RFC3339.
func parseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
		return unix, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, fmt.Errorf("%q is neither unix seconds nor RFC3339", value)
	}
	return t.Unix(), nil
}
