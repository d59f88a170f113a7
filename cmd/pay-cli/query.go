package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ledgerpay/builder"
	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/status"
	"ledgerpay/storage"
)

// addressArg returns the address in args, or the configured signer's.
func (c *cli) addressArg(cmd *cobra.Command, args []string) (crypto.Address, error) {
	if len(args) > 0 {
		return crypto.DecodeAddress(args[0])
	}
	def, err := c.defaultSigner(cmd.Context())
	if err != nil {
		return crypto.Address{}, err
	}
	return def.Address(), nil
}

func newBalanceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [ADDRESS]",
		Short: "Show the balance of an account (default: the configured signer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.ledgerClient(cmd.Context())
			if err != nil {
				return err
			}
			addr, err := c.addressArg(cmd, args)
			if err != nil {
				return err
			}
			lamports, err := cl.GetBalance(cmd.Context(), addr, c.commitment())
			if err != nil {
				return err
			}
			view := map[string]interface{}{"address": addr.String(), "lamports": lamports}
			return c.render(view, func() error {
				_, err := fmt.Fprintln(c.out, builder.FormatLamports(lamports))
				return err
			})
		},
	}
}

func newAirdropCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "airdrop AMOUNT [ADDRESS]",
		Short: "Request coins from the node's faucet and wait for them to land",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lamports, err := builder.ParseCoins(args[0])
			if err != nil {
				return err
			}
			proc, err := c.processor(ctx)
			if err != nil {
				return err
			}
			addr, err := c.addressArg(cmd, args[1:])
			if err != nil {
				return err
			}
			sig, err := proc.RequestAndConfirmAirdrop(ctx, c.client, addr, lamports)
			if err != nil {
				return err
			}
			view := map[string]interface{}{"recipient": addr.String(), "lamports": lamports, "signature": sig.String()}
			return c.render(view, func() error {
				_, err := fmt.Fprintf(c.out, "Signature: %s\n", sig)
				return err
			})
		},
	}
}

func newConfirmCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm SIGNATURE",
		Short: "Show the status and decoded instructions of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sig, err := crypto.DecodeSignature(args[0])
			if err != nil {
				return err
			}
			proc, err := c.processor(ctx)
			if err != nil {
				return err
			}
			confirmed, err := proc.Confirmed(ctx, sig)
			if err != nil {
				return err
			}
			if confirmed == nil {
				return fmt.Errorf("transaction %s not found", sig)
			}
			report, err := status.ParseTransaction(confirmed.Slot, confirmed.Transaction, &confirmed.Meta)
			if err != nil {
				return err
			}
			return c.renderReport(report)
		},
	}
}

func newDecodeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "decode TRANSACTION",
		Short: "Decode a base64 transaction, or @FILE holding one, without contacting the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if path, ok := strings.CutPrefix(text, "@"); ok {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				text = string(raw)
			}
			tx, err := types.DecodeBase64Transaction(strings.TrimSpace(text))
			if err != nil {
				return err
			}
			report, err := status.ParseTransaction(0, tx, nil)
			if err != nil {
				return err
			}
			return c.renderReport(report)
		},
	}
}

// renderReport prints reports as JSON in text mode; the nested instruction
// records have no tabular form.
func (c *cli) renderReport(report *status.TransactionReport) error {
	format := c.outputFormat()
	if format == "text" {
		format = "json"
	}
	return status.Render(c.out, format, report)
}

func newJournalCmd(c *cli) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List transactions submitted from this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.load(cmd.Context()); err != nil {
				return err
			}
			journal, err := c.openJournal()
			if err != nil {
				return err
			}
			entries, err := journal.List(storage.SubmissionStatus(filter))
			if err != nil {
				return err
			}
			return c.render(entries, func() error {
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SIGNATURE\tKIND\tSTATUS\tATTEMPTS\tSLOT\tUPDATED")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", e.Signature, e.Kind, e.Status, e.Attempts, e.Slot, e.UpdatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&filter, "status", "", "only show entries with this status (submitted, confirmed, failed, timed-out, rejected)")
	return cmd
}

func newKeygenCmd(c *cli) *cobra.Command {
	var (
		outfile  string
		keystore bool
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outfile == "" {
				return fmt.Errorf("--outfile required")
			}
			if _, err := os.Stat(outfile); err == nil && !force {
				return fmt.Errorf("%s exists; pass --force to overwrite", outfile)
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if keystore {
				pass, err := c.passphrase.Get()
				if err != nil {
					return err
				}
				err = crypto.SaveToKeystore(outfile, key, pass)
			} else {
				err = crypto.WriteKeyFile(outfile, key)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.out, key.Address())
			return err
		},
	}
	cmd.Flags().StringVar(&outfile, "outfile", "", "where to write the key")
	cmd.Flags().BoolVar(&keystore, "keystore", false, "encrypt the key with a passphrase")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
