package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"ledgerpay/builder"
	"ledgerpay/processor"
	"ledgerpay/status"
)

// resultView is the machine-readable form of a processor.Result.
type resultView struct {
	Command   string `json:"command" yaml:"command"`
	Signature string `json:"signature,omitempty" yaml:"signature,omitempty"`
	Slot      uint64 `json:"slot,omitempty" yaml:"slot,omitempty"`
	Fee       uint64 `json:"fee" yaml:"fee"`
	Amount    uint64 `json:"amount" yaml:"amount"`
	Contract  string `json:"contract,omitempty" yaml:"contract,omitempty"`
	Rebuilt   bool   `json:"rebuilt,omitempty" yaml:"rebuilt,omitempty"`
	// Reply is the encoded offline payload for sign-only runs.
	Reply     string   `json:"reply,omitempty" yaml:"reply,omitempty"`
	AllSigned bool     `json:"allSigned,omitempty" yaml:"allSigned,omitempty"`
	Signers   []string `json:"signers,omitempty" yaml:"signers,omitempty"`
	Absent    []string `json:"absentSigners,omitempty" yaml:"absentSigners,omitempty"`
}

func (c *cli) outputFormat() string {
	if c.cfg != nil && c.cfg.OutputFormat != "" {
		return c.cfg.OutputFormat
	}
	if c.flags.Output != "" {
		return c.flags.Output
	}
	return "text"
}

// render prints v as JSON or YAML, or calls text for the text format.
func (c *cli) render(v interface{}, text func() error) error {
	format := strings.ToLower(c.outputFormat())
	if format == "text" {
		return text()
	}
	return status.Render(c.out, format, v)
}

func (c *cli) printResult(res *processor.Result) error {
	view := resultView{
		Command: res.Kind,
		Slot:    res.Slot,
		Fee:     res.Fee,
		Amount:  res.Amount,
		Rebuilt: res.Rebuilt,
	}
	if !res.Signature.IsZero() {
		view.Signature = res.Signature.String()
	}
	if res.Contract != nil {
		view.Contract = res.Contract.String()
	}
	if res.Reply != nil {
		encoded, err := res.Reply.Encode()
		if err != nil {
			return err
		}
		view.Reply = encoded
		view.AllSigned = res.Reply.AllSigned
		for _, slot := range res.Reply.Signers {
			if slot.Signature != nil {
				view.Signers = append(view.Signers, slot.Pubkey.String()+"="+slot.Signature.String())
			}
		}
		for _, addr := range res.Reply.Absent() {
			view.Absent = append(view.Absent, addr.String())
		}
	}
	return c.render(view, func() error {
		w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		if view.Signature != "" {
			fmt.Fprintf(w, "Signature:\t%s\n", view.Signature)
			fmt.Fprintf(w, "Slot:\t%d\n", view.Slot)
		}
		if view.Amount > 0 {
			fmt.Fprintf(w, "Amount:\t%s\n", builder.FormatLamports(view.Amount))
		}
		fmt.Fprintf(w, "Fee:\t%s\n", builder.FormatLamports(view.Fee))
		if view.Contract != "" {
			fmt.Fprintf(w, "Contract:\t%s\n", view.Contract)
		}
		if view.Rebuilt {
			fmt.Fprintln(w, "Note:\trebuilt after the durable nonce advanced")
		}
		if view.Reply != "" {
			fmt.Fprintf(w, "All signed:\t%t\n", view.AllSigned)
			for _, pair := range view.Signers {
				fmt.Fprintf(w, "Signer:\t%s\n", pair)
			}
			for _, addr := range view.Absent {
				fmt.Fprintf(w, "Absent signer:\t%s\n", addr)
			}
			fmt.Fprintf(w, "Reply:\t%s\n", view.Reply)
		}
		return w.Flush()
	})
}
