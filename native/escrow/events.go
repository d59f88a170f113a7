package escrow

import (
	"strconv"
	"strings"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
)

const (
	EventTypeInitialized = "escrow.initialized"
	EventTypeReleased    = "escrow.released"
	EventTypeCanceled    = "escrow.canceled"
)

// NewInitializedEvent returns the canonical event payload for a newly funded contract.
func NewInitializedEvent(addr crypto.Address, c *Contract, lamports uint64) types.Event {
	evt := newContractEvent(EventTypeInitialized, addr, c, lamports)
	if c.Time != nil {
		evt.Attributes["threshold"] = strconv.FormatInt(c.Time.Threshold, 10)
		evt.Attributes["timeAuthority"] = c.Time.Authority.String()
	}
	if len(c.Witnesses) > 0 {
		witnesses := make([]string, len(c.Witnesses))
		for i, w := range c.Witnesses {
			witnesses[i] = w.Address.String()
		}
		evt.Attributes["witnesses"] = strings.Join(witnesses, ",")
	}
	return evt
}

// NewReleasedEvent returns the canonical event payload for a release to the recipient.
func NewReleasedEvent(addr crypto.Address, c *Contract, lamports uint64) types.Event {
	return newContractEvent(EventTypeReleased, addr, c, lamports)
}

// NewCanceledEvent returns the canonical event payload for a refund to the payer.
func NewCanceledEvent(addr crypto.Address, c *Contract, lamports uint64) types.Event {
	return newContractEvent(EventTypeCanceled, addr, c, lamports)
}

func newContractEvent(eventType string, addr crypto.Address, c *Contract, lamports uint64) types.Event {
	return types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"contract":   addr.String(),
			"payer":      c.Payer.String(),
			"recipient":  c.Recipient.String(),
			"lamports":   strconv.FormatUint(lamports, 10),
			"cancelable": strconv.FormatBool(c.Cancelable),
			"status":     c.Status.String(),
		},
	}
}
