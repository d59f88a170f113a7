package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LamportsPerCoin converts between whole coins and lamports.
const LamportsPerCoin = 1_000_000_000

const coinDecimals = 9

var errInvalidAmount = errors.New("builder: invalid amount")

// SpendAmount is either an exact number of lamports or everything the source
// holds after fees.
type SpendAmount struct {
	lamports uint64
	all      bool
}

// Spend is an exact amount.
func Spend(lamports uint64) SpendAmount { return SpendAmount{lamports: lamports} }

// SpendAll resolves to balance minus fee at build time.
func SpendAll() SpendAmount { return SpendAmount{all: true} }

func (a SpendAmount) IsAll() bool { return a.all }

// Lamports is the exact amount; zero for SpendAll.
func (a SpendAmount) Lamports() uint64 { return a.lamports }

func (a SpendAmount) String() string {
	if a.all {
		return "ALL"
	}
	return FormatLamports(a.lamports)
}

// ParseAmount reads a coin amount such as "1.5" or the keyword "ALL".
// Fractions finer than one lamport are rejected.
func ParseAmount(s string) (SpendAmount, error) {
	trimmed := strings.TrimSpace(s)
	if strings.EqualFold(trimmed, "all") {
		return SpendAll(), nil
	}
	lamports, err := ParseCoins(trimmed)
	if err != nil {
		return SpendAmount{}, err
	}
	return Spend(lamports), nil
}

// ParseCoins converts a decimal coin amount into lamports.
func ParseCoins(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", errInvalidAmount, s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", errInvalidAmount, s)
	}
	scaled := d.Shift(coinDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", errInvalidAmount, s, coinDecimals)
	}
	if scaled.GreaterThan(decimal.NewFromUint64(^uint64(0))) {
		return 0, fmt.Errorf("%w: %q overflows", errInvalidAmount, s)
	}
	return scaled.BigInt().Uint64(), nil
}

// FormatLamports renders lamports as a coin amount without trailing zeros.
func FormatLamports(lamports uint64) string {
	return decimal.NewFromUint64(lamports).Shift(-coinDecimals).String()
}
