package model

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// amountPattern matches an unsigned decimal amount with an optional
// fractional part, e.g. "100", "100.5", "0.00".
var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ErrInvalidAmount is returned when an amount string is not a well-formed
// non-negative decimal, or its fractional tail exceeds the asset's
// declared precision.
type ErrInvalidAmount struct {
	Amount string
	Reason string
}

func (e *ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Amount, e.Reason)
}

// ParseAmount converts a decimal-string amount into an arbitrary-precision
// integer denominated in the asset's smallest unit, per the asset's
// precision. The fractional tail is right-padded with zeros up to
// precision digits; a tail longer than precision is rejected outright
// rather than silently truncated.
func ParseAmount(amount string, precision int) (*big.Int, error) {
	if !amountPattern.MatchString(amount) {
		return nil, &ErrInvalidAmount{Amount: amount, Reason: "does not match ^\\d+(\\.\\d+)?$"}
	}

	intPart := amount
	fracPart := ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		intPart, fracPart = amount[:i], amount[i+1:]
	}

	if len(fracPart) > precision {
		return nil, &ErrInvalidAmount{
			Amount: amount,
			Reason: fmt.Sprintf("fractional part longer than precision %d", precision),
		}
	}
	fracPart += strings.Repeat("0", precision-len(fracPart))

	digits := intPart + fracPart
	result, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, &ErrInvalidAmount{Amount: amount, Reason: "not a valid integer after normalization"}
	}
	return result, nil
}

// FormatAmount renders a smallest-unit integer back as a decimal string
// with the asset's precision, the inverse of ParseAmount. Used for query
// responses, never for signing (signed payloads carry the original string).
func FormatAmount(units *big.Int, precision int) string {
	s := units.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if precision == 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	for len(s) <= precision {
		s = "0" + s
	}
	intPart := s[:len(s)-precision]
	fracPart := s[len(s)-precision:]
	out := intPart + "." + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
