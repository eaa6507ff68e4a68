package rail

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount converts a decimal token string (e.g. "5.5") to nano units.
// 1 token = 1_000_000_000 nano.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if strings.HasPrefix(whole, "-") {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}

	if len(frac) > 9 {
		return nil, fmt.Errorf("amount has more than 9 decimal places: %s", s)
	}
	for len(frac) < 9 {
		frac += "0"
	}

	nano, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return nano, nil
}

// FormatAmount renders nano units as a decimal token string with trailing
// zeros trimmed.
func FormatAmount(nano *big.Int) string {
	if nano == nil || nano.Sign() == 0 {
		return "0"
	}
	neg := nano.Sign() < 0
	abs := new(big.Int).Abs(nano)

	q, r := new(big.Int).QuoRem(abs, big.NewInt(1_000_000_000), new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		frac := fmt.Sprintf("%09d", r)
		frac = strings.TrimRight(frac, "0")
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
