package artifact

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a dar slice size such as "7G", "512M" or "2GB" into bytes.
// Suffixes K, M, G, T and P (optionally followed by B or iB, case-insensitive)
// are powers of 1024, as dar interprets them. A plain number is bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	upper := strings.ToUpper(s)
	upper = strings.TrimSuffix(upper, "IB")
	if upper != strings.ToUpper(s) {
		upper += "B"
	}
	upper = strings.TrimSuffix(upper, "B")

	multipliers := []struct {
		suffix string
		mult   int64
	}{
		{"P", 1 << 50},
		{"T", 1 << 40},
		{"G", 1 << 30},
		{"M", 1 << 20},
		{"K", 1 << 10},
	}

	mult := int64(1)
	numStr := upper
	for _, m := range multipliers {
		if strings.HasSuffix(upper, m.suffix) {
			numStr = strings.TrimSuffix(upper, m.suffix)
			mult = m.mult
			break
		}
	}
	if numStr == "" {
		return 0, fmt.Errorf("missing number in size: %s", s)
	}

	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive: %s", s)
	}
	if n > (1<<63-1)/mult {
		return 0, fmt.Errorf("size overflows: %s", s)
	}
	return n * mult, nil
}
