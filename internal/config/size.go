package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadSize means a string did not match the size/metric grammars ParseSize and ParseMetric
// accept.
var ErrBadSize = errors.New("config: bad size")

// ParseSize parses an integer quantity with an optional binary unit suffix (k/M/G, each ×1024
// over the last) or an exponent of the form "base^exponent" (e.g. "2^20"). The two forms are
// mutually exclusive: "4k^2" is rejected rather than guessing which applies first.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)

	if base, exp, ok := strings.Cut(s, "^"); ok {
		b, err := strconv.ParseInt(base, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadSize, s)
		}

		e, err := strconv.ParseInt(exp, 10, 64)
		if err != nil || e < 0 {
			return 0, fmt.Errorf("%w: %q", ErrBadSize, s)
		}

		n := int64(1)
		for i := int64(0); i < e; i++ {
			n *= b
		}

		return n, nil
	}

	mult := int64(1)
	digits := s

	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult, digits = 1<<10, s[:n-1]
		case 'M':
			mult, digits = 1<<20, s[:n-1]
		case 'G':
			mult, digits = 1<<30, s[:n-1]
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadSize, s)
	}

	return n * mult, nil
}

// metricSuffixes are the decimal (not binary) unit suffixes ParseMetric accepts, largest first so
// a longer match (none of these overlap, but this keeps the table self-documenting as ordered).
var metricSuffixes = map[byte]float64{
	'G': 1e9,
	'M': 1e6,
	'k': 1e3,
	'm': 1e-3,
	'u': 1e-6,
	'n': 1e-9,
}

// ParseMetric parses a decimal quantity with an optional metric suffix (k/M/G for ×1e3/1e6/1e9,
// m/u/n for ×1e-3/1e-6/1e-9), the grammar spec.md uses for fractional configuration values (e.g.
// group-commit window in seconds: "2.5m" is 2.5 milliseconds expressed in whole seconds).
func ParseMetric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrBadSize)
	}

	mult := 1.0
	digits := s

	if last := s[len(s)-1]; last != '.' && (last < '0' || last > '9') {
		m, ok := metricSuffixes[last]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrBadSize, s)
		}

		mult, digits = m, s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(digits), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadSize, s)
	}

	return n * mult, nil
}
