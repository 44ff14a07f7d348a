package magink

import (
	"fmt"
	"strings"
)

// DefaultQuotaThreshold is the badge count that unlocks the Wizard mint.
const DefaultQuotaThreshold uint8 = 9

// QuotaComparison names how the badge count is compared to the threshold.
type QuotaComparison uint8

const (
	// QuotaAtLeast accepts any count at or above the threshold.
	QuotaAtLeast QuotaComparison = iota
	// QuotaExact accepts only a count equal to the threshold. Accounts that
	// keep claiming past the threshold lose eligibility.
	QuotaExact
)

func (c QuotaComparison) String() string {
	switch c {
	case QuotaAtLeast:
		return "at_least"
	case QuotaExact:
		return "exact"
	default:
		return "unknown"
	}
}

// ParseQuotaComparison parses the textual form used in configuration files.
func ParseQuotaComparison(value string) (QuotaComparison, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "at_least", "at-least", "gte":
		return QuotaAtLeast, nil
	case "exact", "eq":
		return QuotaExact, nil
	default:
		return QuotaAtLeast, fmt.Errorf("magink: unknown quota comparison %q", value)
	}
}

// QuotaPolicy decides whether an account has collected enough badges.
type QuotaPolicy struct {
	Comparison QuotaComparison
	Threshold  uint8
}

// DefaultQuotaPolicy returns the at-least-nine policy.
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{Comparison: QuotaAtLeast, Threshold: DefaultQuotaThreshold}
}

// Validate ensures the policy can be satisfied.
func (p QuotaPolicy) Validate() error {
	switch p.Comparison {
	case QuotaAtLeast, QuotaExact:
	default:
		return fmt.Errorf("magink: invalid quota comparison %d", p.Comparison)
	}
	if p.Threshold == 0 {
		return fmt.Errorf("magink: quota threshold must be positive")
	}
	return nil
}

// Satisfied reports whether badges meets the policy.
func (p QuotaPolicy) Satisfied(badges uint8) bool {
	switch p.Comparison {
	case QuotaExact:
		return badges == p.Threshold
	default:
		return badges >= p.Threshold
	}
}
