package vault

import (
	"fmt"

	"github.com/commitlock/vault/pkg/contracts"
)

// ValidateRules checks a rule set for structural validity. Pure: no
// storage access, no side effects.
func ValidateRules(rules contracts.CommitmentRules) error {
	if rules.DurationDays == 0 {
		return ErrInvalidDuration
	}
	if rules.MaxLossPercent > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxLoss, rules.MaxLossPercent)
	}
	if !rules.CommitmentType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCommitmentType, rules.CommitmentType)
	}
	return nil
}
