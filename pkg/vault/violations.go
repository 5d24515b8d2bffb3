package vault

import (
	"math/big"
	"time"

	"github.com/commitlock/vault/pkg/contracts"
)

var hundred = big.NewInt(100)

// LossPercent returns the truncating integer percentage by which current
// has fallen below principal. The intermediate product is computed in
// arbitrary precision so (principal - current) * 100 cannot overflow.
// Defined as 0 when principal is not positive; negative when the position
// has gained value.
func LossPercent(principal, current int64) int64 {
	if principal <= 0 {
		return 0
	}
	loss := new(big.Int).SetInt64(principal)
	loss.Sub(loss, big.NewInt(current))
	loss.Mul(loss, hundred)
	loss.Quo(loss, big.NewInt(principal))
	return loss.Int64()
}

// DetectViolations evaluates a commitment's rules at the given instant.
// Pure: the caller decides whether to emit an event or act on the result.
// A commitment in a terminal state reports no violation.
func DetectViolations(c *contracts.Commitment, now time.Time) contracts.ViolationDetails {
	if c.Status != contracts.StatusActive {
		return contracts.ViolationDetails{}
	}

	lossPercent := LossPercent(c.Principal, c.CurrentValue)
	lossViolated := lossPercent > int64(c.Rules.MaxLossPercent)
	durationViolated := c.Expired(now)

	var remaining time.Duration
	if c.ExpiresAt.After(now) {
		remaining = c.ExpiresAt.Sub(now)
	}

	return contracts.ViolationDetails{
		HasViolation:     lossViolated || durationViolated,
		LossViolated:     lossViolated,
		DurationViolated: durationViolated,
		LossPercent:      lossPercent,
		TimeRemaining:    remaining,
	}
}
