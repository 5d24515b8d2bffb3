package vault

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/commitlock/vault/pkg/contracts"
)

func TestLossPercent(t *testing.T) {
	cases := []struct {
		name      string
		principal int64
		current   int64
		want      int64
	}{
		{"no change", 1_000, 1_000, 0},
		{"ten percent", 1_000, 900, 10},
		{"truncates down", 1_000, 895, 10},
		{"eleven percent", 1_000, 890, 11},
		{"total loss", 1_000, 0, 100},
		{"gain is negative", 1_000, 1_100, -10},
		{"zero principal", 0, 500, 0},
		{"negative principal", -100, 50, 0},
		{"large values do not overflow", math.MaxInt64, 0, 100},
		{"large swing", math.MaxInt64, -math.MaxInt64, 200},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LossPercent(tc.principal, tc.current))
		})
	}
}

func TestDetectViolationsTimeRemaining(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &contracts.Commitment{
		Principal:    1_000,
		CurrentValue: 1_000,
		Rules:        contracts.CommitmentRules{MaxLossPercent: 10},
		ExpiresAt:    now.Add(48 * time.Hour),
		Status:       contracts.StatusActive,
	}

	d := DetectViolations(c, now)
	assert.False(t, d.HasViolation)
	assert.Equal(t, 48*time.Hour, d.TimeRemaining)

	// Past maturity the remaining time saturates at zero.
	d = DetectViolations(c, now.Add(72*time.Hour))
	assert.True(t, d.DurationViolated)
	assert.Zero(t, d.TimeRemaining)
}

func TestDetectViolationsTerminalStates(t *testing.T) {
	now := time.Now()
	for _, status := range []contracts.Status{contracts.StatusSettled, contracts.StatusViolated, contracts.StatusEarlyExit} {
		c := &contracts.Commitment{
			Principal:    1_000,
			CurrentValue: 0,
			ExpiresAt:    now.Add(-time.Hour),
			Status:       status,
		}
		d := DetectViolations(c, now)
		assert.False(t, d.HasViolation, "status %s", status)
	}
}

func TestValidateRules(t *testing.T) {
	valid := contracts.CommitmentRules{
		DurationDays:   7,
		MaxLossPercent: 100,
		CommitmentType: contracts.TypeSafe,
	}
	assert.NoError(t, ValidateRules(valid))

	invalid := valid
	invalid.DurationDays = 0
	assert.ErrorIs(t, ValidateRules(invalid), ErrInvalidDuration)

	invalid = valid
	invalid.MaxLossPercent = 101
	assert.ErrorIs(t, ValidateRules(invalid), ErrInvalidMaxLoss)

	invalid = valid
	invalid.CommitmentType = ""
	assert.ErrorIs(t, ValidateRules(invalid), ErrInvalidCommitmentType)
}

func TestCommitmentID(t *testing.T) {
	assert.Equal(t, "commitment-1", CommitmentID(0))
	assert.Equal(t, "commitment-42", CommitmentID(41))
}
