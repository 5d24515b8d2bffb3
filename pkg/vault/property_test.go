//go:build property
// +build property

// Package vault_test contains property-based tests for loss math and
// violation detection.
package vault_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/commitlock/vault/pkg/contracts"
	"github.com/commitlock/vault/pkg/vault"
)

// TestLossPercentBounds verifies the loss percentage stays inside its
// mathematical bounds for every input pair.
func TestLossPercentBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("loss never exceeds 100 for non-negative values", prop.ForAll(
		func(principal, current int64) bool {
			if current < 0 {
				current = -current
			}
			loss := vault.LossPercent(principal, current)
			return loss <= 100
		},
		gen.Int64Range(0, 1<<62),
		gen.Int64Range(0, 1<<62),
	))

	properties.Property("non-positive principal reports zero loss", prop.ForAll(
		func(principal, current int64) bool {
			if principal > 0 {
				principal = -principal
			}
			return vault.LossPercent(principal, current) == 0
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.Property("loss is monotone in the drop", prop.ForAll(
		func(principal, a, b int64) bool {
			if principal <= 0 {
				return true
			}
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			// A deeper drop never reports a smaller loss.
			return vault.LossPercent(principal, lo) >= vault.LossPercent(principal, hi)
		},
		gen.Int64Range(1, 1<<62),
		gen.Int64Range(0, 1<<62),
		gen.Int64Range(0, 1<<62),
	))

	properties.TestingRun(t)
}

// TestDetectViolationsConsistency verifies detection agrees with the
// loss math and the clock for arbitrary active commitments.
func TestDetectViolationsConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("violation iff loss or maturity breach", prop.ForAll(
		func(principal, current int64, maxLoss uint32, hoursLeft int64) bool {
			c := &contracts.Commitment{
				Principal:    principal,
				CurrentValue: current,
				Rules:        contracts.CommitmentRules{MaxLossPercent: maxLoss % 101},
				ExpiresAt:    base.Add(time.Duration(hoursLeft) * time.Hour),
				Status:       contracts.StatusActive,
			}
			d := vault.DetectViolations(c, base)

			wantLoss := vault.LossPercent(principal, current) > int64(c.Rules.MaxLossPercent)
			wantDuration := hoursLeft <= 0
			return d.LossViolated == wantLoss &&
				d.DurationViolated == wantDuration &&
				d.HasViolation == (wantLoss || wantDuration)
		},
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(0, 1<<40),
		gen.UInt32(),
		gen.Int64Range(-1000, 1000),
	))

	properties.Property("terminal commitments never report violations", prop.ForAll(
		func(principal, current int64) bool {
			c := &contracts.Commitment{
				Principal:    principal,
				CurrentValue: current,
				ExpiresAt:    base.Add(-time.Hour),
				Status:       contracts.StatusSettled,
			}
			return !vault.DetectViolations(c, base).HasViolation
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
