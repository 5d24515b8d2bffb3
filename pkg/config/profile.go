package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the optional YAML vault profile.
type Profile struct {
	// SupportedAssets restricts commitment creation to a whitelist when
	// non-empty.
	SupportedAssets []string `yaml:"supported_assets"`

	// RateLimits tunes the per-operation limiter policies.
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits,omitempty"`
}

// RateLimitConfig tunes one operation's token bucket.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

// LoadProfile reads and parses a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	for op, rl := range p.RateLimits {
		if rl.PerMinute <= 0 || rl.Burst <= 0 {
			return nil, fmt.Errorf("profile %s: rate limit for %s must be positive", path, op)
		}
	}
	return &p, nil
}
