// Package emergency implements the system-wide pause gate. While
// emergency mode is engaged, every mutating vault operation is refused.
package emergency

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrEmergencyMode is returned while the vault is paused.
var ErrEmergencyMode = errors.New("vault is in emergency mode")

// ErrUnauthorized is returned when a non-admin toggles the mode.
var ErrUnauthorized = errors.New("only the admin may toggle emergency mode")

// Control is an admin-gated pause flag.
type Control struct {
	engaged atomic.Bool
	admin   string
	logger  *slog.Logger
}

// NewControl creates a control gated by the given admin account.
func NewControl(admin string) *Control {
	return &Control{
		admin:  admin,
		logger: slog.Default().With("component", "emergency"),
	}
}

// Set toggles emergency mode. Admin only.
func (c *Control) Set(caller string, enabled bool) error {
	if caller != c.admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	was := c.engaged.Swap(enabled)
	if was != enabled {
		c.logger.Warn("emergency mode changed", "enabled", enabled, "caller", caller)
	}
	return nil
}

// Engaged reports whether emergency mode is active.
func (c *Control) Engaged() bool {
	return c.engaged.Load()
}

// RequireNotEmergency fails with ErrEmergencyMode while the vault is
// paused.
func (c *Control) RequireNotEmergency() error {
	if c.engaged.Load() {
		return ErrEmergencyMode
	}
	return nil
}
