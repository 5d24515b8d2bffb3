// Package auth provides the vault's access control: an admin account, an
// authorized-caller whitelist for privileged ledger operations, and JWT
// bearer tokens for the HTTP surface.
package auth

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotInitialized is returned before an admin has been set.
	ErrNotInitialized = errors.New("access control not initialized")

	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("access control already initialized")

	// ErrUnauthorized is returned for callers outside the admin and the
	// whitelist.
	ErrUnauthorized = errors.New("caller is not authorized")
)

// AccessControl tracks the admin account and the whitelist of callers
// allowed to invoke privileged operations (value updates, allocation).
// The admin is always authorized.
type AccessControl struct {
	mu         sync.RWMutex
	admin      string
	authorized map[string]bool
}

// NewAccessControl creates an uninitialized access controller.
func NewAccessControl() *AccessControl {
	return &AccessControl{authorized: make(map[string]bool)}
}

// Initialize sets the admin account. May be called once.
func (a *AccessControl) Initialize(admin string) error {
	if admin == "" {
		return fmt.Errorf("%w: empty admin", ErrUnauthorized)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admin != "" {
		return ErrAlreadyInitialized
	}
	a.admin = admin
	return nil
}

// Admin returns the current admin account.
func (a *AccessControl) Admin() (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.admin == "" {
		return "", ErrNotInitialized
	}
	return a.admin, nil
}

// UpdateAdmin transfers the admin role. Only the current admin may call.
func (a *AccessControl) UpdateAdmin(caller, newAdmin string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admin == "" {
		return ErrNotInitialized
	}
	if caller != a.admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	if newAdmin == "" {
		return fmt.Errorf("%w: empty admin", ErrUnauthorized)
	}
	a.admin = newAdmin
	return nil
}

// AddAuthorized whitelists a caller. Admin only.
func (a *AccessControl) AddAuthorized(caller, addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admin == "" {
		return ErrNotInitialized
	}
	if caller != a.admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	a.authorized[addr] = true
	return nil
}

// RemoveAuthorized removes a caller from the whitelist. Admin only.
func (a *AccessControl) RemoveAuthorized(caller, addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admin == "" {
		return ErrNotInitialized
	}
	if caller != a.admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	delete(a.authorized, addr)
	return nil
}

// IsAuthorized reports whether addr is the admin or whitelisted.
func (a *AccessControl) IsAuthorized(addr string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return addr != "" && (addr == a.admin || a.authorized[addr])
}

// RequireAuthorized fails with ErrUnauthorized unless the caller is the
// admin or whitelisted, or ErrNotInitialized before an admin exists.
func (a *AccessControl) RequireAuthorized(caller string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.admin == "" {
		return ErrNotInitialized
	}
	if caller != a.admin && !a.authorized[caller] {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}
