package main

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var identityGrammar = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// identityRegistry allocates, validates, and reclaims usernames. Names are
// reserved case-insensitively; the display form preserves original casing.
// A single mutex guards both the reservation set and the auto-name counter
// so reserve/release/rename are each atomic.
type identityRegistry struct {
	mu        sync.Mutex
	reserved  map[string]string // case-folded key -> display form
	autoCount int
}

func newIdentityRegistry() *identityRegistry {
	return &identityRegistry{reserved: make(map[string]string)}
}

func validateIdentityGrammar(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) < identityMinLen || len(name) > identityMaxLen {
		return fmt.Errorf("name must be %d-%d characters", identityMinLen, identityMaxLen)
	}
	if !identityGrammar.MatchString(name) {
		return fmt.Errorf("name may only contain letters, numbers, underscore and hyphen")
	}
	return nil
}

// reserve validates and reserves name, or — if name is empty — allocates the
// next auto name (prefix + zero-padded 4-digit counter), skipping any value
// that collides with an existing reservation.
func (r *identityRegistry) reserve(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		for {
			r.autoCount++
			candidate := fmt.Sprintf("%s%04d", autoUsernamePrefix, r.autoCount)
			key := strings.ToLower(candidate)
			if _, taken := r.reserved[key]; !taken {
				r.reserved[key] = candidate
				return candidate, nil
			}
		}
	}

	if err := validateIdentityGrammar(name); err != nil {
		return "", err
	}
	key := strings.ToLower(name)
	if _, taken := r.reserved[key]; taken {
		return "", fmt.Errorf("Username is already taken")
	}
	r.reserved[key] = name
	return name, nil
}

// release idempotently frees name's reservation.
func (r *identityRegistry) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, strings.ToLower(name))
}

// rename atomically validates newName and swaps the reservation from
// oldName to newName. Callers are responsible for propagating the rename to
// dependent indexes (room memberships, rate windows) before releasing any
// broader lock they hold, so that no message is routed under a stale name.
func (r *identityRegistry) rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := validateIdentityGrammar(newName); err != nil {
		return err
	}
	newKey := strings.ToLower(newName)
	if newKey == strings.ToLower(oldName) {
		return fmt.Errorf("Username is already taken")
	}
	if _, taken := r.reserved[newKey]; taken {
		return fmt.Errorf("Username is already taken")
	}
	delete(r.reserved, strings.ToLower(oldName))
	r.reserved[newKey] = newName
	return nil
}

func (r *identityRegistry) displayName(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.reserved[strings.ToLower(name)]
	return v, ok
}
