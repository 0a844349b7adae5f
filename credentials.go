package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// credentialRotator generates and persists the current admin passphrase,
// regenerating it on a wall-clock period. Elevation is sticky: a Session
// that has already set its admin flag stays admin across rotations — the
// rotator only changes what value is required for *future* elevations.
type credentialRotator struct {
	path    string
	current atomic.Pointer[string]
}

func newCredentialRotator(path string) *credentialRotator {
	return &credentialRotator{path: path}
}

// generate produces a fresh adminSecretLen-character secret, persists it,
// and makes it the current secret.
func (c *credentialRotator) generate() (string, error) {
	secret, err := randomSecret(adminSecretLen)
	if err != nil {
		return "", fmt.Errorf("generate admin secret: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist admin secret: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return "", fmt.Errorf("persist admin secret: %w", err)
	}
	c.current.Store(&secret)
	return secret, nil
}

// check reports whether candidate matches the current secret, using a
// constant-time comparison so timing doesn't leak partial matches.
func (c *credentialRotator) check(candidate string) bool {
	p := c.current.Load()
	if p == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*p), []byte(candidate)) == 1
}

// run generates an initial secret and then regenerates it every
// adminSecretRotation until ctx is canceled.
func (c *credentialRotator) run(ctx context.Context) {
	if _, err := c.generate(); err != nil {
		log.Printf("[credentials] initial secret generation failed: %v", err)
	} else {
		log.Printf("[credentials] admin secret written to %s", c.path)
	}

	ticker := time.NewTicker(adminSecretRotation)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.generate(); err != nil {
				log.Printf("[credentials] rotation failed: %v", err)
				continue
			}
			log.Printf("[credentials] admin secret rotated")
		}
	}
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(out), nil
}
