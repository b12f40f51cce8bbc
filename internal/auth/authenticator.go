// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"

	"github.com/samber/oops"
)

// ErrUnknownPrincipal is returned when Authenticate is called for a
// principal that has never been issued a key.
var ErrUnknownPrincipal = oops.Code("AUTH_UNKNOWN_PRINCIPAL").Errorf("unknown principal")

// ErrInvalidKey is returned when a presented key does not match the
// principal's stored hash.
var ErrInvalidKey = oops.Code("AUTH_INVALID_KEY").Errorf("invalid api key")

// Authenticator issues and verifies API keys for publishers, the
// credential wasmstreamd's gateway checks before a Publish call is
// allowed to reach the module registry.
type Authenticator struct {
	hasher KeyHasher
	mu     sync.RWMutex
	hashes map[string]string // principal -> argon2id hash
}

// NewAuthenticator creates an Authenticator backed by an in-memory key
// store. The module host never sees plaintext keys again after Issue
// returns them.
func NewAuthenticator(hasher KeyHasher) *Authenticator {
	return &Authenticator{hasher: hasher, hashes: make(map[string]string)}
}

// Issue generates a random API key for principal, stores its hash, and
// returns the plaintext key. The plaintext is never stored or logged;
// callers must persist it themselves since it cannot be recovered.
func (a *Authenticator) Issue(principal string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", oops.Code("AUTH_KEY_GEN_FAILED").Wrap(err)
	}
	key := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := a.hasher.Hash(key)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.hashes[principal] = hash
	a.mu.Unlock()

	return key, nil
}

// Revoke removes principal's key, if any.
func (a *Authenticator) Revoke(principal string) {
	a.mu.Lock()
	delete(a.hashes, principal)
	a.mu.Unlock()
}

// Authenticate verifies that presentedKey matches the key issued to
// principal.
func (a *Authenticator) Authenticate(principal, presentedKey string) error {
	a.mu.RLock()
	hash, ok := a.hashes[principal]
	a.mu.RUnlock()
	if !ok {
		return ErrUnknownPrincipal
	}

	match, err := a.hasher.Verify(presentedKey, hash)
	if err != nil {
		return ErrInvalidKey
	}
	if !match {
		return ErrInvalidKey
	}
	return nil
}
