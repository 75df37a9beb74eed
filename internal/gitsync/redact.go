package gitsync

import (
	"strings"
	"sync"
)

// Redactor scrubs ingested credential strings out of any text that could
// reach a log line, a workflow log chunk, or an error message. Secrets
// are registered once and never leave the process.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
}

// NewRedactor creates an empty redactor.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// Add registers a secret for scrubbing. Empty and trivially short
// strings are ignored to avoid mangling ordinary output.
func (r *Redactor) Add(secret string) {
	if len(secret) < 4 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.secrets {
		if existing == secret {
			return
		}
	}
	r.secrets = append(r.secrets, secret)
}

// Redact replaces every registered secret in s with a placeholder.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, "***")
	}
	return s
}
