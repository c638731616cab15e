package vault

import "sync"

// Serial queues callers in front of a Vault. The vault itself rejects
// overlapping calls; hosts with several goroutines (the HTTP API, keepers)
// wait here instead.
type Serial struct {
	mu sync.Mutex
	v  *Vault
}

func NewSerial(v *Vault) *Serial {
	return &Serial{v: v}
}

// Do runs fn with exclusive access to the vault.
func (s *Serial) Do(fn func(v *Vault) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.v)
}

// Vault returns the wrapped vault for calls that need no ordering, such as
// Subscribe or registry lookups.
func (s *Serial) Vault() *Vault { return s.v }
