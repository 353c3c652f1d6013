// Package security provides the memory-hygiene and constant-time primitives
// the biometric core relies on to satisfy its zeroization invariants.
//
// This package implements:
// - Secure byte buffers that are wiped and (where supported) mlocked
// - Constant-time comparisons for auth tags and DID hashes
// - A guarded-execution helper that wipes secrets on every exit path
package security

import (
	"crypto/subtle"
	"runtime"
	"sync"
)

// SecureBytes is a byte slice that is zeroed when released. Use it for
// per-finger secrets, inner seeds, auth keys, and aggregated commitments —
// anything spec.md marks "must be zeroed on drop."
type SecureBytes struct {
	data   []byte
	locked bool
	mu     sync.Mutex
}

// NewSecureBytes allocates a SecureBytes of the given size and attempts to
// lock it against swapping. Locking failure is non-fatal: not every OS or
// privilege level supports mlock, and the wipe-on-destroy guarantee holds
// regardless.
func NewSecureBytes(size int) *SecureBytes {
	sb := &SecureBytes{data: make([]byte, size)}
	_ = sb.lock()
	runtime.SetFinalizer(sb, func(s *SecureBytes) { s.Destroy() })
	return sb
}

// FromBytes copies data into a new SecureBytes and wipes the source slice.
func FromBytes(data []byte) *SecureBytes {
	sb := NewSecureBytes(len(data))
	copy(sb.data, data)
	Wipe(data)
	return sb
}

// Bytes returns the underlying slice. The caller must not retain it beyond
// the SecureBytes' own lifetime.
func (s *SecureBytes) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Copy returns a fresh copy of the data; the caller owns wiping it.
func (s *SecureBytes) Copy() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Len reports the length of the secured data.
func (s *SecureBytes) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Destroy wipes and unlocks the memory. Safe to call more than once.
func (s *SecureBytes) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return
	}
	Wipe(s.data)
	if s.locked {
		s.unlock()
	}
	s.data = nil
}

// Wipe overwrites data with zeros. The explicit loop plus KeepAlive defeats
// dead-store elimination; this is the only zeroization primitive the core
// is allowed to rely on (spec.md §5).
func Wipe(data []byte) {
	if len(data) == 0 {
		return
	}
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

// ConstantTimeCompare reports whether a and b are equal, in time independent
// of their contents. Required for auth_tag and DID id_hash comparisons.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GuardedExec runs fn with key, then wipes key regardless of how fn returns.
func GuardedExec(key []byte, fn func([]byte) error) error {
	defer Wipe(key)
	return fn(key)
}

// GuardedSecure runs fn with sb, then destroys sb regardless of how fn returns.
func GuardedSecure(sb *SecureBytes, fn func(*SecureBytes) error) error {
	defer sb.Destroy()
	return fn(sb)
}
