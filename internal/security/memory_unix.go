//go:build unix

package security

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// lock attempts to mlock the secure buffer to keep it out of swap.
func (s *SecureBytes) lock() error {
	if len(s.data) == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&s.data[0])
	size := uintptr(len(s.data))
	if err := unix.Mlock(unsafe.Slice((*byte)(ptr), size)); err != nil {
		return err
	}
	s.locked = true
	return nil
}

// unlock releases a previously acquired mlock.
func (s *SecureBytes) unlock() {
	if len(s.data) == 0 {
		return
	}
	ptr := unsafe.Pointer(&s.data[0])
	size := uintptr(len(s.data))
	_ = unix.Munlock(unsafe.Slice((*byte)(ptr), size))
	s.locked = false
}
