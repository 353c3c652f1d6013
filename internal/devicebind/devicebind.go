// Package devicebind wraps helper-store-at-rest key material to a physical
// TPM 2.0 when one is present, falling back to a software-wrapped key on
// systems without one. This sits entirely outside C1-C6: the biometric core
// never touches a wrapping key, it only produces the HelperRecord bytes that
// this package's caller (decdidctl / the external store) chooses to wrap.
package devicebind

import "errors"

// ErrNotAvailable is returned by a Provider method when the underlying
// hardware is not present or not open.
var ErrNotAvailable = errors.New("devicebind: provider not available")

// Provider abstracts a device-bound wrapping key. Real implementations never
// return the key itself -- only Wrap/Unwrap operations performed against it,
// so an attacker who reads the helper store at rest gets nothing without the
// same device.
type Provider interface {
	// Available reports whether this provider's hardware is present and
	// usable right now.
	Available() bool

	// Wrap encrypts plaintext under the device-bound key, returning an
	// opaque sealed blob.
	Wrap(plaintext []byte) ([]byte, error)

	// Unwrap reverses Wrap. Fails if sealed was produced by a different
	// device's key.
	Unwrap(sealed []byte) ([]byte, error)

	// Close releases any held hardware resources.
	Close() error
}

// Detect returns the best available Provider: a hardware TPM if one exists
// and opens successfully, else a software-wrapped fallback. requireTPM
// forces an error instead of falling back, for deployments that must refuse
// to run without hardware backing.
func Detect(requireTPM bool, softwareKeyPath string) (Provider, error) {
	if hw := detectHardware(); hw != nil {
		if err := hw.Open(); err == nil {
			return hw, nil
		}
	}
	if requireTPM {
		return nil, errors.New("devicebind: no hardware TPM available and require_tpm is set")
	}
	return NewSoftwareProvider(softwareKeyPath)
}
