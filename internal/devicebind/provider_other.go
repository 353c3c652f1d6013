//go:build !linux

package devicebind

// HardwareProvider is unimplemented on this platform; detectHardware always
// reports no hardware TPM available, so Detect falls back to the software
// provider (or errors, under requireTPM).
type HardwareProvider struct{}

func detectHardware() *HardwareProvider { return nil }

func (h *HardwareProvider) Open() error                        { return ErrNotAvailable }
func (h *HardwareProvider) Available() bool                    { return false }
func (h *HardwareProvider) Wrap(plaintext []byte) ([]byte, error) { return nil, ErrNotAvailable }
func (h *HardwareProvider) Unwrap(sealed []byte) ([]byte, error)  { return nil, ErrNotAvailable }
func (h *HardwareProvider) Close() error                        { return nil }
