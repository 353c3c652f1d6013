//go:build linux

// Hardware TPM 2.0 backing for devicebind, via /dev/tpmrm0 or /dev/tpm0.
// Seals plaintext to a primary storage key created fresh under the TPM's
// storage hierarchy each Open -- there is no long-lived decdid-specific key
// left resident in the TPM's NV storage between runs.
package devicebind

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

var tpmDevicePaths = []string{
	"/dev/tpmrm0",
	"/dev/tpm0",
}

// HardwareProvider implements Provider using a real TPM 2.0 device.
type HardwareProvider struct {
	mu         sync.Mutex
	devicePath string
	transport  transport.TPM
	isOpen     bool
	srkHandle  tpm2.TPMHandle
}

func detectHardware() *HardwareProvider {
	for _, path := range tpmDevicePaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		f.Close()
		return &HardwareProvider{devicePath: path}
	}
	return nil
}

// Available reports whether the TPM device node still exists.
func (h *HardwareProvider) Available() bool {
	if h.devicePath == "" {
		return false
	}
	_, err := os.Stat(h.devicePath)
	return err == nil
}

// Open establishes the TPM connection and creates the storage root key
// used by Wrap/Unwrap for the lifetime of this provider.
func (h *HardwareProvider) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isOpen {
		return nil
	}
	t, err := transport.OpenTPM(h.devicePath)
	if err != nil {
		return fmt.Errorf("devicebind: opening %s: %w", h.devicePath, err)
	}

	srkHandle, err := createPrimaryKey(t)
	if err != nil {
		t.Close()
		return fmt.Errorf("devicebind: creating storage root key: %w", err)
	}

	h.transport = t
	h.srkHandle = srkHandle
	h.isOpen = true
	return nil
}

// createPrimaryKey asks the TPM for a fresh RSA storage primary under the
// owner hierarchy. Every field mirrors the standard SRK template.
func createPrimaryKey(t transport.TPM) (tpm2.TPMHandle, error) {
	cmd := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.TPMRHOwner,
		InPublic: tpm2.New2B(tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgRSA,
			NameAlg: tpm2.TPMAlgSHA256,
			ObjectAttributes: tpm2.TPMAObject{
				FixedTPM:            true,
				FixedParent:         true,
				SensitiveDataOrigin: true,
				UserWithAuth:        true,
				Restricted:          true,
				Decrypt:             true,
			},
			Parameters: tpm2.NewTPMUPublicParms(
				tpm2.TPMAlgRSA,
				&tpm2.TPMSRSAParms{
					Symmetric: tpm2.TPMTSymDefObject{
						Algorithm: tpm2.TPMAlgAES,
						KeyBits:   tpm2.NewTPMUSymKeyBits(tpm2.TPMAlgAES, tpm2.TPMKeyBits(128)),
						Mode:      tpm2.NewTPMUSymMode(tpm2.TPMAlgAES, tpm2.TPMAlgCFB),
					},
					KeyBits: 2048,
				},
			),
		}),
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return 0, err
	}
	return rsp.ObjectHandle, nil
}

// Wrap seals plaintext as a keyed-hash object under the storage root key.
// The sealed blob layout is len(pub) || pub || len(priv) || priv.
func (h *HardwareProvider) Wrap(plaintext []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isOpen {
		return nil, ErrNotAvailable
	}

	createCmd := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{
			Handle: h.srkHandle,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				Data: tpm2.NewTPMUSensitiveCreate(&tpm2.TPM2BSensitiveData{Buffer: plaintext}),
			},
		},
		InPublic: tpm2.New2B(tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgKeyedHash,
			NameAlg: tpm2.TPMAlgSHA256,
			ObjectAttributes: tpm2.TPMAObject{
				FixedTPM:     true,
				FixedParent:  true,
				UserWithAuth: true,
			},
		}),
	}
	rsp, err := createCmd.Execute(h.transport)
	if err != nil {
		return nil, fmt.Errorf("devicebind: tpm2.Create: %w", err)
	}

	pubBytes, err := rsp.OutPublic.Marshal()
	if err != nil {
		return nil, fmt.Errorf("devicebind: marshal public: %w", err)
	}
	privBytes, err := rsp.OutPrivate.Marshal()
	if err != nil {
		return nil, fmt.Errorf("devicebind: marshal private: %w", err)
	}

	sealed := make([]byte, 4+len(pubBytes)+4+len(privBytes))
	binary.BigEndian.PutUint32(sealed[0:4], uint32(len(pubBytes)))
	copy(sealed[4:], pubBytes)
	offset := 4 + len(pubBytes)
	binary.BigEndian.PutUint32(sealed[offset:offset+4], uint32(len(privBytes)))
	copy(sealed[offset+4:], privBytes)
	return sealed, nil
}

// Unwrap loads and unseals a blob produced by Wrap on this same TPM.
func (h *HardwareProvider) Unwrap(sealed []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isOpen {
		return nil, ErrNotAvailable
	}
	if len(sealed) < 8 {
		return nil, errors.New("devicebind: sealed data too short")
	}

	pubLen := binary.BigEndian.Uint32(sealed[0:4])
	if uint32(len(sealed)) < 4+pubLen+4 {
		return nil, errors.New("devicebind: sealed data corrupted")
	}
	pubBytes := sealed[4 : 4+pubLen]
	offset := 4 + pubLen
	privLen := binary.BigEndian.Uint32(sealed[offset : offset+4])
	if uint32(len(sealed)) < offset+4+privLen {
		return nil, errors.New("devicebind: sealed data corrupted")
	}
	privBytes := sealed[offset+4 : offset+4+privLen]

	var outPublic tpm2.TPM2BPublic
	if _, err := outPublic.Unmarshal(pubBytes); err != nil {
		return nil, fmt.Errorf("devicebind: unmarshal public: %w", err)
	}

	loadCmd := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: h.srkHandle,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic:  outPublic,
		InPrivate: tpm2.TPM2BPrivate{Buffer: privBytes},
	}
	loadRsp, err := loadCmd.Execute(h.transport)
	if err != nil {
		return nil, fmt.Errorf("devicebind: tpm2.Load: %w", err)
	}
	defer func() {
		tpm2.FlushContext{FlushHandle: loadRsp.ObjectHandle}.Execute(h.transport)
	}()

	unsealCmd := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: loadRsp.ObjectHandle,
			Auth:   tpm2.PasswordAuth(nil),
		},
	}
	unsealRsp, err := unsealCmd.Execute(h.transport)
	if err != nil {
		return nil, fmt.Errorf("devicebind: tpm2.Unseal: %w", err)
	}
	return unsealRsp.OutData.Buffer, nil
}

// Close flushes the storage root key and closes the TPM transport.
func (h *HardwareProvider) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isOpen {
		return nil
	}
	if h.srkHandle != 0 {
		tpm2.FlushContext{FlushHandle: h.srkHandle}.Execute(h.transport)
	}
	err := h.transport.Close()
	h.isOpen = false
	return err
}
