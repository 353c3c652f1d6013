package devicebind

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSoftwareProviderWrapUnwrapRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "wrap.key")
	p, err := NewSoftwareProvider(keyPath)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer p.Close()

	plaintext := []byte("helper record bytes")
	sealed, err := p.Wrap(plaintext)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if bytes.Equal(sealed, plaintext) {
		t.Fatal("sealed output should not equal plaintext")
	}

	got, err := p.Unwrap(sealed)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestSoftwareProviderPersistsKeyAcrossInstances(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "wrap.key")
	p1, err := NewSoftwareProvider(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := p1.Wrap([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	p1.Close()

	p2, err := NewSoftwareProvider(keyPath)
	if err != nil {
		t.Fatalf("second provider: %v", err)
	}
	defer p2.Close()

	got, err := p2.Unwrap(sealed)
	if err != nil {
		t.Fatalf("unwrap with reloaded key: %v", err)
	}
	if string(got) != "secret" {
		t.Fatalf("expected secret, got %q", got)
	}
}

func TestSoftwareProviderRejectsTamperedCiphertext(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "wrap.key")
	p, err := NewSoftwareProvider(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	sealed, err := p.Wrap([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := p.Unwrap(sealed); err == nil {
		t.Fatal("expected tamper detection to fail unwrap")
	}
}

func TestDetectFallsBackToSoftwareWhenTPMUnavailable(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "wrap.key")
	provider, err := Detect(false, keyPath)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	defer provider.Close()
	if !provider.Available() {
		t.Fatal("expected fallback provider to report available")
	}
}
