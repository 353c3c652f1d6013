package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeWALWritesHeaderOnCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelopes.wal")
	w, err := openEnvelopeWAL(path)
	require.NoError(t, err)
	defer w.Close()

	info, err := w.file.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size())
}

func TestEnvelopeWALAppendGrowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelopes.wal")
	w, err := openEnvelopeWAL(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.append("did:cardano:mainnet:one", []byte(`{"did":"one"}`)))
	info, err := w.file.Stat()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(8))

	sizeAfterFirst := info.Size()
	require.NoError(t, w.append("did:cardano:mainnet:two", []byte(`{"did":"two"}`)))
	info, err = w.file.Stat()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), sizeAfterFirst)
}

func TestEnvelopeWALReopenPreservesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelopes.wal")
	w, err := openEnvelopeWAL(path)
	require.NoError(t, err)
	require.NoError(t, w.append("did:cardano:mainnet:one", []byte(`{"did":"one"}`)))
	require.NoError(t, w.Close())

	w2, err := openEnvelopeWAL(path)
	require.NoError(t, err)
	defer w2.Close()

	info, err := w2.file.Stat()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(8)) // header preserved, not rewritten
}
