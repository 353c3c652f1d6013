package store

// envelopeWAL is a minimal append-only write-ahead log of envelope writes,
// fsynced before PutIdentity's SQLite upsert commits. Adapted from the
// teacher's internal/wal package's magic-header, length-prefixed,
// CRC32-checked framing and write-then-Sync discipline, without its
// HMAC hash-chain machinery: this store only needs a durable record to
// replay ahead of the SQLite upsert, not a tamper-evident chain of
// witnessed events.
import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
)

const (
	walMagic   = "DWAL"
	walVersion = uint32(1)
)

type envelopeWAL struct {
	mu   sync.Mutex
	file *os.File
}

// openEnvelopeWAL opens or creates the WAL file at path, writing the
// magic/version header if the file is new.
func openEnvelopeWAL(path string) (*envelopeWAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: open wal %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat wal %s: %w", path, err)
	}
	if info.Size() == 0 {
		header := make([]byte, 8)
		copy(header, walMagic)
		binary.BigEndian.PutUint32(header[4:], walVersion)
		if _, err := f.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: write wal header: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: sync wal header: %w", err)
		}
	}

	return &envelopeWAL{file: f}, nil
}

// append writes one length-prefixed, CRC32-checked "did||payload" record
// and fsyncs before returning, so the write survives a crash that happens
// between the WAL append and the caller's SQLite upsert.
func (w *envelopeWAL) append(did string, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	didBytes := []byte(did)
	record := make([]byte, 0, 4+len(didBytes)+4+len(payload))
	record = appendUint32(record, uint32(len(didBytes)))
	record = append(record, didBytes...)
	record = appendUint32(record, uint32(len(payload)))
	record = append(record, payload...)

	frame := make([]byte, 0, 4+len(record)+4)
	frame = appendUint32(frame, uint32(len(record)))
	frame = append(frame, record...)
	frame = appendUint32(frame, crc32.ChecksumIEEE(record))

	if _, err := w.file.Write(frame); err != nil {
		return fmt.Errorf("store: wal append: %w", err)
	}
	return w.file.Sync()
}

func (w *envelopeWAL) Close() error {
	return w.file.Close()
}

func appendUint32(b []byte, v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return append(b, buf...)
}
