// Package archive persists packed observations to a compressed,
// append-only log: one file per extraction session, each item a
// length-prefixed packed observation blob, written behind a mutex so the
// main extraction loop and a background writer goroutine never race on
// the same handle.
package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/pgzip"
)

// Extension is the suffix every archive file carries; the collector
// scans its working directory for files matching it at startup.
const Extension = ".facto-cp.archiv"

// PathForSession returns the conventional archive file name for a
// session starting at t: an RFC3339 UTC timestamp plus Extension.
func PathForSession(t time.Time) string {
	return t.UTC().Format(time.RFC3339) + Extension
}

// ErrClosed means a write or flush was attempted after Finish.
var ErrClosed = errors.New("archive: writer already finished")

// Writer appends packed observation blobs to one compressed stream.
// Safe for concurrent use: WriteItem and Finish both take the same lock, so
// cleanup can take sole ownership to finalize even while a background
// write is in flight.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	gz   *pgzip.Writer
	done bool
}

// Create opens path and returns a Writer ready to accept items.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", path, err)
	}
	return &Writer{file: f, gz: pgzip.NewWriter(f)}, nil
}

// WriteItem appends one length-prefixed blob and flushes the stream so
// a reader tailing the file can observe it promptly.
func (w *Writer) WriteItem(blob []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return ErrClosed
	}

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(blob)))
	if _, err := w.gz.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("archive: write item length: %w", err)
	}
	if _, err := w.gz.Write(blob); err != nil {
		return fmt.Errorf("archive: write item: %w", err)
	}
	if err := w.gz.Flush(); err != nil {
		return fmt.Errorf("archive: flush: %w", err)
	}
	return nil
}

// Finish closes the compressed stream and the underlying file. It is
// idempotent: calling it more than once (e.g. once from a background
// writer's error path and once from cleanup) is harmless.
func (w *Writer) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true

	gzErr := w.gz.Close()
	fileErr := w.file.Close()
	if gzErr != nil {
		return fmt.Errorf("archive: close compressed stream: %w", gzErr)
	}
	if fileErr != nil {
		return fmt.Errorf("archive: close file: %w", fileErr)
	}
	return nil
}

// Reader streams items back out of an archive file in write order.
type Reader struct {
	file *os.File
	gz   *pgzip.Reader
	br   *bufio.Reader
}

// Open opens path for reading. Callers must Close it.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("archive: new gzip reader for %s: %w", path, err)
	}
	return &Reader{file: f, gz: gz, br: bufio.NewReader(gz)}, nil
}

// Next returns the next item's raw bytes. It returns io.EOF both at a
// clean end of stream and when a partial item is truncated mid-write:
// an archive actively being appended to by a running extractor looks
// the same as one cleanly closed, from a reader's perspective, until the
// next flush lands.
func (r *Reader) Next() ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r.br, lenPrefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("archive: read item length: %w", err)
	}

	length := binary.LittleEndian.Uint32(lenPrefix[:])
	blob := make([]byte, length)
	if _, err := io.ReadFull(r.br, blob); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("archive: read item body: %w", err)
	}
	return blob, nil
}

// Close releases the reader's file and gzip handles.
func (r *Reader) Close() error {
	gzErr := r.gz.Close()
	fileErr := r.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}
