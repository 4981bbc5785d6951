package transfer

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/plyfetch/plyfetch/pkg/chunked"
)

// ErrReassembly is returned when the reassembled byte count does not match
// the manifest. It indicates a manifest/chunk inconsistency and is never
// tolerated silently.
var ErrReassembly = errors.New("transfer: reassembled size mismatch")

// Destination is a fixed-size, offset-addressed sink for completed chunks.
// Chunks occupy disjoint byte ranges, so WriteChunk is safe to call
// concurrently from multiple workers. Complete verifies the total byte
// count; Discard releases the destination without exposing a partial
// artifact.
type Destination interface {
	WriteChunk(chunk chunked.Chunk, data []byte) error
	Complete() error
	Discard() error
}

// Buffer assembles an artifact in a pre-sized memory buffer.
type Buffer struct {
	buf     []byte
	written atomic.Int64
	done    bool
}

// NewBuffer creates a destination of exactly size bytes.
func NewBuffer(size int64) *Buffer {
	return &Buffer{buf: make([]byte, size)}
}

// WriteChunk copies data into the buffer at the chunk's offset.
func (b *Buffer) WriteChunk(chunk chunked.Chunk, data []byte) error {
	if int64(len(data)) != chunk.Length {
		return fmt.Errorf("chunk %d: %d bytes, want %d", chunk.Index, len(data), chunk.Length)
	}
	if chunk.Offset < 0 || chunk.Offset+chunk.Length > int64(len(b.buf)) {
		return fmt.Errorf("chunk %d: range [%d,%d) outside buffer of %d bytes",
			chunk.Index, chunk.Offset, chunk.Offset+chunk.Length, len(b.buf))
	}
	copy(b.buf[chunk.Offset:chunk.Offset+chunk.Length], data)
	b.written.Add(chunk.Length)
	return nil
}

// Complete verifies every byte of the buffer was written.
func (b *Buffer) Complete() error {
	if got := b.written.Load(); got != int64(len(b.buf)) {
		return fmt.Errorf("%w: wrote %d bytes, want %d", ErrReassembly, got, len(b.buf))
	}
	b.done = true
	return nil
}

// Discard drops the buffer contents.
func (b *Buffer) Discard() error {
	b.buf = nil
	return nil
}

// Bytes returns the assembled artifact. It panics if called before a
// successful Complete, so a partial artifact can never escape.
func (b *Buffer) Bytes() []byte {
	if !b.done {
		panic("transfer: Bytes called before Complete")
	}
	return b.buf
}

// FileDest assembles an artifact in a pre-sized file using positioned
// writes.
type FileDest struct {
	f       *os.File
	path    string
	size    int64
	written atomic.Int64
}

// NewFileDest creates (or truncates) path and pre-allocates size bytes.
func NewFileDest(path string, size int64) (*FileDest, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("allocate destination: %w", err)
	}
	return &FileDest{f: f, path: path, size: size}, nil
}

// WriteChunk writes data at the chunk's offset.
func (d *FileDest) WriteChunk(chunk chunked.Chunk, data []byte) error {
	if int64(len(data)) != chunk.Length {
		return fmt.Errorf("chunk %d: %d bytes, want %d", chunk.Index, len(data), chunk.Length)
	}
	if chunk.Offset < 0 || chunk.Offset+chunk.Length > d.size {
		return fmt.Errorf("chunk %d: range [%d,%d) outside file of %d bytes",
			chunk.Index, chunk.Offset, chunk.Offset+chunk.Length, d.size)
	}
	if _, err := d.f.WriteAt(data, chunk.Offset); err != nil {
		return fmt.Errorf("write chunk %d: %w", chunk.Index, err)
	}
	d.written.Add(chunk.Length)
	return nil
}

// Complete verifies the byte count, syncs and closes the file.
func (d *FileDest) Complete() error {
	if got := d.written.Load(); got != d.size {
		d.f.Close()
		os.Remove(d.path)
		return fmt.Errorf("%w: wrote %d bytes, want %d", ErrReassembly, got, d.size)
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("sync destination: %w", err)
	}
	return d.f.Close()
}

// Discard closes and deletes the partially written file.
func (d *FileDest) Discard() error {
	d.f.Close()
	return os.Remove(d.path)
}

// Path returns the destination file path.
func (d *FileDest) Path() string { return d.path }
