package chunked

import (
	"errors"
	"fmt"
)

// ErrInvalidManifest is returned when a manifest fails validation.
// Use errors.Is to test for it; the wrapping error carries details.
var ErrInvalidManifest = errors.New("chunked: invalid manifest")

// Manifest describes how a remote artifact is segmented for transfer.
// It is immutable once resolved; all chunk geometry derives from it.
type Manifest struct {
	JobID      string `json:"job_id"`
	TotalSize  int64  `json:"total_size"`
	ChunkSize  int64  `json:"chunk_size"`
	ChunkCount int    `json:"chunk_count"`
	Filename   string `json:"filename,omitempty"`
}

// Chunk is one contiguous byte range of the artifact. The last chunk may be
// shorter than ChunkSize, never longer.
type Chunk struct {
	Index  int
	Offset int64
	Length int64
}

// CountChunks returns ceil(totalSize/chunkSize).
func CountChunks(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// Validate checks the manifest invariants. A manifest is rejected when the
// total size or chunk size is zero, or when the reported chunk count
// disagrees with the derived one.
func (m Manifest) Validate() error {
	if m.TotalSize <= 0 {
		return fmt.Errorf("%w: total size %d", ErrInvalidManifest, m.TotalSize)
	}
	if m.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidManifest, m.ChunkSize)
	}
	if want := CountChunks(m.TotalSize, m.ChunkSize); m.ChunkCount != want {
		return fmt.Errorf("%w: chunk count %d, expected %d for %d bytes in %d-byte chunks",
			ErrInvalidManifest, m.ChunkCount, want, m.TotalSize, m.ChunkSize)
	}
	last := m.TotalSize - m.ChunkSize*int64(m.ChunkCount-1)
	if last <= 0 || last > m.ChunkSize {
		return fmt.Errorf("%w: last chunk length %d", ErrInvalidManifest, last)
	}
	return nil
}

// Chunk returns the geometry of the chunk at index i.
// The index must be in [0, ChunkCount).
func (m Manifest) Chunk(i int) Chunk {
	if i < 0 || i >= m.ChunkCount {
		panic(fmt.Sprintf("chunked: chunk index %d out of range [0,%d)", i, m.ChunkCount))
	}
	offset := int64(i) * m.ChunkSize
	length := m.ChunkSize
	if i == m.ChunkCount-1 {
		length = m.TotalSize - offset
	}
	return Chunk{Index: i, Offset: offset, Length: length}
}

// Chunks returns the geometry of every chunk, in index order.
func (m Manifest) Chunks() []Chunk {
	chunks := make([]Chunk, m.ChunkCount)
	for i := range chunks {
		chunks[i] = m.Chunk(i)
	}
	return chunks
}
