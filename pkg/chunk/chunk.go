// Package chunk splits file payloads into individually checksummed chunks
// and reassembles them, verifying integrity along the way.
//
// Files at or below the chunking threshold travel as a single request body;
// larger files are cut into chunks between MinChunkSize and MaxChunkSize,
// never more than MaxChunksPerFile per file.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Sizing defaults. All overridable through Chunker.
const (
	// Threshold is the file size above which uploads are chunked.
	Threshold = 10 * 1024 * 1024

	// DefaultChunkSize is used whenever it keeps the chunk count under cap.
	DefaultChunkSize = 5 * 1024 * 1024

	// MinChunkSize and MaxChunkSize bound the computed chunk size.
	MinChunkSize = 1 * 1024 * 1024
	MaxChunkSize = 50 * 1024 * 1024

	// MaxChunksPerFile caps the number of chunks for a single file.
	MaxChunksPerFile = 1000
)

// IntegrityError reports a chunk sequence that failed validation:
// gaps, checksum mismatches, disagreeing totals, or a bad last-chunk flag.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "chunk integrity: " + e.Reason
}

func integrityErrorf(format string, args ...any) error {
	return &IntegrityError{Reason: fmt.Sprintf(format, args...)}
}

// Chunk is one contiguous byte range of a file with its own SHA-256.
type Chunk struct {
	ID          string `json:"chunk_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	Index       int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Size        int64  `json:"chunk_size"`
	Data        []byte `json:"content,omitempty"`
	Checksum    string `json:"chunk_checksum"`
	IsLast      bool   `json:"is_last_chunk"`
}

// Chunker cuts byte streams into chunks. The zero value is not usable;
// call NewChunker for defaults.
type Chunker struct {
	threshold    int64
	defaultSize  int64
	minSize      int64
	maxSize      int64
	maxChunks    int
}

// NewChunker returns a Chunker with the package defaults.
func NewChunker() *Chunker {
	return &Chunker{
		threshold:   Threshold,
		defaultSize: DefaultChunkSize,
		minSize:     MinChunkSize,
		maxSize:     MaxChunkSize,
		maxChunks:   MaxChunksPerFile,
	}
}

// WithSizes overrides the sizing parameters. Zero values keep the defaults.
func (c *Chunker) WithSizes(threshold, defaultSize, minSize, maxSize int64, maxChunks int) *Chunker {
	if threshold > 0 {
		c.threshold = threshold
	}
	if defaultSize > 0 {
		c.defaultSize = defaultSize
	}
	if minSize > 0 {
		c.minSize = minSize
	}
	if maxSize > 0 {
		c.maxSize = maxSize
	}
	if maxChunks > 0 {
		c.maxChunks = maxChunks
	}
	return c
}

// ShouldChunk reports whether a file of the given size must be uploaded
// through a chunk session rather than a single request.
func (c *Chunker) ShouldChunk(fileSize int64) bool {
	return fileSize > c.threshold
}

// ChunkSize computes the chunk size for a file: the default size unless
// that would exceed the per-file chunk cap, in which case ceil(size/cap)
// clamped to [min, max].
func (c *Chunker) ChunkSize(fileSize int64) int64 {
	size := c.defaultSize
	if fileSize > size*int64(c.maxChunks) {
		size = (fileSize + int64(c.maxChunks) - 1) / int64(c.maxChunks)
	}
	if size < c.minSize {
		size = c.minSize
	}
	if size > c.maxSize {
		size = c.maxSize
	}
	return size
}

// CountChunks returns the number of chunks a file of the given size
// splits into.
func (c *Chunker) CountChunks(fileSize int64) int {
	size := c.ChunkSize(fileSize)
	return int((fileSize + size - 1) / size)
}

// Split cuts data into an ordered chunk sequence. fileID and sessionID are
// carried on each chunk for correlation; either may be empty.
func (c *Chunker) Split(data []byte, fileID, sessionID string) []Chunk {
	total := int64(len(data))
	if total == 0 {
		return nil
	}

	size := c.ChunkSize(total)
	count := int((total + size - 1) / size)
	chunks := make([]Chunk, 0, count)

	for i := 0; i < count; i++ {
		start := int64(i) * size
		end := start + size
		if end > total {
			end = total
		}
		part := data[start:end]
		chunks = append(chunks, Chunk{
			FileID:      fileID,
			SessionID:   sessionID,
			Index:       i,
			TotalChunks: count,
			Size:        int64(len(part)),
			Data:        part,
			Checksum:    SumHex(part),
			IsLast:      i == count-1,
		})
	}
	return chunks
}

// ValidateSequence checks that chunks form a complete, uncorrupted
// sequence [0..totalChunks-1]. The slice is sorted by index in place.
func ValidateSequence(chunks []Chunk) error {
	if len(chunks) == 0 {
		return integrityErrorf("empty chunk sequence")
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	total := chunks[0].TotalChunks
	if total != len(chunks) {
		return integrityErrorf("have %d chunks, header says %d", len(chunks), total)
	}

	for i, ch := range chunks {
		if ch.TotalChunks != total {
			return integrityErrorf("chunk %d disagrees on total (%d vs %d)", ch.Index, ch.TotalChunks, total)
		}
		if ch.Index != i {
			return integrityErrorf("missing chunk %d", i)
		}
		if ch.Checksum != "" && SumHex(ch.Data) != ch.Checksum {
			return integrityErrorf("chunk %d checksum mismatch", i)
		}
		wantLast := i == total-1
		if ch.IsLast != wantLast {
			return integrityErrorf("chunk %d last-chunk flag = %v, want %v", i, ch.IsLast, wantLast)
		}
	}
	return nil
}

// Assemble validates the sequence and concatenates chunk payloads in index
// order. If expectedSize > 0 the assembled length must match it.
func Assemble(chunks []Chunk, expectedSize int64) ([]byte, error) {
	if err := ValidateSequence(chunks); err != nil {
		return nil, err
	}

	var total int64
	for _, ch := range chunks {
		total += int64(len(ch.Data))
	}
	if expectedSize > 0 && total != expectedSize {
		return nil, integrityErrorf("assembled size %d, want %d", total, expectedSize)
	}

	out := make([]byte, 0, total)
	for _, ch := range chunks {
		out = append(out, ch.Data...)
	}
	return out, nil
}

// SumHex returns the lowercase hex SHA-256 of data.
func SumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
