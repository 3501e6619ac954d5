package models

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"time"

	"github.com/driftsync/driftsync/pkg/vector"
)

// SessionStatus is the state of a chunked upload session.
type SessionStatus string

const (
	// SessionInProgress accepts chunks.
	SessionInProgress SessionStatus = "IN_PROGRESS"
	// SessionCompleted received and assembled all chunks.
	SessionCompleted SessionStatus = "COMPLETED"
	// SessionFailed was cancelled or failed integrity checks.
	SessionFailed SessionStatus = "FAILED"
	// SessionExpired outlived its TTL before completing.
	SessionExpired SessionStatus = "EXPIRED"
)

// IsValid checks if the status is a valid SessionStatus.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionInProgress, SessionCompleted, SessionFailed, SessionExpired:
		return true
	}
	return false
}

// IsTerminal reports whether the session can no longer accept chunks.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionInProgress
}

// ChunkUploadSession tracks one chunked file upload. Which chunks have
// arrived is recorded in a bitset, persisted hex-encoded; ReceivedChunks is
// kept equal to the bitset's popcount.
type ChunkUploadSession struct {
	ID             string     `gorm:"primaryKey;size:36" json:"session_id"`
	UserID         string     `gorm:"not null;size:36;index:idx_sessions_user" json:"user_id"`
	FileID         string     `gorm:"not null;size:36" json:"file_id"`
	FilePath       string     `gorm:"not null;size:1024" json:"file_path"`
	ClientID       string     `gorm:"size:64" json:"client_id"`
	TotalChunks    int        `gorm:"not null" json:"total_chunks"`
	ChunkBitmap    string     `gorm:"type:text" json:"-"`
	ReceivedChunks int        `gorm:"not null;default:0" json:"received_chunks"`
	TotalFileSize  int64      `gorm:"not null" json:"total_file_size"`
	ReceivedSize   int64      `gorm:"not null;default:0" json:"received_size"`
	Checksum       string     `gorm:"size:64" json:"checksum,omitempty"`
	VersionVector  string     `gorm:"type:text" json:"-"`
	Status         string     `gorm:"not null;default:IN_PROGRESS;size:20" json:"status"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiresAt      time.Time  `gorm:"not null;index" json:"expires_at"`
	ErrorMessage   string     `gorm:"size:1024" json:"error_message,omitempty"`
}

// TableName returns the table name for ChunkUploadSession.
func (ChunkUploadSession) TableName() string {
	return "chunk_upload_sessions"
}

// SessionState returns the status as a SessionStatus.
func (s *ChunkUploadSession) SessionState() SessionStatus {
	return SessionStatus(s.Status)
}

// IsExpired reports whether the session's TTL has elapsed at the given time.
func (s *ChunkUploadSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Progress returns completion as a fraction in [0, 1].
func (s *ChunkUploadSession) Progress() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.ReceivedChunks) / float64(s.TotalChunks)
}

// ClientVector parses the client's version vector supplied at initiation.
func (s *ChunkUploadSession) ClientVector() (vector.Vector, error) {
	v, err := vector.Parse([]byte(s.VersionVector))
	if err != nil {
		return vector.Vector{}, fmt.Errorf("session %s: parse version vector: %w", s.ID, err)
	}
	return v, nil
}

// bitmap decodes the persisted bitset, sized to TotalChunks.
func (s *ChunkUploadSession) bitmap() []byte {
	size := (s.TotalChunks + 7) / 8
	buf := make([]byte, size)
	if decoded, err := hex.DecodeString(s.ChunkBitmap); err == nil {
		copy(buf, decoded)
	}
	return buf
}

// HasChunk reports whether chunk index has already been received.
func (s *ChunkUploadSession) HasChunk(index int) bool {
	if index < 0 || index >= s.TotalChunks {
		return false
	}
	buf := s.bitmap()
	return buf[index/8]&(1<<(index%8)) != 0
}

// MarkChunk sets the bit for chunk index and reconciles ReceivedChunks with
// the bitset popcount. Returns false if the bit was already set.
func (s *ChunkUploadSession) MarkChunk(index int) bool {
	if index < 0 || index >= s.TotalChunks {
		return false
	}
	buf := s.bitmap()
	if buf[index/8]&(1<<(index%8)) != 0 {
		return false
	}
	buf[index/8] |= 1 << (index % 8)
	s.ChunkBitmap = hex.EncodeToString(buf)

	count := 0
	for _, b := range buf {
		count += bits.OnesCount8(b)
	}
	s.ReceivedChunks = count
	return true
}

// ChunkBits returns the bitset expanded to one entry per chunk index.
func (s *ChunkUploadSession) ChunkBits() []bool {
	buf := s.bitmap()
	out := make([]bool, s.TotalChunks)
	for i := range out {
		out[i] = buf[i/8]&(1<<(i%8)) != 0
	}
	return out
}

// AllChunksReceived reports whether every chunk bit is set.
func (s *ChunkUploadSession) AllChunksReceived() bool {
	return s.TotalChunks > 0 && s.ReceivedChunks == s.TotalChunks
}

// Validate checks if the session has valid configuration.
func (s *ChunkUploadSession) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if s.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if s.TotalChunks < 1 {
		return fmt.Errorf("total chunks must be at least 1")
	}
	if s.TotalFileSize <= 0 {
		return fmt.Errorf("total file size must be positive")
	}
	if s.Status != "" && !SessionStatus(s.Status).IsValid() {
		return fmt.Errorf("invalid session status: %s", s.Status)
	}
	return nil
}
