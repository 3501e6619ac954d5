package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so aggregated logs stay queryable.
const (
	// Distributed tracing
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyRequestID = "request_id"

	// Identity
	KeyUserID   = "user_id"
	KeyUsername = "username"
	KeyClientID = "client_id"
	KeyClientIP = "client_ip"

	// Sync domain
	KeyFileID     = "file_id"
	KeyVersionID  = "version_id"
	KeySessionID  = "session_id"
	KeyPath       = "path"
	KeySize       = "size"
	KeyChecksum   = "checksum"
	KeyChunkIndex = "chunk_index"
	KeyChunks     = "chunks"
	KeyEventType  = "event_type"
	KeyOutcome    = "outcome"

	// HTTP
	KeyMethod = "method"
	KeyStatus = "status"

	// Blob storage
	KeyBucket  = "bucket"
	KeyKey     = "key"
	KeyRegion  = "region"
	KeyAttempt = "attempt"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Type-safe attribute constructors for the keys above.

func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

func FileID(id string) slog.Attr {
	return slog.String(KeyFileID, id)
}

func VersionID(id string) slog.Attr {
	return slog.String(KeyVersionID, id)
}

func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

func Checksum(sum string) slog.Attr {
	return slog.String(KeyChecksum, sum)
}

func ChunkIndex(i int) slog.Attr {
	return slog.Int(KeyChunkIndex, i)
}

func EventType(t string) slog.Attr {
	return slog.String(KeyEventType, t)
}

func Outcome(o string) slog.Attr {
	return slog.String(KeyOutcome, o)
}

func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns an attribute for an error, or an empty attribute for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
