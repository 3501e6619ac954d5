package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for sync operations. These follow OpenTelemetry
// semantic conventions where applicable.
const (
	// Client identity
	AttrClientIP = "client.ip"
	AttrClientID = "client.id"

	// User identity
	AttrUserID   = "user.id"
	AttrUsername = "user.name"

	// Sync domain
	AttrFileID     = "file.id"
	AttrVersionID  = "file.version_id"
	AttrPath       = "file.path"
	AttrSize       = "file.size"
	AttrChecksum   = "file.checksum"
	AttrOutcome    = "sync.outcome"
	AttrEventType  = "sync.event_type"
	AttrSessionID  = "upload.session_id"
	AttrChunkIndex = "upload.chunk_index"
	AttrChunks     = "upload.chunks"

	// Blob storage
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span names. Format: <component>.<operation>.
const (
	SpanSyncUpload = "sync.upload"
	SpanSyncUpdate = "sync.update"
	SpanSyncDelete = "sync.delete"

	SpanUploadInitiate = "upload.initiate"
	SpanUploadChunk    = "upload.chunk"
	SpanUploadAssemble = "upload.assemble"

	SpanBlobRead  = "blob.read"
	SpanBlobWrite = "blob.write"

	SpanEventPublish = "event.publish"
)

// ClientIP returns an attribute for the client IP address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientID returns an attribute for the sync client identifier.
func ClientID(id string) attribute.KeyValue {
	return attribute.String(AttrClientID, id)
}

// UserID returns an attribute for the account identifier.
func UserID(id string) attribute.KeyValue {
	return attribute.String(AttrUserID, id)
}

// Username returns an attribute for the username.
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// FileID returns an attribute for the file identifier.
func FileID(id string) attribute.KeyValue {
	return attribute.String(AttrFileID, id)
}

// VersionID returns an attribute for the file version identifier.
func VersionID(id string) attribute.KeyValue {
	return attribute.String(AttrVersionID, id)
}

// Path returns an attribute for the sync-relative file path.
func Path(p string) attribute.KeyValue {
	return attribute.String(AttrPath, p)
}

// Size returns an attribute for a byte size.
func Size(n int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, n)
}

// Outcome returns an attribute for the sync decision outcome.
func Outcome(o string) attribute.KeyValue {
	return attribute.String(AttrOutcome, o)
}

// EventType returns an attribute for the sync event type.
func EventType(t string) attribute.KeyValue {
	return attribute.String(AttrEventType, t)
}

// SessionID returns an attribute for an upload session identifier.
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// ChunkIndex returns an attribute for a chunk position.
func ChunkIndex(i int) attribute.KeyValue {
	return attribute.Int(AttrChunkIndex, i)
}

// Bucket returns an attribute for an S3 bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for a blob object key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for a cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartSyncSpan starts a span for a sync engine operation.
func StartSyncSpan(ctx context.Context, name, fileID, clientID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{ClientID(clientID)}
	if fileID != "" {
		allAttrs = append(allAttrs, FileID(fileID))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartUploadSpan starts a span for a chunk upload session operation.
func StartUploadSpan(ctx context.Context, name, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{SessionID(sessionID)}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartBlobSpan starts a span for a blob store operation.
func StartBlobSpan(ctx context.Context, name, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{StorageKey(key)}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
