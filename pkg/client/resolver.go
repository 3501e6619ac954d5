package client

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Choice is the outcome of a conflict resolution.
type Choice string

const (
	UseLocal  Choice = "USE_LOCAL"
	UseServer Choice = "USE_SERVER"
	UseMerged Choice = "USE_MERGED"
	Cancelled Choice = "CANCELLED"
)

// mergeableExtensions lists file types where an in-file marker merge is
// meaningful. Binary formats get conflict copies instead.
var mergeableExtensions = func() map[string]bool {
	exts := []string{
		".txt", ".md", ".java", ".py", ".js", ".ts", ".html", ".css",
		".xml", ".json", ".yml", ".yaml", ".properties", ".cfg", ".conf",
		".log", ".sql", ".sh", ".bat", ".csv", ".ini", ".gitignore",
		".dockerfile", ".gradle", ".maven", ".rb", ".php", ".go", ".rs",
		".cpp", ".c", ".h", ".hpp", ".cs", ".vb", ".scala", ".kt",
	}
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[e] = true
	}
	return m
}()

// Documents are only offered for marker merges below this size; larger
// ones get conflict copies like any other binary.
const maxMergeableDocSize = 512 * 1024

var (
	rtfMagic = []byte(`{\rtf`)
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
)

// IsMergeable reports whether a path's content can carry conflict markers.
func IsMergeable(path string) bool {
	return mergeableExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsMergeableContent extends IsMergeable with a content sniff for small
// RTF and ODT documents, which the extension list alone would reject.
func IsMergeableContent(path string, content []byte) bool {
	if IsMergeable(path) {
		return true
	}
	if len(content) == 0 || len(content) > maxMergeableDocSize {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rtf":
		return bytes.HasPrefix(content, rtfMagic)
	case ".odt":
		return bytes.HasPrefix(content, zipMagic)
	}
	return false
}

// MergeWithMarkers produces a git-style both-sides document so the user can
// reconcile by hand. Both inputs are kept whole; no line-level diffing.
func MergeWithMarkers(local, server []byte) []byte {
	var sb strings.Builder
	sb.Grow(len(local) + len(server) + 64)
	sb.WriteString("<<<<<<< LOCAL\n")
	sb.Write(local)
	if len(local) > 0 && local[len(local)-1] != '\n' {
		sb.WriteString("\n")
	}
	sb.WriteString("=======\n")
	sb.Write(server)
	if len(server) > 0 && server[len(server)-1] != '\n' {
		sb.WriteString("\n")
	}
	sb.WriteString(">>>>>>> SERVER\n")
	return []byte(sb.String())
}

// HasMarkers reports whether content still contains unresolved markers.
func HasMarkers(content []byte) bool {
	s := string(content)
	return strings.Contains(s, "<<<<<<< LOCAL") || strings.Contains(s, ">>>>>>> SERVER")
}

// ConflictCopyName derives the sibling filename used to park the server
// version of a binary conflict, e.g. photo.jpg -> photo.sync-conflict-<id>.jpg.
func ConflictCopyName(path, versionID string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	tag := versionID
	if len(tag) > 8 {
		tag = tag[:8]
	}
	return stem + ".sync-conflict-" + tag + ext
}

// Resolution is the content to keep after a conflict choice.
type Resolution struct {
	Choice  Choice
	Content []byte
}

// Resolve maps a choice onto the winning content. Cancelled leaves the
// local file untouched and the conflict pending.
func Resolve(choice Choice, local, server []byte) Resolution {
	switch choice {
	case UseLocal:
		return Resolution{Choice: UseLocal, Content: local}
	case UseServer:
		return Resolution{Choice: UseServer, Content: server}
	case UseMerged:
		return Resolution{Choice: UseMerged, Content: MergeWithMarkers(local, server)}
	default:
		return Resolution{Choice: Cancelled}
	}
}
