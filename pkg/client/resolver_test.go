package client

import (
	"strings"
	"testing"
)

func TestIsMergeable(t *testing.T) {
	// The complete editable-text allow-list.
	for _, ext := range []string{
		".txt", ".md", ".java", ".py", ".js", ".ts", ".html", ".css",
		".xml", ".json", ".yml", ".yaml", ".properties", ".cfg", ".conf",
		".log", ".sql", ".sh", ".bat", ".csv", ".ini", ".gitignore",
		".dockerfile", ".gradle", ".maven", ".rb", ".php", ".go", ".rs",
		".cpp", ".c", ".h", ".hpp", ".cs", ".vb", ".scala", ".kt",
	} {
		if !IsMergeable("dir/file" + ext) {
			t.Errorf("extension %s not recognized as mergeable", ext)
		}
	}

	tests := []struct {
		path string
		want bool
	}{
		{"config.YAML", true}, // case-insensitive
		{"photo.jpg", false},
		{"archive.zip", false},
		{"doc.rtf", false}, // only via the content sniff
		{"noext", false},
	}
	for _, tt := range tests {
		if got := IsMergeable(tt.path); got != tt.want {
			t.Errorf("IsMergeable(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIsMergeableContent(t *testing.T) {
	rtf := []byte(`{\rtf1\ansi hello}`)
	odt := []byte{'P', 'K', 0x03, 0x04, 0x14, 0x00}
	big := make([]byte, maxMergeableDocSize+1)
	copy(big, `{\rtf`)

	tests := []struct {
		name    string
		path    string
		content []byte
		want    bool
	}{
		{"allow-listed extension wins regardless of content", "a.txt", []byte{0xff, 0xfe}, true},
		{"small rtf with magic", "doc.rtf", rtf, true},
		{"rtf without magic", "doc.rtf", []byte("plain text"), false},
		{"small odt with zip magic", "doc.odt", odt, true},
		{"odt without zip magic", "doc.odt", []byte("not a zip"), false},
		{"oversized rtf", "doc.rtf", big, false},
		{"empty document", "doc.rtf", nil, false},
		{"unlisted binary", "photo.jpg", odt, false},
	}
	for _, tt := range tests {
		if got := IsMergeableContent(tt.path, tt.content); got != tt.want {
			t.Errorf("%s: IsMergeableContent(%s) = %v, want %v", tt.name, tt.path, got, tt.want)
		}
	}
}

func TestMergeWithMarkers(t *testing.T) {
	merged := string(MergeWithMarkers([]byte("local line\n"), []byte("server line\n")))

	wantOrder := []string{"<<<<<<< LOCAL", "local line", "=======", "server line", ">>>>>>> SERVER"}
	pos := 0
	for _, part := range wantOrder {
		idx := strings.Index(merged[pos:], part)
		if idx < 0 {
			t.Fatalf("merged output missing %q in order:\n%s", part, merged)
		}
		pos += idx + len(part)
	}
}

func TestMergeWithMarkersAddsTrailingNewlines(t *testing.T) {
	merged := string(MergeWithMarkers([]byte("no newline"), []byte("also none")))
	if strings.Contains(merged, "no newline=======") {
		t.Error("local section not terminated before separator")
	}
	if strings.Contains(merged, "also none>>>>>>>") {
		t.Error("server section not terminated before end marker")
	}
}

func TestHasMarkers(t *testing.T) {
	if !HasMarkers(MergeWithMarkers([]byte("a"), []byte("b"))) {
		t.Error("markers not detected in merged content")
	}
	if HasMarkers([]byte("plain content")) {
		t.Error("false positive on plain content")
	}
}

func TestConflictCopyName(t *testing.T) {
	tests := []struct {
		path, versionID, want string
	}{
		{"docs/notes.txt", "abcdef1234567890", "docs/notes.sync-conflict-abcdef12.txt"},
		{"photo.jpg", "short", "photo.sync-conflict-short.jpg"},
		{"noext", "abcdef1234567890", "noext.sync-conflict-abcdef12"},
	}
	for _, tt := range tests {
		if got := ConflictCopyName(tt.path, tt.versionID); got != tt.want {
			t.Errorf("ConflictCopyName(%s, %s) = %s, want %s", tt.path, tt.versionID, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	local := []byte("local")
	server := []byte("server")

	if got := Resolve(UseLocal, local, server); string(got.Content) != "local" {
		t.Errorf("UseLocal content = %q", got.Content)
	}
	if got := Resolve(UseServer, local, server); string(got.Content) != "server" {
		t.Errorf("UseServer content = %q", got.Content)
	}
	if got := Resolve(UseMerged, local, server); !HasMarkers(got.Content) {
		t.Error("UseMerged content has no markers")
	}
	if got := Resolve(Cancelled, local, server); got.Choice != Cancelled || got.Content != nil {
		t.Errorf("Cancelled resolution = %+v", got)
	}
}
