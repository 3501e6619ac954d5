package bytesize

import "testing"

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"100b", 100},
		{"100B", 100},
		{"1k", 1000},
		{"1KB", 1000},
		{"1Ki", 1024},
		{"1KiB", 1024},
		{"500Mi", 500 * MiB},
		{"100MB", 100 * MB},
		{"1Gi", GiB},
		{"2gib", 2 * GiB},
		{"1T", TB},
		{"1TiB", TiB},
		{"1.5Gi", ByteSize(1.5 * float64(GiB))},
		{"  10 Mi  ", 10 * MiB},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseByteSizeInvalid(t *testing.T) {
	for _, in := range []string{"", "  ", "Gi", "abc", "12xy", "-5Mi", "1..5Gi"} {
		if _, err := ParseByteSize(in); err == nil {
			t.Errorf("ParseByteSize(%q): expected error", in)
		}
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0B"},
		{340, "340B"},
		{12 * KiB, "12KiB"},
		{ByteSize(1.5 * float64(MiB)), "1.5MiB"},
		{GiB, "1GiB"},
		{ByteSize(2.25 * float64(TiB)), "2.25TiB"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("(%d).String() = %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("5Gi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 5*GiB {
		t.Errorf("UnmarshalText(5Gi) = %d, want %d", b, 5*GiB)
	}
	if err := b.UnmarshalText([]byte("nope")); err == nil {
		t.Error("UnmarshalText(nope): expected error")
	}
}
