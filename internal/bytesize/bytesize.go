// Package bytesize parses and formats human-readable byte sizes for
// configuration values and CLI output.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes that unmarshals from strings like "1Gi",
// "500MB", or plain numbers. Binary suffixes (Ki, Mi, Gi, Ti) multiply by
// 1024; decimal suffixes (K, M, G, T) by 1000. A trailing "B" is optional.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var suffixes = []struct {
	name string
	mult ByteSize
}{
	{"tib", TiB}, {"ti", TiB}, {"tb", TB}, {"t", TB},
	{"gib", GiB}, {"gi", GiB}, {"gb", GB}, {"g", GB},
	{"mib", MiB}, {"mi", MiB}, {"mb", MB}, {"m", MB},
	{"kib", KiB}, {"ki", KiB}, {"kb", KB}, {"k", KB},
	{"b", B},
}

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	mult := B
	for _, sfx := range suffixes {
		if strings.HasSuffix(in, sfx.name) {
			mult = sfx.mult
			in = strings.TrimSpace(strings.TrimSuffix(in, sfx.name))
			break
		}
	}
	if in == "" {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	if strings.Contains(in, ".") {
		f, err := strconv.ParseFloat(in, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("invalid byte size format: %q", s)
		}
		return ByteSize(f * float64(mult)), nil
	}

	n, err := strconv.ParseUint(in, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so ByteSize fields work
// with mapstructure decoding.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String formats the size with the largest binary unit that fits, trimming
// trailing zeros ("1.5MiB", "12KiB", "340B").
func (b ByteSize) String() string {
	unit := B
	name := "B"
	switch {
	case b >= TiB:
		unit, name = TiB, "TiB"
	case b >= GiB:
		unit, name = GiB, "GiB"
	case b >= MiB:
		unit, name = MiB, "MiB"
	case b >= KiB:
		unit, name = KiB, "KiB"
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}

	v := strconv.FormatFloat(float64(b)/float64(unit), 'f', 2, 64)
	v = strings.TrimRight(strings.TrimRight(v, "0"), ".")
	return v + name
}
