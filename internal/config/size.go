package config

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeUnits is checked in order, so the three-letter IEC suffixes come
// before the SI ones they end with.
var sizeUnits = []struct {
	suffix string
	bytes  float64
}{
	{"PIB", 1 << 50},
	{"TIB", 1 << 40},
	{"GIB", 1 << 30},
	{"MIB", 1 << 20},
	{"KIB", 1 << 10},
	{"PB", 1e15},
	{"TB", 1e12},
	{"GB", 1e9},
	{"MB", 1e6},
	{"KB", 1e3},
	{"B", 1},
}

// ParseSize reads a chunk size such as "50TB", "1.5TiB" or "1024". Units
// are case-insensitive; a number without a unit counts bytes. The empty
// string means zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	upper := strings.ToUpper(s)

	for _, u := range sizeUnits {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}

		n, err := strconv.ParseFloat(strings.TrimSpace(s[:len(s)-len(u.suffix)]), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}

		if n < 0 {
			return 0, fmt.Errorf("invalid size %q: negative", s)
		}

		return int64(n * u.bytes), nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}

	return n, nil
}

// ChunkBytes is the copy chunk size in bytes. Only call it on a validated
// config; a bad value reads as zero.
func (c CopyConfig) ChunkBytes() int64 {
	n, _ := ParseSize(c.ChunkSize)
	return n
}

// ChunkBytes is the deletion chunk size in bytes, under the same rule as
// CopyConfig.ChunkBytes.
func (c DeletionConfig) ChunkBytes() int64 {
	n, _ := ParseSize(c.ChunkSize)
	return n
}
