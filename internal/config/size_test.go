package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize_ValidInputs(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"0", 0},
		{"", 0},
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"10MiB", 10_485_760},
		{"1GB", 1_000_000_000},
		{"50TB", 50_000_000_000_000},
		{"1.5TB", 1_500_000_000_000},
		{"2TiB", 2 << 40},
		{"1PB", 1_000_000_000_000_000},
		{" 100 B ", 100},
		{"20tb", 20_000_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseSize_InvalidInputs(t *testing.T) {
	for _, input := range []string{"abc", "TB", "-1", "-5TB", "1XB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			assert.Error(t, err)
		})
	}
}
