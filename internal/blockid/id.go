// Package blockid provides the block identity codec. A block name is a
// 128-bit identifier whose external form is five hyphen-separated hex
// groups (8-4-4-4-12). Combined with a dataset name it forms the block's
// full name "dataset#name", the only form the replica catalog accepts.
//
// This is a leaf package with zero external dependencies beyond stdlib.
package blockid

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidName is returned for any block name or full block name that
// does not decode. Use errors.Is(err, blockid.ErrInvalidName) to check.
var ErrInvalidName = errors.New("blockid: invalid block name")

// hexDigits is the number of hex digits in a decoded name (128 bits).
const hexDigits = 32

// groupEnds are the offsets in the 32-digit hex string after which a
// hyphen is inserted when encoding.
var groupEnds = [...]int{8, 12, 16, 20}

// fullNameSep separates the dataset name from the block name.
const fullNameSep = "#"

// ID is a decoded block name. It is comparable and usable as a map key.
// The zero value is the valid name 00000000-0000-0000-0000-000000000000.
type ID struct {
	hi uint64
	lo uint64
}

// New creates an ID from its high and low 64-bit halves.
func New(hi, lo uint64) ID {
	return ID{hi: hi, lo: lo}
}

// Hi returns the high 64 bits.
func (id ID) Hi() uint64 { return id.hi }

// Lo returns the low 64 bits.
func (id ID) Lo() uint64 { return id.lo }

// Parse decodes an external block name. Hyphens are stripped wherever they
// appear and the remainder must be exactly 32 hex digits (either case).
func Parse(s string) (ID, error) {
	digits := strings.ReplaceAll(s, "-", "")
	if len(digits) != hexDigits {
		return ID{}, fmt.Errorf("%w: %q has %d hex digits, want %d", ErrInvalidName, s, len(digits), hexDigits)
	}

	hi, err := strconv.ParseUint(digits[:hexDigits/2], 16, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}

	lo, err := strconv.ParseUint(digits[hexDigits/2:], 16, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}

	return ID{hi: hi, lo: lo}, nil
}

// MustParse is like Parse but panics on error. For tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return id
}

// String returns the canonical lower-case hyphenated form.
func (id ID) String() string {
	full := fmt.Sprintf("%016x%016x", id.hi, id.lo)

	var b strings.Builder
	b.Grow(hexDigits + len(groupEnds))

	start := 0
	for _, end := range groupEnds {
		b.WriteString(full[start:end])
		b.WriteByte('-')
		start = end
	}

	b.WriteString(full[start:])

	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unlike the drive-style
// identifiers there is no lenient fallback: a bad name is an error.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	default:
		return fmt.Errorf("blockid.ID.Scan: unsupported type %T", src)
	}
}

// Value implements driver.Valuer. Every ID, including zero, is a real name.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// FullName joins a dataset name and a block name into the catalog form.
func FullName(dataset string, id ID) string {
	return dataset + fullNameSep + id.String()
}

// SplitFullName splits a full block name on the first '#' and decodes the
// block part. Missing separator or an undecodable suffix is ErrInvalidName.
func SplitFullName(full string) (string, ID, error) {
	dataset, name, found := strings.Cut(full, fullNameSep)
	if !found {
		return "", ID{}, fmt.Errorf("%w: %q has no %q separator", ErrInvalidName, full, fullNameSep)
	}

	id, err := Parse(name)
	if err != nil {
		return "", ID{}, err
	}

	return dataset, id, nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = ID{}
	_ encoding.TextUnmarshaler = (*ID)(nil)
	_ fmt.Stringer             = ID{}
	_ driver.Valuer            = ID{}
	_ sql.Scanner              = (*ID)(nil)
)
