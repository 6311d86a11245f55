// Package codec encodes and decodes the values that cross the boundary
// between a caller and the PTY engine.
//
// Two encodings are used. Structured records (CommandSpec, Size) travel as
// JSON in an explicitly length-tagged byte region. Simple human-readable
// strings (output data, error messages) travel as null-terminated UTF-8,
// which cannot represent strings containing a literal NUL; those must take
// the length-tagged path.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrDecode reports a truncated or malformed structured record.
	ErrDecode = errors.New("codec: malformed record")
	// ErrInvalidUTF8 reports text that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("codec: invalid utf-8")
	// ErrEmbeddedNul reports a string that cannot be null-terminated
	// because it already contains a NUL byte.
	ErrEmbeddedNul = errors.New("codec: string contains nul byte")
	// ErrUnterminated reports a text region with no trailing NUL.
	ErrUnterminated = errors.New("codec: text region not null-terminated")
)

// EncodeRecord serializes a structured value into its wire form. The result
// must always be paired with its length when handed across the boundary.
func EncodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord is the inverse of EncodeRecord. It must only be used on byte
// regions whose length is separately known, never on a bare pointer.
func DecodeRecord(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// EncodeText appends a single trailing NUL to the UTF-8 encoding of s.
// Strings containing a literal NUL cannot use this encoding and fail with
// ErrEmbeddedNul.
func EncodeText(s string) ([]byte, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return nil, ErrEmbeddedNul
	}
	out := make([]byte, len(s)+1)
	copy(out, s)
	return out, nil
}

// DecodeText scans b for the first NUL byte and decodes the preceding bytes
// as UTF-8. A region with no terminator fails with ErrUnterminated rather
// than reading past its end.
func DecodeText(b []byte) (string, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", ErrUnterminated
	}
	s := b[:i]
	if !utf8.Valid(s) {
		return "", ErrInvalidUTF8
	}
	return string(s), nil
}
