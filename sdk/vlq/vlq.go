// Package vlq encodes and decodes the variable-length quantities used by
// Standard MIDI Files for delta-times and payload lengths.
//
// A quantity is stored big-endian in groups of 7 bits; every byte except the
// last has its top bit set. The format caps quantities at four bytes, which
// limits values to 0x0FFFFFFF.
package vlq

import (
	"errors"
	"fmt"
	"io"
)

const (
	// Max is the largest value representable in four bytes.
	Max = 0x0FFFFFFF
	// MaxLen is the maximum number of bytes of an encoded quantity.
	MaxLen = 4
)

var (
	// ErrOutOfRange is returned when encoding a value larger than Max.
	ErrOutOfRange = errors.New("vlq: value out of range")
	// ErrMalformed is returned when a quantity does not terminate within
	// MaxLen bytes or the input ends mid-sequence.
	ErrMalformed = errors.New("vlq: malformed quantity")
)

// Len returns the number of bytes needed to encode n.
func Len(n uint32) int {
	switch {
	case n < 1<<7:
		return 1
	case n < 1<<14:
		return 2
	case n < 1<<21:
		return 3
	default:
		return 4
	}
}

// Append appends the encoding of n to dst.
func Append(dst []byte, n uint32) ([]byte, error) {
	if n > Max {
		return dst, fmt.Errorf("%w: %#x", ErrOutOfRange, n)
	}
	var buf [MaxLen]byte
	i := MaxLen - 1
	buf[i] = byte(n & 0x7F)
	for n >>= 7; n > 0; n >>= 7 {
		i--
		buf[i] = byte(n&0x7F) | 0x80
	}
	return append(dst, buf[i:]...), nil
}

// Encode returns the encoding of n.
func Encode(n uint32) ([]byte, error) {
	return Append(make([]byte, 0, Len(n)), n)
}

// Decode reads one quantity from the start of b and reports how many bytes
// it consumed.
func Decode(b []byte) (n uint32, size int, err error) {
	for size < MaxLen {
		if size >= len(b) {
			return 0, size, fmt.Errorf("%w: %w", ErrMalformed, io.ErrUnexpectedEOF)
		}
		c := b[size]
		size++
		n = n<<7 | uint32(c&0x7F)
		if c&0x80 == 0 {
			return n, size, nil
		}
	}
	return 0, size, fmt.Errorf("%w: more than %d bytes", ErrMalformed, MaxLen)
}

// Read reads one quantity from r.
func Read(r io.ByteReader) (uint32, error) {
	var n uint32
	for i := 0; i < MaxLen; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		n = n<<7 | uint32(c&0x7F)
		if c&0x80 == 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: more than %d bytes", ErrMalformed, MaxLen)
}
