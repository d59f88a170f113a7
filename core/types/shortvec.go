package types

import (
	"errors"
	"fmt"
)

var errShortVecOverflow = errors.New("types: compact length overflows u16")

// appendShortVec appends n as a compact little-endian base-128 varint of at
// most three bytes.
func appendShortVec(dst []byte, n int) []byte {
	if n < 0 || n > 0xffff {
		panic(fmt.Sprintf("types: compact length %d out of range", n))
	}
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// readShortVec decodes a compact length and returns it with the number of bytes consumed.
func readShortVec(src []byte) (int, int, error) {
	var value uint32
	for i := 0; i < 3; i++ {
		if i >= len(src) {
			return 0, 0, errUnexpectedEOF
		}
		b := src[i]
		value |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if i > 0 && b == 0 {
				return 0, 0, errors.New("types: non-canonical compact length")
			}
			if value > 0xffff {
				return 0, 0, errShortVecOverflow
			}
			return int(value), i + 1, nil
		}
	}
	return 0, 0, errShortVecOverflow
}
