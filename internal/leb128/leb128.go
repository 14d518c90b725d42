// Package leb128 implements the LEB128 variable-length integer encoding
// used throughout the WebAssembly binary format (and, in this module, the
// interface-types custom section).
package leb128

import "io"

// ReadVarUint64 reads an unsigned LEB128-encoded integer from r.
func ReadVarUint64(r io.Reader) (uint64, error) {
	var result uint64
	var shift uint
	buf := make([]byte, 1)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		b := buf[0]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}

	return result, nil
}

// ReadVarInt64 reads a signed LEB128-encoded integer from r.
func ReadVarInt64(r io.Reader) (int64, error) {
	var result int64
	var shift uint
	buf := make([]byte, 1)
	var b byte

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		b = buf[0]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}

	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}

	return result, nil
}

// WriteVarUint64 writes v to w using unsigned LEB128 encoding.
func WriteVarUint64(w io.Writer, v uint64) error {
	buf := make([]byte, 1)

	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf[0] = b
		if _, err := w.Write(buf); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

// WriteVarInt64 writes v to w using signed LEB128 encoding.
func WriteVarInt64(w io.Writer, v int64) error {
	buf := make([]byte, 1)

	for {
		b := byte(v & 0x7f)
		v >>= 7

		signBitSet := b&0x40 != 0
		done := (v == 0 && !signBitSet) || (v == -1 && signBitSet)
		if !done {
			b |= 0x80
		}

		buf[0] = b
		if _, err := w.Write(buf); err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
