package oracle

import (
	"encoding/binary"
	"fmt"
)

// reader is a bounds-checked cursor over a raw block or transaction buffer.
// All multi-byte integers in the Bitcoin wire format are little-endian.
// Any read past the end of the buffer returns an error; the caller is
// expected to abort the current block, since a desynchronized cursor makes
// every subsequent field meaningless.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) require(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return fmt.Errorf("read of %d bytes at offset %d exceeds buffer size %d",
			n, r.pos, len(r.buf))
	}
	return nil
}

// bytes returns the next n bytes without copying; the returned slice aliases
// the underlying buffer.
func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) skip(n int) error {
	if err := r.require(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

func (r *reader) uint8() (uint8, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) uint16() (uint16, error) {
	if err := r.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// varInt reads a Bitcoin compact-size integer. Values below 0xFD are encoded
// directly in one byte; markers 0xFD/0xFE/0xFF indicate that the next 2/4/8
// little-endian bytes hold the value.
func (r *reader) varInt() (uint64, error) {
	d, err := r.uint8()
	if err != nil {
		return 0, err
	}
	switch d {
	case 0xfd:
		v, err := r.uint16()
		return uint64(v), err
	case 0xfe:
		v, err := r.uint32()
		return uint64(v), err
	case 0xff:
		return r.uint64()
	default:
		return uint64(d), nil
	}
}

// appendVarInt appends the minimal-width compact-size encoding of v to buf.
// It is the inverse of reader.varInt and is used to reconstruct the byte-exact
// witness-stripped form of a segwit transaction.
func appendVarInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		buf = append(buf, 0xfd)
		return binary.LittleEndian.AppendUint16(buf, uint16(v))
	case v <= 0xffffffff:
		buf = append(buf, 0xfe)
		return binary.LittleEndian.AppendUint32(buf, uint32(v))
	default:
		buf = append(buf, 0xff)
		return binary.LittleEndian.AppendUint64(buf, v)
	}
}
