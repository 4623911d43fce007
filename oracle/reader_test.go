package oracle

import (
	"bytes"
	"testing"

	"github.com/blockprice/blockprice/testutil"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0xfc,
		0xfd, 0xfe, 0xffff,
		0x10000, 0xffffffff,
		0x100000000, 0xffffffffffffffff,
	}
	for _, v := range values {
		enc := appendVarInt(nil, v)
		r := newReader(enc)
		dec, err := r.varInt()
		if err != nil {
			t.Fatalf("varInt(%x): %v", v, err)
		}
		if err := testutil.CheckEqual(dec, v); err != nil {
			t.Error(err)
		}
		if r.pos != len(enc) {
			t.Errorf("varInt(%x) consumed %d of %d bytes", v, r.pos, len(enc))
		}
	}
}

func TestVarIntMinimalWidth(t *testing.T) {
	tests := []struct {
		v    uint64
		size int
	}{
		{0, 1},
		{0xfc, 1},
		{0xfd, 3},
		{0xffff, 3},
		{0x10000, 5},
		{0xffffffff, 5},
		{0x100000000, 9},
	}
	for _, tt := range tests {
		if got := len(appendVarInt(nil, tt.v)); got != tt.size {
			t.Errorf("encode(%x): %d bytes, want %d", tt.v, got, tt.size)
		}
	}
}

func TestVarIntMarkers(t *testing.T) {
	// The marker byte selects the width of the following little-endian value.
	tests := []struct {
		enc []byte
		v   uint64
	}{
		{[]byte{0x7b}, 0x7b},
		{[]byte{0xfd, 0x34, 0x12}, 0x1234},
		{[]byte{0xfe, 0x78, 0x56, 0x34, 0x12}, 0x12345678},
		{[]byte{0xff, 0xf0, 0xde, 0xbc, 0x9a, 0x78, 0x56, 0x34, 0x12}, 0x123456789abcdef0},
	}
	for _, tt := range tests {
		v, err := newReader(tt.enc).varInt()
		if err != nil {
			t.Fatal(err)
		}
		if err := testutil.CheckEqual(v, tt.v); err != nil {
			t.Error(err)
		}
	}
}

func TestReaderLittleEndian(t *testing.T) {
	r := newReader([]byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	})
	if v, _ := r.uint8(); v != 0x01 {
		t.Errorf("uint8: %x", v)
	}
	if v, _ := r.uint16(); v != 0x0302 {
		t.Errorf("uint16: %x", v)
	}
	if v, _ := r.uint32(); v != 0x07060504 {
		t.Errorf("uint32: %x", v)
	}
	if v, _ := r.uint64(); v != 0x0f0e0d0c0b0a0908 {
		t.Errorf("uint64: %x", v)
	}
}

func TestReaderOutOfBounds(t *testing.T) {
	if _, err := newReader([]byte{1, 2}).uint32(); err == nil {
		t.Error("uint32 past end must fail")
	}
	if _, err := newReader([]byte{0xfd, 0x01}).varInt(); err == nil {
		t.Error("truncated varint must fail")
	}
	if _, err := newReader(nil).uint8(); err == nil {
		t.Error("read from empty buffer must fail")
	}
	r := newReader([]byte{1, 2, 3})
	if err := r.skip(2); err != nil {
		t.Fatal(err)
	}
	if err := r.skip(2); err == nil {
		t.Error("skip past end must fail")
	}
	if _, err := r.bytes(2); err == nil {
		t.Error("bytes past end must fail")
	}
}

func TestReaderBytesAlias(t *testing.T) {
	buf := []byte{9, 8, 7, 6}
	r := newReader(buf)
	b, err := r.bytes(4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, buf) {
		t.Errorf("bytes: %x", b)
	}
}
