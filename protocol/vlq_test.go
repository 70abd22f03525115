package protocol

import (
	"bytes"
	"testing"
)

func TestAppendVLQKnownEncodings(t *testing.T) {
	testCases := []struct {
		value int32
		want  []byte
	}{
		{0, []byte{0x00}},
		{95, []byte{0x5F}},
		{96, []byte{0x80, 0x60}},
		{-1, []byte{0x7F}},
		{-32, []byte{0x60}},
		{-33, []byte{0xFF, 0x5F}},
		{1000, []byte{0x87, 0x68}},
		{1000000, []byte{0xBD, 0x84, 0x40}},
		{2147483647, []byte{0x87, 0xFF, 0xFF, 0xFF, 0x7F}},
		{-2147483648, []byte{0xF8, 0x80, 0x80, 0x80, 0x00}},
	}

	for _, tc := range testCases {
		got := AppendVLQ(nil, tc.value)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("AppendVLQ(%d) = % X, want % X", tc.value, got, tc.want)
		}

		data := got
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("DecodeVLQInt(% X) failed: %v", got, err)
			continue
		}
		if decoded != tc.value {
			t.Errorf("DecodeVLQInt(% X) = %d, want %d", got, decoded, tc.value)
		}
		if len(data) != 0 {
			t.Errorf("DecodeVLQInt left %d bytes for %d", len(data), tc.value)
		}
	}
}

func TestVLQUintFullRange(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 65535, 1000000, 0x80000000, 0xFFFFFFFF} {
		w := NewWriter(8)
		w.Uint(v)
		data := w.Result()
		got, err := DecodeVLQUint(&data)
		if err != nil {
			t.Fatalf("DecodeVLQUint(%d) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("VLQ mismatch: expected %d, got %d", v, got)
		}
	}
}

func TestWriterSequence(t *testing.T) {
	w := NewWriter(32)
	w.Uint(7).String("tc0").Bytes([]byte{1, 2, 3}).Int(-5)

	data := w.Result()
	id, err := DecodeVLQUint(&data)
	if err != nil || id != 7 {
		t.Fatalf("id = %d, %v", id, err)
	}
	name, err := DecodeVLQString(&data)
	if err != nil || name != "tc0" {
		t.Fatalf("name = %q, %v", name, err)
	}
	raw, err := DecodeVLQBytes(&data)
	if err != nil || !bytes.Equal(raw, []byte{1, 2, 3}) {
		t.Fatalf("raw = %v, %v", raw, err)
	}
	v, err := DecodeVLQInt(&data)
	if err != nil || v != -5 {
		t.Fatalf("v = %d, %v", v, err)
	}

	w.Reset()
	if w.Len() != 0 {
		t.Errorf("Reset left %d bytes", w.Len())
	}
}

func TestVLQDecodeErrors(t *testing.T) {
	var empty []byte
	if _, err := DecodeVLQInt(&empty); err != ErrTruncated {
		t.Errorf("empty input: got %v, want ErrTruncated", err)
	}

	cut := []byte{0x87}
	if _, err := DecodeVLQInt(&cut); err != ErrTruncated {
		t.Errorf("cut input: got %v, want ErrTruncated", err)
	}

	long := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&long); err != ErrInvalidVLQ {
		t.Errorf("overlong input: got %v, want ErrInvalidVLQ", err)
	}

	short := []byte{0x05, 'a', 'b'}
	if _, err := DecodeVLQBytes(&short); err != ErrTruncated {
		t.Errorf("short string: got %v, want ErrTruncated", err)
	}
}
