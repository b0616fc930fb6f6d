package isles

import (
	"bytes"
	"testing"
)

// these vectors are the canonical COBS examples from the Wikipedia article.
func cobsVectors() [][2][]byte {
	rangeBytes := func(start, end int) []byte {
		b := make([]byte, 0, end-start)
		for i := start; i < end; i++ {
			b = append(b, byte(i))
		}
		return b
	}

	return [][2][]byte{
		{{0x00, 0x00}, {0x01, 0x01, 0x00}},
		{{0x00, 0x00, 0x00}, {0x01, 0x01, 0x01, 0x00}},
		{{0x11, 0x22, 0x33, 0x44, 0x00}, {0x05, 0x11, 0x22, 0x33, 0x44, 0x00}},
		{{0x11, 0x22, 0x00, 0x33, 0x00}, {0x03, 0x11, 0x22, 0x02, 0x33, 0x00}},
		{{0x11, 0x00, 0x00, 0x00, 0x00}, {0x02, 0x11, 0x01, 0x01, 0x01, 0x00}},
		{append(rangeBytes(1, 255), 0x00), append([]byte{0xFF}, append(rangeBytes(1, 255), 0x00)...)},
		{append(rangeBytes(0, 255), 0x00), append([]byte{0x01, 0xFF}, append(rangeBytes(1, 255), 0x00)...)},
		{append(rangeBytes(1, 256), 0x00), append([]byte{0xFF}, append(rangeBytes(1, 255), 0x02, 0xFF, 0x00)...)},
	}
}

func TestCOBSEncode(t *testing.T) {
	for i, v := range cobsVectors() {
		got, err := cobsEncode(v[0])
		if err != nil {
			t.Fatalf("test %d: unexpected error: %v", i+1, err)
		}
		if !bytes.Equal(got, v[1]) {
			t.Errorf("test %d: got %x, want %x", i+1, got, v[1])
		}
	}
}

func TestCOBSDecode(t *testing.T) {
	for i, v := range cobsVectors() {
		got, err := cobsDecode(v[1])
		if err != nil {
			t.Fatalf("test %d: unexpected error: %v", i+1, err)
		}
		if !bytes.Equal(got, v[0]) {
			t.Errorf("test %d: got %x, want %x", i+1, got, v[0])
		}
	}
}

func TestCOBSRejectsUnterminated(t *testing.T) {
	if _, err := cobsEncode([]byte{0x01, 0x02}); err != ErrNotNullTerminated {
		t.Fatalf("expected ErrNotNullTerminated, got %v", err)
	}
	if _, err := cobsDecode([]byte{0x01, 0x02}); err != ErrNotNullTerminated {
		t.Fatalf("expected ErrNotNullTerminated, got %v", err)
	}
}
