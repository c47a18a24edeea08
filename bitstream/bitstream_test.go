package bitstream

import (
	"errors"
	"testing"
)

func TestWriteBitLSBFirst(t *testing.T) {
	w := NewWriter(16)
	for _, bit := range []uint{1, 0, 1, 1, 0, 0, 0, 0, 1} {
		w.WriteBit(bit)
	}
	if w.Len() != 9 {
		t.Fatalf("expected 9 bits, got %d", w.Len())
	}
	out, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if len(out) != 2 || out[0] != 0x0D || out[1] != 0x01 {
		t.Fatalf("unexpected bytes: %x", out)
	}
}

func TestCodeRoundTrip(t *testing.T) {
	values := []struct {
		v uint
		n uint8
	}{
		{0, 0}, {1, 1}, {5, 3}, {0xAB, 8}, {0x1234, 13}, {0xFFFF, 16}, {0, 16},
	}

	w := NewWriter(64)
	for _, c := range values {
		w.WriteCode(c.v, c.n)
	}
	out, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	r := NewReader(out)
	for i, c := range values {
		got, err := r.ReadCode(c.n)
		if err != nil {
			t.Fatalf("ReadCode %d failed: %v", i, err)
		}
		if got != c.v {
			t.Errorf("code %d: expected %d, got %d", i, c.v, got)
		}
	}
}

func TestCodeTooLong(t *testing.T) {
	w := NewWriter(16)
	w.WriteCode(1, 17)
	if _, err := w.Bytes(); !errors.Is(err, ErrCodeTooLong) {
		t.Fatalf("expected ErrCodeTooLong, got %v", err)
	}

	r := NewReader([]byte{0xFF, 0xFF, 0xFF})
	if _, err := r.ReadCode(17); !errors.Is(err, ErrCodeTooLong) {
		t.Fatalf("expected ErrCodeTooLong, got %v", err)
	}
}

func TestPrefOddLayout(t *testing.T) {
	tests := []struct {
		v    uint
		bits []uint
	}{
		{0, []uint{0}},
		{1, []uint{1, 0, 0}},
		{2, []uint{1, 0, 1}},
		{3, []uint{1, 1, 0, 0, 0}},
		{6, []uint{1, 1, 0, 1, 1}},
		{7, []uint{1, 1, 1, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		w := NewWriter(8)
		w.WritePrefOdd(tt.v)
		if w.Len() != len(tt.bits) || CostPrefOdd(tt.v) != len(tt.bits) {
			t.Errorf("v=%d: expected %d bits, wrote %d, cost %d", tt.v, len(tt.bits), w.Len(), CostPrefOdd(tt.v))
			continue
		}
		out, _ := w.Bytes()
		r := NewReader(out)
		for i, want := range tt.bits {
			got, _ := r.ReadBit()
			if got != want {
				t.Errorf("v=%d bit %d: expected %d, got %d", tt.v, i, want, got)
			}
		}
	}
}

func TestPrefEvenLayout(t *testing.T) {
	tests := []struct {
		v    uint
		cost int
	}{
		{0, 2}, {1, 2}, {2, 4}, {5, 4}, {6, 6}, {13, 6}, {14, 8},
	}
	for _, tt := range tests {
		if got := CostPrefEven(tt.v); got != tt.cost {
			t.Errorf("CostPrefEven(%d): expected %d, got %d", tt.v, tt.cost, got)
		}
		w := NewWriter(8)
		w.WritePrefEven(tt.v)
		if w.Len() != tt.cost {
			t.Errorf("WritePrefEven(%d): expected %d bits, got %d", tt.v, tt.cost, w.Len())
		}
	}
}

func TestPrefixRoundTrip(t *testing.T) {
	var values []uint
	for v := uint(0); v < 300; v++ {
		values = append(values, v)
	}
	values = append(values, 65535, 65536, 1<<20, 1<<24+7)

	w := NewWriter(1 << 16)
	for _, v := range values {
		w.WritePrefOdd(v)
		w.WritePrefEven(v)
	}
	bitsWritten := w.Len()
	out, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if len(out) != (bitsWritten+7)/8 {
		t.Fatalf("expected %d bytes, got %d", (bitsWritten+7)/8, len(out))
	}

	r := NewReader(out)
	for _, v := range values {
		odd, err := r.ReadPrefOdd()
		if err != nil {
			t.Fatalf("ReadPrefOdd failed for %d: %v", v, err)
		}
		even, err := r.ReadPrefEven()
		if err != nil {
			t.Fatalf("ReadPrefEven failed for %d: %v", v, err)
		}
		if odd != v || even != v {
			t.Fatalf("expected %d, got odd=%d even=%d", v, odd, even)
		}
	}
	if r.Offset() != bitsWritten {
		t.Errorf("expected offset %d, got %d", bitsWritten, r.Offset())
	}
}

func TestWriterOverflow(t *testing.T) {
	w := NewWriter(2)
	w.WriteCode(0xFFFF, 16)
	if w.Err() != nil {
		t.Fatalf("unexpected error at limit: %v", w.Err())
	}
	w.WriteBit(1)
	if _, err := w.Bytes(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestReaderOverflow(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.ReadCode(8); err != nil {
		t.Fatalf("ReadCode failed: %v", err)
	}
	if _, err := r.ReadBit(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}

	r = NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := r.ReadPrefOdd(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow on runaway prefix, got %v", err)
	}
}

func TestPadZeroFills(t *testing.T) {
	w := NewWriter(4)
	w.WriteBit(1)
	w.WriteBit(1)
	w.Pad()
	w.Pad()
	out, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if len(out) != 1 || out[0] != 0x03 {
		t.Fatalf("unexpected padded bytes: %x", out)
	}
}

func TestLog2u(t *testing.T) {
	tests := []struct {
		n    uint
		want uint8
	}{
		{0, 0}, {1, 0}, {2, 1}, {3, 2}, {4, 2}, {5, 3}, {255, 8}, {256, 8}, {257, 9}, {65536, 16},
	}
	for _, tt := range tests {
		if got := Log2u(tt.n); got != tt.want {
			t.Errorf("Log2u(%d): expected %d, got %d", tt.n, tt.want, got)
		}
	}
}
