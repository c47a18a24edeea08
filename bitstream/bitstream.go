// Package bitstream packs and unpacks bits, fixed-width codes and the odd/even
// prefix codes used by the repair frame format.
//
// Bits are stored least-significant-bit first within each byte: the first bit
// written lands in bit 0 of the first byte.
package bitstream

import (
	"errors"
	"fmt"
)

// MaxCodeLen is the widest fixed-width code WriteCode and ReadCode accept.
const MaxCodeLen = 16

var (
	// ErrCodeTooLong indicates a fixed-width code wider than MaxCodeLen.
	ErrCodeTooLong = errors.New("code too long")
	// ErrOverflow indicates a read or write past the buffer bound.
	ErrOverflow = errors.New("bit stream overflow")
)

// Writer appends bits to a byte buffer bounded by a fixed capacity.
//
// Errors are sticky: once a write fails every following write is a no-op and
// Bytes reports the first error.
type Writer struct {
	buf   []byte
	limit int
	cur   byte
	shift uint8
	bits  int
	err   error
}

// NewWriter creates a writer that fails with ErrOverflow once more than limit
// bytes would be produced.
func NewWriter(limit int) *Writer {
	return &Writer{
		buf:   make([]byte, 0, min(limit, 4096)),
		limit: limit,
	}
}

// Len returns the number of bits written so far, padding excluded.
func (w *Writer) Len() int {
	return w.bits
}

// Err returns the first error encountered.
func (w *Writer) Err() error {
	return w.err
}

// WriteBit appends one bit; any non-zero value is a one.
func (w *Writer) WriteBit(bit uint) {
	if w.err != nil {
		return
	}
	if bit != 0 {
		w.cur |= 1 << w.shift
	}
	w.bits++
	w.shift++
	if w.shift == 8 {
		w.flush()
	}
}

func (w *Writer) flush() {
	if len(w.buf) >= w.limit {
		w.err = fmt.Errorf("%w: output exceeds %d bytes", ErrOverflow, w.limit)
		return
	}
	w.buf = append(w.buf, w.cur)
	w.cur = 0
	w.shift = 0
}

// WriteCode appends the n low bits of v, least significant first.
func (w *Writer) WriteCode(v uint, n uint8) {
	if w.err != nil {
		return
	}
	if n > MaxCodeLen {
		w.err = fmt.Errorf("%w: %d bits", ErrCodeTooLong, n)
		return
	}
	for i := uint8(0); i < n; i++ {
		w.WriteBit(v & 1)
		v >>= 1
	}
}

// WritePrefOdd appends v with the odd prefix code.
func (w *Writer) WritePrefOdd(v uint) {
	p, base := prefOdd(v)
	w.writeUnary(p)
	w.writeSuffix(v-base, p)
}

// WritePrefEven appends v with the even prefix code.
func (w *Writer) WritePrefEven(v uint) {
	p, base := prefEven(v)
	w.writeUnary(p)
	w.writeSuffix(v-base, p+1)
}

func (w *Writer) writeUnary(p uint8) {
	for i := uint8(0); i < p; i++ {
		w.WriteBit(1)
	}
	w.WriteBit(0)
}

// writeSuffix splits suffixes wider than MaxCodeLen into several codes.
func (w *Writer) writeSuffix(v uint, n uint8) {
	for n > MaxCodeLen {
		w.WriteCode(v, MaxCodeLen)
		v >>= MaxCodeLen
		n -= MaxCodeLen
	}
	w.WriteCode(v, n)
}

// Pad flushes a partially filled byte. Unused high bits are zero.
func (w *Writer) Pad() {
	if w.err != nil || w.shift == 0 {
		return
	}
	w.flush()
}

// Bytes pads the stream and returns the encoded buffer.
func (w *Writer) Bytes() ([]byte, error) {
	w.Pad()
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Reader consumes bits from a byte buffer.
type Reader struct {
	buf   []byte
	pos   int
	cur   byte
	shift uint8
	bits  int
}

// NewReader creates a reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the number of bits consumed so far.
func (r *Reader) Offset() int {
	return r.bits
}

// ReadBit consumes one bit.
func (r *Reader) ReadBit() (uint, error) {
	if r.shift == 0 {
		if r.pos >= len(r.buf) {
			return 0, fmt.Errorf("%w: read past %d bytes", ErrOverflow, len(r.buf))
		}
		r.cur = r.buf[r.pos]
		r.pos++
		r.shift = 8
	}
	bit := uint(r.cur & 1)
	r.cur >>= 1
	r.shift--
	r.bits++
	return bit, nil
}

// ReadCode consumes an n-bit code written by WriteCode.
func (r *Reader) ReadCode(n uint8) (uint, error) {
	if n > MaxCodeLen {
		return 0, fmt.Errorf("%w: %d bits", ErrCodeTooLong, n)
	}
	var v uint
	for i := uint8(0); i < n; i++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		v |= bit << i
	}
	return v, nil
}

// ReadPrefOdd consumes a value written by WritePrefOdd.
func (r *Reader) ReadPrefOdd() (uint, error) {
	p, err := r.readUnary()
	if err != nil {
		return 0, err
	}
	suffix, err := r.readSuffix(p)
	if err != nil {
		return 0, err
	}
	return (uint(1)<<p - 1) + suffix, nil
}

// ReadPrefEven consumes a value written by WritePrefEven.
func (r *Reader) ReadPrefEven() (uint, error) {
	p, err := r.readUnary()
	if err != nil {
		return 0, err
	}
	suffix, err := r.readSuffix(p + 1)
	if err != nil {
		return 0, err
	}
	return (uint(1)<<(p+1) - 2) + suffix, nil
}

// maxPrefix bounds the unary run so corrupt input cannot shift past a uint.
const maxPrefix = 32

func (r *Reader) readUnary() (uint8, error) {
	var p uint8
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 0 {
			return p, nil
		}
		p++
		if p > maxPrefix {
			return 0, fmt.Errorf("%w: prefix longer than %d bits", ErrOverflow, maxPrefix)
		}
	}
}

func (r *Reader) readSuffix(n uint8) (uint, error) {
	var v uint
	var shift uint8
	for n > 0 {
		k := min(n, MaxCodeLen)
		part, err := r.ReadCode(k)
		if err != nil {
			return 0, err
		}
		v |= part << shift
		shift += k
		n -= k
	}
	return v, nil
}

// prefOdd returns the prefix length and base for v: bases run 0, 1, 3, 7, ...
func prefOdd(v uint) (uint8, uint) {
	var p uint8
	base, next := uint(0), uint(1)
	for v >= next {
		base = next
		next = next<<1 | 1
		p++
	}
	return p, base
}

// prefEven returns the prefix length and base for v: bases run 0, 2, 6, 14, ...
func prefEven(v uint) (uint8, uint) {
	var p uint8
	base, next := uint(0), uint(2)
	for v >= next {
		base = next
		next = next<<1 + 2
		p++
	}
	return p, base
}

// CostPrefOdd returns the encoded length in bits of v with the odd code.
func CostPrefOdd(v uint) int {
	p, _ := prefOdd(v)
	return 2*int(p) + 1
}

// CostPrefEven returns the encoded length in bits of v with the even code.
func CostPrefEven(v uint) int {
	p, _ := prefEven(v)
	return 2*int(p) + 2
}

// Log2u returns the smallest b such that 2^b >= n. Log2u(0) and Log2u(1) are 0.
func Log2u(n uint) uint8 {
	var b uint8
	for b < 63 && uint(1)<<b < n {
		b++
	}
	return b
}
