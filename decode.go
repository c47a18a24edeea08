package repair

import (
	"errors"
	"fmt"

	"github.com/seiflotfy/repair/bitstream"
	"github.com/seiflotfy/repair/grammar"
)

// entry is one decoded literal or dictionary reference, repeated count times.
type entry struct {
	ref   bool
	value uint32 // byte code or dictionary index
	count uint32
}

// element locates one dictionary definition in the flat entry buffer.
type element struct {
	base int
	size int
}

type treeDecoder struct {
	r        *bitstream.Reader
	dict     bool
	bitLen   uint8
	entries  []entry
	elements []element
	out      []byte
}

// Expand decompresses one frame produced by Compress.
func Expand(src []byte) ([]byte, error) {
	return AppendExpand(nil, src)
}

// AppendExpand decompresses one frame and appends it to dst.
func AppendExpand(dst, src []byte) ([]byte, error) {
	d := &treeDecoder{
		r:   bitstream.NewReader(src),
		out: dst,
	}
	start := len(dst)
	if err := d.decode(start); err != nil {
		if errors.Is(err, bitstream.ErrOverflow) || errors.Is(err, bitstream.ErrCodeTooLong) {
			err = fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		return dst, err
	}
	return d.out, nil
}

func (d *treeDecoder) decode(start int) error {
	flag, err := d.r.ReadBit()
	if err != nil {
		return err
	}
	d.dict = flag == 1

	if d.dict {
		n, err := d.r.ReadPrefOdd()
		if err != nil {
			return err
		}
		defCount := n + 1
		if defCount > grammar.SymbolMax {
			return fmt.Errorf("%w: %d definitions", ErrCorrupt, defCount)
		}
		d.bitLen = bitstream.Log2u(defCount)
		d.elements = make([]element, 0, defCount)

		for i := 0; i < int(defCount); i++ {
			if err := d.readDefinition(i); err != nil {
				return err
			}
		}
	}

	n, err := d.r.ReadPrefOdd()
	if err != nil {
		return err
	}
	count := n + 1
	if count > grammar.FrameMax {
		return fmt.Errorf("%w: %d sequence entries", ErrCorrupt, count)
	}
	for i := uint(0); i < count; i++ {
		e, err := d.readEntry(len(d.elements))
		if err != nil {
			return fmt.Errorf("sequence entry %d: %w", i, err)
		}
		if err := d.emit(e, start); err != nil {
			return err
		}
	}
	return nil
}

// readDefinition reads definition i, which may only reference earlier ones.
func (d *treeDecoder) readDefinition(i int) error {
	n, err := d.r.ReadPrefOdd()
	if err != nil {
		return fmt.Errorf("definition %d: %w", i, err)
	}
	length := int(n) + 2
	begin := d.r.Offset()
	base := len(d.entries)
	for d.r.Offset()-begin < length {
		e, err := d.readEntry(i)
		if err != nil {
			return fmt.Errorf("definition %d: %w", i, err)
		}
		d.entries = append(d.entries, e)
	}
	if used := d.r.Offset() - begin; used != length {
		return fmt.Errorf("%w: definition %d spans %d bits, header says %d", ErrCorrupt, i, used, length)
	}
	d.elements = append(d.elements, element{base: base, size: len(d.entries) - base})
	return nil
}

// readEntry reads one entry; references must be below limit.
func (d *treeDecoder) readEntry(limit int) (entry, error) {
	e := entry{count: 1}
	rep, err := d.r.ReadBit()
	if err != nil {
		return e, err
	}
	if rep == 1 {
		n, err := d.r.ReadPrefOdd()
		if err != nil {
			return e, err
		}
		if n > grammar.FrameMax {
			return e, fmt.Errorf("%w: repeat count %d", ErrCorrupt, n+2)
		}
		e.count = uint32(n) + 2
	}

	if d.dict {
		ref, err := d.r.ReadBit()
		if err != nil {
			return e, err
		}
		e.ref = ref == 1
	}
	if e.ref {
		index, err := d.r.ReadCode(d.bitLen)
		if err != nil {
			return e, err
		}
		if int(index) >= limit {
			return e, fmt.Errorf("%w: reference %d, only %d definitions available", ErrCorrupt, index, limit)
		}
		e.value = uint32(index)
		return e, nil
	}
	code, err := d.r.ReadCode(8)
	if err != nil {
		return e, err
	}
	e.value = uint32(code)
	return e, nil
}

func (d *treeDecoder) emit(e entry, start int) error {
	for c := uint32(0); c < e.count; c++ {
		if e.ref {
			if err := d.walkElem(int(e.value), start); err != nil {
				return err
			}
			continue
		}
		if len(d.out)-start >= grammar.FrameMax {
			return fmt.Errorf("%w: frame expands beyond %d bytes", ErrCorrupt, grammar.FrameMax)
		}
		d.out = append(d.out, byte(e.value))
	}
	return nil
}

// walkElem expands definition i into the output.
func (d *treeDecoder) walkElem(i, start int) error {
	el := d.elements[i]
	for _, e := range d.entries[el.base : el.base+el.size] {
		if err := d.emit(e, start); err != nil {
			return err
		}
	}
	return nil
}
