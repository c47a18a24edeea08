package grammar

import "fmt"

const none = int32(-1)

// position is one slot of the working sequence. Its arena index is the input
// offset it was created for, so arena order is sequence order.
type position struct {
	sym    SymbolID
	prev   int32
	next   int32
	pair   int32 // pair aggregate starting here, or none
	alive  bool
	inHole bool
}

// Frame is the working sequence of one compression run.
type Frame struct {
	table *Table

	pos    []position
	head   int32
	length int

	pairs     []pairAgg
	pairIndex map[[2]SymbolID]int32
	live      []int32
	holes     []int32

	merges int
	folds  int
}

// NewFrame loads data into t and returns its sequence: one terminal per
// distinct byte and one position per byte, every position with a right
// neighbour registered as a hole.
func NewFrame(t *Table, data []byte) (*Frame, error) {
	if len(data) > FrameMax {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLong, len(data), FrameMax)
	}
	if len(data) < MinFrame {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrFrameTooShort, len(data), MinFrame)
	}

	f := &Frame{
		table:     t,
		pos:       make([]position, len(data)),
		head:      0,
		length:    len(data),
		pairIndex: make(map[[2]SymbolID]int32, 1024),
		holes:     make([]int32, 0, len(data)),
	}
	for i, b := range data {
		sym, err := t.terminal(b, i)
		if err != nil {
			return nil, err
		}
		t.symbols[sym].FrameUses++

		next := int32(i + 1)
		if i == len(data)-1 {
			next = none
		}
		f.pos[i] = position{
			sym:   sym,
			prev:  int32(i - 1),
			next:  next,
			pair:  none,
			alive: true,
		}
		if next != none {
			f.addHole(int32(i))
		}
	}
	return f, nil
}

// Table returns the symbol table the frame references.
func (f *Frame) Table() *Table {
	return f.table
}

// Len returns the current number of positions.
func (f *Frame) Len() int {
	return f.length
}

// Merges returns the number of pairs merged by word crunch.
func (f *Frame) Merges() int {
	return f.merges
}

// Folds returns the number of runs folded by repeat crunch.
func (f *Frame) Folds() int {
	return f.folds
}

// Symbols returns the symbol of every position in sequence order.
func (f *Frame) Symbols() []SymbolID {
	out := make([]SymbolID, 0, f.length)
	for h := f.head; h != none; h = f.pos[h].next {
		out = append(out, f.pos[h].sym)
	}
	return out
}

// Expand appends the bytes the sequence stands for to dst.
func (f *Frame) Expand(dst []byte) []byte {
	for h := f.head; h != none; h = f.pos[h].next {
		dst = f.table.Expand(dst, f.pos[h].sym)
	}
	return dst
}

// Check verifies that the linked sequence length matches Len and the sum of
// frame uses over all symbols, and that pair aggregates agree with the
// positions tagged with them.
func (f *Frame) Check() error {
	n := 0
	prev := none
	for h := f.head; h != none; h = f.pos[h].next {
		p := &f.pos[h]
		if !p.alive {
			return fmt.Errorf("dead position %d linked at %d", h, n)
		}
		if p.prev != prev {
			return fmt.Errorf("position %d: back link %d, expected %d", h, p.prev, prev)
		}
		prev = h
		n++
	}
	if n != f.length {
		return fmt.Errorf("sequence holds %d positions, length is %d", n, f.length)
	}

	uses := 0
	for i := range f.table.symbols {
		s := &f.table.symbols[i]
		if s.FrameUses < 0 {
			return fmt.Errorf("symbol %d: negative frame uses %d", i, s.FrameUses)
		}
		uses += s.FrameUses
	}
	if uses != f.length {
		return fmt.Errorf("frame uses sum to %d, length is %d", uses, f.length)
	}
	return f.checkPairs()
}

// checkPairs verifies that every live position with a right neighbour is
// either tagged with the aggregate of that pair or waiting in the hole list,
// and that every live aggregate counts exactly the positions tagged with it.
func (f *Frame) checkPairs() error {
	tagged := make(map[int32]int, len(f.live))
	for h := f.head; h != none; h = f.pos[h].next {
		p := &f.pos[h]
		if p.pair == none {
			if p.next != none && !p.inHole {
				return fmt.Errorf("position %d: untagged and not a hole", h)
			}
			continue
		}
		if p.next == none {
			return fmt.Errorf("position %d: tagged with pair %d without a right neighbour", h, p.pair)
		}
		agg := &f.pairs[p.pair]
		if !agg.alive {
			return fmt.Errorf("position %d: tagged with dead pair %d", h, p.pair)
		}
		if agg.left != p.sym || agg.right != f.pos[p.next].sym {
			return fmt.Errorf("position %d: pair %d is (%d,%d), sequence holds (%d,%d)",
				h, p.pair, agg.left, agg.right, p.sym, f.pos[p.next].sym)
		}
		tagged[p.pair]++
	}
	for id := range f.pairs {
		agg := &f.pairs[id]
		if agg.alive && agg.count != tagged[int32(id)] {
			return fmt.Errorf("pair %d: count %d, %d positions tagged", id, agg.count, tagged[int32(id)])
		}
	}
	return nil
}

// remove unlinks position h from the sequence.
func (f *Frame) remove(h int32) {
	p := &f.pos[h]
	if p.prev != none {
		f.pos[p.prev].next = p.next
	} else {
		f.head = p.next
	}
	if p.next != none {
		f.pos[p.next].prev = p.prev
	}
	p.alive = false
	p.prev, p.next = none, none
	f.length--
}

func (f *Frame) addHole(h int32) {
	p := &f.pos[h]
	if p.inHole {
		return
	}
	p.inHole = true
	f.holes = append(f.holes, h)
}
