package grammar

import "github.com/seiflotfy/repair/bitstream"

// Costs holds the encoded size, in bits, of every symbol under the table's
// current keep flags.
//
// A use of a kept symbol or a terminal is one entry: a repeat flag followed by
// an atom (an optional literal/reference flag and an 8-bit code or a BitLen
// dictionary index). Inlined pairs cost their children. An inlined repeat of
// an atom is one flagged entry with its count; an inlined repeat of anything
// else repeats the child's entries.
type Costs struct {
	DefCount int
	BitLen   uint8

	Use     []int64 // bits to encode one use of the symbol
	Entries []int64 // entries produced by one use
	Body    []int64 // bits of the symbol's expansion, as if inlined
	Def     []int64 // bits of the dictionary definition, 0 unless kept
}

// Atom returns the cost of one atom for symbol s.
func (c *Costs) Atom(s *Symbol) int64 {
	if s.Kind == KindTerminal {
		if c.DefCount > 0 {
			return 9
		}
		return 8
	}
	return 1 + int64(c.BitLen)
}

// Atomic reports whether s encodes as a single atom.
func Atomic(s *Symbol) bool {
	return s.Kind == KindTerminal || s.Keep
}

// Costs evaluates the encoded size of every symbol. Children are always
// created before their parents, so a single pass in arena order suffices.
func (t *Table) Costs() *Costs {
	n := len(t.symbols)
	c := &Costs{
		Use:     make([]int64, n),
		Entries: make([]int64, n),
		Body:    make([]int64, n),
		Def:     make([]int64, n),
	}
	c.update(t)
	return c
}

func (c *Costs) update(t *Table) {
	defCount := 0
	for i := range t.symbols {
		if t.symbols[i].Keep {
			defCount++
		}
	}
	c.DefCount = defCount
	c.BitLen = bitstream.Log2u(uint(defCount))

	for i := range t.symbols {
		s := &t.symbols[i]
		var body, entries int64
		switch s.Kind {
		case KindTerminal:
			body, entries = 1+c.Atom(s), 1
		case KindPair:
			body = c.Use[s.Left] + c.Use[s.Right]
			entries = c.Entries[s.Left] + c.Entries[s.Right]
		case KindRepeat:
			child := &t.symbols[s.Left]
			if Atomic(child) {
				body = 1 + int64(bitstream.CostPrefOdd(uint(s.Count-2))) + c.Atom(child)
				entries = 1
			} else {
				body = int64(s.Count) * c.Use[s.Left]
				entries = int64(s.Count) * c.Entries[s.Left]
			}
		}
		c.Body[i] = body

		if s.Keep {
			c.Use[i] = 1 + c.Atom(s)
			c.Entries[i] = 1
			c.Def[i] = int64(bitstream.CostPrefOdd(uint(body-2))) + body
		} else {
			c.Use[i] = body
			c.Entries[i] = entries
			c.Def[i] = 0
		}
	}
}

// SequenceEntries returns the number of entries the sequence encodes into.
func (c *Costs) SequenceEntries(t *Table) int64 {
	var n int64
	for i := range t.symbols {
		n += int64(t.symbols[i].FrameUses) * c.Entries[i]
	}
	return n
}

// Total returns the exact encoded frame size in bits, padding excluded.
func (c *Costs) Total(t *Table) int64 {
	total := int64(1)
	if c.DefCount > 0 {
		total += int64(bitstream.CostPrefOdd(uint(c.DefCount - 1)))
	}
	var entries int64
	for i := range t.symbols {
		s := &t.symbols[i]
		total += c.Def[i]
		total += int64(s.FrameUses) * c.Use[i]
		entries += int64(s.FrameUses) * c.Entries[i]
	}
	if entries > 0 {
		total += int64(bitstream.CostPrefOdd(uint(entries - 1)))
	}
	return total
}

// Cost returns the exact encoded frame size in bits under the current keep
// flags.
func (t *Table) Cost() int64 {
	return t.Costs().Total(t)
}
