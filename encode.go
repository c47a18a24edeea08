package repair

import (
	"fmt"

	"github.com/seiflotfy/repair/bitstream"
	"github.com/seiflotfy/repair/grammar"
)

// Frame format, bit-packed least significant bit first:
//
//	dict     = 1 bit, set when definitions follow
//	if dict:
//	  defs   = PrefOdd(defCount - 1)
//	  repeat defCount times, in dictionary index order:
//	    len  = PrefOdd(bodyBits - 2)
//	    body = entries, bodyBits bits in total
//	count    = PrefOdd(entryCount - 1)
//	entries  = entryCount sequence entries
//	padding  = zero bits up to the byte boundary
//
//	entry    = rep:1 [PrefOdd(repeatCount - 2) if rep] atom
//	atom     = [ref:1 if dict] (code:8 | index:bitLen)
//
// bitLen is Log2u(defCount). A reference inside a definition points to an
// earlier definition.

type treeEncoder struct {
	w      *bitstream.Writer
	table  *grammar.Table
	dict   bool
	bitLen uint8
}

func encodeFrame(table *grammar.Table, frame *grammar.Frame, plan grammar.Plan) ([]byte, error) {
	costs := table.Costs()
	e := &treeEncoder{
		w:      bitstream.NewWriter(maxOutputBytes),
		table:  table,
		dict:   plan.DefCount > 0,
		bitLen: plan.BitLen,
	}

	if e.dict {
		e.w.WriteBit(1)
		e.w.WritePrefOdd(uint(plan.DefCount - 1))
		for id := grammar.SymbolID(0); int(id) < table.Len(); id++ {
			if !table.At(id).Keep {
				continue
			}
			e.w.WritePrefOdd(uint(costs.Body[id] - 2))
			e.writeBody(id)
		}
	} else {
		e.w.WriteBit(0)
	}

	seq := frame.Symbols()
	e.w.WritePrefOdd(uint(costs.SequenceEntries(table) - 1))
	for _, id := range seq {
		e.writeUse(id)
	}

	if e.w.Err() == nil && int64(e.w.Len()) != plan.Cost {
		return nil, fmt.Errorf("encoded %d bits, dictionary plan expected %d", e.w.Len(), plan.Cost)
	}
	out, err := e.w.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return out, nil
}

// writeUse encodes one use of id: a single entry for atoms, the expansion
// otherwise.
func (e *treeEncoder) writeUse(id grammar.SymbolID) {
	if grammar.Atomic(e.table.At(id)) {
		e.w.WriteBit(0)
		e.writeAtom(id)
		return
	}
	e.writeBody(id)
}

// writeBody encodes the expansion of id regardless of its keep flag.
func (e *treeEncoder) writeBody(id grammar.SymbolID) {
	s := e.table.At(id)
	switch s.Kind {
	case grammar.KindTerminal:
		e.w.WriteBit(0)
		e.writeAtom(id)
	case grammar.KindPair:
		left, right := s.Left, s.Right
		e.writeUse(left)
		e.writeUse(right)
	case grammar.KindRepeat:
		child, count := s.Left, s.Count
		if grammar.Atomic(e.table.At(child)) {
			e.w.WriteBit(1)
			e.w.WritePrefOdd(uint(count - 2))
			e.writeAtom(child)
			return
		}
		for i := 0; i < count; i++ {
			e.writeUse(child)
		}
	}
}

func (e *treeEncoder) writeAtom(id grammar.SymbolID) {
	s := e.table.At(id)
	if s.Kind == grammar.KindTerminal {
		if e.dict {
			e.w.WriteBit(0)
		}
		e.w.WriteCode(uint(s.Code), 8)
		return
	}
	e.w.WriteBit(1)
	e.w.WriteCode(uint(s.Index), e.bitLen)
}
