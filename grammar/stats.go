package grammar

import (
	"cmp"
	"math"
	"slices"

	"k8s.io/utils/ptr"
)

// SortKind selects the ranking key of Sort.
type SortKind uint8

const (
	// SortAll ranks every symbol by impact: references times size.
	SortAll SortKind = iota
	// SortRep ranks by references, filtering out repeated children.
	SortRep
	// SortDup ranks by references, filtering out terminals and single uses.
	SortDup
)

// Sort ranks the symbols by kind and returns them best first, together with
// the number of symbols that passed the filter. Filtered symbols rank last.
func (t *Table) Sort(kind SortKind) ([]SymbolID, int) {
	type ranked struct {
		id  SymbolID
		key int
	}

	repeated := make([]bool, len(t.symbols))
	for i := range t.symbols {
		if s := &t.symbols[i]; s.Kind == KindRepeat {
			repeated[s.Left] = true
		}
	}

	index := make([]ranked, len(t.symbols))
	filtered := 0
	for i := range t.symbols {
		s := &t.symbols[i]
		key := 0
		switch kind {
		case SortAll:
			key = s.Uses() * s.Size
			filtered++
		case SortRep:
			if !repeated[i] {
				key = s.Uses()
				filtered++
			}
		case SortDup:
			if s.Kind != KindTerminal && s.Uses() > 1 {
				key = s.Uses()
				filtered++
			}
		}
		index[i] = ranked{id: SymbolID(i), key: key}
	}

	slices.SortStableFunc(index, func(a, b ranked) int {
		return cmp.Compare(b.key, a.key)
	})

	out := make([]SymbolID, len(index))
	for i, r := range index {
		out[i] = r.id
	}
	return out, filtered
}

// Stat describes one symbol for listings.
type Stat struct {
	ID        SymbolID
	Kind      Kind
	Base      int
	Size      int
	Code      *byte // terminals only
	Repeat    *int  // repeat symbols only
	FrameUses int
	TreeUses  int
	Keep      bool
	Index     *int // kept symbols only
	AllGain   int64
}

// Stats describes the symbols in the given order.
func (t *Table) Stats(order []SymbolID) []Stat {
	out := make([]Stat, 0, len(order))
	for _, id := range order {
		s := &t.symbols[id]
		st := Stat{
			ID:        id,
			Kind:      s.Kind,
			Base:      s.Base,
			Size:      s.Size,
			FrameUses: s.FrameUses,
			TreeUses:  s.TreeUses,
			Keep:      s.Keep,
			AllGain:   s.AllGain,
		}
		switch s.Kind {
		case KindTerminal:
			st.Code = ptr.To(s.Code)
		case KindRepeat:
			st.Repeat = ptr.To(s.Count)
		}
		if s.Keep {
			st.Index = ptr.To(s.Index)
		}
		out = append(out, st)
	}
	return out
}

// Entropy returns the entropy, in bits, of the symbol reference distribution.
func (t *Table) Entropy() float64 {
	total := 0
	for i := range t.symbols {
		total += t.symbols[i].Uses()
	}
	if total == 0 {
		return 0
	}
	var h float64
	for i := range t.symbols {
		if u := t.symbols[i].Uses(); u > 0 {
			p := float64(u) / float64(total)
			h -= p * math.Log2(p)
		}
	}
	return h
}

// Entropy returns the order-0 entropy of data in bits per byte.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	var h float64
	n := float64(len(data))
	for _, c := range counts {
		if c > 0 {
			p := float64(c) / n
			h -= p * math.Log2(p)
		}
	}
	return h
}
