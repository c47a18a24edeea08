package grammar

import "slices"

// pairAgg counts the positions currently tagged with one ordered symbol pair.
type pairAgg struct {
	left  SymbolID
	right SymbolID
	count int
	occ   []int32 // tagged positions, possibly stale
	alive bool
}

// CrunchWord merges the most frequent non-symmetric adjacent pair into a new
// pair symbol until no pair occurs at least twice.
func (f *Frame) CrunchWord() error {
	for {
		merged, err := f.StepWord()
		if err != nil {
			return err
		}
		if !merged {
			break
		}
	}
	f.resetPairs()
	return nil
}

// StepWord evaluates pending holes and merges the winning pair once. It
// reports false when no pair occurs at least twice.
//
// Among pairs with the same count the aggregate created first wins, which is
// the pair discovered leftmost in the earliest scan.
func (f *Frame) StepWord() (bool, error) {
	f.scanPairs()

	best, count := f.selectPair()
	if count < 2 {
		return false, nil
	}
	if err := f.mergePair(best); err != nil {
		return false, err
	}
	return true, nil
}

// scanPairs tags every hole with the aggregate of its right-neighbour pair.
func (f *Frame) scanPairs() {
	for _, h := range f.holes {
		p := &f.pos[h]
		p.inHole = false
		if !p.alive || p.pair != none || p.next == none {
			continue
		}

		key := [2]SymbolID{p.sym, f.pos[p.next].sym}
		id, ok := f.pairIndex[key]
		if !ok {
			id = int32(len(f.pairs))
			f.pairs = append(f.pairs, pairAgg{left: key[0], right: key[1], alive: true})
			f.pairIndex[key] = id
			f.live = append(f.live, id)
		}
		agg := &f.pairs[id]
		agg.count++
		agg.occ = append(agg.occ, h)
		p.pair = id
	}
	f.holes = f.holes[:0]
}

// selectPair returns the live non-symmetric pair with the highest count and
// compacts the live list.
func (f *Frame) selectPair() (int32, int) {
	best, bestCount := none, 0
	live := f.live[:0]
	for _, id := range f.live {
		agg := &f.pairs[id]
		if !agg.alive {
			continue
		}
		live = append(live, id)
		if agg.left == agg.right {
			continue
		}
		if agg.count > bestCount {
			best, bestCount = id, agg.count
		}
	}
	f.live = live
	return best, bestCount
}

func (f *Frame) decPair(id int32) {
	agg := &f.pairs[id]
	agg.count--
	if agg.count == 0 {
		agg.alive = false
		agg.occ = nil
		delete(f.pairIndex, [2]SymbolID{agg.left, agg.right})
	}
}

// mergePair replaces every occurrence of pair id by one new pair symbol.
func (f *Frame) mergePair(id int32) error {
	left, right := f.pairs[id].left, f.pairs[id].right
	occ := slices.Clone(f.pairs[id].occ)
	slices.Sort(occ)

	t := f.table
	sym := NoSymbol
	for _, h := range occ {
		p := &f.pos[h]
		if !p.alive || p.pair != id {
			continue
		}
		q := p.next

		if p.prev != none {
			prev := &f.pos[p.prev]
			if prev.pair != none {
				f.decPair(prev.pair)
				prev.pair = none
				f.addHole(p.prev)
			}
		}
		if next := &f.pos[q]; next.pair != none {
			f.decPair(next.pair)
			next.pair = none
		}

		if sym == NoSymbol {
			var err error
			sym, err = t.pair(left, right, int(h))
			if err != nil {
				return err
			}
		}
		t.symbols[left].FrameUses--
		t.symbols[right].FrameUses--
		t.symbols[sym].FrameUses++

		p.sym = sym
		f.decPair(id)
		p.pair = none
		f.remove(q)
		if p.next != none {
			f.addHole(h)
		}
	}
	f.merges++
	return nil
}

// resetPairs drops every pair aggregate and re-registers all holes.
func (f *Frame) resetPairs() {
	f.pairs = f.pairs[:0]
	f.live = f.live[:0]
	clear(f.pairIndex)
	f.holes = f.holes[:0]
	for h := f.head; h != none; h = f.pos[h].next {
		p := &f.pos[h]
		p.pair = none
		p.inHole = false
		if p.next != none {
			f.addHole(h)
		}
	}
}
