package grammar

// CrunchRep folds every maximal run of two or more identical symbols into a
// single repeat symbol. Runs of the same symbol and length share one repeat
// symbol.
func (f *Frame) CrunchRep() error {
	t := f.table
	for h := f.head; h != none; {
		p := &f.pos[h]
		run := 1
		end := p.next
		for end != none && f.pos[end].sym == p.sym {
			run++
			end = f.pos[end].next
		}
		if run < 2 {
			h = end
			continue
		}

		child := p.sym
		rep, err := t.repeat(child, run, int(h))
		if err != nil {
			return err
		}
		t.symbols[child].FrameUses -= run
		t.symbols[rep].FrameUses++
		p.sym = rep

		for q := p.next; q != end; {
			next := f.pos[q].next
			f.remove(q)
			q = next
		}
		f.folds++
		h = end
	}
	f.resetPairs()
	return nil
}
