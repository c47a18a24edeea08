package grammar

import "math"

// Step is one candidate dictionary size evaluated by Optimize.
type Step struct {
	DefCount int      // kept symbols evaluated at this step
	Cost     int64    // total encoded bits with that keep set
	Dropped  SymbolID // symbol dropped after the evaluation, NoSymbol on the last step
}

// Plan is the dictionary chosen by Optimize.
type Plan struct {
	DefCount int
	BitLen   uint8
	Cost     int64 // encoded frame size in bits, padding excluded
	Steps    []Step
}

// Optimize decides which symbols to define in the dictionary.
//
// Every pair and repeat symbol starts kept. Each step evaluates the exact
// encoded cost of the current keep set, then drops the kept symbol with the
// smallest overall gain (the highest arena index among equal gains). The sweep
// ends after the empty dictionary has been evaluated; the cheapest keep set
// seen is restored, the largest one on ties. Kept symbols get dictionary
// indexes in arena order, so a definition only references earlier ones.
func (t *Table) Optimize() Plan {
	for i := range t.symbols {
		s := &t.symbols[i]
		s.Keep = s.Kind != KindTerminal && s.Uses() > 0
		s.Index = -1
		s.Pass = 0
		s.TreeGain, s.PosGain, s.AllGain = 0, 0, 0
	}

	c := t.Costs()
	var steps []Step
	best := 0
	for {
		c.update(t)
		step := Step{DefCount: c.DefCount, Cost: c.Total(t), Dropped: NoSymbol}
		if step.Cost < bestCost(steps, best) {
			best = len(steps)
		}
		if c.DefCount == 0 {
			steps = append(steps, step)
			break
		}

		loser := t.gains(c)
		t.symbols[loser].Keep = false
		t.symbols[loser].Pass = len(steps) + 1
		step.Dropped = loser
		steps = append(steps, step)
	}

	for _, step := range steps[best:] {
		if step.Dropped != NoSymbol {
			s := &t.symbols[step.Dropped]
			s.Keep = true
			s.Pass = 0
		}
	}
	c.update(t)
	t.gains(c)

	index := 0
	for i := range t.symbols {
		s := &t.symbols[i]
		if s.Keep {
			s.Index = index
			index++
		}
	}

	return Plan{
		DefCount: c.DefCount,
		BitLen:   c.BitLen,
		Cost:     steps[best].Cost,
		Steps:    steps,
	}
}

// bestCost returns the cost of the best step so far, or the largest int64
// before the first evaluation.
func bestCost(steps []Step, best int) int64 {
	if len(steps) == 0 {
		return math.MaxInt64
	}
	return steps[best].Cost
}

// gains records the gain of every kept symbol and returns the gain loser.
func (t *Table) gains(c *Costs) SymbolID {
	loser := NoSymbol
	var lowest int64
	for i := range t.symbols {
		s := &t.symbols[i]
		if !s.Keep {
			continue
		}
		saved := c.Body[i] - c.Use[i]
		s.PosGain = int64(s.FrameUses) * saved
		s.TreeGain = int64(s.TreeUses)*saved - c.Def[i]
		s.AllGain = s.TreeGain + s.PosGain
		if loser == NoSymbol || s.AllGain <= lowest {
			loser, lowest = SymbolID(i), s.AllGain
		}
	}
	return loser
}
