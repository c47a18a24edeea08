// Package grammar infers a straight-line grammar over a byte frame.
//
// A Table is an append-only arena of symbols: one terminal per distinct byte
// value, pair symbols created by word crunch and repeat symbols created by
// repeat crunch. A Frame is the working sequence of positions referencing
// those symbols; every merge or fold shortens it.
package grammar

import (
	"errors"
	"fmt"
)

const (
	// FrameMax is the largest frame accepted, in bytes.
	FrameMax = 65536
	// SymbolMax is the capacity of a symbol table.
	SymbolMax = 65536
	// MinFrame is the shortest frame worth inducing a grammar over.
	MinFrame = 3
)

var (
	// ErrFrameTooLong indicates an input frame larger than FrameMax.
	ErrFrameTooLong = errors.New("frame too long")
	// ErrFrameTooShort indicates an input frame shorter than MinFrame.
	ErrFrameTooShort = errors.New("frame too short")
	// ErrTooManySymbols indicates the symbol table reached SymbolMax.
	ErrTooManySymbols = errors.New("too many symbols")
)

// SymbolID is the arena index of a symbol.
type SymbolID int32

// NoSymbol marks an absent child.
const NoSymbol SymbolID = -1

// Kind tells how a symbol expands.
type Kind uint8

const (
	// KindTerminal is a single literal byte.
	KindTerminal Kind = iota
	// KindPair is the concatenation of Left and Right.
	KindPair
	// KindRepeat is Left repeated Count times.
	KindRepeat
)

func (k Kind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindPair:
		return "pair"
	case KindRepeat:
		return "repeat"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Symbol is one grammar production.
type Symbol struct {
	Kind  Kind
	Code  byte     // literal byte of a terminal
	Left  SymbolID // left or repeated child
	Right SymbolID // right child of a pair
	Count int      // repetitions of a repeat symbol

	Base int // offset of the first occurrence in the input frame
	Size int // expanded size in bytes

	FrameUses int // sequence positions holding this symbol
	TreeUses  int // symbols referencing this symbol as a child

	Keep  bool // defined in the dictionary
	Index int  // dictionary index, -1 when inlined
	Pass  int  // optimizer step that dropped the symbol, 0 if never dropped

	TreeGain int64
	PosGain  int64
	AllGain  int64
}

// Uses returns the total reference count of the symbol.
func (s *Symbol) Uses() int {
	return s.FrameUses + s.TreeUses
}

type repeatKey struct {
	child SymbolID
	count int
}

// Table is the symbol arena of one compression run.
type Table struct {
	symbols   []Symbol
	terminals [256]SymbolID
	repeats   map[repeatKey]SymbolID
}

// NewTable creates an empty symbol table.
func NewTable() *Table {
	t := &Table{
		symbols: make([]Symbol, 0, 512),
		repeats: make(map[repeatKey]SymbolID),
	}
	for i := range t.terminals {
		t.terminals[i] = NoSymbol
	}
	return t
}

// Len returns the number of symbols in the table.
func (t *Table) Len() int {
	return len(t.symbols)
}

// At returns the symbol with the given ID. The pointer is invalidated by the
// next symbol creation.
func (t *Table) At(id SymbolID) *Symbol {
	return &t.symbols[id]
}

// Terminal returns the terminal symbol of b, or NoSymbol if b never occurred.
func (t *Table) Terminal(b byte) SymbolID {
	return t.terminals[b]
}

// Expand appends the bytes id stands for to dst.
func (t *Table) Expand(dst []byte, id SymbolID) []byte {
	s := &t.symbols[id]
	switch s.Kind {
	case KindTerminal:
		return append(dst, s.Code)
	case KindPair:
		dst = t.Expand(dst, s.Left)
		return t.Expand(dst, s.Right)
	default:
		for i := 0; i < s.Count; i++ {
			dst = t.Expand(dst, s.Left)
		}
		return dst
	}
}

func (t *Table) add(s Symbol) (SymbolID, error) {
	if len(t.symbols) >= SymbolMax {
		return NoSymbol, fmt.Errorf("%w: limit %d", ErrTooManySymbols, SymbolMax)
	}
	s.Index = -1
	t.symbols = append(t.symbols, s)
	return SymbolID(len(t.symbols) - 1), nil
}

func (t *Table) terminal(b byte, base int) (SymbolID, error) {
	if id := t.terminals[b]; id != NoSymbol {
		return id, nil
	}
	id, err := t.add(Symbol{
		Kind:  KindTerminal,
		Code:  b,
		Left:  NoSymbol,
		Right: NoSymbol,
		Base:  base,
		Size:  1,
	})
	if err != nil {
		return NoSymbol, err
	}
	t.terminals[b] = id
	return id, nil
}

func (t *Table) pair(left, right SymbolID, base int) (SymbolID, error) {
	id, err := t.add(Symbol{
		Kind:  KindPair,
		Left:  left,
		Right: right,
		Base:  base,
		Size:  t.symbols[left].Size + t.symbols[right].Size,
	})
	if err != nil {
		return NoSymbol, err
	}
	t.symbols[left].TreeUses++
	t.symbols[right].TreeUses++
	return id, nil
}

// repeat returns the repeat symbol of child folded count times, creating it on
// first use.
func (t *Table) repeat(child SymbolID, count, base int) (SymbolID, error) {
	key := repeatKey{child: child, count: count}
	if id, ok := t.repeats[key]; ok {
		return id, nil
	}
	id, err := t.add(Symbol{
		Kind:  KindRepeat,
		Left:  child,
		Right: NoSymbol,
		Count: count,
		Base:  base,
		Size:  t.symbols[child].Size * count,
	})
	if err != nil {
		return NoSymbol, err
	}
	t.symbols[child].TreeUses++
	t.repeats[key] = id
	return id, nil
}
