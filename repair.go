// Package repair is a lossless grammar-based compressor for byte frames of up
// to 64 KiB.
//
// Compression infers a grammar over the frame by repeatedly merging the most
// frequent adjacent symbol pair and folding runs of identical symbols, picks
// the set of rules worth defining in a dictionary, and packs dictionary and
// reduced sequence into a bitstream of prefix codes. Expand reverses it.
package repair

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seiflotfy/repair/grammar"
)

const (
	// FrameMax is the largest frame Compress accepts.
	FrameMax = grammar.FrameMax
	// MinFrame is the shortest frame Compress accepts.
	MinFrame = grammar.MinFrame

	// maxOutputBytes bounds the compressed size of one frame. The literal-only
	// encoding needs at most 9 bits per input byte plus headers.
	maxOutputBytes = 2 * FrameMax
)

var (
	// ErrFrameTooLong indicates an input frame larger than FrameMax.
	ErrFrameTooLong = grammar.ErrFrameTooLong
	// ErrFrameTooShort indicates an input frame shorter than MinFrame.
	ErrFrameTooShort = grammar.ErrFrameTooShort
	// ErrCorrupt indicates a compressed frame that cannot be decoded.
	ErrCorrupt = errors.New("corrupt frame")
	// ErrSelfCheck indicates that expanding a freshly compressed frame did not
	// reproduce the input.
	ErrSelfCheck = errors.New("self check failed")
)

// Method selects which grammar induction phases run.
type Method uint8

const (
	// MethodFull runs word crunch then repeat crunch.
	MethodFull Method = iota
	// MethodWord runs word crunch only.
	MethodWord
	// MethodRep runs repeat crunch only.
	MethodRep
	// MethodRaw skips grammar induction and emits literals.
	MethodRaw
)

var methodNames = [...]string{
	MethodFull: "full",
	MethodWord: "word",
	MethodRep:  "rep",
	MethodRaw:  "raw",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

// ParseMethod returns the method with the given name.
func ParseMethod(name string) (Method, error) {
	for i, n := range methodNames {
		if strings.EqualFold(n, name) {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("unknown method %q (want one of %s)", name, strings.Join(methodNames[:], ", "))
}

// Methods returns every supported method.
func Methods() []Method {
	return []Method{MethodFull, MethodWord, MethodRep, MethodRaw}
}

// Config holds configuration for the encoder.
type Config struct {
	Method    Method             // Grammar induction phases (default MethodFull)
	SelfCheck bool               // Expand every frame after compressing it
	Logger    *zap.SugaredLogger // Debug logging (default no-op)
}

// Option is a functional option for configuring the encoder.
type Option func(*Config)

// WithMethod selects the grammar induction phases.
func WithMethod(m Method) Option {
	return func(c *Config) {
		c.Method = m
	}
}

// WithSelfCheck makes the encoder expand its output and compare it with the
// input before returning it.
func WithSelfCheck(enabled bool) Option {
	return func(c *Config) {
		c.SelfCheck = enabled
	}
}

// WithLogger sets the logger receiving per-frame debug output.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Encoder compresses frames. It holds no per-frame state and can be reused.
type Encoder struct {
	config Config
	logger *zap.SugaredLogger
}

// NewEncoder creates a new encoder with the given options.
func NewEncoder(opts ...Option) *Encoder {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &Encoder{config: cfg}
	e.SetLogger(cfg.Logger)
	return e
}

// SetLogger replaces the encoder's logger; nil disables logging.
func (e *Encoder) SetLogger(logger *zap.SugaredLogger) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	e.logger = logger
}

// Result is the outcome of compressing one frame.
type Result struct {
	Table  *grammar.Table
	Frame  *grammar.Frame
	Plan   grammar.Plan
	Output []byte
}

// Ratio returns the input size divided by the output size.
func (r *Result) Ratio(inputLen int) float64 {
	if len(r.Output) == 0 {
		return 0
	}
	return float64(inputLen) / float64(len(r.Output))
}

// Compress compresses one frame.
func (e *Encoder) Compress(data []byte) ([]byte, error) {
	res, err := e.CompressFrame(data)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// CompressFrame compresses one frame and returns the grammar alongside the
// output.
func (e *Encoder) CompressFrame(data []byte) (*Result, error) {
	start := time.Now()

	table := grammar.NewTable()
	frame, err := grammar.NewFrame(table, data)
	if err != nil {
		return nil, err
	}

	switch e.config.Method {
	case MethodFull:
		if err := frame.CrunchWord(); err != nil {
			return nil, fmt.Errorf("word crunch: %w", err)
		}
		if err := frame.CrunchRep(); err != nil {
			return nil, fmt.Errorf("repeat crunch: %w", err)
		}
	case MethodWord:
		if err := frame.CrunchWord(); err != nil {
			return nil, fmt.Errorf("word crunch: %w", err)
		}
	case MethodRep:
		if err := frame.CrunchRep(); err != nil {
			return nil, fmt.Errorf("repeat crunch: %w", err)
		}
	case MethodRaw:
	default:
		return nil, fmt.Errorf("unsupported method: %v", e.config.Method)
	}
	e.logger.Debugw("grammar induced",
		"method", e.config.Method,
		"input", len(data),
		"positions", frame.Len(),
		"symbols", table.Len(),
		"merges", frame.Merges(),
		"folds", frame.Folds(),
	)

	plan := table.Optimize()
	e.logger.Debugw("dictionary optimized",
		"definitions", plan.DefCount,
		"bitLen", plan.BitLen,
		"costBits", plan.Cost,
		"candidates", len(plan.Steps),
	)

	out, err := encodeFrame(table, frame, plan)
	if err != nil {
		return nil, err
	}

	if e.config.SelfCheck {
		if err := selfCheck(out, data); err != nil {
			return nil, err
		}
	}

	e.logger.Debugw("frame compressed",
		"input", len(data),
		"output", len(out),
		"elapsed", time.Since(start),
	)
	return &Result{Table: table, Frame: frame, Plan: plan, Output: out}, nil
}

func selfCheck(out, data []byte) error {
	back, err := Expand(out)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSelfCheck, err)
	}
	if len(back) != len(data) {
		return fmt.Errorf("%w: expanded %d bytes, want %d", ErrSelfCheck, len(back), len(data))
	}
	for i := range back {
		if back[i] != data[i] {
			return fmt.Errorf("%w: first difference at offset %d", ErrSelfCheck, i)
		}
	}
	return nil
}

// Compress compresses one frame with a new encoder.
func Compress(data []byte, opts ...Option) ([]byte, error) {
	return NewEncoder(opts...).Compress(data)
}
