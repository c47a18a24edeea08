// repair - grammar-based frame compressor CLI
//
// Usage:
//
//	repair -c [-m method] [-s | -a] [-v] <input> <output>   Compress input
//	repair -e [-v] [-a] <input> <output>                    Expand input
//
// Methods: full (default), word, rep, raw. Without -a the input must fit in one
// 64 KiB frame; -a writes or reads a multi-frame archive.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seiflotfy/repair"
	"github.com/seiflotfy/repair/grammar"
)

var errUsage = errors.New("usage")

type options struct {
	compress bool
	expand   bool
	method   repair.Method
	list     bool
	verbose  bool
	archive  bool
	input    string
	output   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stdout, "repair: %v\n", err)
		}
		printUsage(stdout)
		return 1
	}

	logger := newLogger(opts.verbose)
	defer func() { _ = logger.Sync() }()

	if err := execute(opts, logger, stdout); err != nil {
		logger.Errorw("repair failed", "input", opts.input, "error", err)
		return 1
	}
	return 0
}

func parseArgs(args []string) (options, error) {
	var opts options
	var method string

	fs := flag.NewFlagSet("repair", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.compress, "c", false, "compress")
	fs.BoolVar(&opts.expand, "e", false, "expand")
	fs.StringVar(&method, "m", repair.MethodFull.String(), "induction method")
	fs.BoolVar(&opts.list, "s", false, "list symbols")
	fs.BoolVar(&opts.verbose, "v", false, "verbose")
	fs.BoolVar(&opts.archive, "a", false, "multi-frame archive")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.compress == opts.expand {
		return opts, fmt.Errorf("%w: exactly one of -c or -e is required", errUsage)
	}
	if opts.list && (opts.expand || opts.archive) {
		return opts, fmt.Errorf("%w: -s lists the grammar of a single frame and needs -c without -a", errUsage)
	}
	if fs.NArg() != 2 {
		return opts, fmt.Errorf("%w: expected input and output paths, got %d arguments", errUsage, fs.NArg())
	}
	m, err := repair.ParseMethod(method)
	if err != nil {
		return opts, err
	}
	opts.method = m
	opts.input, opts.output = fs.Arg(0), fs.Arg(1)
	return opts, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: repair (-c | -e) [-m method] [-s | -a] [-v] <input> <output>")
	fmt.Fprintln(w, "  -c         compress input into output")
	fmt.Fprintln(w, "  -e         expand input into output")
	fmt.Fprintln(w, "  -m method  induction method: full, word, rep, raw (default full)")
	fmt.Fprintln(w, "  -s         list grammar symbols after compression (-c only, not with -a)")
	fmt.Fprintln(w, "  -v         verbose timing and ratio output")
	fmt.Fprintln(w, "  -a         multi-frame archive for inputs beyond 64 KiB")
}

func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

func execute(opts options, logger *zap.SugaredLogger, stdout io.Writer) error {
	start := time.Now()
	in, err := load(opts.input)
	if err != nil {
		return err
	}

	var out []byte
	switch {
	case opts.compress && opts.archive:
		a, err := repair.Pack(in, repair.WithMethod(opts.method), repair.WithLogger(logger))
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if _, err := a.WriteTo(&buf); err != nil {
			return err
		}
		out = buf.Bytes()
	case opts.compress:
		enc := repair.NewEncoder(
			repair.WithMethod(opts.method),
			repair.WithLogger(logger),
			repair.WithSelfCheck(opts.verbose),
		)
		res, err := enc.CompressFrame(in)
		if err != nil {
			return err
		}
		if opts.list {
			listSymbols(stdout, res.Table, in)
		}
		out = res.Output
	case opts.archive:
		var a repair.Archive
		if _, err := a.ReadFrom(bytes.NewReader(in)); err != nil {
			return err
		}
		if out, err = a.Unpack(); err != nil {
			return err
		}
	default:
		if out, err = repair.Expand(in); err != nil {
			return err
		}
	}

	if err := store(opts.output, out); err != nil {
		return err
	}

	ratio := 0.0
	if len(out) > 0 {
		ratio = float64(len(in)) / float64(len(out))
	}
	logger.Infow("done",
		"mode", mode(opts),
		"input", len(in),
		"output", len(out),
		"ratio", fmt.Sprintf("%.3f", ratio),
		"elapsed", time.Since(start),
	)
	return nil
}

func mode(opts options) string {
	if opts.compress {
		return "compress"
	}
	return "expand"
}

func listSymbols(w io.Writer, table *grammar.Table, in []byte) {
	order, _ := table.Sort(grammar.SortAll)
	fmt.Fprintln(w, "SYMBOLS")
	for i, st := range table.Stats(order) {
		fmt.Fprintf(w, "[%d] base=%x", i, st.Base)
		if st.Code != nil {
			fmt.Fprintf(w, " code=%02x", *st.Code)
		} else {
			fmt.Fprintf(w, " size=%d", st.Size)
		}
		if st.Repeat != nil {
			fmt.Fprintf(w, " rep=%d", *st.Repeat)
		} else {
			fmt.Fprintf(w, " pos=%d", st.FrameUses)
		}
		fmt.Fprintf(w, " sym=%d", st.TreeUses)
		if st.Index != nil {
			fmt.Fprintf(w, " dict=%d gain=%d", *st.Index, st.AllGain)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\nentropy=%f symbols=%f\n", grammar.Entropy(in), table.Entropy())
}
