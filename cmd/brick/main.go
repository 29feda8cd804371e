// Brick CLI - runs scripts, an interactive REPL, or the language server
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/compiler"
	"github.com/chazu/brick/manifest"
	"github.com/chazu/brick/progcache"
	"github.com/chazu/brick/server"
	"github.com/chazu/brick/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("brick.cli")

// options collects the command line.
type options struct {
	verbose     bool
	interactive bool
	expr        string
	configDir   string
	cachePath   string
	noCache     bool
	lsp         bool
	dis         string
	paths       []string
}

func main() {
	var opts options
	flag.BoolVar(&opts.verbose, "v", false, "Verbose output (debug logging)")
	flag.BoolVar(&opts.interactive, "i", false, "Start interactive REPL after running scripts")
	flag.StringVar(&opts.expr, "e", "", "Evaluate an expression and print the result")
	flag.StringVar(&opts.configDir, "config", ".", "Directory to search upward for brick.toml")
	flag.StringVar(&opts.cachePath, "cache", "", "Program cache database (overrides brick.toml)")
	flag.BoolVar(&opts.noCache, "no-cache", false, "Disable the program cache")
	flag.BoolVar(&opts.lsp, "lsp", false, "Start the language server on stdio")
	flag.StringVar(&opts.dis, "dis", "", "Disassemble the argument program of a function word")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: brick [options] [scripts...]\n\n")
		fmt.Fprintf(os.Stderr, "Evaluates brick scripts. With no scripts, runs the project entry or a REPL.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  brick                       # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  brick main.brk              # Run a script\n")
		fmt.Fprintf(os.Stderr, "  brick -e \"add 1 2\"          # Evaluate an expression\n")
		fmt.Fprintf(os.Stderr, "  brick -dis append           # Show a native's argument program\n")
		fmt.Fprintf(os.Stderr, "  brick -lsp                  # Language server for editors\n")
	}
	flag.Parse()
	opts.paths = flag.Args()

	os.Exit(run(opts, os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(opts options, stdin io.Reader, stdout, stderr io.Writer) int {
	m, err := manifest.FindAndLoad(opts.configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	configureLogging(m, opts.verbose)

	cache := openCache(m, opts)
	if cache != nil {
		defer cache.Close()
	}

	envOpts := vm.Options{Out: stdout}
	if m != nil {
		envOpts.Limits = vm.Limits{
			StackCells: m.Limits.StackCells,
			Frames:     m.Limits.Frames,
			Depth:      m.Limits.Depth,
		}
	}
	if cache != nil {
		envOpts.Cache = cache
	}
	env, err := vm.NewEnv(envOpts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.lsp {
		if err := server.NewLSP(env).Run(); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
		return 0
	}

	th := env.NewThread()
	defer th.Close()

	if opts.dis != "" {
		out, err := disassemble(env, opts.dis)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
		return 0
	}

	paths := opts.paths
	if len(paths) == 0 && opts.expr == "" && m != nil && m.EntryPath() != "" && !opts.interactive {
		paths = []string{m.EntryPath()}
	}
	for _, path := range paths {
		if opts.verbose {
			fmt.Fprintf(stderr, "Running %s\n", path)
		}
		if err := runFile(th, path); err != nil {
			reportError(stderr, err)
			return 1
		}
	}

	if opts.expr != "" {
		res, err := evalSource(th, opts.expr)
		if err != nil {
			reportError(stderr, err)
			return 1
		}
		if res.T != cell.TypeUnset {
			fmt.Fprintln(stdout, env.Mold(res))
		}
	}

	if opts.interactive || (len(paths) == 0 && opts.expr == "") {
		f, ok := stdin.(*os.File)
		if ok && isatty.IsTerminal(f.Fd()) {
			runLiner(env, th, stdout)
		} else {
			runREPL(env, th, stdin, stdout, false)
		}
	}
	return 0
}

// configureLogging sets the log verbosity and destination from brick.toml.
// -v forces debug output.
func configureLogging(m *manifest.Manifest, verbose bool) {
	verbosity := 0
	var path *string
	if m != nil {
		verbosity = m.Log.Verbosity
		if f := m.LogFile(); f != "" {
			path = &f
		}
	}
	if verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, path)
}

// openCache opens the program cache. A cache that cannot be opened is
// reported and skipped.
func openCache(m *manifest.Manifest, opts options) *progcache.Store {
	if opts.noCache || (m != nil && m.Cache.Disable) {
		return nil
	}
	path := opts.cachePath
	if path == "" && m != nil {
		path = m.CachePath()
	}
	if path == "" {
		var err error
		if path, err = progcache.DefaultPath(); err != nil {
			log.Warningf("program cache disabled: %s", err)
			return nil
		}
	}
	s, err := progcache.Open(path)
	if err != nil {
		log.Warningf("program cache disabled: %s", err)
		return nil
	}
	return s
}

func runFile(th *vm.Thread, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	if _, err := evalSource(th, string(data)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// evalSource loads and evaluates src. A failed evaluation leaves the
// thread clean.
func evalSource(th *vm.Thread, src string) (cell.Cell, error) {
	blk, err := th.Env().Load(src)
	if err != nil {
		return cell.Cell{}, err
	}
	res, err := th.Eval(blk)
	if err != nil {
		th.Reset()
	}
	return res, err
}

// disassemble renders the argument program bound to word.
func disassemble(env *vm.Env, word string) (string, error) {
	v, ok := env.Get(word)
	if !ok {
		return "", fmt.Errorf("%s is not defined", word)
	}
	p := env.Program(&v)
	if p == nil {
		return "", fmt.Errorf("%s is not a function", word)
	}
	return compiler.Disassemble(p, env.Atoms.Name), nil
}

// reportError prints an error, with the trace of a script exception.
func reportError(w io.Writer, err error) {
	var exc *vm.Exception
	if errors.As(err, &exc) {
		fmt.Fprintf(w, "Error: %s\n", exc.FormatTrace())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
