package vm

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/compiler"
	"github.com/chazu/brick/parser"
)

var log = commonlog.GetLogger("brick.vm")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Limits bound the resources of each thread.
type Limits struct {
	StackCells int // value stack capacity in cells
	Frames     int // frame table capacity
	Depth      int // maximum expression nesting
}

// Default limits.
const (
	DefaultStackCells = 8192
	DefaultFrames     = 1024
	DefaultDepth      = 4096
)

func (l Limits) withDefaults() Limits {
	if l.StackCells <= 0 {
		l.StackCells = DefaultStackCells
	}
	if l.Frames <= 0 {
		l.Frames = DefaultFrames
	}
	if l.Depth <= 0 {
		l.Depth = DefaultDepth
	}
	return l
}

// ProgramCache stores compiled native signatures across runs. Programs
// are relocated through atoms so a cache can outlive an atom table.
type ProgramCache interface {
	Get(key string, atoms *cell.AtomTable) (*compiler.Program, bool)
	Put(key string, p *compiler.Program, atoms *cell.AtomTable) error
}

// Options configure a new environment.
type Options struct {
	Limits Limits
	Out    io.Writer    // print and probe output, default os.Stdout
	Cache  ProgramCache // optional
}

// ---------------------------------------------------------------------------
// Env: Shared interpreter state
// ---------------------------------------------------------------------------

// NativeFunc implements a native function.
type NativeFunc func(c *Call) error

type native struct {
	name string
	fn   NativeFunc
}

// Env holds the state shared by all threads: atoms, the buffer store, the
// module table, the datatype table and the native functions.
//
// Natives must be defined before threads start evaluating.
type Env struct {
	Atoms *cell.AtomTable
	Store *cell.Store

	module    *Module
	types     [cell.TypeCount]Datatype
	typeWords map[cell.Atom]cell.TypeMask
	natives   []native
	compiler  *compiler.Compiler
	limits    Limits
	out       io.Writer
	cache     ProgramCache

	mu      sync.Mutex
	threads map[*Thread]struct{}
}

// NewEnv creates an environment with the built-in natives and datatype
// words bound in its module.
func NewEnv(opts Options) (*Env, error) {
	env := &Env{
		Atoms:     cell.NewAtomTable(),
		Store:     cell.NewStore(),
		module:    newModule(),
		typeWords: make(map[cell.Atom]cell.TypeMask),
		limits:    opts.Limits.withDefaults(),
		out:       opts.Out,
		cache:     opts.Cache,
		threads:   make(map[*Thread]struct{}),
	}
	if env.out == nil {
		env.out = os.Stdout
	}

	// Atom 0 is the empty name, used for "no name".
	env.Atoms.Intern("")

	env.types = datatypeTable()
	for t := cell.Type(0); t < cell.TypeCount; t++ {
		env.defineTypeWord(t.String(), cell.MaskOf(t))
	}
	for name, m := range typesets {
		env.defineTypeWord(name, m)
	}
	env.compiler = compiler.New(env.Atoms, env.Store, env.datatype)

	env.Set("true", cell.Logic(true))
	env.Set("false", cell.Logic(false))
	env.Set("none", cell.None())

	for _, n := range builtins {
		if err := env.DefineNative(n.name, n.spec, n.fn); err != nil {
			return nil, err
		}
	}
	log.Debugf("environment ready: %d module words, %d natives", env.module.Len(), len(env.natives))
	return env, nil
}

var typesets = map[string]cell.TypeMask{
	"number!":       cell.MaskNumber,
	"any-word!":     cell.MaskAnyWord,
	"any-block!":    cell.MaskAnyBlock,
	"series!":       cell.MaskSeries,
	"any-function!": cell.MaskCallable,
}

func (env *Env) defineTypeWord(name string, m cell.TypeMask) {
	a := env.Atoms.Intern(name)
	env.typeWords[a] = m
	*env.module.At(env.module.Slot(a)) = cell.Datatype(m)
}

func (env *Env) datatype(a cell.Atom) (cell.TypeMask, bool) {
	m, ok := env.typeWords[a]
	return m, ok
}

// Module returns the shared module table.
func (env *Env) Module() *Module {
	return env.module
}

// Limits returns the per-thread limits.
func (env *Env) Limits() Limits {
	return env.limits
}

// Compiler returns the argument program compiler.
func (env *Env) Compiler() *compiler.Compiler {
	return env.compiler
}

// Out returns the writer used by print and probe.
func (env *Env) Out() io.Writer {
	return env.out
}

// Datatype returns the datatype implementation of t.
func (env *Env) Datatype(t cell.Type) Datatype {
	if t < cell.TypeCount {
		return env.types[t]
	}
	return env.types[cell.TypeUnset]
}

// ---------------------------------------------------------------------------
// Host API
// ---------------------------------------------------------------------------

// Set assigns a module word from the host.
func (env *Env) Set(name string, v cell.Cell) {
	*env.module.At(env.module.Slot(env.Atoms.Intern(name))) = v
}

// Get returns the value of a module word.
func (env *Env) Get(name string) (cell.Cell, bool) {
	a, ok := env.Atoms.Lookup(name)
	if !ok {
		return cell.Cell{}, false
	}
	i, ok := env.module.Lookup(a)
	if !ok {
		return cell.Cell{}, false
	}
	return *env.module.At(i), true
}

// DefineNative compiles spec and binds name to a native function.
func (env *Env) DefineNative(name, spec string, fn NativeFunc) error {
	prog, err := env.nativeProgram(spec)
	if err != nil {
		return fmt.Errorf("native %s: %w", name, err)
	}
	id := len(env.natives)
	env.natives = append(env.natives, native{name: name, fn: fn})
	env.Set(name, cell.CFunc(env.Store.NewObject(prog), id))
	return nil
}

func (env *Env) nativeProgram(spec string) (*compiler.Program, error) {
	key := "native:" + spec
	if env.cache != nil {
		if p, ok := env.cache.Get(key, env.Atoms); ok {
			log.Debugf("program cache hit for [%s]", spec)
			return p, nil
		}
	}

	blk, err := parser.Parse(spec, env.Atoms, env.Store)
	if err != nil {
		return nil, err
	}
	p, err := env.compiler.Compile(env.Store.Cells(blk), 0)
	if err != nil {
		return nil, err
	}

	if env.cache != nil {
		if err := env.cache.Put(key, p, env.Atoms); err != nil {
			log.Warningf("program cache: %s", err)
		}
	}
	return p, nil
}

// NativeName returns the name a native was defined with.
func (env *Env) NativeName(id int) string {
	if id >= 0 && id < len(env.natives) {
		return env.natives[id].name
	}
	return ""
}

// Program returns the argument program of a callable.
func (env *Env) Program(fn *cell.Cell) *compiler.Program {
	if !fn.T.IsCallable() {
		return nil
	}
	p, _ := env.Store.Object(fn.Buf).(*compiler.Program)
	return p
}

// Load parses source text into a block whose words are bound to the
// module.
func (env *Env) Load(src string) (cell.Cell, error) {
	blk, err := parser.Parse(src, env.Atoms, env.Store)
	if err != nil {
		return cell.Cell{}, err
	}
	env.Bind(blk)
	return cell.Series(cell.TypeBlock, blk, 0), nil
}

// Bind binds the unbound words of blk and its nested blocks to module
// slots, creating them as needed.
func (env *Env) Bind(blk cell.BufID) {
	env.bind(blk, make(map[cell.BufID]bool))
}

func (env *Env) bind(blk cell.BufID, seen map[cell.BufID]bool) {
	if seen[blk] {
		return
	}
	seen[blk] = true
	cells := env.Store.Cells(blk)
	for i := range cells {
		v := &cells[i]
		switch {
		case v.T.IsWord():
			if v.Bind.Kind == cell.BindUnbound {
				v.Bind = cell.ModuleSlot(env.module.Slot(v.Atom))
			}
		case v.T.IsBlock():
			env.bind(v.Buf, seen)
		}
	}
}

// Collect runs a garbage collection rooted at the module, every thread and
// extra. Threads other than the caller must not be evaluating.
func (env *Env) Collect(extra ...cell.Marker) int {
	env.mu.Lock()
	roots := make([]cell.Marker, 0, len(env.threads)+len(extra)+1)
	roots = append(roots, env.module)
	for t := range env.threads {
		roots = append(roots, t)
	}
	env.mu.Unlock()
	roots = append(roots, extra...)

	freed := env.Store.Collect(roots...)
	log.Debugf("recycle: freed %d buffers, %d live", freed, env.Store.Live())
	return freed
}
