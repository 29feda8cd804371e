package progcache_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/compiler"
	"github.com/chazu/brick/progcache"
	"github.com/chazu/brick/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// compileSpec compiles a signature with options into a fresh atom table.
func compileSpec(t *testing.T) (*compiler.Program, *cell.AtomTable) {
	t.Helper()
	atoms := cell.NewAtomTable()
	atoms.Intern("")
	store := cell.NewStore()
	intMask := cell.MaskOf(cell.TypeInt)
	intAtom := atoms.Intern("int!")
	comp := compiler.New(atoms, store, func(a cell.Atom) (cell.TypeMask, bool) {
		return intMask, a == intAtom
	})

	spec := []cell.Cell{
		cell.Word(cell.TypeWord, atoms.Intern("a")),
		cell.Word(cell.TypeWord, intAtom),
		cell.Word(cell.TypeOption, atoms.Intern("only")),
		cell.Word(cell.TypeOption, atoms.Intern("into")),
		cell.Word(cell.TypeWord, atoms.Intern("dst")),
	}
	p, err := comp.Compile(spec, 0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return p, atoms
}

func openStore(t *testing.T, path string) *progcache.Store {
	t.Helper()
	s, err := progcache.Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

func TestWireRelocatesOptions(t *testing.T) {
	p, atoms := compileSpec(t)

	data, err := progcache.Marshal(p, atoms)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// A table with a different history gives the options different ids.
	other := cell.NewAtomTable()
	for _, name := range []string{"", "x", "y", "z", "into"} {
		other.Intern(name)
	}
	q, err := progcache.Unmarshal(data, other)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if q.OptionCount() != 2 {
		t.Fatalf("OptionCount = %d, want 2", q.OptionCount())
	}
	for _, name := range []string{"only", "into"} {
		want, _ := p.FindOption(atoms.Intern(name))
		got, ok := q.FindOption(other.Intern(name))
		if !ok {
			t.Fatalf("option /%s lost", name)
		}
		if got.Bit != want.Bit || got.Argc != want.Argc || got.Offset != want.Offset {
			t.Errorf("option /%s = %+v, want %+v", name, got, want)
		}
	}
	if q.SlotCount() != p.SlotCount() {
		t.Errorf("SlotCount = %d, want %d", q.SlotCount(), p.SlotCount())
	}
	if a, _ := other.Lookup("into"); a != 4 {
		t.Errorf("into = %d, want the existing atom 4", a)
	}
}

func TestWireDeterministic(t *testing.T) {
	p, atoms := compileSpec(t)
	a, err := progcache.Marshal(p, atoms)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := progcache.Marshal(p, atoms)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestWireRejectsDamage(t *testing.T) {
	p, atoms := compileSpec(t)
	data, err := progcache.Marshal(p, atoms)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", data[:len(data)/2]},
		{"garbage", []byte{0xff, 0x00, 0x13}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := progcache.Unmarshal(tc.data, cell.NewAtomTable()); err == nil {
				t.Error("Unmarshal accepted damaged data")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

func TestStoreGetPut(t *testing.T) {
	s := openStore(t, ":memory:")
	p, atoms := compileSpec(t)

	if _, ok := s.Get("missing", atoms); ok {
		t.Error("Get found a missing key")
	}
	if err := s.Put("k", p, atoms); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("k", p, atoms); err != nil {
		t.Fatalf("Put (replace): %v", err)
	}
	if n, err := s.Len(); err != nil || n != 1 {
		t.Errorf("Len = %d, %v; want 1", n, err)
	}

	q, ok := s.Get("k", atoms)
	if !ok {
		t.Fatal("Get missed a stored key")
	}
	if !bytes.Equal(q.Code, p.Code) {
		t.Error("stored program differs in the same atom table")
	}
	if hits, misses := s.Stats(); hits != 1 || misses != 1 {
		t.Errorf("Stats = %d/%d, want 1/1", hits, misses)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := s.Get("k", atoms); ok {
		t.Error("Get found a cleared key")
	}
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "programs.db")
	p, atoms := compileSpec(t)

	s, err := progcache.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put("k", p, atoms); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Close()

	s = openStore(t, path)
	if _, ok := s.Get("k", cell.NewAtomTable()); !ok {
		t.Error("program did not survive reopening")
	}
}

// ---------------------------------------------------------------------------
// Environment integration
// ---------------------------------------------------------------------------

func TestEnvUsesCache(t *testing.T) {
	s := openStore(t, ":memory:")

	if _, err := vm.NewEnv(vm.Options{Cache: s, Out: &bytes.Buffer{}}); err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	n, err := s.Len()
	if err != nil || n == 0 {
		t.Fatalf("Len = %d, %v; want native programs stored", n, err)
	}
	_, coldMisses := s.Stats()

	env, err := vm.NewEnv(vm.Options{Cache: s, Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	hits, misses := s.Stats()
	if hits == 0 || misses != coldMisses {
		t.Errorf("second env: hits %d, misses %d (cold %d)", hits, misses, coldMisses)
	}

	blk, err := env.Load("b: [1] append/only b [2 3] length? b")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	th := env.NewThread()
	defer th.Close()
	res, err := th.Eval(blk)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if res.T != cell.TypeInt || res.N != 2 {
		t.Errorf("result = %v %d, want 2", res.T, res.N)
	}
}

func TestDamagedEntryIsRecompiled(t *testing.T) {
	s := openStore(t, ":memory:")
	atoms := cell.NewAtomTable()

	// Fetches one argument into a frame with no slots.
	bad := &compiler.Program{Code: []byte{
		0, 0, 4, 0,
		byte(compiler.OpClearLocal), 0, 0,
		byte(compiler.OpFetchArg),
		byte(compiler.OpEnd),
	}}
	data, err := progcache.Marshal(bad, atoms)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := progcache.Unmarshal(data, atoms); err == nil {
		t.Fatal("Unmarshal accepted a program that overruns its slots")
	}

	if err := s.Put("native:n", bad, atoms); err != nil {
		t.Fatalf("Put: %v", err)
	}
	env, err := vm.NewEnv(vm.Options{Cache: s, Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	err = env.DefineNative("ident", "n", func(c *vm.Call) error {
		*c.Result = c.Args[0]
		return nil
	})
	if err != nil {
		t.Fatalf("DefineNative: %v", err)
	}

	blk, err := env.Load("ident 7")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	th := env.NewThread()
	defer th.Close()
	res, err := th.Eval(blk)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if res.T != cell.TypeInt || res.N != 7 {
		t.Errorf("ident 7 = %v %d", res.T, res.N)
	}
}
