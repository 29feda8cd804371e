package server

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/vm"
)

func newTestWorker(t *testing.T) *VMWorker {
	t.Helper()
	env, err := vm.NewEnv(vm.Options{Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	w := NewVMWorker(env)
	t.Cleanup(w.Stop)
	return w
}

// ---------------------------------------------------------------------------
// VMWorker
// ---------------------------------------------------------------------------

func TestWorkerEval(t *testing.T) {
	w := newTestWorker(t)

	if _, err := w.Eval("double: func [n] [mul n 2]"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	v, err := w.Eval("double 21")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.T != cell.TypeInt || v.N != 42 {
		t.Errorf("double 21 = %v %d, want 42", v.T, v.N)
	}
}

func TestWorkerEvalErrors(t *testing.T) {
	w := newTestWorker(t)

	_, err := w.Eval("add 1 \"x\"")
	var exc *vm.Exception
	if !errors.As(err, &exc) || exc.ErrorKind() != vm.ErrType {
		t.Fatalf("error = %v, want a type error", err)
	}

	if _, err := w.Eval("[unclosed"); err == nil {
		t.Error("Eval accepted a syntax error")
	}

	// The thread is usable after a failure.
	if v, err := w.Eval("add 1 2"); err != nil || v.N != 3 {
		t.Errorf("after failure: %v, %v", v.N, err)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := newTestWorker(t)
	_, err := w.Do(func(*vm.Thread) any { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Do error = %v, want boom", err)
	}
	if v, err := w.Eval("1"); err != nil || v.N != 1 {
		t.Errorf("after panic: %v, %v", v.N, err)
	}
}

func TestWorkerOwnsModule(t *testing.T) {
	w := newTestWorker(t)
	owns, err := w.Do(func(t *vm.Thread) any { return t.OwnsModule() })
	if err != nil || owns != true {
		t.Errorf("OwnsModule = %v, %v", owns, err)
	}
}

// ---------------------------------------------------------------------------
// Text extraction
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"print len", protocol.Position{Line: 0, Character: 9}, "len"},
		{"length?", protocol.Position{Line: 0, Character: 7}, "length?"},
		{"x: [ap", protocol.Position{Line: 0, Character: 6}, "ap"},
		{"first\nsecond\nthi", protocol.Position{Line: 2, Character: 3}, "thi"},
		{"'quo", protocol.Position{Line: 0, Character: 4}, "quo"},
		{"a/ref", protocol.Position{Line: 0, Character: 5}, "ref"},
		{"hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"", protocol.Position{Line: 0, Character: 0}, ""},
		{"single line", protocol.Position{Line: 5, Character: 0}, ""},
	}
	for _, tc := range tests {
		if got := extractPrefix(tc.text, tc.pos); got != tc.want {
			t.Errorf("extractPrefix(%q, %v) = %q, want %q", tc.text, tc.pos, got, tc.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"hello world", protocol.Position{Line: 0, Character: 3}, "hello"},
		{"hello world", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"hello world", protocol.Position{Line: 0, Character: 8}, "world"},
		{"n: add n 1", protocol.Position{Line: 0, Character: 0}, "n"},
		{"print :my-var", protocol.Position{Line: 0, Character: 9}, "my-var"},
		{"[length? b]", protocol.Position{Line: 0, Character: 3}, "length?"},
		{"first\nsecond", protocol.Position{Line: 1, Character: 2}, "second"},
		{"", protocol.Position{Line: 0, Character: 0}, ""},
		{"single line", protocol.Position{Line: 5, Character: 0}, ""},
	}
	for _, tc := range tests {
		if got := extractWord(tc.text, tc.pos); got != tc.want {
			t.Errorf("extractWord(%q, %v) = %q, want %q", tc.text, tc.pos, got, tc.want)
		}
	}
}

func TestOccurrences(t *testing.T) {
	text := "n: 1\nprint n 'n :n\nm: n"
	occ := occurrences(text, "n")
	if len(occ) != 5 {
		t.Fatalf("occurrences = %d, want 5", len(occ))
	}
	if !occ[0].set || occ[1].set {
		t.Errorf("set flags = %v %v", occ[0].set, occ[1].set)
	}
	want := []protocol.Position{
		{Line: 0, Character: 0},
		{Line: 1, Character: 6},
		{Line: 1, Character: 9},
		{Line: 1, Character: 12},
		{Line: 2, Character: 3},
	}
	for i, p := range want {
		if occ[i].rng.Start != p {
			t.Errorf("occurrence %d at %v, want %v", i, occ[i].rng.Start, p)
		}
		if occ[i].rng.End.Character != p.Character+1 {
			t.Errorf("occurrence %d ends at %v", i, occ[i].rng.End)
		}
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnose(t *testing.T) {
	if d := diagnose("print [1 2]"); len(d) != 0 {
		t.Errorf("clean source: %d diagnostics", len(d))
	}

	d := diagnose("x: 1\n  [a b")
	if len(d) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(d))
	}
	if d[0].Range.Start != (protocol.Position{Line: 1, Character: 2}) {
		t.Errorf("range start = %v, want 1:2", d[0].Range.Start)
	}
	if !strings.Contains(d[0].Message, "missing ]") {
		t.Errorf("message = %q", d[0].Message)
	}
}

// ---------------------------------------------------------------------------
// Environment-backed logic
// ---------------------------------------------------------------------------

func TestComplete(t *testing.T) {
	w := newTestWorker(t)
	if _, err := w.Eval("pivot: 10"); err != nil {
		t.Fatalf("Eval: %v", err)
	}

	result, err := w.Do(func(t *vm.Thread) any {
		return complete(t.Env(), "pixel: 3\npi", "pi")
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	items := result.([]protocol.CompletionItem)

	labels := make(map[string]protocol.CompletionItem)
	for _, it := range items {
		labels[it.Label] = it
	}
	for _, want := range []string{"pick", "pivot", "pixel"} {
		if _, ok := labels[want]; !ok {
			t.Errorf("completion missing %q", want)
		}
	}
	if _, ok := labels["print"]; ok {
		t.Error("completion offered print for prefix pi")
	}
	if k := labels["pick"].Kind; k == nil || *k != protocol.CompletionItemKindFunction {
		t.Error("pick is not a function completion")
	}
	if k := labels["pivot"].Kind; k == nil || *k != protocol.CompletionItemKindVariable {
		t.Error("pivot is not a variable completion")
	}
}

func TestHover(t *testing.T) {
	w := newTestWorker(t)
	if _, err := w.Eval("limit: 99 inc: func [n /by d] [add n 1]"); err != nil {
		t.Fatalf("Eval: %v", err)
	}

	tests := []struct {
		word string
		want []string
	}{
		{"limit", []string{"**limit**", "int!", "99"}},
		{"append", []string{"native function", "CLEAR_LOCAL", "/only"}},
		{"inc", []string{"**inc**", "func!", "FETCH_ARG", "/by"}},
	}
	for _, tc := range tests {
		result, err := w.Do(func(t *vm.Thread) any { return hover(t.Env(), tc.word) })
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		h, _ := result.(*protocol.Hover)
		if h == nil {
			t.Fatalf("hover(%s) = nil", tc.word)
		}
		value := h.Contents.(protocol.MarkupContent).Value
		for _, s := range tc.want {
			if !strings.Contains(value, s) {
				t.Errorf("hover(%s) = %q, missing %q", tc.word, value, s)
			}
		}
	}

	result, _ := w.Do(func(t *vm.Thread) any { return hover(t.Env(), "never-bound") })
	if h, _ := result.(*protocol.Hover); h != nil {
		t.Error("hover on an unbound word returned content")
	}
}

func TestHoverTruncatesOnRunes(t *testing.T) {
	w := newTestWorker(t)
	if _, err := w.Eval(`wide: "` + strings.Repeat("é", 300) + `"`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	result, err := w.Do(func(t *vm.Thread) any { return hover(t.Env(), "wide") })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	value := result.(*protocol.Hover).Contents.(protocol.MarkupContent).Value
	if !utf8.ValidString(value) {
		t.Errorf("hover is not valid UTF-8: %q", value)
	}
	if !strings.Contains(value, "...") {
		t.Error("long value was not truncated")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"abcdef", 3, "abc..."},
		{"héllo", 2, "hé..."},
	}
	for _, tc := range tests {
		if got := truncate(tc.s, tc.n); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.s, tc.n, got, tc.want)
		}
	}
}
