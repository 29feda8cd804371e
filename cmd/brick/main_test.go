package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// testOptions isolates a run from the user's configuration and cache.
func testOptions(t *testing.T) options {
	t.Helper()
	return options{configDir: t.TempDir(), noCache: true}
}

func runCLI(t *testing.T, opts options, stdin string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(opts, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Command line
// ---------------------------------------------------------------------------

func TestRunExpression(t *testing.T) {
	opts := testOptions(t)
	opts.expr = "add 40 2"
	code, out, errOut := runCLI(t, opts, "")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "42\n" {
		t.Errorf("stdout = %q, want 42", out)
	}
}

func TestRunScriptFiles(t *testing.T) {
	dir := t.TempDir()
	lib := writeFile(t, dir, "lib.brk", "square: func [n] [mul n n]\n")
	main := writeFile(t, dir, "main.brk", "print square 7\n")

	opts := testOptions(t)
	opts.paths = []string{lib, main}
	code, out, errOut := runCLI(t, opts, "")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "49\n" {
		t.Errorf("stdout = %q, want 49", out)
	}
}

func TestRunScriptError(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.brk", "f: func [x int!] [x]\nf \"no\"\n")

	opts := testOptions(t)
	opts.paths = []string{bad}
	code, _, errOut := runCLI(t, opts, "")
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(errOut, "type error") || !strings.Contains(errOut, "near") {
		t.Errorf("stderr = %q, want a type error with trace", errOut)
	}

	opts.paths = []string{filepath.Join(dir, "missing.brk")}
	if code, _, errOut := runCLI(t, opts, ""); code != 1 || !strings.Contains(errOut, "cannot read") {
		t.Errorf("missing file: exit %d, %q", code, errOut)
	}
}

func TestRunManifestEntry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/main.brk", "print \"from entry\"\n")
	writeFile(t, dir, "brick.toml", `
[project]
name = "demo"
entry = "src/main.brk"

[limits]
depth = 64

[cache]
disable = true
`)

	opts := options{configDir: dir}
	code, out, errOut := runCLI(t, opts, "")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "from entry\n" {
		t.Errorf("stdout = %q", out)
	}

	// The manifest's depth limit applies.
	opts.expr = "f: func [n] [f n] f 1"
	code, _, errOut = runCLI(t, opts, "")
	if code != 1 || !strings.Contains(errOut, "too deep") {
		t.Errorf("deep recursion: exit %d, %q", code, errOut)
	}
}

func TestRunBadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "brick.toml", "[limits]\nframes = 1\n")
	code, _, errOut := runCLI(t, options{configDir: dir}, "")
	if code != 1 || !strings.Contains(errOut, "invalid configuration") {
		t.Errorf("exit %d, %q", code, errOut)
	}
}

func TestRunCache(t *testing.T) {
	opts := testOptions(t)
	opts.noCache = false
	opts.cachePath = filepath.Join(t.TempDir(), "programs.db")
	opts.expr = "length? [1 2 3]"

	for i := 0; i < 2; i++ {
		code, out, errOut := runCLI(t, opts, "")
		if code != 0 || out != "3\n" {
			t.Fatalf("run %d: exit %d, %q, %q", i, code, out, errOut)
		}
	}
	if _, err := os.Stat(opts.cachePath); err != nil {
		t.Errorf("cache not created: %v", err)
	}
}

func TestRunDisassemble(t *testing.T) {
	opts := testOptions(t)
	opts.dis = "append"
	code, out, errOut := runCLI(t, opts, "")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"/only", "CLEAR_LOCAL", "CHECK_TYPE_MASK"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}

	opts.dis = "none"
	if code, _, errOut := runCLI(t, opts, ""); code != 1 || !strings.Contains(errOut, "not a function") {
		t.Errorf("-dis none: exit %d, %q", code, errOut)
	}
}

// ---------------------------------------------------------------------------
// REPL
// ---------------------------------------------------------------------------

func TestREPLPipedInput(t *testing.T) {
	input := strings.Join([]string{
		"x: 5",
		"double: func [n] [",
		"    mul n 2",
		"]",
		"double x",
		"add 1 \"bad\"",
		":dis double",
		":words",
		"exit",
		"print \"never\"",
	}, "\n")

	code, out, errOut := runCLI(t, testOptions(t), input)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"== 5", "== 10", "Error: type error", "FETCH_ARG", "double"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "never") {
		t.Error("input after exit was evaluated")
	}
}

func TestREPLGetWordIsNotACommand(t *testing.T) {
	code, out, _ := runCLI(t, testOptions(t), "v: 3\n:v\n")
	if code != 0 || !strings.Contains(out, "== 3\n== 3\n") {
		t.Errorf("exit %d, output %q", code, out)
	}
}

func TestIncomplete(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"print 1", false},
		{"f: func [n] [", true},
		{"(add 1", true},
		{"print \"multi", true},
		{"x: [1 2]]", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := incomplete(tc.src); got != tc.want {
			t.Errorf("incomplete(%q) = %v, want %v", tc.src, got, tc.want)
		}
	}
}
