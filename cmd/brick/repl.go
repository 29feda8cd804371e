package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/parser"
	"github.com/chazu/brick/vm"
)

const (
	prompt     = ">> "
	contPrompt = ".. "
)

// session accumulates REPL input until it forms complete blocks.
type session struct {
	env *vm.Env
	th  *vm.Thread
	out io.Writer
	buf strings.Builder
}

// feed handles one input line and reports whether the REPL should exit.
func (s *session) feed(line string) bool {
	if s.buf.Len() == 0 {
		trimmed := strings.TrimSpace(line)
		if trimmed == "exit" || trimmed == "quit" {
			return true
		}
		if strings.HasPrefix(trimmed, ":") && s.command(trimmed) {
			return false
		}
	}

	if s.buf.Len() > 0 {
		s.buf.WriteString("\n")
	}
	s.buf.WriteString(line)

	src := s.buf.String()
	if incomplete(src) {
		return false
	}
	s.buf.Reset()
	if strings.TrimSpace(src) != "" {
		s.evalAndPrint(src)
	}
	return false
}

// pending reports whether a partial expression is waiting for more lines.
func (s *session) pending() bool {
	return s.buf.Len() > 0
}

func (s *session) evalAndPrint(src string) {
	res, err := evalSource(s.th, src)
	if err != nil {
		reportError(s.out, err)
		return
	}
	if res.T != cell.TypeUnset {
		fmt.Fprintf(s.out, "== %s\n", s.env.Mold(res))
	}
}

// command runs a REPL meta-command. Lines that are not known commands
// are evaluated as source, so get-words still work.
func (s *session) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":help", ":h", ":?":
		fmt.Fprintln(s.out, "REPL Commands:")
		fmt.Fprintln(s.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(s.out, "  :dis WORD         Disassemble a function's argument program")
		fmt.Fprintln(s.out, "  :words            List bound module words")
		fmt.Fprintln(s.out, "  :gc               Collect unreachable buffers")
		fmt.Fprintln(s.out, "  exit, quit        Exit REPL")
	case ":dis":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, "Usage: :dis WORD")
			return true
		}
		out, err := disassemble(s.env, fields[1])
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return true
		}
		fmt.Fprintln(s.out, out)
	case ":words":
		fmt.Fprintln(s.out, strings.Join(boundWords(s.env, ""), " "))
	case ":gc":
		fmt.Fprintf(s.out, "freed %d buffers\n", s.env.Collect())
	default:
		return false
	}
	return true
}

// incomplete reports whether src ends inside an open block, paren or
// string.
func incomplete(src string) bool {
	_, err := parser.Parse(src, cell.NewAtomTable(), cell.NewStore())
	var se *parser.SyntaxError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Msg {
	case "missing ]", "missing )", "unterminated string":
		return true
	}
	return false
}

// boundWords returns the sorted names of module words with a value,
// filtered by prefix.
func boundWords(env *vm.Env, prefix string) []string {
	mod := env.Module()
	var names []string
	for _, a := range mod.Names() {
		name := env.Atoms.Name(a)
		if name == "" || !strings.HasPrefix(name, prefix) {
			continue
		}
		i, _ := mod.Lookup(a)
		if mod.At(i).T == cell.TypeUnset {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// runREPL reads lines from in until EOF. Prompts are printed only when
// interactive.
func runREPL(env *vm.Env, th *vm.Thread, in io.Reader, out io.Writer, interactive bool) {
	s := &session{env: env, th: th, out: out}
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			if s.pending() {
				fmt.Fprint(out, contPrompt)
			} else {
				fmt.Fprint(out, prompt)
			}
		}
		if !scanner.Scan() {
			break
		}
		if s.feed(scanner.Text()) {
			return
		}
	}
	if s.pending() {
		// Report the unterminated input.
		s.evalAndPrint(s.buf.String())
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".brick_history")
}

// runLiner runs the REPL on a terminal with line editing, history and
// completion of module words.
func runLiner(env *vm.Env, th *vm.Thread, out io.Writer) {
	fmt.Fprintln(out, "Brick REPL (type 'exit' to quit, ':help' for commands)")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(text string) []string {
		start := strings.LastIndexAny(text, " \t[(:'/") + 1
		var out []string
		for _, w := range boundWords(env, text[start:]) {
			out = append(out, text[:start]+w)
		}
		return out
	})

	hist := historyPath()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	s := &session{env: env, th: th, out: out}
	for {
		p := prompt
		if s.pending() {
			p = contPrompt
		}
		input, err := line.Prompt(p)
		if errors.Is(err, liner.ErrPromptAborted) {
			s.buf.Reset()
			continue
		}
		if err != nil {
			break
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if s.feed(input) {
			break
		}
	}
	fmt.Fprintln(out)

	if hist != "" {
		if f, err := os.Create(hist); err == nil {
			line.WriteHistory(f)
			f.Close()
		} else {
			log.Warningf("saving history: %s", err)
		}
	}
}
