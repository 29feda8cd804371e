package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies error! values raised by the engine.
type ErrorKind uint8

const (
	ErrType     ErrorKind = iota + 1 // wrong datatype, carries the argument index
	ErrScript                        // unbound word, unknown option, overflow...
	ErrInternal                      // invariant violation
)

var errorKindNames = [...]string{
	ErrType:     "type",
	ErrScript:   "script",
	ErrInternal: "internal",
}

// String returns the kind name.
func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) && errorKindNames[k] != "" {
		return errorKindNames[k]
	}
	return fmt.Sprintf("error(%d)", uint8(k))
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// ThrowKind distinguishes ordinary throws from function returns.
type ThrowKind uint8

const (
	ThrowValue  ThrowKind = iota // throw, or an error raised by the engine
	ThrowReturn                  // return from the innermost user function
)

// TracePos is a diagnostic position recorded while an exception unwinds.
type TracePos struct {
	Blk cell.BufID
	Pos int
}

// Exception is the pending exception of a thread.
type Exception struct {
	Value cell.Cell // thrown value; error! for engine errors
	Name  cell.Atom // throw name, 0 if none
	Kind  ThrowKind
	Trace []TracePos

	env *Env
}

// IsError reports whether the exception carries an error! value.
func (e *Exception) IsError() bool {
	return e.Value.T == cell.TypeError
}

// ErrorKind returns the kind of an error exception, or 0.
func (e *Exception) ErrorKind() ErrorKind {
	if !e.IsError() {
		return 0
	}
	return ErrorKind(e.Value.N)
}

// ArgIndex returns the 1-based argument index of a type error, or 0.
func (e *Exception) ArgIndex() int {
	if !e.IsError() {
		return 0
	}
	return int(e.Value.Pos)
}

// Message returns the message of an error exception.
func (e *Exception) Message() string {
	if !e.IsError() {
		return ""
	}
	return e.env.Store.Text(e.Value.Buf)
}

// Error implements the error interface.
func (e *Exception) Error() string {
	switch {
	case e.IsError():
		return formatError(e.env, &e.Value)
	case e.Kind == ThrowReturn:
		return "return used outside of a function"
	case e.Name != 0:
		return fmt.Sprintf("uncaught throw '%s: %s", e.env.Atoms.Name(e.Name), e.env.Mold(e.Value))
	}
	return "uncaught throw: " + e.env.Mold(e.Value)
}

// FormatTrace renders the message followed by the recorded trace, newest
// position first.
func (e *Exception) FormatTrace() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	for _, tp := range e.Trace {
		cells := e.env.Store.Cells(tp.Blk)
		near := "?"
		if tp.Pos < len(cells) {
			near = e.env.Mold(cells[tp.Pos])
		}
		fmt.Fprintf(&sb, "\n  near %s (block %d, position %d)", near, tp.Blk, tp.Pos)
	}
	return sb.String()
}

func formatError(env *Env, v *cell.Cell) string {
	msg := fmt.Sprintf("%s error: %s", ErrorKind(v.N), env.Store.Text(v.Buf))
	if v.Pos > 0 {
		msg += fmt.Sprintf(" (argument %d)", v.Pos)
	}
	return msg
}

// ---------------------------------------------------------------------------
// Raising
// ---------------------------------------------------------------------------

// NewError creates an error! value.
func (env *Env) NewError(kind ErrorKind, argIndex int, msg string) cell.Cell {
	return cell.Cell{
		T:   cell.TypeError,
		N:   int64(kind),
		Buf: env.Store.NewString(msg),
		Pos: int32(argIndex),
	}
}

// Throw makes v the pending exception and returns it.
func (t *Thread) Throw(v cell.Cell, name cell.Atom, kind ThrowKind) error {
	t.exc = &Exception{Value: v, Name: name, Kind: kind, env: t.env}
	return t.exc
}

// Fail raises an engine error with a formatted message.
func (t *Thread) Fail(kind ErrorKind, format string, args ...any) error {
	return t.Throw(t.env.NewError(kind, 0, fmt.Sprintf(format, args...)), 0, ThrowValue)
}

func (t *Thread) scriptError(format string, args ...any) error {
	return t.Fail(ErrScript, format, args...)
}

func (t *Thread) internalError(format string, args ...any) error {
	return t.Fail(ErrInternal, format, args...)
}

// typeError raises a type error for argument argIndex (1-based).
func (t *Thread) typeError(argIndex int, got cell.Type, want cell.TypeMask) error {
	msg := fmt.Sprintf("expected %s, got %s", want, got)
	return t.Throw(t.env.NewError(ErrType, argIndex, msg), 0, ThrowValue)
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

// Pending returns the pending exception, or nil.
func (t *Thread) Pending() *Exception {
	return t.exc
}

// Catch clears and returns the pending exception.
func (t *Thread) Catch() *Exception {
	exc := t.exc
	t.exc = nil
	return exc
}
