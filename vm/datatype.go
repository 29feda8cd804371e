package vm

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Datatype: Per-type behavior
// ---------------------------------------------------------------------------

// Datatype is the behavior of one cell type. The evaluator reaches type
// specific operations only through this interface.
type Datatype interface {
	Name() string
	Mold(m *Molder, v *cell.Cell)
	Equal(env *Env, a, b *cell.Cell) bool
	// Pick stores the element of v selected by sel in res.
	Pick(t *Thread, v, sel, res *cell.Cell) error
	// Poke replaces the element of v selected by sel with val.
	Poke(t *Thread, v, sel, val *cell.Cell) error
}

func datatypeTable() [cell.TypeCount]Datatype {
	var tt [cell.TypeCount]Datatype
	for t := cell.Type(0); t < cell.TypeCount; t++ {
		tt[t] = baseType{t}
	}
	tt[cell.TypeUnset] = unsetType{baseType{cell.TypeUnset}}
	tt[cell.TypeDatatype] = datatypeType{baseType{cell.TypeDatatype}}
	tt[cell.TypeNone] = noneType{baseType{cell.TypeNone}}
	tt[cell.TypeLogic] = logicType{baseType{cell.TypeLogic}}
	tt[cell.TypeChar] = charType{baseType{cell.TypeChar}}
	tt[cell.TypeInt] = intType{baseType{cell.TypeInt}}
	tt[cell.TypeDouble] = doubleType{baseType{cell.TypeDouble}}
	tt[cell.TypeWord] = wordType{baseType{cell.TypeWord}, "", ""}
	tt[cell.TypeLitWord] = wordType{baseType{cell.TypeLitWord}, "'", ""}
	tt[cell.TypeSetWord] = wordType{baseType{cell.TypeSetWord}, "", ":"}
	tt[cell.TypeGetWord] = wordType{baseType{cell.TypeGetWord}, ":", ""}
	tt[cell.TypeOption] = wordType{baseType{cell.TypeOption}, "/", ""}
	tt[cell.TypeString] = stringType{baseType{cell.TypeString}}
	tt[cell.TypeBlock] = blockType{baseType{cell.TypeBlock}, "[", "]", " "}
	tt[cell.TypeParen] = blockType{baseType{cell.TypeParen}, "(", ")", " "}
	tt[cell.TypePath] = blockType{baseType{cell.TypePath}, "", "", "/"}
	tt[cell.TypeLitPath] = blockType{baseType{cell.TypeLitPath}, "'", "", "/"}
	tt[cell.TypeSetPath] = blockType{baseType{cell.TypeSetPath}, "", ":", "/"}
	tt[cell.TypeCFunc] = callableType{baseType{cell.TypeCFunc}}
	tt[cell.TypeFunc] = callableType{baseType{cell.TypeFunc}}
	tt[cell.TypeError] = errorType{baseType{cell.TypeError}}
	return tt
}

// baseType provides the default behavior: opaque mold, identity equality
// and no selection.
type baseType struct {
	t cell.Type
}

func (b baseType) Name() string { return b.t.String() }

func (b baseType) Mold(m *Molder, v *cell.Cell) {
	m.WriteString("#[" + b.t.String() + "]")
}

func (b baseType) Equal(env *Env, x, y *cell.Cell) bool {
	return x.T == y.T && x.N == y.N && x.Buf == y.Buf && x.Atom == y.Atom && x.Pos == y.Pos
}

func (b baseType) Pick(t *Thread, v, sel, res *cell.Cell) error {
	return t.scriptError("cannot select from %s", b.t)
}

func (b baseType) Poke(t *Thread, v, sel, val *cell.Cell) error {
	return t.scriptError("cannot modify %s", b.t)
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

type unsetType struct{ baseType }

func (unsetType) Mold(m *Molder, v *cell.Cell) {
	if !m.form {
		m.WriteString("unset")
	}
}

type noneType struct{ baseType }

func (noneType) Mold(m *Molder, v *cell.Cell) { m.WriteString("none") }

func (noneType) Equal(env *Env, x, y *cell.Cell) bool { return x.T == y.T }

type logicType struct{ baseType }

func (logicType) Mold(m *Molder, v *cell.Cell) {
	m.WriteString(strconv.FormatBool(v.Bool()))
}

type datatypeType struct{ baseType }

func (datatypeType) Mold(m *Molder, v *cell.Cell) {
	m.WriteString(v.Mask().String())
}

type charType struct{ baseType }

func (charType) Mold(m *Molder, v *cell.Cell) {
	r := rune(v.N)
	if m.form {
		m.sb.WriteRune(r)
		return
	}
	m.WriteString(`#"`)
	writeEscaped(&m.sb, r, '"')
	m.WriteString(`"`)
}

type intType struct{ baseType }

func (intType) Mold(m *Molder, v *cell.Cell) {
	m.WriteString(strconv.FormatInt(v.N, 10))
}

func (intType) Equal(env *Env, x, y *cell.Cell) bool {
	switch y.T {
	case cell.TypeInt:
		return x.N == y.N
	case cell.TypeDouble:
		return float64(x.N) == y.Float()
	}
	return false
}

type doubleType struct{ baseType }

func (doubleType) Mold(m *Molder, v *cell.Cell) {
	s := strconv.FormatFloat(v.Float(), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	m.WriteString(s)
}

func (doubleType) Equal(env *Env, x, y *cell.Cell) bool {
	switch y.T {
	case cell.TypeInt:
		return x.Float() == float64(y.N)
	case cell.TypeDouble:
		return x.Float() == y.Float()
	}
	return false
}

// ---------------------------------------------------------------------------
// Words
// ---------------------------------------------------------------------------

type wordType struct {
	baseType
	prefix, suffix string
}

func (w wordType) Mold(m *Molder, v *cell.Cell) {
	m.WriteString(w.prefix + m.env.Atoms.Name(v.Atom) + w.suffix)
}

func (wordType) Equal(env *Env, x, y *cell.Cell) bool {
	return x.T == y.T && x.Atom == y.Atom
}

// ---------------------------------------------------------------------------
// Series
// ---------------------------------------------------------------------------

// view returns the cells of a block series from its position to its end.
func view(store *cell.Store, v *cell.Cell) []cell.Cell {
	cells := store.Cells(v.Buf)
	end := len(cells)
	if v.End >= 0 && int(v.End) < end {
		end = int(v.End)
	}
	if int(v.Pos) >= end {
		return nil
	}
	return cells[v.Pos:end]
}

// text returns a string series from its position.
func text(store *cell.Store, v *cell.Cell) []rune {
	r := []rune(store.Text(v.Buf))
	if int(v.Pos) >= len(r) {
		return nil
	}
	return r[v.Pos:]
}

type stringType struct{ baseType }

func (stringType) Mold(m *Molder, v *cell.Cell) {
	s := string(text(m.env.Store, v))
	if m.form && m.depth == 1 {
		m.WriteString(s)
		return
	}
	m.WriteString(`"`)
	for _, r := range s {
		writeEscaped(&m.sb, r, '"')
	}
	m.WriteString(`"`)
}

func (stringType) Equal(env *Env, x, y *cell.Cell) bool {
	return y.T == cell.TypeString && string(text(env.Store, x)) == string(text(env.Store, y))
}

func (stringType) Pick(t *Thread, v, sel, res *cell.Cell) error {
	if sel.T != cell.TypeInt {
		return t.scriptError("cannot select string! with %s", sel.T)
	}
	r := text(t.env.Store, v)
	if i := sel.N - 1; i >= 0 && i < int64(len(r)) {
		*res = cell.Char(r[i])
	} else {
		*res = cell.None()
	}
	return nil
}

func (stringType) Poke(t *Thread, v, sel, val *cell.Cell) error {
	if sel.T != cell.TypeInt || val.T != cell.TypeChar {
		return t.scriptError("string! poke needs an int! index and a char! value")
	}
	b := t.env.Store.Buffer(v.Buf)
	if b == nil {
		return t.internalError("string buffer %d is not live", v.Buf)
	}
	r := []rune(b.Text)
	i := int64(v.Pos) + sel.N - 1
	if i < int64(v.Pos) || i >= int64(len(r)) {
		return t.scriptError("index %d out of range", sel.N)
	}
	r[i] = rune(val.N)
	b.Text = string(r)
	return nil
}

type blockType struct {
	baseType
	open, close, sep string
}

func (bt blockType) Mold(m *Molder, v *cell.Cell) {
	cells := view(m.env.Store, v)
	top := m.form && m.depth == 1 && bt.t == cell.TypeBlock
	if !top {
		m.WriteString(bt.open)
	}
	for i := range cells {
		if i > 0 {
			m.WriteString(bt.sep)
		}
		m.Value(&cells[i])
	}
	if !top {
		m.WriteString(bt.close)
	}
}

func (bt blockType) Equal(env *Env, x, y *cell.Cell) bool {
	return seriesEqual(env, x, y, nil)
}

type seriesKey struct {
	buf      cell.BufID
	pos, end int32
}

// seriesEqual compares block series element by element. A pair already
// under comparison is assumed equal, so cyclic blocks terminate.
func seriesEqual(env *Env, x, y *cell.Cell, seen map[[2]seriesKey]bool) bool {
	if x.T != y.T {
		return false
	}
	a, b := view(env.Store, x), view(env.Store, y)
	if len(a) != len(b) {
		return false
	}
	pair := [2]seriesKey{{x.Buf, x.Pos, x.End}, {y.Buf, y.Pos, y.End}}
	if seen[pair] {
		return true
	}
	if seen == nil {
		seen = make(map[[2]seriesKey]bool)
	}
	seen[pair] = true
	for i := range a {
		if _, ok := env.Datatype(a[i].T).(blockType); ok {
			if !seriesEqual(env, &a[i], &b[i], seen) {
				return false
			}
		} else if !env.Equal(&a[i], &b[i]) {
			return false
		}
	}
	return true
}

func (bt blockType) Pick(t *Thread, v, sel, res *cell.Cell) error {
	i, err := bt.index(t, v, sel)
	if err != nil {
		return err
	}
	cells := view(t.env.Store, v)
	if i >= 0 && i < len(cells) {
		*res = cells[i]
	} else {
		*res = cell.None()
	}
	return nil
}

func (bt blockType) Poke(t *Thread, v, sel, val *cell.Cell) error {
	i, err := bt.index(t, v, sel)
	if err != nil {
		return err
	}
	cells := view(t.env.Store, v)
	if i < 0 || i >= len(cells) {
		return t.scriptError("cannot poke %s at %s", bt.t, t.env.Mold(*sel))
	}
	cells[i] = *val
	return nil
}

// index maps a selector to an offset in the series view: an int! selects
// by 1-based position, a word selects the value following that word.
func (bt blockType) index(t *Thread, v, sel *cell.Cell) (int, error) {
	switch {
	case sel.T == cell.TypeInt:
		return int(sel.N - 1), nil
	case sel.T.IsWord():
		cells := view(t.env.Store, v)
		for i := range cells {
			if cells[i].T.IsWord() && cells[i].Atom == sel.Atom {
				return i + 1, nil
			}
		}
		return -1, nil
	}
	return 0, t.scriptError("cannot select %s with %s", bt.t, sel.T)
}

// ---------------------------------------------------------------------------
// Callables and errors
// ---------------------------------------------------------------------------

type callableType struct{ baseType }

func (ct callableType) Mold(m *Molder, v *cell.Cell) {
	if ct.t == cell.TypeCFunc {
		m.WriteString("#[cfunc! " + m.env.NativeName(v.NativeID()) + "]")
		return
	}
	m.WriteString("#[func!]")
}

type errorType struct{ baseType }

func (errorType) Mold(m *Molder, v *cell.Cell) {
	m.WriteString("#[error! " + formatError(m.env, v) + "]")
}

// ---------------------------------------------------------------------------
// Molding
// ---------------------------------------------------------------------------

const maxMoldDepth = 32

// Molder renders values as source text (mold) or display text (form).
type Molder struct {
	env   *Env
	sb    strings.Builder
	form  bool
	depth int
}

// Value renders v through its datatype.
func (m *Molder) Value(v *cell.Cell) {
	if m.depth >= maxMoldDepth {
		m.WriteString("...")
		return
	}
	m.depth++
	m.env.Datatype(v.T).Mold(m, v)
	m.depth--
}

// WriteString appends raw text.
func (m *Molder) WriteString(s string) {
	m.sb.WriteString(s)
}

// Env returns the environment being molded for.
func (m *Molder) Env() *Env {
	return m.env
}

// Mold renders v as source text.
func (env *Env) Mold(v cell.Cell) string {
	m := Molder{env: env}
	m.Value(&v)
	return m.sb.String()
}

// Form renders v as display text: strings and chars without quoting and
// the top-level block without brackets.
func (env *Env) Form(v cell.Cell) string {
	m := Molder{env: env, form: true}
	m.Value(&v)
	return m.sb.String()
}

// Equal compares two values through the datatype of a.
func (env *Env) Equal(a, b *cell.Cell) bool {
	return env.Datatype(a.T).Equal(env, a, b)
}

func writeEscaped(sb *strings.Builder, r rune, quote rune) {
	switch r {
	case '\n':
		sb.WriteString("^/")
	case '\t':
		sb.WriteString("^-")
	case '^':
		sb.WriteString("^^")
	case quote:
		sb.WriteRune('^')
		sb.WriteRune(r)
	default:
		if r == utf8.RuneError || r < 0x20 {
			sb.WriteString("^(" + strconv.FormatInt(int64(r), 16) + ")")
			return
		}
		sb.WriteRune(r)
	}
}
