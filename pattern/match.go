package pattern

import "github.com/chazu/brick/cell"

// ---------------------------------------------------------------------------
// Matcher
// ---------------------------------------------------------------------------

// ReportFunc receives the id of a Report instruction and the span matched
// by the enclosing alternative so far.
type ReportFunc func(id uint16, start, end int)

// Matcher runs pattern programs against cell slices. A Matcher is not safe
// for concurrent use; the program itself may be shared.
type Matcher struct {
	code  []uint16
	cells []cell.Cell

	// Report is called by Report and ReportEnd. It may be nil.
	Report ReportFunc

	// Flags accumulates the operands of Flag instructions. It is never
	// cleared by Match.
	Flags uint16
}

// NewMatcher creates a matcher for a program.
func NewMatcher(code []uint16) *Matcher {
	return &Matcher{code: code}
}

// Match matches the rule at offset rule against cells starting at start.
// It returns the position after the match and whether the rule matched.
func (m *Matcher) Match(rule int, cells []cell.Cell, start int) (int, bool) {
	m.cells = cells
	end, ok := m.run(rule, start)
	m.cells = nil
	return end, ok
}

func (m *Matcher) run(pc, pos int) (int, bool) {
	code := m.code
	start, alt := pos, -1
	for {
		op := Opcode(code[pc])
		pc++
		ok := true

		switch op {
		case OpEnd:
			return pos, true

		case OpFlag:
			m.Flags |= code[pc]
			pc++

		case OpReport:
			m.report(code[pc], start, pos)
			pc++

		case OpReportEnd:
			m.report(code[pc], start, pos)
			return pos, true

		case OpNext:
			alt = int(code[pc])
			pc++

		case OpSkip:
			if ok = pos < len(m.cells); ok {
				pos++
			}

		case OpRule:
			var end int
			if end, ok = m.run(int(code[pc]), pos); ok {
				pos = end
			}
			pc++

		case OpLitWord:
			if ok = m.isLitWord(pos, atomAt(code, pc)); ok {
				pos++
			}
			pc += 2

		case OpType:
			if ok = m.isType(pos, cell.Type(code[pc])); ok {
				pos++
			}
			pc++

		case OpTypeset:
			if ok = m.inMask(pos, maskAt(code, pc)); ok {
				pos++
			}
			pc += 4

		case OpOptR:
			if end, matched := m.run(int(code[pc]), pos); matched {
				pos = end
			}
			pc++

		case OpOptT:
			if m.isType(pos, cell.Type(code[pc])) {
				pos++
			}
			pc++

		case OpOptTs:
			if m.inMask(pos, maskAt(code, pc)) {
				pos++
			}
			pc += 4

		case OpAnyR, OpSomeR:
			first := pos
			pos = m.repeat(int(code[pc]), pos)
			ok = op == OpAnyR || pos != first
			pc++

		case OpAnyT, OpSomeT:
			first := pos
			t := cell.Type(code[pc])
			for m.isType(pos, t) {
				pos++
			}
			ok = op == OpAnyT || pos != first
			pc++

		case OpAnyTs, OpSomeTs:
			first := pos
			mask := maskAt(code, pc)
			for m.inMask(pos, mask) {
				pos++
			}
			ok = op == OpAnyTs || pos != first
			pc += 4

		case OpToT, OpThruT:
			t := cell.Type(code[pc])
			i := pos
			for i < len(m.cells) && !m.isType(i, t) {
				i++
			}
			if ok = i < len(m.cells); ok {
				pos = i
				if op == OpThruT {
					pos++
				}
			}
			pc++

		case OpToTs, OpThruTs:
			mask := maskAt(code, pc)
			i := pos
			for i < len(m.cells) && !m.inMask(i, mask) {
				i++
			}
			if ok = i < len(m.cells); ok {
				pos = i
				if op == OpThruTs {
					pos++
				}
			}
			pc += 4

		case OpToLitWord:
			a := atomAt(code, pc)
			i := pos
			for i < len(m.cells) && !m.isLitWord(i, a) {
				i++
			}
			if ok = i < len(m.cells); ok {
				pos = i
			}
			pc += 2

		default:
			return start, false
		}

		if !ok {
			if alt < 0 {
				return start, false
			}
			pc, pos, alt = alt, start, -1
		}
	}
}

// repeat matches a rule as many times as it will go. A match that consumes
// nothing ends the loop.
func (m *Matcher) repeat(rule, pos int) int {
	for {
		end, ok := m.run(rule, pos)
		if !ok || end == pos {
			return pos
		}
		pos = end
	}
}

func (m *Matcher) report(id uint16, start, end int) {
	if m.Report != nil {
		m.Report(id, start, end)
	}
}

func (m *Matcher) isType(pos int, t cell.Type) bool {
	return pos < len(m.cells) && m.cells[pos].T == t
}

func (m *Matcher) inMask(pos int, mask cell.TypeMask) bool {
	return pos < len(m.cells) && mask.Has(m.cells[pos].T)
}

func (m *Matcher) isLitWord(pos int, a cell.Atom) bool {
	return pos < len(m.cells) && m.cells[pos].T == cell.TypeWord && m.cells[pos].Atom == a
}
