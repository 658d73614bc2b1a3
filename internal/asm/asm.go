package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/loader"
	"github.com/GunterMueller/shades/internal/vm"
	"github.com/GunterMueller/shades/internal/word"
)

var (
	// ErrOpcode means a line names a mnemonic this assembler does not recognize.
	ErrOpcode = errors.New("asm: unknown opcode")

	// ErrOperand means an instruction's operands do not match what its mnemonic expects.
	ErrOperand = errors.New("asm: bad operand")

	// ErrDirective means a '.' line names a directive this assembler does not recognize, or gives
	// it an operand it rejects.
	ErrDirective = errors.New("asm: bad directive")

	// ErrLabel means a branch names a label that was never defined, or a label is defined twice.
	ErrLabel = errors.New("asm: bad label")

	// ErrGlobal means an operand names a global this assembler's caller did not supply an id for.
	ErrGlobal = errors.New("asm: undefined global")
)

// operandKind classifies what an instruction's operand words mean, so the parser knows how to
// read them and Resolve knows how to encode them.
type operandKind int

const (
	operandNone operandKind = iota
	operandIndex            // a raw non-negative word: LOAD_LOCAL/STORE_LOCAL's stack index, SPAWN's priority
	operandLiteral          // PUSH_LITERAL: either a decimal integer (encoded as a fixnum) or a quoted string
	operandLabel            // a forward branch target
	operandGlobal           // one identifier, resolved against the caller's name table
	operandGlobalPair       // two identifiers: CALL/TAIL_CALL's (global, next)
)

// opInfo describes one mnemonic: its opcode and what kind of operand it takes.
type opInfo struct {
	op   vm.Opcode
	kind operandKind
}

// mnemonics is the assembler's instruction table, grounded on the opcode space internal/vm/types.go
// defines. Every plain opcode with a fused form gets a PUSH_AND_ mnemonic alongside it, generated
// below in init rather than listed twice.
var mnemonics = map[string]opInfo{
	"HALT": {vm.OpHalt, operandNone},
	"DIE":  {vm.OpDie, operandNone},

	"PUSH_LITERAL": {vm.OpPushLiteral, operandLiteral},
	"LOAD_LOCAL":   {vm.OpLoadLocal, operandIndex},
	"STORE_LOCAL":  {vm.OpStoreLocal, operandIndex},
	"POP":          {vm.OpPop, operandNone},

	"ADD":     {vm.OpAdd, operandNone},
	"SUB":     {vm.OpSub, operandNone},
	"CMP_EQ":  {vm.OpCmpEq, operandNone},
	"CMP_LT":  {vm.OpCmpLt, operandNone},

	"BRANCH_IF_FALSE": {vm.OpBranchIfFalse, operandLabel},
	"BRANCH":          {vm.OpBranch, operandLabel},

	"GET_GLOBAL": {vm.OpGetGlobal, operandGlobal},
	"SET_GLOBAL": {vm.OpSetGlobal, operandGlobal},

	"BIND": {vm.OpBind, operandNone},

	"RETURN": {vm.OpReturn, operandNone},
	"SPAWN":  {vm.OpSpawn, operandIndex},

	"NET_LISTEN":    {vm.OpNetListen, operandNone},
	"NET_ACCEPT":    {vm.OpNetAccept, operandNone},
	"NET_READ_CHAR": {vm.OpNetReadChar, operandNone},
	"NET_WRITE":     {vm.OpNetWrite, operandNone},
	"NET_CLOSE":     {vm.OpNetClose, operandNone},

	"CALL":      {vm.OpCall, operandGlobalPair},
	"TAIL_CALL": {vm.OpTailCall, operandGlobalPair},
}

// fusable lists every mnemonic that has a PUSH_AND_ counterpart, per internal/vm/types.go's
// plain/fused pairing (not every opcode numerically above OpAdd has one: BRANCH_IF_FALSE, BRANCH,
// GET_GLOBAL, RETURN, SPAWN and the NET_ ops do not).
var fusable = []string{"ADD", "SUB", "CMP_EQ", "CMP_LT", "SET_GLOBAL", "BIND", "CALL", "TAIL_CALL"}

func init() {
	for _, name := range fusable {
		info := mnemonics[name]
		mnemonics["PUSH_AND_"+name] = opInfo{info.op.Fused(), info.kind}
	}
}

var accuKinds = map[string]cell.SlotKind{
	"WORD":        cell.WORD,
	"PTR":         cell.PTR,
	"NONNULL_PTR": cell.NONNULL_PTR,
	"TAGGED":      cell.TAGGED,
}

// instrWidth reports how many words an operand of kind k occupies, following the opcode word.
func instrWidth(k operandKind) int {
	switch k {
	case operandNone:
		return 1
	case operandGlobalPair:
		return 3
	default:
		return 2
	}
}

// Assemble parses source as the routine named name and resolves it against globals in one step,
// for callers that have no use for the intermediate Program.
func Assemble(name string, source string, globals map[string]word.Word) (loader.Spec, error) {
	prog, err := Parse(name, source)
	if err != nil {
		return loader.Spec{}, err
	}

	return prog.Resolve(globals)
}

// SyntaxError reports a source line this assembler could not parse.
type SyntaxError struct {
	Line int
	Text string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("asm: line %d: %q: %s", e.Line, e.Text, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// fixup records a not-yet-resolved operand: a branch waiting on a label, or an identifier waiting
// on the caller's global table. instrIndex is the word index of the opcode itself.
type fixup struct {
	instrIndex int
	kind       operandKind
	label      string // for operandLabel
	globals    [2]string
}

// Program is the result of parsing one routine's source: an instruction stream with every operand
// that needs outside information (branch targets, global ids) left as a pending fixup.
type Program struct {
	Name          string
	AccuType      cell.SlotKind
	IsEntryPoint  bool
	EntryDepth    int
	MaxStackDepth int
	Reusable      bool

	instrs     []word.Word
	stringRefs []loader.StringRef
	fixups     []fixup
	labels     map[string]int
}

// Parse runs the assembler's first pass over source, producing name's Program. It records every
// label's position but resolves nothing: branch targets and global identifiers are both left
// pending for Resolve, which rejects a branch to a label that does not lie ahead of it (matching
// the forward-only branch encoding).
func Parse(name string, source string) (*Program, error) {
	p := &Program{
		Name:     name,
		AccuType: cell.TAGGED,
		labels:   make(map[string]int),
	}

	for lineNo, raw := range strings.Split(source, "\n") {
		line := stripComment(raw)
		line = strings.TrimSpace(line)

		if line == "" {
			continue
		}

		if err := p.parseLine(line); err != nil {
			return nil, &SyntaxError{Line: lineNo + 1, Text: raw, Err: err}
		}
	}

	return p, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return line[:i]
	}

	return line
}

func (p *Program) parseLine(line string) error {
	if label, rest, ok := strings.Cut(line, ":"); ok {
		label = strings.TrimSpace(label)

		if _, dup := p.labels[label]; dup {
			return fmt.Errorf("%w: %q redefined", ErrLabel, label)
		}

		p.labels[label] = len(p.instrs)

		rest = strings.TrimSpace(rest)
		if rest == "" {
			return nil
		}

		line = rest
	}

	if strings.HasPrefix(line, ".") {
		return p.parseDirective(line[1:])
	}

	return p.parseInstruction(line)
}

func (p *Program) parseDirective(line string) error {
	name, arg, _ := strings.Cut(line, " ")
	name = strings.ToUpper(strings.TrimSpace(name))
	arg = strings.TrimSpace(arg)

	switch name {
	case "ENTRY":
		p.IsEntryPoint = true
	case "ACCU":
		kind, ok := accuKinds[strings.ToUpper(arg)]
		if !ok {
			return fmt.Errorf("%w: ACCU %q", ErrDirective, arg)
		}

		p.AccuType = kind
	case "ARGS":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: ARGS %q", ErrDirective, arg)
		}

		p.EntryDepth = n
	case "STACK":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: STACK %q", ErrDirective, arg)
		}

		p.MaxStackDepth = n
	case "REUSABLE":
		p.Reusable = true
	default:
		return fmt.Errorf("%w: %q", ErrDirective, name)
	}

	return nil
}

func (p *Program) parseInstruction(line string) error {
	mnemonic, rest, _ := strings.Cut(line, " ")
	mnemonic = strings.ToUpper(strings.TrimSpace(mnemonic))

	info, ok := mnemonics[mnemonic]
	if !ok {
		return fmt.Errorf("%w: %q", ErrOpcode, mnemonic)
	}

	operands := splitOperands(rest)
	at := len(p.instrs)

	p.instrs = append(p.instrs, word.Word(info.op))

	switch info.kind {
	case operandNone:
		if len(operands) != 0 {
			return fmt.Errorf("%w: %s takes no operands", ErrOperand, mnemonic)
		}
	case operandIndex:
		if len(operands) != 1 {
			return fmt.Errorf("%w: %s wants one operand", ErrOperand, mnemonic)
		}

		n, err := strconv.Atoi(operands[0])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s: %q", ErrOperand, mnemonic, operands[0])
		}

		p.instrs = append(p.instrs, word.Word(n))
	case operandLiteral:
		if len(operands) != 1 {
			return fmt.Errorf("%w: %s wants one operand", ErrOperand, mnemonic)
		}

		if err := p.appendLiteral(operands[0]); err != nil {
			return err
		}
	case operandLabel:
		if len(operands) != 1 {
			return fmt.Errorf("%w: %s wants one operand", ErrOperand, mnemonic)
		}

		p.instrs = append(p.instrs, 0) // patched once the label's offset is known
		p.fixups = append(p.fixups, fixup{instrIndex: at, kind: operandLabel, label: operands[0]})
	case operandGlobal:
		if len(operands) != 1 {
			return fmt.Errorf("%w: %s wants one operand", ErrOperand, mnemonic)
		}

		p.instrs = append(p.instrs, 0)
		p.fixups = append(p.fixups, fixup{instrIndex: at, kind: operandGlobal, globals: [2]string{operands[0]}})
	case operandGlobalPair:
		if len(operands) != 2 {
			return fmt.Errorf("%w: %s wants two operands", ErrOperand, mnemonic)
		}

		p.instrs = append(p.instrs, 0, 0)
		p.fixups = append(p.fixups, fixup{instrIndex: at, kind: operandGlobalPair, globals: [2]string{operands[0], operands[1]}})
	}

	return nil
}

func (p *Program) appendLiteral(operand string) error {
	if strings.HasPrefix(operand, `"`) {
		s, err := strconv.Unquote(operand)
		if err != nil {
			return fmt.Errorf("%w: PUSH_LITERAL: %q: %w", ErrOperand, operand, err)
		}

		p.stringRefs = append(p.stringRefs, loader.StringRef{Index: len(p.instrs), Bytes: []byte(s)})
		p.instrs = append(p.instrs, 0)

		return nil
	}

	n, err := strconv.Atoi(operand)
	if err != nil {
		return fmt.Errorf("%w: PUSH_LITERAL: %q", ErrOperand, operand)
	}

	p.instrs = append(p.instrs, word.Word(word.NewFixnum(int32(n))))

	return nil
}

func splitOperands(rest string) []string {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil
	}

	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}

// Resolve fills in every pending fixup and returns the finished loader.Spec: branch offsets
// against p's own labels, and global identifiers against the globals table (typically the ids a
// prior sequence of loader.Load calls already returned for the routines this one references).
func (p *Program) Resolve(globals map[string]word.Word) (loader.Spec, error) {
	instrs := append([]word.Word(nil), p.instrs...)

	for _, f := range p.fixups {
		switch f.kind {
		case operandLabel:
			target, ok := p.labels[f.label]
			if !ok {
				return loader.Spec{}, fmt.Errorf("%w: %q", ErrLabel, f.label)
			}

			next := f.instrIndex + instrWidth(operandLabel)
			if target < next {
				return loader.Spec{}, fmt.Errorf("%w: %q is not a forward label", ErrLabel, f.label)
			}

			instrs[f.instrIndex+1] = word.Word(target - next)
		case operandGlobal:
			id, ok := globals[f.globals[0]]
			if !ok {
				return loader.Spec{}, fmt.Errorf("%w: %q", ErrGlobal, f.globals[0])
			}

			instrs[f.instrIndex+1] = id
		case operandGlobalPair:
			for i, name := range f.globals {
				id, ok := globals[name]
				if !ok {
					return loader.Spec{}, fmt.Errorf("%w: %q", ErrGlobal, name)
				}

				instrs[f.instrIndex+1+i] = id
			}
		}
	}

	stackTypes := make([]word.Word, p.MaxStackDepth)
	for i := range stackTypes {
		stackTypes[i] = word.Word(cell.TAGGED)
	}

	return loader.Spec{
		Name:          p.Name,
		AccuType:      p.AccuType,
		Reusable:      p.Reusable,
		IsEntryPoint:  p.IsEntryPoint,
		EntryDepth:    p.EntryDepth,
		MaxStackDepth: p.MaxStackDepth,
		Instrs:        instrs,
		StackTypes:    stackTypes,
		StringRefs:    p.stringRefs,
	}, nil
}
