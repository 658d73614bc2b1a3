package asm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/vm"
	"github.com/GunterMueller/shades/internal/word"
)

func TestParse_SimpleRoutine(t *testing.T) {
	t.Parallel()

	src := `
.ENTRY
.ACCU TAGGED
.ARGS 1
.STACK 1

LOAD_LOCAL 0
ADD
RETURN
`

	prog, err := Parse("double", src)
	require.NoError(t, err)
	require.True(t, prog.IsEntryPoint)
	require.Equal(t, cell.TAGGED, prog.AccuType)
	require.Equal(t, 1, prog.EntryDepth)
	require.Equal(t, 1, prog.MaxStackDepth)

	spec, err := prog.Resolve(nil)
	require.NoError(t, err)
	require.Equal(t, "double", spec.Name)
	require.Equal(t, []word.Word{
		word.Word(vm.OpLoadLocal), 0,
		word.Word(vm.OpAdd),
		word.Word(vm.OpReturn),
	}, spec.Instrs)
}

func TestParse_ForwardBranch(t *testing.T) {
	t.Parallel()

	src := `
.ARGS 1
.STACK 1

LOAD_LOCAL 0
BRANCH_IF_FALSE skip
PUSH_LITERAL 1
skip:
RETURN
`

	prog, err := Parse("cond", src)
	require.NoError(t, err)

	spec, err := prog.Resolve(nil)
	require.NoError(t, err)

	// BRANCH_IF_FALSE at word 2, operand at 3; next instruction after the branch is at word 4
	// (PUSH_LITERAL, 2 words); "skip" lands at word 6, so the offset is 6-4 = 2.
	require.Equal(t, word.Word(2), spec.Instrs[3])
}

func TestParse_RejectsBackwardLabel(t *testing.T) {
	t.Parallel()

	src := `
loop:
LOAD_LOCAL 0
BRANCH loop
RETURN
`

	prog, err := Parse("loopy", src)
	require.NoError(t, err)

	_, err = prog.Resolve(nil)
	require.ErrorIs(t, err, ErrLabel)
}

func TestParse_RejectsUnknownMnemonic(t *testing.T) {
	t.Parallel()

	_, err := Parse("bad", "FROB 1\n")
	require.Error(t, err)

	var syn *SyntaxError
	require.ErrorAs(t, err, &syn)
	require.ErrorIs(t, err, ErrOpcode)
}

func TestParse_PushLiteralString(t *testing.T) {
	t.Parallel()

	prog, err := Parse("greet", `PUSH_LITERAL "hello"
RETURN
`)
	require.NoError(t, err)

	spec, err := prog.Resolve(nil)
	require.NoError(t, err)
	require.Len(t, spec.StringRefs, 1)
	require.Equal(t, "hello", string(spec.StringRefs[0].Bytes))
	require.Equal(t, 1, spec.StringRefs[0].Index)
}

func TestParse_PushLiteralInteger(t *testing.T) {
	t.Parallel()

	prog, err := Parse("five", "PUSH_LITERAL 5\nRETURN\n")
	require.NoError(t, err)

	spec, err := prog.Resolve(nil)
	require.NoError(t, err)

	literal := word.Tagged(spec.Instrs[1])
	require.Equal(t, word.TagFixnum, literal.Tag())
	require.EqualValues(t, 5, literal.Fixnum())
}

func TestResolve_GlobalLookup(t *testing.T) {
	t.Parallel()

	prog, err := Parse("caller", `
.ARGS 0
.STACK 0

CALL double, caller
RETURN
`)
	require.NoError(t, err)

	globals := map[string]word.Word{"double": 7, "caller": 9}

	spec, err := prog.Resolve(globals)
	require.NoError(t, err)
	require.Equal(t, word.Word(7), spec.Instrs[1])
	require.Equal(t, word.Word(9), spec.Instrs[2])
}

func TestResolve_UndefinedGlobal(t *testing.T) {
	t.Parallel()

	prog, err := Parse("caller", "CALL nope, nope\nRETURN\n")
	require.NoError(t, err)

	_, err = prog.Resolve(nil)
	require.ErrorIs(t, err, ErrGlobal)
}

func TestParse_FusedMnemonic(t *testing.T) {
	t.Parallel()

	prog, err := Parse("fused", `
.ARGS 2
.STACK 2

LOAD_LOCAL 0
PUSH_AND_ADD
RETURN
`)
	require.NoError(t, err)

	spec, err := prog.Resolve(nil)
	require.NoError(t, err)
	require.Equal(t, vm.OpAdd.Fused(), vm.Opcode(spec.Instrs[2]))
}
