// Package asm implements a small assembler for Shades bytecode, for test fixtures and the
// "shadesd check", "shadesd run" and "shadesd demo" commands. It is deliberately not a dependency of internal/loader: a loader
// accepts an already-built loader.Spec from any source, and this package is just one way to
// produce one from text.
//
// Grounded on the teacher's internal/asm package: a line-oriented scan (strip comment, peel label,
// dispatch on a per-mnemonic table) done with plain string splitting rather than regexps, followed
// by a second pass (Program.Resolve) that fills in branch offsets and global ids, retargeted from
// LC-3 mnemonics and addressing modes to Shades opcodes and the call/branch/global operand kinds
// spec.md §4.F defines.
//
//	.ENTRY
//	.ACCU TAGGED
//	.ARGS 1
//	.STACK 1
//
//	LOAD_LOCAL 0
//	ADD
//	RETURN
//
// The routine's name is given by its caller (see Parse); directives describe the rest of its
// header. Everything else is an instruction line, optionally preceded by a label. A label may
// only be the target of a forward BRANCH or BRANCH_IF_FALSE: spec.md's branch offsets are
// unsigned distances from the following instruction, so a backward jump cannot be encoded.
package asm

// Grammar declares the syntax of Shades assembly source in EBNF (with some liberties).
var Grammar = (`
program     = { line } ;

line        = ';' comment
            | label ':' [ ';' comment ]
            | label ':' instruction [ ';' comment ]
            | '.' directive [ ';' comment ]
            | instruction   [ ';' comment ] ;

comment     = { char } ;

directive   = "ENTRY"
            | "ACCU" ( "TAGGED" | "WORD" | "PTR" | "NONNULL_PTR" )
            | "ARGS" integer
            | "STACK" integer
            | "REUSABLE" ;

ident       = \p{Letter} { identchar } ;

label       = ident ;

instruction = opcode [ operands ] ;

opcode      = ident ;

operands    = operand { ',' operand } ;

operand     = integer
            | ident
            | string ;

string      = '"' { char } '"' ;

integer     = [ '-' ] decimal { decimal } ;

identchar   = \p{Letter} | \p{Decimal Digits} | '_' ;
`)
