// Package weave drives a weaving pass: it visits the units of a program, scans each admitted
// method, asks a Weaver for a replacement of each admitted call site and commits it.
//
// A Rewrite has two parts. Alloc replaces the allocation prefix (new, dup) and Invoke replaces
// the constructor call; the argument code between them is never touched. Apply checks the
// replacement before changing anything:
//
//   - replacement instructions are fresh and carry well-formed operands
//   - no replacement instruction branches, returns or throws
//   - Alloc, the arguments and Invoke leave exactly one value
//   - that value has the static type the constructor produced
//
// References into the replaced prefix are relinked to the first Alloc instruction (or the first
// argument instruction when Alloc is empty), so a branch to the start of the expression still
// evaluates all of it.
//
// Sites nested in the argument code of another site are visited after it and are rewritten
// independently.
package weave
