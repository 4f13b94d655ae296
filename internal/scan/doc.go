// Package scan recognizes construction expressions in method bodies.
//
// A candidate starts at every new instruction. It becomes a CallSite when the allocation is
// duplicated, the argument code that follows is straight-line and stack-balanced, nothing jumps
// into it, and the storage is consumed by a constructor of the allocated type. Every other
// candidate is reported as a MalformedError and left alone.
package scan
