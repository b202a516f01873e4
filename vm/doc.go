// Package vm implements the bytevm virtual machine.
//
// This package contains:
//   - the tagged Value model and its container payloads
//   - iterators (range, sequence, keys, characters)
//   - the flat instruction format and function objects
//   - the frame stack and the dispatch loop
//   - host-bound builtins and the os, sys, math, time, json, subprocess
//     and socket namespaces
//
// Payloads are ordinary Go heap objects shared by copying a Value; the Go
// garbage collector owns their lifetime. A VM drops every reference a frame
// holds when that frame is popped.
package vm
