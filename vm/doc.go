// Package vm implements the brick evaluation engine.
//
// This package contains:
//   - Env: shared atoms, buffer store, module table, datatype table and natives
//   - Thread: per-thread value stack, frame table and pending exception
//   - The word binding resolver
//   - The recursive block evaluator and the function-call protocol that
//     runs argument programs against live input
//   - The built-in native functions
//
// Blocks are evaluated directly; only argument fetching is compiled. Every
// evaluation step returns an error, and a non-nil error is always the
// thread's pending *Exception.
package vm
