// Package cell implements the brick value model.
//
// This package contains:
//   - The flat Cell representation shared by every layer
//   - Datatype enumeration and 64-bit type masks
//   - Word binding descriptors
//   - The atom (interned name) table
//   - The buffer store: an arena of blocks, strings and host objects
//     addressed by integer id, with hold/release pinning and mark-sweep
package cell
