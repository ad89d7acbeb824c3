// Package workflow implements a superstep-driven dialogue engine.
//
// A workflow is a set of named steps over a shared, schema-validated
// state. Each superstep runs exactly one step, merges its partial
// update through per-field reducers, streams any new assistant output,
// checkpoints the merged state, then picks the next step from the
// step's own decision or its registered router. A turn ends when a
// step halts (awaiting user input) or a nested workflow defers back to
// its parent.
//
// Whole workflows nest as single steps via SubWorkflowStep, sharing
// the parent's state and stream.
package workflow
