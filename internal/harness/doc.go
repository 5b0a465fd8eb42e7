// Package harness runs YAML conformance scenarios against a cortex.
//
// A scenario is a list of mutation steps followed by read assertions. The
// harness opens a cortex over the backend it is given, with a deterministic
// clock, records every domain event the steps produce, and evaluates the
// assertions against the final state. The event trace is rendered as text
// and compared against a golden file, so every backend has to produce the
// same trace for the same scenario.
//
// Identities are written as aliases (id1, host, ...). Each alias is bound to
// a fixed identity in order of first appearance and the trace prints the
// alias back.
//
// Example:
//
//	name: set_supersedes
//	description: set replaces the value and the timestamp
//	steps:
//	  - op: add
//	    rows:
//	      - {iden: id1, prop: foo, value: 10, time: 1}
//	  - {op: set, iden: id1, prop: foo, value: 20}
//	assertions:
//	  - {type: rows_by_prop, prop: foo, values: [20]}
package harness
