// Command cortex inspects and maintains cortex row stores.
//
// Usage:
//
//	# Show version, creation time and row counts
//	cortex stat --url sqlite:///var/lib/cortex.db --prop kind
//
//	# Dump rows of a property to a savefile and load them elsewhere
//	cortex dump kind --url sqlite:///var/lib/cortex.db --out kind.sav
//	cortex load kind.sav --url pebble:///var/lib/cortex
//
//	# Run conformance scenarios against a scratch pebble store
//	cortex test ./internal/harness/testdata/scenarios --backend pebble
package main

import "github.com/roach88/cortex/internal/cli"

func main() {
	cli.Execute()
}
