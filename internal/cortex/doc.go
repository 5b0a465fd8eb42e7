// Package cortex is the public face of the row storage engine.
//
// A Cortex stores (identity, property, value, time) rows in one of several
// interchangeable backends and answers the four access patterns the graph
// layer needs: rows by identity, rows by property with an optional value and
// time range, named value ranges, and joins from a matching property back to
// every row of the matching identities.
//
// Every mutation runs inside a transaction from package xact. Domain events
// (row:add, row:del, blob:set, blob:del) and save events are queued on the
// transaction and delivered to subscribers only after the unit that produced
// them commits. A savefile.Writer subscribed to the save event records a log
// that Replay applies to an empty cortex to rebuild identical state.
//
// Backends are selected by URL:
//
//	mem://                 in-memory ordered store
//	pebble:///path/to/dir  pebble ordered store
//	sqlite:///path/to/db   sqlite wide table
//	postgres://...         postgres wide table
package cortex
