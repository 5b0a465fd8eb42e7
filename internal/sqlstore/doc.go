// Package sqlstore implements storage.Backend over a relational database.
//
// Rows live in one wide table (iden, prop, strval, intval, tstamp) with
// native indices in place of the explicit index tables used by the ordered
// backends. A unique index on (iden, prop) enforces the single-valued
// identity/property slot. Values are split by kind across strval and intval
// and folded back into one typed value on read.
//
// Two dialects are supported: sqlite through mattn/go-sqlite3 and postgres
// through the pgx stdlib driver. Both sort text bytewise so range scans
// return the same order as the ordered backends.
//
// Timestamps are stored as signed 64-bit integers; rows with a time above
// math.MaxInt64 are rejected.
package sqlstore
