// Package storage defines the row data model shared by every cortex backend.
//
// A Row is a timestamped assertion (identity, property, value, time). Rows
// sharing an identity describe one logical object; rows sharing a property and
// value support reverse lookups. Values are a closed set: Int and Str.
//
// This package contains type definitions, validation, the error taxonomy and
// the Backend contract. It imports nothing internal; codec, index, ordered,
// sqlstore and cortex all build on it.
package storage
