// Package codec encodes rows into byte-comparable keys.
//
// Three value encodings share one keyspace and sort correctly relative to
// each other, so a single property+value+time index serves both point
// lookups and ordered range scans:
//
//	0x12 <escaped bytes> 0x00 0x01   strings
//	0x80..0x87 <1-8 bytes>           negative integers, wider first
//	0x88..0xf5                       integers 0..109 in the marker byte
//	0xf6..0xfd <1-8 bytes>           larger non-negative integers
//
// Inside a string 0x00 is escaped as 0x00 0xff, so the terminator never
// appears in the payload and no encoded value is a prefix of another.
//
// Identities are 16 raw bytes, times and primary keys are 8 bytes
// big-endian. The property/time and property/value/time index keys end with
// the owning primary key, since many rows can share the leading columns.
package codec
