package testutil

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/cortex/internal/storage"
)

// Iden returns a stable identity derived from n. Iden(1) is always the same
// value, which keeps golden output and failure messages readable.
func Iden(n int) storage.Identity {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-4000-8000-%012x", n))
}

// Row builds a row, converting v with storage.ValueOf. It panics on a value
// ValueOf rejects, which is always a bug in the test.
func Row(iden storage.Identity, prop string, v any, t uint64) storage.Row {
	val, err := storage.ValueOf(v)
	if err != nil {
		panic(err)
	}
	return storage.Row{Identity: iden, Prop: prop, Value: val, Time: t}
}

// Counter returns n rows of prop with values 0..n-1 at times start..start+n-1,
// each on its own identity.
func Counter(prop string, n int, start uint64) []storage.Row {
	rows := make([]storage.Row, n)
	for i := range rows {
		rows[i] = storage.Row{
			Identity: Iden(i + 1),
			Prop:     prop,
			Value:    storage.Int(i),
			Time:     start + uint64(i),
		}
	}
	return rows
}
