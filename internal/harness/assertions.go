package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cortex/internal/storage"
)

// evaluate runs one assertion and records any failure.
func (h *Harness) evaluate(ctx context.Context, where string, a Assertion) {
	switch a.Type {
	case AssertRowsByIden:
		rows, err := h.cx.RowsByIdentity(ctx, h.iden(a.Iden))
		h.checkRows(where, a, rows, err)

	case AssertRowsByProp, AssertJoinByProp:
		q, err := h.query(a.Prop, a.Value, a.MinTime, a.MaxTime, a.Limit)
		if err != nil {
			h.result.AddError("%s: %v", where, err)
			return
		}
		var rows []storage.Row
		if a.Type == AssertRowsByProp {
			rows, err = h.cx.RowsByProperty(ctx, q)
		} else {
			rows, err = h.cx.JoinByProperty(ctx, q)
		}
		h.checkRows(where, a, rows, err)

	case AssertSizeByProp:
		q, err := h.query(a.Prop, a.Value, a.MinTime, a.MaxTime, 0)
		if err != nil {
			h.result.AddError("%s: %v", where, err)
			return
		}
		n, err := h.cx.SizeByProperty(ctx, q)
		h.checkCount(where, a, n, err)

	case AssertRange, AssertSizeByRange:
		args := make([]storage.Value, len(a.Args))
		for i, raw := range a.Args {
			v, err := storage.ValueOf(raw)
			if err != nil {
				h.result.AddError("%s: args[%d]: %v", where, i, err)
				return
			}
			args[i] = v
		}
		if a.Type == AssertRange {
			rows, err := h.cx.RowsByRange(ctx, a.Name, a.Prop, a.Limit, args...)
			h.checkRows(where, a, rows, err)
			return
		}
		n, err := h.cx.SizeByRange(ctx, a.Name, a.Prop, args...)
		h.checkCount(where, a, n, err)

	case AssertBlob:
		val, err := h.cx.GetBlob(ctx, a.Key, nil)
		if !h.expectError(where, a.Error, err) {
			return
		}
		if val == nil {
			h.result.AddError("%s: blob %q is absent", where, a.Key)
		} else if string(val) != a.Blob {
			h.result.AddError("%s: blob %q = %q, want %q", where, a.Key, val, a.Blob)
		}

	case AssertBlobAbsent:
		has, err := h.cx.HasBlob(ctx, a.Key)
		if !h.expectError(where, a.Error, err) {
			return
		}
		if has {
			h.result.AddError("%s: blob %q is present", where, a.Key)
		}

	case AssertBlobKeys:
		keys, err := h.cx.BlobKeys(ctx)
		if !h.expectError(where, a.Error, err) {
			return
		}
		if !slices.Equal(keys, a.Keys) {
			h.result.AddError("%s: keys = %v, want %v", where, keys, a.Keys)
		}

	default:
		h.result.AddError("%s: unknown assertion type", where)
	}
}

// expectError reports whether evaluation should go on: err matched no
// expected error and there is a result to inspect.
func (h *Harness) expectError(where, want string, err error) bool {
	h.checkError(where, want, err)
	return err == nil && want == ""
}

func (h *Harness) checkCount(where string, a Assertion, n int, err error) {
	if !h.expectError(where, a.Error, err) {
		return
	}
	if a.Count != nil && n != *a.Count {
		h.result.AddError("%s: count = %d, want %d", where, n, *a.Count)
	}
}

func (h *Harness) checkRows(where string, a Assertion, rows []storage.Row, err error) {
	if !h.expectError(where, a.Error, err) {
		return
	}
	if a.Count != nil && len(rows) != *a.Count {
		h.result.AddError("%s: got %d rows, want %d: %s", where, len(rows), *a.Count, h.describe(rows))
	}
	if a.Values == nil {
		return
	}
	want := make([]storage.Value, len(a.Values))
	for i, raw := range a.Values {
		v, err := storage.ValueOf(raw)
		if err != nil {
			h.result.AddError("%s: values[%d]: %v", where, i, err)
			return
		}
		want[i] = v
	}
	got := make([]storage.Value, len(rows))
	for i, r := range rows {
		got[i] = r.Value
	}
	if !slices.EqualFunc(got, want, storage.Equal) {
		h.result.AddError("%s: values = %v, want %v", where, got, want)
	}
}

func (h *Harness) describe(rows []storage.Row) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("(%s, %s, %s, %d)", h.name(r.Identity), r.Prop, r.Value, r.Time)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
