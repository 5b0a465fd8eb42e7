package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/cortex"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/testutil"
)

// ClockStart is the millisecond the harness clock starts from. Opening the
// cortex consumes the first tick, so the first set step is stamped
// ClockStart+2.
const ClockStart = 1000

var errorKinds = map[string]error{
	"bad_value_type":         storage.ErrBadValueType,
	"inconsistent":           storage.ErrDatabaseInconsistent,
	"no_such_name":           storage.ErrNoSuchName,
	"no_such_access_pattern": storage.ErrNoSuchAccessPattern,
	"not_implemented":        storage.ErrNotImplemented,
}

// Harness executes one scenario against one cortex.
type Harness struct {
	cx      *cortex.Cortex
	aliases map[string]storage.Identity
	names   map[storage.Identity]string
	result  *Result
}

// Run executes scenario against a fresh cortex over backend. The backend is
// closed when Run returns.
func Run(ctx context.Context, backend storage.Backend, scenario *Scenario) (*Result, error) {
	clock := testutil.NewDeterministicClock(ClockStart)
	opts := []cortex.Option{cortex.WithClock(clock.Now), cortex.WithName(scenario.Name)}
	if scenario.XactSize > 0 {
		opts = append(opts, cortex.WithXactSize(scenario.XactSize))
	}
	cx, err := cortex.New(ctx, backend, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "open cortex")
	}
	defer cx.Close()

	h := &Harness{
		cx:      cx,
		aliases: make(map[string]storage.Identity),
		names:   make(map[storage.Identity]string),
		result:  NewResult(),
	}
	h.bindAliases(scenario)
	h.subscribe()

	for i, step := range scenario.Steps {
		err := h.execute(ctx, step)
		h.checkError(fmt.Sprintf("steps[%d] %s", i, step.Op), step.Error, err)
		slog.Debug("scenario step", "scenario", scenario.Name, "step", i, "op", step.Op, "error", err)
	}
	for i, a := range scenario.Assertions {
		h.evaluate(ctx, fmt.Sprintf("assertions[%d] %s", i, a.Type), a)
	}
	return h.result, nil
}

// bindAliases assigns identities in order of first appearance.
func (h *Harness) bindAliases(sc *Scenario) {
	bind := func(alias string) {
		if alias == "" {
			return
		}
		if _, ok := h.aliases[alias]; ok {
			return
		}
		iden := testutil.Iden(len(h.aliases) + 1)
		h.aliases[alias] = iden
		h.names[iden] = alias
	}
	for _, st := range sc.Steps {
		bind(st.Iden)
		for _, r := range st.Rows {
			bind(r.Iden)
		}
	}
	for _, a := range sc.Assertions {
		bind(a.Iden)
	}
}

func (h *Harness) iden(alias string) storage.Identity {
	return h.aliases[alias]
}

func (h *Harness) name(iden storage.Identity) string {
	if n, ok := h.names[iden]; ok {
		return n
	}
	return iden.String()
}

func (h *Harness) subscribe() {
	trace := func(detail func(payload any) string) cortex.Handler {
		return func(_ context.Context, name string, payload any) error {
			h.result.Trace = append(h.result.Trace, TraceEvent{Event: name, Detail: detail(payload)})
			return nil
		}
	}
	h.cx.On(cortex.EventRowAdd, trace(func(p any) string {
		rows := p.(cortex.RowsAdded).Rows
		parts := make([]string, len(rows))
		for i, r := range rows {
			parts[i] = fmt.Sprintf("(%s, %s, %s, %d)", h.name(r.Identity), r.Prop, r.Value, r.Time)
		}
		return strings.Join(parts, " ")
	}))
	h.cx.On(cortex.EventRowDel, trace(func(p any) string {
		ev := p.(cortex.RowsDeleted)
		switch {
		case ev.Query != nil:
			return fmt.Sprintf("prop=%s count=%d", ev.Query.Prop, ev.Count)
		case ev.Prop != "":
			return fmt.Sprintf("%s.%s count=%d", h.name(ev.Identity), ev.Prop, ev.Count)
		default:
			return fmt.Sprintf("%s count=%d", h.name(ev.Identity), ev.Count)
		}
	}))
	blob := func(p any) string {
		ev := p.(cortex.BlobChanged)
		return fmt.Sprintf("%q %q", ev.Key, ev.Value)
	}
	h.cx.On(cortex.EventBlobSet, trace(blob))
	h.cx.On(cortex.EventBlobDel, trace(blob))
}

// value converts a YAML scalar. A missing value stays nil so the backend
// can reject it.
func value(v any) (storage.Value, error) {
	if v == nil {
		return nil, nil
	}
	return storage.ValueOf(v)
}

func (h *Harness) query(prop string, v any, minTime, maxTime uint64, limit int) (storage.Query, error) {
	val, err := value(v)
	if err != nil {
		return storage.Query{}, err
	}
	return storage.Query{Prop: prop, Value: val, MinTime: minTime, MaxTime: maxTime, Limit: limit}, nil
}

func (h *Harness) execute(ctx context.Context, st Step) error {
	switch st.Op {
	case OpAdd:
		rows := make([]storage.Row, len(st.Rows))
		for i, r := range st.Rows {
			v, err := value(r.Value)
			if err != nil {
				return err
			}
			rows[i] = storage.Row{Identity: h.iden(r.Iden), Prop: r.Prop, Value: v, Time: r.Time}
		}
		return h.cx.AddRows(ctx, rows)

	case OpSet:
		v, err := value(st.Value)
		if err != nil {
			return err
		}
		_, err = h.cx.SetRowByIdentityProperty(ctx, h.iden(st.Iden), st.Prop, v)
		return err

	case OpDelIden:
		_, err := h.cx.DeleteRowsByIdentity(ctx, h.iden(st.Iden))
		return err

	case OpDelIdenProp:
		v, err := value(st.Value)
		if err != nil {
			return err
		}
		_, err = h.cx.DeleteRowsByIdentityProperty(ctx, h.iden(st.Iden), st.Prop, v)
		return err

	case OpDelProp, OpDelJoin:
		q, err := h.query(st.Prop, st.Value, st.MinTime, st.MaxTime, 0)
		if err != nil {
			return err
		}
		if st.Op == OpDelProp {
			_, err = h.cx.DeleteRowsByProperty(ctx, q)
		} else {
			_, err = h.cx.DeleteJoinByProperty(ctx, q)
		}
		return err

	case OpBlobSet:
		return h.cx.SetBlob(ctx, st.Key, []byte(st.Blob))

	case OpBlobDel:
		_, err := h.cx.DelBlob(ctx, st.Key)
		return err

	default:
		return errors.Newf("unknown op %q", st.Op)
	}
}

// checkError compares err with the expected error kind and records a
// failure on mismatch.
func (h *Harness) checkError(where, want string, err error) {
	switch {
	case want == "" && err != nil:
		h.result.AddError("%s: unexpected error: %v", where, err)
	case want != "" && err == nil:
		h.result.AddError("%s: expected %s error, got none", where, want)
	case want != "" && !errors.Is(err, errorKinds[want]):
		h.result.AddError("%s: expected %s error, got: %v", where, want, err)
	}
}
