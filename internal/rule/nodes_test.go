package rule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/point"
)

func testEvent(value interface{}) *bus.Event {
	return &bus.Event{
		DeviceID:  "dev-1",
		PointID:   "pt-1",
		Value:     value,
		Quality:   point.QualityGood,
		Timestamp: time.Now(),
	}
}

func mustCompile(t *testing.T, spec NodeSpec, c *chain) node {
	t.Helper()
	n, err := compileNode(spec, 0, c, noopLogger{}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("compileNode: %v", err)
	}
	return n
}

func TestFilterNodeOperators(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		limit    interface{}
		value    interface{}
		pass     bool
	}{
		{"gt above", "gt", 50.0, 60.0, true},
		{"gt at threshold", "gt", 50.0, 50.0, false},
		{"gte at threshold", "gte", 50.0, 50.0, true},
		{"lt below", "lt", 50.0, 49.9, true},
		{"lte above", "lte", 50.0, 50.1, false},
		{"eq numeric coercion", "eq", 21.0, 21, true},
		{"ne differs", "ne", 21.0, 22.0, true},
		{"eq strings", "eq", "on", "on", true},
		{"gt non-numeric vetoes", "gt", 50.0, "high", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, _ := json.Marshal(filterParams{Operator: tt.operator, Value: tt.limit})
			n := mustCompile(t, NodeSpec{Type: NodeFilter, Params: params}, nil)

			out := n.process(testEvent(tt.value))
			if got := out != nil; got != tt.pass {
				t.Errorf("filter %s %v against %v: passed=%v, want %v",
					tt.operator, tt.limit, tt.value, got, tt.pass)
			}
		})
	}
}

func TestFilterCoercesNativeIntegerWidths(t *testing.T) {
	params, _ := json.Marshal(filterParams{Operator: "gt", Value: 50.0})
	n := mustCompile(t, NodeSpec{Type: NodeFilter, Params: params}, nil)

	// Values in the widths adapters decode to must compare, not veto.
	values := []interface{}{
		int16(60), int32(60), int64(60),
		uint16(60), uint32(60), uint64(60),
	}
	for _, v := range values {
		if out := n.process(testEvent(v)); out == nil {
			t.Errorf("filter vetoed %T(%v)", v, v)
		}
	}
}

func TestFilterNodeRejectsUnknownOperator(t *testing.T) {
	params := json.RawMessage(`{"operator":"between","value":5}`)
	_, err := compileNode(NodeSpec{Type: NodeFilter, Params: params}, 0, nil, noopLogger{}, 0)
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestTransformNodeScalesAndOffsets(t *testing.T) {
	params := json.RawMessage(`{"scale":0.1,"offset":2}`)
	n := mustCompile(t, NodeSpec{Type: NodeTransform, Params: params}, nil)

	out := n.process(testEvent(123.0))
	if out == nil {
		t.Fatal("transform absorbed event")
	}
	got := out.Value.(float64)
	if got < 14.29 || got > 14.31 {
		t.Errorf("transformed value = %v, want 14.3", got)
	}
}

func TestTransformNodePassesNonNumeric(t *testing.T) {
	params := json.RawMessage(`{"scale":2}`)
	n := mustCompile(t, NodeSpec{Type: NodeTransform, Params: params}, nil)

	out := n.process(testEvent("open"))
	if out == nil {
		t.Fatal("transform absorbed non-numeric event")
	}
	if out.Value != "open" {
		t.Errorf("non-numeric value changed to %v", out.Value)
	}
}

func TestAggregateCountWindow(t *testing.T) {
	params := json.RawMessage(`{"window":"count","size":3,"reducer":"avg"}`)
	n := mustCompile(t, NodeSpec{Type: NodeAggregate, Params: params}, nil)

	if out := n.process(testEvent(10.0)); out != nil {
		t.Fatal("window emitted before filling")
	}
	if out := n.process(testEvent(20.0)); out != nil {
		t.Fatal("window emitted before filling")
	}
	out := n.process(testEvent(30.0))
	if out == nil {
		t.Fatal("full window did not emit")
	}
	if out.Value.(float64) != 20.0 {
		t.Errorf("avg = %v, want 20", out.Value)
	}

	// The window resets after a flush.
	if out := n.process(testEvent(5.0)); out != nil {
		t.Fatal("window did not reset after flush")
	}
}

func TestReducers(t *testing.T) {
	values := []float64{4, 1, 7, 2}
	tests := []struct {
		reducer string
		want    float64
	}{
		{"avg", 3.5},
		{"sum", 14},
		{"min", 1},
		{"max", 7},
		{"count", 4},
		{"last", 2},
	}
	for _, tt := range tests {
		if got := reduce(tt.reducer, values); got != tt.want {
			t.Errorf("reduce(%s) = %v, want %v", tt.reducer, got, tt.want)
		}
	}
}

func TestAggregateTimeWindowFlushes(t *testing.T) {
	var got []bus.Event
	done := make(chan struct{})
	c := &chain{
		rule: &Rule{ID: "r1"},
		dispatch: func(ev bus.Event, _ *Rule) {
			got = append(got, ev)
			close(done)
		},
	}

	params := json.RawMessage(`{"window":"time","duration_ms":30,"reducer":"sum"}`)
	n, err := compileNode(NodeSpec{Type: NodeAggregate, Params: params}, 0, c, noopLogger{}, 0)
	if err != nil {
		t.Fatalf("compileNode: %v", err)
	}
	c.nodes = []node{n}

	if out := n.process(testEvent(5.0)); out != nil {
		t.Fatal("time window emitted synchronously")
	}
	n.process(testEvent(7.0))

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("time window never flushed")
	}
	if len(got) != 1 || got[0].Value.(float64) != 12.0 {
		t.Errorf("flushed events = %+v, want one event with sum 12", got)
	}
}

func TestAggregateTimeWindowDiscardedWhenRetired(t *testing.T) {
	dispatched := make(chan bus.Event, 1)
	c := &chain{
		rule:     &Rule{ID: "r1"},
		dispatch: func(ev bus.Event, _ *Rule) { dispatched <- ev },
	}

	params := json.RawMessage(`{"window":"time","duration_ms":20,"reducer":"sum"}`)
	n, err := compileNode(NodeSpec{Type: NodeAggregate, Params: params}, 0, c, noopLogger{}, 0)
	if err != nil {
		t.Fatalf("compileNode: %v", err)
	}
	c.nodes = []node{n}

	n.process(testEvent(5.0))
	c.retire()

	select {
	case ev := <-dispatched:
		t.Fatalf("retired chain flushed window: %+v", ev)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestAggregateDropsNonNumeric(t *testing.T) {
	params := json.RawMessage(`{"window":"count","size":1,"reducer":"last"}`)
	n := mustCompile(t, NodeSpec{Type: NodeAggregate, Params: params}, nil)

	if out := n.process(testEvent("text")); out != nil {
		t.Fatal("aggregate passed a non-numeric sample")
	}
}

func TestCompileNodeValidation(t *testing.T) {
	tests := []struct {
		name string
		spec NodeSpec
	}{
		{"unknown type", NodeSpec{Type: "pivot", Params: json.RawMessage(`{}`)}},
		{"count window without size", NodeSpec{Type: NodeAggregate, Params: json.RawMessage(`{"window":"count","reducer":"avg"}`)}},
		{"time window without duration", NodeSpec{Type: NodeAggregate, Params: json.RawMessage(`{"window":"time","reducer":"avg"}`)}},
		{"bad reducer", NodeSpec{Type: NodeAggregate, Params: json.RawMessage(`{"window":"count","size":2,"reducer":"median"}`)}},
		{"empty script", NodeSpec{Type: NodeScript, Params: json.RawMessage(`{"source":""}`)}},
		{"broken script", NodeSpec{Type: NodeScript, Params: json.RawMessage(`{"source":"value >"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := compileNode(tt.spec, 0, nil, noopLogger{}, 0); err == nil {
				t.Error("expected compile error")
			}
		})
	}
}
