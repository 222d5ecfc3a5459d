package rule

import (
	"encoding/json"
	"testing"
	"time"
)

func compileTestScript(t *testing.T, source string) *scriptNode {
	t.Helper()
	params, _ := json.Marshal(scriptParams{Source: source})
	n, err := compileScript(params, noopLogger{}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("compileScript(%q): %v", source, err)
	}
	return n
}

func TestScriptNodeBooleanFilters(t *testing.T) {
	n := compileTestScript(t, "value > 50")

	if out := n.process(testEvent(60.0)); out == nil {
		t.Error("true result vetoed event")
	}
	if out := n.process(testEvent(40.0)); out != nil {
		t.Error("false result passed event")
	}
}

func TestScriptNodeReplacesValue(t *testing.T) {
	n := compileTestScript(t, "value * 2 + 1")

	out := n.process(testEvent(10.0))
	if out == nil {
		t.Fatal("script vetoed event")
	}
	if out.Value.(float64) != 21.0 {
		t.Errorf("value = %v, want 21", out.Value)
	}
}

func TestScriptNodeSeesEventGlobals(t *testing.T) {
	n := compileTestScript(t, `device == "dev-1" and point == "pt-1" and quality == "good" and hops == 0`)

	if out := n.process(testEvent(1.0)); out == nil {
		t.Error("globals did not match event fields")
	}
}

func TestScriptNodeNilResultVetoes(t *testing.T) {
	n := compileTestScript(t, "nil")

	if out := n.process(testEvent(1.0)); out != nil {
		t.Error("nil result passed event")
	}
}

func TestScriptNodeRuntimeErrorVetoes(t *testing.T) {
	// Indexing a number fails at runtime, not at compile time.
	n := compileTestScript(t, "value.x")

	if out := n.process(testEvent(1.0)); out != nil {
		t.Error("runtime error passed event")
	}
}

func TestScriptNodeStringValues(t *testing.T) {
	n := compileTestScript(t, `value == "open"`)

	if out := n.process(testEvent("open")); out == nil {
		t.Error("string comparison failed")
	}
	if out := n.process(testEvent("closed")); out != nil {
		t.Error("mismatched string passed")
	}
}
