package rule

import (
	"sync/atomic"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/bus"
)

// Logger is the minimal logging interface the rule engine needs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

// dispatchFunc hands a fully processed event to the sink layer.
type dispatchFunc func(ev bus.Event, rule *Rule)

// chain is an immutable compiled form of a rule's node pipeline.
//
// A chain is built once when its rule version is installed and never
// mutated afterwards. Replacing a rule compiles a fresh chain; the old
// one is retired so deferred work (time-window flushes) can tell it is
// stale and discard itself.
type chain struct {
	rule     *Rule
	version  int
	nodes    []node
	dispatch dispatchFunc

	retired atomic.Bool
}

func compileChain(r *Rule, logger Logger, scriptTimeout time.Duration, dispatch dispatchFunc) (*chain, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &chain{
		rule:     r,
		version:  r.Version,
		dispatch: dispatch,
	}
	nodes := make([]node, 0, len(r.Nodes))
	for i, spec := range r.Nodes {
		n, err := compileNode(spec, i, c, logger, scriptTimeout)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	c.nodes = nodes
	return c, nil
}

// evaluate pushes an event through the whole chain.
func (c *chain) evaluate(ev bus.Event) {
	c.run(0, ev)
}

// run pushes an event through the chain starting at node index start.
// Aggregate nodes re-enter here when a time window flushes, resuming
// after themselves.
func (c *chain) run(start int, ev bus.Event) {
	cur := &ev
	for i := start; i < len(c.nodes); i++ {
		cur = c.nodes[i].process(cur)
		if cur == nil {
			return
		}
	}
	if c.dispatch != nil {
		c.dispatch(*cur, c.rule)
	}
}

func (c *chain) isRetired() bool {
	return c.retired.Load()
}

// retire marks the chain stale. In-flight evaluations against the old
// chain complete normally; pending time windows check this flag and
// discard themselves. Interpreter state is reclaimed by the garbage
// collector once the last reference drops.
func (c *chain) retire() {
	c.retired.Store(true)
}
