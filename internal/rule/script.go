package rule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/fieldline-io/fieldline-core/internal/bus"
)

type scriptParams struct {
	Source string `json:"source"`
}

// scriptNode evaluates a Lua expression against each event.
//
// The expression sees the globals value, device, point, quality, and
// hops. A boolean result acts as a filter; any other non-nil result
// replaces the event value. nil results and runtime errors veto the
// event.
type scriptNode struct {
	source  string
	logger  Logger
	timeout time.Duration

	// One interpreter per node, serialized. LStates are not safe for
	// concurrent use.
	state *lua.LState
	sem   chan struct{}
}

func compileScript(params json.RawMessage, logger Logger, timeout time.Duration) (*scriptNode, error) {
	var p scriptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: script params: %w", ErrInvalidNode, err)
	}
	if p.Source == "" {
		return nil, fmt.Errorf("%w: empty script source", ErrInvalidNode)
	}

	state := lua.NewState(lua.Options{SkipOpenLibs: false})

	// Compile eagerly so a broken expression fails the rule update, not
	// the first event.
	if _, err := state.LoadString("return " + p.Source); err != nil {
		state.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidNode, err)
	}

	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	return &scriptNode{
		source:  p.Source,
		logger:  logger,
		timeout: timeout,
		state:   state,
		sem:     sem,
	}, nil
}

func (n *scriptNode) process(ev *bus.Event) *bus.Event {
	result, err := n.eval(ev)
	if err != nil {
		n.logger.Warn("script node vetoed event", "device", ev.DeviceID, "point", ev.PointID, "error", err)
		return nil
	}

	switch r := result.(type) {
	case nil:
		return nil
	case bool:
		if !r {
			return nil
		}
		return ev
	default:
		ev.Value = r
		return ev
	}
}

func (n *scriptNode) eval(ev *bus.Event) (interface{}, error) {
	<-n.sem
	defer func() { n.sem <- struct{}{} }()

	L := n.state
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	L.SetContext(ctx)

	L.SetGlobal("value", toLua(L, ev.Value))
	L.SetGlobal("device", lua.LString(ev.DeviceID))
	L.SetGlobal("point", lua.LString(ev.PointID))
	L.SetGlobal("quality", lua.LString(string(ev.Quality)))
	L.SetGlobal("hops", lua.LNumber(ev.Hops))

	if err := L.DoString("return " + n.source); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

func toLua(L *lua.LState, v interface{}) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	default:
		return lua.LString(fmt.Sprintf("%v", x))
	}
}

func fromLua(v lua.LValue) interface{} {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	default:
		return nil
	}
}
