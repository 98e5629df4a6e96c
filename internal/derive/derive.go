// Package derive evaluates user-replaceable Lua scripts that turn a band-power
// snapshot into named derived metrics (ratios, relative powers, indices).
//
// A script defines a global function derive(bands) and publishes values by
// calling emit(name, value). Non-finite values are discarded.
package derive

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/eegstream/internal/bandpower"
)

// EntryPoint is the global function every script must define.
const EntryPoint = "derive"

// ScriptError describes a failure to load or run a derive script.
type ScriptError struct {
	Type    string // "syntax", "runtime", "api"
	Source  string
	Message string
}

func (e *ScriptError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("lua %s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("lua %s error in %s: %s", e.Type, e.Source, e.Message)
}

// Is matches ScriptErrors by Type.
func (e *ScriptError) Is(target error) bool {
	var t *ScriptError
	if errors.As(target, &t) {
		return e.Type == t.Type
	}
	return false
}

var (
	ErrSyntax  = &ScriptError{Type: "syntax"}
	ErrRuntime = &ScriptError{Type: "runtime"}
	ErrAPI     = &ScriptError{Type: "api"}
)

// Metrics holds derived values in emission order.
type Metrics = orderedmap.OrderedMap[string, float64]

// Engine owns one Lua state. Derive calls are serialized.
type Engine struct {
	mu      sync.Mutex
	state   *lua.State
	source  string
	logger  *logrus.Logger
	current *Metrics
	skipped int
}

// New loads script (named source in error messages) and checks that it defines derive.
func New(script, source string, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if script == "" {
		return nil, &ScriptError{Type: "api", Source: source, Message: "empty script"}
	}

	e := &Engine{
		state:  lua.NewState(),
		source: source,
		logger: logger,
	}
	e.state.OpenLibs()
	e.registerEmit()

	if err := e.state.DoString(script); err != nil {
		e.state.Close()
		return nil, &ScriptError{Type: "syntax", Source: source, Message: err.Error()}
	}

	e.state.GetGlobal(EntryPoint)
	isFn := e.state.IsFunction(-1)
	e.state.Pop(1)
	if !isFn {
		e.state.Close()
		return nil, &ScriptError{Type: "api", Source: source, Message: fmt.Sprintf("function %s not defined", EntryPoint)}
	}

	logger.WithField("source", source).Debug("Derive script loaded")
	return e, nil
}

// NewFromFile loads a derive script from disk.
func NewFromFile(path string, logger *logrus.Logger) (*Engine, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return New(string(content), path, logger)
}

func (e *Engine) registerEmit() {
	e.state.PushGoFunction(func(L *lua.State) int {
		if !L.IsString(1) || !L.IsNumber(2) {
			L.RaiseError("emit(name, value) expects a string and a number")
			return 0
		}
		name := L.ToString(1)
		v := L.ToNumber(2)
		if e.current == nil {
			return 0
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			e.skipped++
			return 0
		}
		e.current.Set(name, v)
		return 0
	})
	e.state.SetGlobal("emit")
}

// Derive runs the script on s and returns the emitted metrics.
func (e *Engine) Derive(s bandpower.Snapshot) (*Metrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return nil, &ScriptError{Type: "api", Source: e.source, Message: "engine closed"}
	}

	L := e.state
	top := L.GetTop()
	defer L.SetTop(top)

	e.current = orderedmap.New[string, float64]()
	e.skipped = 0
	defer func() { e.current = nil }()

	L.GetGlobal(EntryPoint)
	L.NewTable()
	for _, b := range bandpower.Bands {
		L.PushNumber(s.Get(b))
		L.SetField(-2, b.String())
	}
	L.PushNumber(s.Total())
	L.SetField(-2, "total")

	if err := L.Call(1, 0); err != nil {
		return nil, &ScriptError{Type: "runtime", Source: e.source, Message: err.Error()}
	}

	if e.skipped > 0 {
		e.logger.WithFields(logrus.Fields{
			"source":  e.source,
			"skipped": e.skipped,
		}).Debug("Dropped non-finite derived metrics")
	}
	return e.current, nil
}

// Close releases the Lua state. Derive fails afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}
