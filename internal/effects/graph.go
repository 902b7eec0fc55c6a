// Package effects manages a deck's chain of processing stages between the
// playback gain and the analyser tap.
package effects

import (
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/deckmix/internal/audio"
)

// RampTime is how long smoothed parameters take to reach a new value.
const RampTime = 100 * time.Millisecond

// Stage is one fixed processing stage of a deck.
type Stage struct {
	kind    Kind
	node    *audio.Node
	specs   []ParamSpec
	params  map[string]*audio.Param
	enabled bool
}

func (s *Stage) spec(name string) (ParamSpec, bool) {
	for _, p := range s.specs {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// StageState is a snapshot of a stage for reporting.
type StageState struct {
	Name    string             `json:"name"`
	Enabled bool               `json:"enabled"`
	Params  map[string]float64 `json:"params"`
}

// Graph owns every stage of one deck and keeps the wired chain equal to the
// declared order of the enabled stages. Disabled stages are disconnected.
type Graph struct {
	ctx   *audio.Context
	entry *audio.Node
	tap   *audio.Node

	mu     sync.Mutex
	stages [numKinds]*Stage
	byNode map[*audio.Node]*Stage
}

// New builds all stages and wires entry through the default chain into tap.
func New(ctx *audio.Context, entry, tap *audio.Node) *Graph {
	g := &Graph{
		ctx:    ctx,
		entry:  entry,
		tap:    tap,
		byNode: make(map[*audio.Node]*Stage, numKinds),
	}
	sr := float64(ctx.SampleRate())
	for _, k := range Kinds() {
		st := &Stage{
			kind:    k,
			specs:   schemas[k],
			params:  make(map[string]*audio.Param, len(schemas[k])),
			enabled: defaultEnabled[k],
		}
		for _, p := range st.specs {
			st.params[p.Name] = ctx.NewParam(p.Default, p.Min, p.Max)
		}
		st.node = ctx.NewNode(k.String(), newProcessor(k, st.params, sr))
		g.stages[k] = st
		g.byNode[st.node] = st
	}
	g.rebuildChain()
	return g
}

func (g *Graph) stage(name string) (*Stage, bool) {
	k, ok := ParseKind(name)
	if !ok {
		return nil, false
	}
	return g.stages[k], true
}

// Enable adds a stage to the chain.
func (g *Graph) Enable(name string) error {
	return g.setEnabled(name, true)
}

// Disable removes a stage from the chain and disconnects it.
func (g *Graph) Disable(name string) error {
	return g.setEnabled(name, false)
}

func (g *Graph) setEnabled(name string, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.stage(name)
	if !ok {
		return &InvalidParameterError{Stage: name, Err: ErrUnknownStage}
	}
	st.enabled = on
	g.rebuildChain()
	return nil
}

// Enabled reports whether the named stage is in the chain.
func (g *Graph) Enabled(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.stage(name)
	return ok && st.enabled
}

// rebuildChain disconnects every stage and relinks
// entry -> enabled stages in declared order -> tap in one atomic edit.
// Callers hold g.mu.
func (g *Graph) rebuildChain() {
	g.ctx.Edit(func(p *audio.Patch) {
		p.Disconnect(g.entry)
		for _, st := range g.stages {
			p.Detach(st.node)
		}
		last := g.entry
		for _, st := range g.stages {
			if st.enabled {
				p.Connect(last, st.node)
				last = st.node
			}
		}
		p.Connect(last, g.tap)
	})
}

// Chain returns the stages in the order they are physically wired.
func (g *Graph) Chain() []Kind {
	var out []Kind
	cur := g.entry
	for range numKinds + 1 {
		var next *Stage
		for _, o := range cur.Outputs() {
			if st, ok := g.byNode[o]; ok {
				next = st
				break
			}
		}
		if next == nil {
			break
		}
		out = append(out, next.kind)
		cur = next.node
	}
	return out
}

// SetParameter clamps value into the parameter's range and applies it.
// Smoothed parameters ramp over RampTime.
func (g *Graph) SetParameter(stage, param string, value float64) error {
	st, ok := g.stage(stage)
	if !ok {
		return &InvalidParameterError{Stage: stage, Param: param, Value: value, Err: ErrUnknownStage}
	}
	spec, ok := st.spec(param)
	if !ok {
		return &InvalidParameterError{Stage: stage, Param: param, Value: value, Err: ErrUnknownParam}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &InvalidParameterError{Stage: stage, Param: param, Value: value, Reason: "not a finite number"}
	}
	v := spec.clamp(value)
	if spec.Smoothed {
		st.params[param].LinearRampTo(v, RampTime)
	} else {
		st.params[param].SetValue(v)
	}
	return nil
}

// Parameter returns the value a parameter is set to (the ramp target while
// smoothing).
func (g *Graph) Parameter(stage, param string) (float64, error) {
	st, ok := g.stage(stage)
	if !ok {
		return 0, &InvalidParameterError{Stage: stage, Param: param, Err: ErrUnknownStage}
	}
	p, ok := st.params[param]
	if !ok {
		return 0, &InvalidParameterError{Stage: stage, Param: param, Err: ErrUnknownParam}
	}
	return p.Target(), nil
}

// Reset restores every parameter to its default. Smoothed parameters ramp
// there over RampTime. The enabled set is kept.
func (g *Graph) Reset() {
	for _, st := range g.stages {
		for _, spec := range st.specs {
			if spec.Smoothed {
				st.params[spec.Name].LinearRampTo(spec.Default, RampTime)
			} else {
				st.params[spec.Name].SetValue(spec.Default)
			}
		}
	}
}

// Stages reports every stage in declared order.
func (g *Graph) Stages() []StageState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]StageState, 0, numKinds)
	for _, st := range g.stages {
		s := StageState{Name: st.kind.String(), Enabled: st.enabled, Params: make(map[string]float64, len(st.specs))}
		for _, spec := range st.specs {
			s.Params[spec.Name] = st.params[spec.Name].Target()
		}
		out = append(out, s)
	}
	return out
}

// Close disconnects every stage and the entry node.
func (g *Graph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctx.Edit(func(p *audio.Patch) {
		p.Disconnect(g.entry)
		for _, st := range g.stages {
			p.Detach(st.node)
		}
	})
}
