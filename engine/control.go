// File: engine/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Satisfies api.Control and api.Debug by delegating to the Config's
// ConfigStore/DebugProbes, so a caller holding only an api.Control or
// api.Debug handle can drive live reconfiguration and introspection
// without reaching into engine internals.
package engine

import "github.com/momentics/saurion-go/api"

var (
	_ api.Control = (*Engine)(nil)
	_ api.Debug   = (*Engine)(nil)
)

// GetConfig returns a snapshot of the engine's dynamic configuration. Empty
// if the Engine was built without a ConfigStore.
func (e *Engine) GetConfig() map[string]any {
	if e.cfg.ConfigStore == nil {
		return map[string]any{}
	}
	return e.cfg.ConfigStore.GetSnapshot()
}

// SetConfig merges new values into the engine's ConfigStore and fires any
// registered reload listeners. A no-op if no ConfigStore is attached.
func (e *Engine) SetConfig(cfg map[string]any) error {
	if e.cfg.ConfigStore == nil {
		return nil
	}
	e.cfg.ConfigStore.SetConfig(cfg)
	return nil
}

// OnReload registers fn to run on every SetConfig call.
func (e *Engine) OnReload(fn func()) {
	if e.cfg.ConfigStore == nil {
		return
	}
	e.cfg.ConfigStore.OnReload(fn)
}

// Stats reports the engine's own runtime counters only; DumpState returns
// these plus every registered probe's value.
func (e *Engine) Stats() map[string]any {
	e.connMu.Lock()
	conns := len(e.conns)
	e.connMu.Unlock()
	return map[string]any{
		"connections":          conns,
		"outstanding_requests": e.allocList.Len(),
		"active_workers":       e.status.Count(),
	}
}

// RegisterDebugProbe registers a named probe on the engine's DebugProbes.
// A no-op if no DebugProbes is attached.
func (e *Engine) RegisterDebugProbe(name string, fn func() any) {
	e.RegisterProbe(name, fn)
}

// RegisterProbe implements api.Debug.
func (e *Engine) RegisterProbe(name string, fn func() any) {
	if e.cfg.DebugProbes == nil {
		return
	}
	e.cfg.DebugProbes.RegisterProbe(name, fn)
}

// DumpState implements api.Debug, returning every registered probe's
// current value plus the engine's own Stats.
func (e *Engine) DumpState() map[string]any {
	out := e.Stats()
	if e.cfg.DebugProbes != nil {
		for k, v := range e.cfg.DebugProbes.DumpState() {
			out[k] = v
		}
	}
	return out
}
