// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package script

import (
	"context"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
)

var mon = monkit.Package()

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 60 * time.Second

// Func is a script implemented as a Go function.
type Func func(ctx context.Context, scope *Scope) (interface{}, error)

// FuncEngine executes scripts registered as Go functions, looked up by the
// script source string. Executions run with a wall-clock budget; scripts
// that overrun keep their goroutine until they observe ctx, but the caller
// gets ErrScript immediately.
type FuncEngine struct {
	log     *zap.Logger
	timeout time.Duration

	mu    sync.RWMutex
	funcs map[string]Func
}

// NewFuncEngine creates a FuncEngine with the given execution timeout; zero
// means DefaultTimeout.
func NewFuncEngine(log *zap.Logger, timeout time.Duration) *FuncEngine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FuncEngine{
		log:     log,
		timeout: timeout,
		funcs:   map[string]Func{},
	}
}

// Register binds a script source string to fn.
func (engine *FuncEngine) Register(source string, fn Func) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.funcs[source] = fn
}

// ExecuteFilter implements Engine.
func (engine *FuncEngine) ExecuteFilter(ctx context.Context, name, source string, scope *Scope) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if source == "" {
		return true, nil
	}
	result, err := engine.execute(ctx, name, source, scope)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case nil:
		return true, nil
	case bool:
		return v, nil
	default:
		return false, ErrScript.New("filter %s returned %T, want bool", name, result)
	}
}

// ExecuteTransformer implements Engine.
func (engine *FuncEngine) ExecuteTransformer(ctx context.Context, name, source string, scope *Scope) (err error) {
	defer mon.Task()(&ctx)(&err)

	if source == "" {
		return nil
	}
	_, err = engine.execute(ctx, name, source, scope)
	return err
}

// ExecuteResponseTransformer implements Engine.
func (engine *FuncEngine) ExecuteResponseTransformer(ctx context.Context, name, source string, scope *Scope) (err error) {
	defer mon.Task()(&ctx)(&err)

	if source == "" {
		return nil
	}
	_, err = engine.execute(ctx, name, source, scope)
	return err
}

// ExecuteScript implements Engine.
func (engine *FuncEngine) ExecuteScript(ctx context.Context, name, source string, scope *Scope) (_ interface{}, err error) {
	defer mon.Task()(&ctx)(&err)

	if source == "" {
		return nil, nil
	}
	return engine.execute(ctx, name, source, scope)
}

func (engine *FuncEngine) execute(ctx context.Context, name, source string, scope *Scope) (interface{}, error) {
	engine.mu.RLock()
	fn, ok := engine.funcs[source]
	engine.mu.RUnlock()
	if !ok {
		return nil, ErrScript.New("no function registered for script %s", name)
	}

	ctx, cancel := context.WithTimeout(ctx, engine.timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(ctx, scope)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		engine.log.Warn("script interrupted",
			zap.String("script", name), zap.Error(ctx.Err()))
		return nil, ErrScript.New("script %s interrupted: %v", name, ctx.Err())
	case out := <-done:
		if out.err != nil {
			return nil, ErrScript.Wrap(out.err)
		}
		return out.value, nil
	}
}
