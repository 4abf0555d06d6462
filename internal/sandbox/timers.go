package sandbox

import (
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

type timer struct {
	t        *time.Timer
	fn       goja.Callable
	args     []goja.Value
	interval time.Duration
}

// installTimers exposes setTimeout, setInterval and their clear functions.
// Callbacks run as event loop jobs.
func (r *Runtime) installTimers() {
	r.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return r.schedule(call, false)
	})
	r.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return r.schedule(call, true)
	})
	r.vm.Set("clearTimeout", r.clearTimer)
	r.vm.Set("clearInterval", r.clearTimer)
}

func (r *Runtime) schedule(call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("callback is not a function"))
	}

	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	r.nextTimer++
	id := r.nextTimer
	tm := &timer{fn: fn, args: args}
	if repeat {
		tm.interval = delay
		if tm.interval == 0 {
			tm.interval = time.Millisecond
		}
	}
	r.timers[id] = tm
	tm.t = time.AfterFunc(delay, func() {
		r.enqueue(func(*goja.Runtime) { r.fire(id) })
	})

	return r.vm.ToValue(id)
}

func (r *Runtime) fire(id int64) {
	tm, ok := r.timers[id]
	if !ok {
		return
	}
	if tm.interval > 0 {
		tm.t.Reset(tm.interval)
	} else {
		delete(r.timers, id)
	}

	if _, err := tm.fn(goja.Undefined(), tm.args...); err != nil {
		r.logger.Warn("Uncaught exception in timer callback", zap.Int64("timer", id), zap.Error(err))
	}
}

func (r *Runtime) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if tm, ok := r.timers[id]; ok {
		tm.t.Stop()
		delete(r.timers, id)
	}
	return goja.Undefined()
}

func (r *Runtime) stopTimers() {
	for id, tm := range r.timers {
		tm.t.Stop()
		delete(r.timers, id)
	}
}

// Timers returns the number of scheduled timers. It must be called from
// the event loop, e.g. inside Do.
func (r *Runtime) Timers() int {
	return len(r.timers)
}
