package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/infrastructure/logging"
)

// ErrClosed is returned when work is submitted to a closed runtime.
var ErrClosed = errors.New("sandbox: runtime closed")

// Runtime is a goja VM driven by a single event loop goroutine. Every
// access to the VM happens on that goroutine; other goroutines submit jobs.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	logger *zap.Logger

	jobs    *jobQueue
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// Loop-owned state
	timers    map[int64]*timer
	nextTimer int64
	await     goja.Callable

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates a runtime and starts its event loop. logger receives console
// output; nil discards it.
func New(config Config, logger *zap.Logger) (*Runtime, error) {
	logger = logging.OrNop(logger)

	vm := goja.New()
	if config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}

	r := &Runtime{
		vm:      vm,
		config:  config,
		logger:  logger,
		jobs:    newJobQueue(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		timers:  make(map[int64]*timer),
	}

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}

	go r.loop()
	return r, nil
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	// Remove dangerous globals
	r.vm.Set("require", goja.Undefined())
	r.vm.Set("process", goja.Undefined())
	r.vm.Set("module", goja.Undefined())
	r.vm.Set("exports", goja.Undefined())

	// Page scripts address the global object as window.
	r.vm.Set("window", r.vm.GlobalObject())

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, level := range []string{"log", "debug", "info", "warn", "error"} {
			if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		r.vm.Set("console", console)
	}

	r.installTimers()

	v, err := r.vm.RunString(`(function (p, done) {
		p.then(function (v) { done(true, v); },
			function (e) { done(false, String(e && e.message !== undefined ? e.message : e)); });
	})`)
	if err != nil {
		return fmt.Errorf("install promise helper: %w", err)
	}
	r.await, _ = goja.AssertFunction(v)
	return nil
}

func (r *Runtime) loop() {
	defer close(r.stopped)
	defer r.stopTimers()

	for {
		j, ok := r.jobs.pop(r.done)
		if !ok {
			return
		}
		r.run(j)
	}
}

func (r *Runtime) run(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Event loop job panicked", zap.Any("panic", rec))
		}
	}()
	j(r.vm)
}

// enqueue schedules j on the event loop. It reports false once the runtime
// is closed.
func (r *Runtime) enqueue(j job) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	r.jobs.push(j)
	return true
}

// Do runs fn on the event loop and waits for it. It must not be called
// from the event loop itself.
func (r *Runtime) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	errCh := make(chan error, 1)
	if !r.enqueue(func(vm *goja.Runtime) {
		defer func() {
			if rec := recover(); rec != nil {
				errCh <- fmt.Errorf("sandbox: %v", rec)
			}
		}()
		errCh <- fn(vm)
	}) {
		return ErrClosed
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return ErrClosed
	}
}

// Execute runs script with the configured timeout. When the script
// evaluates to a promise, Execute waits for it to settle.
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	mark := r.consoleLen()
	result := &Result{}

	type settled struct {
		value interface{}
		err   error
	}
	settle := make(chan settled, 1)

	err := r.Do(ctx, func(vm *goja.Runtime) error {
		val, err := r.runInterruptible(ctx, func() (goja.Value, error) {
			return vm.RunString(script)
		})
		if err != nil {
			return err
		}

		p, ok := val.Export().(*goja.Promise)
		if !ok {
			settle <- settled{value: exportValue(val)}
			return nil
		}

		switch p.State() {
		case goja.PromiseStateFulfilled:
			settle <- settled{value: exportValue(p.Result())}
		case goja.PromiseStateRejected:
			settle <- settled{err: fmt.Errorf("promise rejected: %s", p.Result().String())}
		default:
			done := vm.ToValue(func(call goja.FunctionCall) goja.Value {
				if call.Argument(0).ToBoolean() {
					settle <- settled{value: exportValue(call.Argument(1))}
				} else {
					settle <- settled{err: fmt.Errorf("promise rejected: %s", call.Argument(1).String())}
				}
				return goja.Undefined()
			})
			if _, err := r.await(goja.Undefined(), val, done); err != nil {
				return err
			}
		}
		return nil
	})

	if err == nil {
		select {
		case s := <-settle:
			result.Value, err = s.value, s.err
		case <-ctx.Done():
			err = ctx.Err()
		case <-r.stopped:
			err = ErrClosed
		}
	}

	result.Duration = time.Since(start)
	result.Console = r.consoleSince(mark)
	if err != nil {
		result.Error = err
		return result, err
	}
	return result, nil
}

// runInterruptible runs fn on the loop, interrupting the VM if ctx ends
// first. It must be called from the event loop.
func (r *Runtime) runInterruptible(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	stop := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			r.vm.Interrupt("execution timeout exceeded")
		case <-r.done:
			r.vm.Interrupt("runtime closed")
		case <-stop:
		}
	}()

	val, err := fn()

	close(stop)
	<-watcher
	r.vm.ClearInterrupt()
	return val, err
}

// makeConsoleFunc creates a console function that records the entry and
// forwards it to the logger.
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	zapLevel := logging.ConsoleLevel(level)

	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		if ce := r.logger.Check(zapLevel, msg); ce != nil {
			ce.Write(zap.String("console", level))
		}
		return goja.Undefined()
	}
}

// Console returns every console entry recorded so far.
func (r *Runtime) Console() []LogEntry {
	return r.consoleSince(0)
}

func (r *Runtime) consoleLen() int {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return len(r.console)
}

func (r *Runtime) consoleSince(mark int) []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	if mark > len(r.console) {
		mark = len(r.console)
	}
	return append([]LogEntry{}, r.console[mark:]...)
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// Close stops the event loop, interrupting any running script, and waits
// for it to exit. Pending timers are cancelled.
func (r *Runtime) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.vm.Interrupt("runtime closed")
	})
	<-r.stopped
	return nil
}
