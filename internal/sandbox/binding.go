package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/bridge"
)

// ErrBridgeExists is returned when a bridge object for the same id is
// already present in the runtime. The existing object is kept.
var ErrBridgeExists = errors.New("sandbox: bridge object already installed")

// bridgeGlue builds window.TerabithiaBridge[id]. It returns a control object
// for the host, or null when the id is taken.
const bridgeGlue = `(function (global, id, domain, native) {
	var registry = global.TerabithiaBridge || (global.TerabithiaBridge = {});
	if (registry[id]) {
		if (global.console) {
			console.error(id + ": TerabithiaBridge already exists for this Extension ID. " +
				"You are attempting to insert the TERABITHIA framework more than once or another extension is conflicting with yours.");
		}
		return null;
	}

	function encode(data) {
		var s = JSON.stringify(data === undefined ? {} : data);
		return s === undefined ? "" : s;
	}

	var bridge = {
		handlers: {},
		functions: {},
		addHandlers: function (handlers) {
			if (handlers === null || typeof handlers !== "object") {
				throw new TypeError("addHandlers expects an object of functions");
			}
			var names = Object.keys(handlers);
			for (var i = 0; i < names.length; i++) {
				if (typeof handlers[names[i]] !== "function") {
					throw new TypeError("Handler for " + names[i] + " is not a function");
				}
			}
			native.register(handlers);
			for (var j = 0; j < names.length; j++) {
				bridge.handlers[names[j]] = handlers[names[j]];
			}
		},
		execute: function (command, data) {
			return native.call(String(command), encode(data));
		}
	};
	bridge[domain === "ISOLATED" ? "executeInMain" : "executeInIsolated"] = bridge.execute;
	registry[id] = bridge;

	return {
		installProxy: function (command) {
			bridge.functions[command] = function (data) {
				return native.call(command, encode(data));
			};
		}
	};
})`

// invokeGlue runs a JS handler and reports its settled, JSON-encoded result.
const invokeGlue = `(function (fn, payload, done) {
	Promise.resolve()
		.then(function () { return fn(payload === "" ? undefined : JSON.parse(payload)); })
		.then(function (r) { var s = JSON.stringify(r); return s === undefined ? "null" : s; })
		.then(function (s) { done(true, s); },
			function (e) { done(false, String(e && e.message !== undefined ? e.message : e)); });
})`

// Binding exposes an endpoint to JavaScript as window.TerabithiaBridge[id].
type Binding struct {
	rt     *Runtime
	ctx    context.Context
	id     bridge.BridgeID
	domain bridge.Domain
	logger *zap.Logger

	mu       sync.RWMutex
	endpoint *bridge.Endpoint

	// Loop-owned
	control goja.Value
	invoke  goja.Callable
	parse   goja.Callable
}

// Bind creates the bridge object in rt. Attach must be called before scripts
// use it; proxies announced before that are queued behind the install.
func Bind(ctx context.Context, rt *Runtime, id bridge.BridgeID, domain bridge.Domain) (*Binding, error) {
	b := &Binding{
		rt:     rt,
		ctx:    ctx,
		id:     id,
		domain: domain,
		logger: rt.logger.Named("binding").With(zap.String("bridge_id", string(id))),
	}

	err := rt.Do(ctx, func(vm *goja.Runtime) error {
		return b.install(vm)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Binding) install(vm *goja.Runtime) error {
	glue, err := vm.RunString(bridgeGlue)
	if err != nil {
		return fmt.Errorf("compile bridge glue: %w", err)
	}
	build, _ := goja.AssertFunction(glue)

	inv, err := vm.RunString(invokeGlue)
	if err != nil {
		return fmt.Errorf("compile invoke glue: %w", err)
	}
	b.invoke, _ = goja.AssertFunction(inv)

	b.parse, _ = goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))

	native := vm.NewObject()
	if err := native.Set("register", b.register); err != nil {
		return err
	}
	if err := native.Set("call", b.call); err != nil {
		return err
	}

	control, err := build(goja.Undefined(), vm.GlobalObject(), vm.ToValue(string(b.id)), vm.ToValue(string(b.domain)), native)
	if err != nil {
		return fmt.Errorf("install bridge object: %w", err)
	}
	if goja.IsNull(control) {
		return ErrBridgeExists
	}
	b.control = control
	return nil
}

// Attach connects the bridge object to its endpoint.
func (b *Binding) Attach(ep *bridge.Endpoint) {
	b.mu.Lock()
	b.endpoint = ep
	b.mu.Unlock()
}

func (b *Binding) attached() *bridge.Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpoint
}

// InstallProxy adds functions.<command> to the bridge object. It is safe
// to call from any goroutine and never blocks, so it can serve as
// bridge.Options.OnProxy.
func (b *Binding) InstallProxy(p *bridge.Proxy) {
	command := p.Command()
	b.rt.enqueue(func(vm *goja.Runtime) {
		fn, ok := goja.AssertFunction(b.control.ToObject(vm).Get("installProxy"))
		if !ok {
			return
		}
		if _, err := fn(b.control, vm.ToValue(command)); err != nil {
			b.logger.Warn("Failed to install proxy", zap.String("command", command), zap.Error(err))
		}
	})
}

// register backs addHandlers. It runs on the event loop.
func (b *Binding) register(call goja.FunctionCall) goja.Value {
	vm := b.rt.vm
	ep := b.attached()
	if ep == nil {
		panic(vm.NewGoError(errors.New("bridge not ready")))
	}

	obj := call.Argument(0).ToObject(vm)
	batch := make(bridge.Handlers)
	for _, name := range obj.Keys() {
		fn := obj.Get(name)
		if _, ok := goja.AssertFunction(fn); !ok {
			panic(vm.NewTypeError("Handler for " + name + " is not a function"))
		}
		batch[name] = &jsHandler{binding: b, command: name, fn: fn}
	}

	if err := ep.RegisterHandlers(batch); err != nil {
		if errors.Is(err, bridge.ErrInvalidHandler) {
			panic(vm.NewTypeError(err.Error()))
		}
		b.logger.Warn("Registration announcement failed", zap.Error(err))
	}
	return goja.Undefined()
}

// call backs execute and the proxies. It returns a promise settled from
// the event loop once the counterpart answers.
func (b *Binding) call(call goja.FunctionCall) goja.Value {
	vm := b.rt.vm
	command := call.Argument(0).String()
	payload := call.Argument(1).String()

	promise, resolve, reject := vm.NewPromise()

	ep := b.attached()
	if ep == nil {
		_ = reject(vm.NewGoError(errors.New("bridge not ready")))
		return vm.ToValue(promise)
	}

	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}

	go func() {
		resp, err := ep.CallRemote(b.ctx, command, raw)
		b.rt.enqueue(func(vm *goja.Runtime) {
			if err != nil {
				_ = reject(vm.NewGoError(err))
				return
			}
			v, perr := b.parse(goja.Undefined(), vm.ToValue(resp.String()))
			if perr != nil {
				_ = reject(perr)
				return
			}
			_ = resolve(v)
		})
	}()

	return vm.ToValue(promise)
}

// jsHandler serves one command with a JavaScript function.
type jsHandler struct {
	binding *Binding
	command string
	fn      goja.Value
}

type jsOutcome struct {
	ok    bool
	value string
}

func (h *jsHandler) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	rt := h.binding.rt
	done := make(chan jsOutcome, 1)

	queued := rt.enqueue(func(vm *goja.Runtime) {
		report := vm.ToValue(func(ok bool, value string) {
			select {
			case done <- jsOutcome{ok: ok, value: value}:
			default:
			}
		})
		if _, err := h.binding.invoke(goja.Undefined(), h.fn, vm.ToValue(string(payload)), report); err != nil {
			select {
			case done <- jsOutcome{value: err.Error()}:
			default:
			}
		}
	})
	if !queued {
		return nil, ErrClosed
	}

	select {
	case out := <-done:
		if !out.ok {
			return nil, errors.New(out.value)
		}
		return json.RawMessage(out.value), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rt.stopped:
		return nil, ErrClosed
	}
}
