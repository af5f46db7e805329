package jsrt

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/fastivite/fastivite/internal/errors"
)

//go:embed host.js
var hostSource string

// Executor runs fn with exclusive access to a VM.
type Executor interface {
	Do(ctx context.Context, fn func(vm *VM) error) error
}

// Options configures a VM.
type Options struct {
	// Name identifies the VM in logs.
	Name string

	// Logger receives console output. Defaults to slog.Default().
	Logger *slog.Logger

	// Env is exposed as process.env. Defaults to the process environment.
	Env map[string]string
}

// VM is one JavaScript runtime plus its module registry.
type VM struct {
	mu      sync.Mutex
	rt      *goja.Runtime
	name    string
	log     *slog.Logger
	modules map[string]*Module
	host    goja.Value
	values  map[string]any
}

var _ Executor = (*VM)(nil)

// New creates a VM with console, process and the host module installed.
func New(opts Options) (*VM, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Env == nil {
		opts.Env = environ()
	}
	vm := &VM{
		rt:      goja.New(),
		name:    opts.Name,
		log:     opts.Logger.With("component", "js", "vm", opts.Name),
		modules: make(map[string]*Module),
		values:  make(map[string]any),
	}
	vm.rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := vm.installGlobals(opts.Env); err != nil {
		return nil, err
	}
	host, err := vm.evalModule(HostModule, "", hostSource)
	if err != nil {
		return nil, fmt.Errorf("host module: %w", err)
	}
	vm.host = host.exports()
	return vm, nil
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func (vm *VM) installGlobals(env map[string]string) error {
	rt := vm.rt
	if err := rt.Set("console", vm.console()); err != nil {
		return err
	}

	envObj := rt.NewObject()
	for k, v := range env {
		envObj.Set(k, v)
	}
	process := rt.NewObject()
	process.Set("env", envObj)
	process.Set("platform", "fastivite")
	process.Set("cwd", func() string {
		wd, _ := os.Getwd()
		return wd
	})
	return rt.Set("process", process)
}

// Name returns the VM name given at creation.
func (vm *VM) Name() string {
	return vm.name
}

// Do runs fn while holding the VM. Cancelling ctx interrupts running
// JavaScript; the interrupted call fails with E305.
func (vm *VM) Do(ctx context.Context, fn func(vm *VM) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		vm.rt.Interrupt(ctx.Err())
	})
	defer func() {
		if !stop() {
			// The interrupt may already be queued; clear it so the next
			// Do starts clean.
			vm.rt.ClearInterrupt()
		}
	}()
	return fn(vm)
}

// Runtime returns the underlying runtime. Only valid inside Do.
func (vm *VM) Runtime() *goja.Runtime {
	return vm.rt
}

// Set stores a host value on the VM. Only valid inside Do.
func (vm *VM) Set(key string, v any) {
	vm.values[key] = v
}

// Value returns a host value stored with Set. Only valid inside Do.
func (vm *VM) Value(key string) any {
	return vm.values[key]
}

// Call invokes fn with this and args, settles a returned promise and
// returns its value. Only valid inside Do.
func (vm *VM) Call(fn, this goja.Value, args ...goja.Value) (goja.Value, error) {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.New("E302").WithDetail(describe(fn))
	}
	if this == nil {
		this = goja.Undefined()
	}
	v, err := callable(this, args...)
	if err != nil {
		return nil, vm.wrapErr(err)
	}
	return vm.Await(v)
}

// Await settles v when it is a promise. Only valid inside Do.
func (vm *VM) Await(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return vm.Await(p.Result())
	case goja.PromiseStateRejected:
		return nil, newJSError(p.Result(), stackOf(p.Result()))
	default:
		return nil, errors.New("E303")
	}
}

// JSError is an exception thrown or a rejection raised by JavaScript.
// Message is the thrown error's message property, without its name.
type JSError struct {
	Name    string
	Message string
	Stack   string
	Value   goja.Value
}

func newJSError(v goja.Value, stack string) *JSError {
	return &JSError{Name: nameOf(v), Message: messageOf(v), Stack: stack, Value: v}
}

func (e *JSError) Error() string {
	if e.Name != "" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// Message returns the message a client should see for err: the bare
// JavaScript message for thrown errors, err.Error() otherwise.
func Message(err error) string {
	var je *JSError
	if stderrors.As(err, &je) {
		return je.Message
	}
	return err.Error()
}

func (vm *VM) wrapErr(err error) error {
	var ie *goja.InterruptedError
	if stderrors.As(err, &ie) {
		e := errors.New("E305")
		if cause, ok := ie.Value().(error); ok {
			e.Wrap(cause)
		}
		return e
	}
	var ex *goja.Exception
	if stderrors.As(err, &ex) {
		return newJSError(ex.Value(), ex.String())
	}
	return err
}

// Stack returns the JavaScript stack trace carried by err, or its message.
func Stack(err error) string {
	var je *JSError
	if stderrors.As(err, &je) && je.Stack != "" {
		return je.Stack
	}
	return err.Error()
}

func messageOf(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	if v == nil {
		return "undefined"
	}
	return v.String()
}

func nameOf(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg == nil || goja.IsUndefined(msg) {
			return ""
		}
		if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
			return name.String()
		}
	}
	return ""
}

func stackOf(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
			return s.String()
		}
	}
	if name := nameOf(v); name != "" {
		return name + ": " + messageOf(v)
	}
	return messageOf(v)
}

func describe(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "got undefined"
	}
	if goja.IsNull(v) {
		return "got null"
	}
	return "got " + v.ExportType().String()
}
