package jsrt

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
)

func (vm *VM) console() *goja.Object {
	obj := vm.rt.NewObject()
	levels := map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"trace": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, level := range levels {
		level := level
		obj.Set(name, func(call goja.FunctionCall) goja.Value {
			vm.log.Log(context.Background(), level, vm.format(call.Arguments))
			return goja.Undefined()
		})
	}
	return obj
}

func (vm *VM) format(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, vm.stringify(a))
	}
	return strings.Join(parts, " ")
}

func (vm *VM) stringify(v goja.Value) string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return "[Function]"
	}
	if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
		return stack.String()
	}
	data, err := obj.MarshalJSON()
	if err != nil {
		return v.String()
	}
	return string(data)
}
